package capabilities

import (
	"encoding/json"
)

// Set is the immutable result of Compose. Accessors return copies.
type Set struct {
	values map[string]any
}

// NewSet builds a Set from already merged values, copying them.
func NewSet(values map[string]any) (Set, error) {
	n, err := normalizeMap(values)
	if err != nil {
		return Set{}, err
	}
	return Set{values: n}, nil
}

// Get walks nested maps along path.
func (s Set) Get(path ...string) (any, bool) {
	var current any = s.values
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return deepCopy(current), true
}

// String returns the string at path, or "" when absent or not a string.
func (s Set) String(path ...string) string {
	v, _ := s.Get(path...)
	str, _ := v.(string)
	return str
}

// Map returns a deep copy of every key.
func (s Set) Map() map[string]any {
	if s.values == nil {
		return map[string]any{}
	}
	return deepCopy(s.values).(map[string]any)
}

// Len reports the number of top-level keys.
func (s Set) Len() int {
	return len(s.values)
}

// MarshalJSON implements json.Marshaler.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Map())
}
