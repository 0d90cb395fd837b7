package capabilities

import (
	"encoding/json"
	"fmt"
)

// Layer is one partial configuration. Later layers override earlier ones.
type Layer struct {
	Name   string
	Values map[string]any
}

// merge deep-merges src into dst. Maps merge recursively; every other value,
// arrays and nil included, replaces what dst held. src must already be
// normalized and is copied, never aliased.
func merge(dst, src map[string]any) {
	for key, value := range src {
		srcMap, srcIsMap := value.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			merge(dstMap, srcMap)
			continue
		}
		dst[key] = deepCopy(value)
	}
}

// normalize converts arbitrary Go values into the JSON data model:
// map[string]any, []any and scalars. Types it does not know (typed slices,
// structs, maps with other value types) round-trip through encoding/json.
func normalize(value any) (any, error) {
	switch v := value.(type) {
	case nil, string, bool, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return v, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, inner := range v {
			n, err := normalize(inner)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out[key] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			n, err := normalize(inner)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

func normalizeMap(values map[string]any) (map[string]any, error) {
	n, err := normalize(values)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return map[string]any{}, nil
	}
	return n.(map[string]any), nil
}

func deepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, inner := range v {
			out[key] = deepCopy(inner)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			out[i] = deepCopy(inner)
		}
		return out
	default:
		return v
	}
}
