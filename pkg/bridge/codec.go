package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// tagKey marks values JSON cannot carry directly. Objects that really have
// this key travel wrapped as {"$appbridge":"object","value":{...}}.
const tagKey = "$appbridge"

const (
	tagUndefined = "undefined"
	tagObject    = "object"
)

// UndefinedValue is the type of Undefined.
type UndefinedValue struct{}

// Undefined stands for JavaScript undefined in arguments and results.
// Outside an argument list it marshals as JSON null, as JSON.stringify
// does for undefined array elements.
var Undefined = UndefinedValue{}

// MarshalJSON implements json.Marshaler.
func (UndefinedValue) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

func (UndefinedValue) String() string {
	return "undefined"
}

// argUndefinedKey marks Undefined during argument encoding. The per-process
// nonce keeps caller data from ever producing the same object.
var argUndefinedKey = tagKey + ":" + uuid.NewString()

// argUndefined replaces Undefined inside generic containers before
// marshaling. Undefined nested in struct fields encodes as null.
type argUndefined struct{}

func (argUndefined) MarshalJSON() ([]byte, error) {
	key, _ := json.Marshal(argUndefinedKey)
	return []byte("{" + string(key) + ":true}"), nil
}

// encodeArgs returns the tagged JSON array of args.
func encodeArgs(args []any) (json.RawMessage, error) {
	out := make([]any, len(args))
	for i, arg := range args {
		data, err := json.Marshal(markUndefined(arg))
		if err != nil {
			return nil, fmt.Errorf("%w: argument %d (%T): %v", ErrUnserializable, i, arg, err)
		}
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("%w: argument %d: %v", ErrUnserializable, i, err)
		}
		out[i] = escape(generic)
	}
	return json.Marshal(out)
}

// markUndefined swaps Undefined for argUndefined in the containers decoded
// results and hand-built arguments use.
func markUndefined(v any) any {
	switch val := v.(type) {
	case UndefinedValue:
		return argUndefined{}
	case *UndefinedValue:
		if val != nil {
			return argUndefined{}
		}
		return v
	case map[string]any:
		if val == nil {
			return v
		}
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = markUndefined(inner)
		}
		return out
	case []any:
		if val == nil {
			return v
		}
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = markUndefined(inner)
		}
		return out
	default:
		return v
	}
}

// escape turns argUndefined markers into the wire undefined tag and wraps
// every caller object that carries the tag key.
func escape(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 1 && val[argUndefinedKey] == true {
			return map[string]any{tagKey: tagUndefined}
		}
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = escape(inner)
		}
		if _, tagged := val[tagKey]; tagged {
			return map[string]any{tagKey: tagObject, "value": out}
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = escape(inner)
		}
		return out
	default:
		return v
	}
}

// decodeValue parses a tagged JSON value. Numbers become float64, as with
// encoding/json.
func decodeValue(raw json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Undefined, nil
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return untag(generic), nil
}

func untag(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if isUndefinedTag(val) {
			return Undefined
		}
		if val[tagKey] == tagObject {
			if inner, ok := val["value"].(map[string]any); ok {
				out := make(map[string]any, len(inner))
				for k, x := range inner {
					out[k] = untag(x)
				}
				return out
			}
		}
		out := make(map[string]any, len(val))
		for k, x := range val {
			out[k] = untag(x)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = untag(x)
		}
		return out
	default:
		return v
	}
}

func isUndefinedTag(m map[string]any) bool {
	return len(m) == 1 && m[tagKey] == tagUndefined
}

// plain replaces Undefined with nil so a decoded value can be re-marshaled
// into a caller's type.
func plain(v any) any {
	switch val := v.(type) {
	case UndefinedValue:
		return nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, x := range val {
			out[k] = plain(x)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = plain(x)
		}
		return out
	default:
		return v
	}
}

// resultPayload is what the envelope script returns.
type resultPayload struct {
	OK    bool            `json:"ok"`
	Value json.RawMessage `json:"value"`
	Error *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
		Stack   string `json:"stack"`
	} `json:"error"`
}
