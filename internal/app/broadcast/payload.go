package broadcast

import (
	"sort"

	"google.golang.org/protobuf/types/known/structpb"
)

// Payload is the flat key/value data attached to a report.
// Values must be primitives: strings, booleans, numbers or nil.
type Payload map[string]any

// Sanitize returns a copy of the payload holding only primitive values, plus
// the sorted list of keys that were dropped.
func (p Payload) Sanitize() (Payload, []string) {
	if len(p) == 0 {
		return Payload{}, nil
	}

	clean := make(Payload, len(p))
	var dropped []string
	for k, v := range p {
		if !isPrimitive(v) {
			dropped = append(dropped, k)
			continue
		}
		clean[k] = v
	}
	sort.Strings(dropped)
	return clean, dropped
}

// String returns the value under key as a string, or "" when absent or not a string.
func (p Payload) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Bool returns the value under key as a bool, or false when absent or not a bool.
func (p Payload) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

// isPrimitive reports whether v converts to a scalar protobuf value.
func isPrimitive(v any) bool {
	value, err := structpb.NewValue(v)
	if err != nil {
		return false
	}
	switch value.GetKind().(type) {
	case *structpb.Value_StructValue, *structpb.Value_ListValue:
		return false
	default:
		return true
	}
}
