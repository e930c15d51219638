package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Payload is the decoded JSON tree describing one entity's state. Values are
// the types produced by encoding/json: map[string]any, []any, string, bool,
// float64 and nil. A nil Payload marks the entity as absent or deleted.
type Payload = map[string]any

// ClonePayload returns a deep copy of a payload tree.
func ClonePayload(input Payload) Payload {
	if input == nil {
		return nil
	}
	out := make(Payload, len(input))
	for key, value := range input {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for idx, item := range typed {
			out[idx] = cloneValue(item)
		}
		return out
	default:
		return typed
	}
}

// PayloadsEqual reports whether two payload trees are deeply equal.
func PayloadsEqual(a, b Payload) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return deepEqual(a, b)
}

// deepEqual compares two decoded JSON values structurally. Numbers are
// compared by value regardless of the Go type they decoded into, so 1500
// read from a client request equals 1500 read back from storage.
func deepEqual(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for key, item := range av {
			other, exists := bv[key]
			if !exists || !deepEqual(item, other) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for idx, item := range av {
			if !deepEqual(item, bv[idx]) {
				return false
			}
		}
		return true
	default:
		if af, ok := numberValue(a); ok {
			bf, bok := numberValue(b)
			return bok && af == bf
		}
		return a == b
	}
}

func numberValue(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case json.Number:
		parsed, err := typed.Float64()
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// joinPath appends a key to a dot-separated payload path.
func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// setPayloadValue writes value at a dot-separated path, creating intermediate
// records as needed. A nil value removes the leaf instead of storing a null.
func setPayloadValue(payload Payload, path string, value any) error {
	segments := splitPath(path)
	if len(segments) == 0 {
		return fmt.Errorf("empty payload path")
	}

	current := payload
	for _, segment := range segments[:len(segments)-1] {
		next, exists := current[segment]
		if !exists || next == nil {
			child := map[string]any{}
			current[segment] = child
			current = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("path %q does not traverse a record at %q", path, segment)
		}
		current = child
	}

	leaf := segments[len(segments)-1]
	if value == nil {
		delete(current, leaf)
		return nil
	}
	current[leaf] = cloneValue(value)
	return nil
}
