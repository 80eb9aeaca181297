// Package utils provides token counting, identifier checks, and helpers for reading the
// loosely typed objects snippets return.
package utils

// AsObject reports whether v is a JSON object after normalization.
func AsObject(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// Field returns obj[key] when it is present and holds a T.
func Field[T any](obj map[string]any, key string) (T, bool) {
	v, ok := obj[key].(T)
	return v, ok
}

// FieldOr is Field with a fallback for missing or mistyped entries.
func FieldOr[T any](obj map[string]any, key string, fallback T) T {
	if v, ok := Field[T](obj, key); ok {
		return v
	}
	return fallback
}

// Without copies obj minus the given keys. It returns nil when nothing is left.
func Without(obj map[string]any, keys ...string) map[string]any {
	var out map[string]any
next:
	for k, v := range obj {
		for _, drop := range keys {
			if k == drop {
				continue next
			}
		}
		if out == nil {
			out = make(map[string]any, len(obj))
		}
		out[k] = v
	}
	return out
}
