package resource

// String returns the string value at key, or an empty string if absent or not a string.
func String(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// Map returns the JSON object at key.
func Map(m map[string]any, key string) (map[string]any, bool) {
	if m == nil {
		return nil, false
	}
	switch value := m[key].(type) {
	case map[string]any:
		return value, true
	case Resource:
		return value, true
	}
	return nil, false
}

// Slice returns the JSON array at key.
func Slice(m map[string]any, key string) ([]any, bool) {
	if m == nil {
		return nil, false
	}
	switch value := m[key].(type) {
	case []any:
		return value, true
	case []map[string]any:
		result := make([]any, len(value))
		for i, item := range value {
			result[i] = item
		}
		return result, true
	case []string:
		result := make([]any, len(value))
		for i, item := range value {
			result[i] = item
		}
		return result, true
	}
	return nil, false
}

// FirstMap returns the first element of the JSON array at key, if it is an object.
func FirstMap(m map[string]any, key string) (map[string]any, bool) {
	items, ok := Slice(m, key)
	if !ok || len(items) == 0 {
		return nil, false
	}
	first, ok := items[0].(map[string]any)
	return first, ok
}

// FirstString returns the first element of the JSON array at key, if it is a string.
func FirstString(m map[string]any, key string) string {
	items, ok := Slice(m, key)
	if !ok || len(items) == 0 {
		return ""
	}
	s, _ := items[0].(string)
	return s
}
