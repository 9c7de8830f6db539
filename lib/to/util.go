package to

import (
	"encoding/json"
	"fmt"
)

// JSONMap converts a JSON-serializable value (e.g. a FHIR model struct) into its generic map form.
func JSONMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal %T into map: %w", v, err)
	}
	return result, nil
}

// FromJSONMap converts a generic map back into the given type, the inverse of JSONMap.
func FromJSONMap[T any](m map[string]any) (T, error) {
	var result T
	data, err := json.Marshal(m)
	if err != nil {
		return result, fmt.Errorf("marshal map: %w", err)
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, fmt.Errorf("unmarshal map into %T: %w", result, err)
	}
	return result, nil
}
