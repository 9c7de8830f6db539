// Package resource provides a loosely-typed representation of FHIR resources.
// Resources exchanged with source and destination servers are kept as generic JSON objects,
// so that fields unknown to a specific FHIR model (or profile) survive transformations.
package resource

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/nuts-foundation/ehrbridge/lib/to"
)

// Resource is a FHIR resource in its generic JSON object form.
type Resource map[string]any

// Parse parses a JSON document into a Resource.
func Parse(data []byte) (Resource, error) {
	var result Resource
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("parse resource: %w", err)
	}
	if result == nil {
		return nil, fmt.Errorf("parse resource: document is null")
	}
	return result, nil
}

// FromModel converts a FHIR model struct (e.g. fhir.Condition) into a Resource.
func FromModel(model any) (Resource, error) {
	m, err := to.JSONMap(model)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ToModel converts a Resource into a FHIR model struct.
func ToModel[T any](r Resource) (T, error) {
	return to.FromJSONMap[T](r)
}

// Type returns the resourceType of the resource, or an empty string if it isn't set.
func (r Resource) Type() string {
	return String(r, "resourceType")
}

// ID returns the logical id of the resource, or an empty string if it isn't set.
func (r Resource) ID() string {
	return String(r, "id")
}

// Clone returns a deep copy of the resource.
func (r Resource) Clone() Resource {
	if r == nil {
		return nil
	}
	return cloneValue(map[string]any(r)).(map[string]any)
}

// Without returns a deep copy of the resource without the given top-level keys.
func (r Resource) Without(keys ...string) Resource {
	result := r.Clone()
	for _, key := range keys {
		delete(result, key)
	}
	return result
}

// JSON marshals the resource, indented the same way the artifact files are written.
func (r Resource) JSON() ([]byte, error) {
	return MarshalIndent(r)
}

// MarshalIndent marshals v as JSON indented with 2 spaces, without escaping HTML characters
// (resource narratives contain XHTML).
func MarshalIndent(v any) ([]byte, error) {
	buf := new(bytes.Buffer)
	encoder := json.NewEncoder(buf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func cloneValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		result := make(map[string]any, len(value))
		for k, item := range value {
			result[k] = cloneValue(item)
		}
		return result
	case Resource:
		return cloneValue(map[string]any(value))
	case []any:
		result := make([]any, len(value))
		for i, item := range value {
			result[i] = cloneValue(item)
		}
		return result
	case []map[string]any:
		result := make([]any, len(value))
		for i, item := range value {
			result[i] = cloneValue(item)
		}
		return result
	case []string:
		result := make([]any, len(value))
		for i, item := range value {
			result[i] = item
		}
		return result
	default:
		return value
	}
}
