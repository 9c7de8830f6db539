package fhirutil

import (
	"fmt"
	"strings"
)

// Reference returns a local reference of the form <ResourceType>/<id>.
func Reference(resourceType string, id string) string {
	return resourceType + "/" + id
}

// ParseReference splits a local reference of the form <ResourceType>/<id>.
func ParseReference(ref string) (resourceType string, id string, err error) {
	resourceType, id, ok := strings.Cut(ref, "/")
	if !ok || resourceType == "" || id == "" || strings.Contains(id, "/") {
		return "", "", fmt.Errorf("invalid local reference: %q", ref)
	}
	return resourceType, id, nil
}

// ReferencesType reports whether ref is a local reference to a resource of the given type.
func ReferencesType(ref string, resourceType string) bool {
	refType, _, err := ParseReference(ref)
	return err == nil && refType == resourceType
}
