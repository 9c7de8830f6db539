package fhirutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReferencesType(t *testing.T) {
	tests := []struct {
		name         string
		ref          string
		resourceType string
		expected     bool
	}{
		{
			name:         "valid reference",
			ref:          "Patient/123",
			resourceType: "Patient",
			expected:     true,
		},
		{
			name:         "valid reference with UUID",
			ref:          "Patient/550e8400-e29b-41d4-a716-446655440000",
			resourceType: "Patient",
			expected:     true,
		},
		{
			name:         "wrong resource type",
			ref:          "Patient/123",
			resourceType: "Condition",
			expected:     false,
		},
		{
			name:         "empty reference",
			ref:          "",
			resourceType: "Patient",
			expected:     false,
		},
		{
			name:         "reference without ID",
			ref:          "Patient/",
			resourceType: "Patient",
			expected:     false,
		},
		{
			name:         "type only without slash",
			ref:          "Patient",
			resourceType: "Patient",
			expected:     false,
		},
		{
			name:         "partial type match",
			ref:          "Pat/123",
			resourceType: "Patient",
			expected:     false,
		},
		{
			name:         "type is prefix of reference type",
			ref:          "PatientLink/123",
			resourceType: "Patient",
			expected:     false,
		},
		{
			name:         "case sensitive mismatch",
			ref:          "patient/123",
			resourceType: "Patient",
			expected:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ReferencesType(tt.ref, tt.resourceType)
			require.Equal(t, tt.expected, result)
		})
	}
}

func TestReference(t *testing.T) {
	require.Equal(t, "Patient/abc", Reference("Patient", "abc"))
}

func TestParseReference(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		resourceType, id, err := ParseReference("Patient/550e8400-e29b-41d4-a716-446655440000")
		require.NoError(t, err)
		require.Equal(t, "Patient", resourceType)
		require.Equal(t, "550e8400-e29b-41d4-a716-446655440000", id)
	})
	for _, ref := range []string{"", "Patient", "Patient/", "/123", "http://example.com/fhir/Patient/123", "Patient/1/_history/2"} {
		t.Run("invalid "+ref, func(t *testing.T) {
			_, _, err := ParseReference(ref)
			require.Error(t, err)
		})
	}
}
