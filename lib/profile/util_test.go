package profile

import (
	"testing"

	"github.com/nuts-foundation/ehrbridge/lib/resource"
	"github.com/stretchr/testify/assert"
)

func TestReplace(t *testing.T) {
	t.Run("no meta", func(t *testing.T) {
		r := resource.Resource{"resourceType": "Patient"}

		Replace(r, PatientValidation)

		assert.Equal(t, []string{PatientValidation}, Of(r))
	})

	t.Run("with other profiles", func(t *testing.T) {
		r := resource.Resource{
			"resourceType": "Condition",
			"meta": map[string]any{
				"versionId": "2",
				"profile":   []any{"http://example.com/existing-profile"},
			},
		}

		Replace(r, ConditionValidation)

		assert.Equal(t, []string{ConditionValidation}, Of(r))
		meta, _ := resource.Map(r, "meta")
		assert.Equal(t, "2", meta["versionId"])
	})
}

func TestForResourceType(t *testing.T) {
	assert.Equal(t, PatientValidation, ForResourceType("Patient"))
	assert.Equal(t, ConditionValidation, ForResourceType("Condition"))
	assert.Equal(t, "", ForResourceType("Procedure"))
}
