package to

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	fhirto "github.com/zorgbijjou/golang-fhir-models/fhir-models/caramel/to"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

func TestJSONMap(t *testing.T) {
	t.Run("struct with simple fields", func(t *testing.T) {
		type Person struct {
			Name string `json:"name"`
			Age  int    `json:"age"`
		}
		person := Person{Name: "John", Age: 30}

		result, err := JSONMap(person)

		require.NoError(t, err)
		assert.Equal(t, "John", result["name"])
		assert.Equal(t, float64(30), result["age"])
	})
	t.Run("FHIR resource includes resourceType", func(t *testing.T) {
		result, err := JSONMap(fhir.Patient{Id: fhirto.Ptr("123")})

		require.NoError(t, err)
		assert.Equal(t, "Patient", result["resourceType"])
		assert.Equal(t, "123", result["id"])
	})
	t.Run("non-object value", func(t *testing.T) {
		_, err := JSONMap([]string{"a"})

		require.Error(t, err)
	})
}

func TestFromJSONMap(t *testing.T) {
	patient, err := FromJSONMap[fhir.Patient](map[string]any{
		"resourceType": "Patient",
		"id":           "123",
		"birthDate":    "1990-05-02",
	})

	require.NoError(t, err)
	assert.Equal(t, "123", *patient.Id)
	assert.Equal(t, "1990-05-02", *patient.BirthDate)
}
