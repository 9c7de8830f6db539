package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/caramel/to"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

func TestParse(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		r, err := Parse([]byte(`{"resourceType":"Patient","id":"123"}`))

		require.NoError(t, err)
		assert.Equal(t, "Patient", r.Type())
		assert.Equal(t, "123", r.ID())
	})
	t.Run("invalid JSON", func(t *testing.T) {
		_, err := Parse([]byte(`{invalid`))

		require.Error(t, err)
	})
	t.Run("null document", func(t *testing.T) {
		_, err := Parse([]byte(`null`))

		require.EqualError(t, err, "parse resource: document is null")
	})
}

func TestResource_Clone(t *testing.T) {
	original, err := Parse([]byte(`{"resourceType":"Patient","address":[{"line":["1 Main St"],"city":"X"}]}`))
	require.NoError(t, err)

	clone := original.Clone()
	address, _ := FirstMap(clone, "address")
	address["city"] = "Y"

	originalAddress, _ := FirstMap(original, "address")
	assert.Equal(t, "X", originalAddress["city"])
	assert.Equal(t, "Y", address["city"])
}

func TestResource_Without(t *testing.T) {
	original := Resource{"resourceType": "Patient", "id": "1", "meta": map[string]any{"versionId": "1"}}

	result := original.Without("id", "meta")

	assert.Equal(t, Resource{"resourceType": "Patient"}, result)
	assert.Equal(t, "1", original.ID(), "input must not be mutated")
}

func TestModelConversion(t *testing.T) {
	r, err := FromModel(fhir.Condition{
		Id: to.Ptr("c1"),
		Subject: fhir.Reference{
			Reference: to.Ptr("Patient/1"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Condition", r.Type())
	subject, ok := Map(r, "subject")
	require.True(t, ok)
	assert.Equal(t, "Patient/1", String(subject, "reference"))

	condition, err := ToModel[fhir.Condition](r)
	require.NoError(t, err)
	assert.Equal(t, "c1", *condition.Id)
}

func TestAccessors(t *testing.T) {
	r, err := Parse([]byte(`{"name":[{"family":"Doe","given":["John","Jim"]}],"gender":"male","count":1}`))
	require.NoError(t, err)

	name, ok := FirstMap(r, "name")
	require.True(t, ok)
	assert.Equal(t, "Doe", String(name, "family"))
	assert.Equal(t, "John", FirstString(name, "given"))
	assert.Equal(t, "male", String(r, "gender"))
	assert.Equal(t, "", String(r, "count"))
	assert.Equal(t, "", FirstString(r, "missing"))
	_, ok = FirstMap(r, "gender")
	assert.False(t, ok)
	_, ok = Map(nil, "x")
	assert.False(t, ok)
}

func TestResource_JSON(t *testing.T) {
	r := Resource{
		"resourceType": "Condition",
		"text":         map[string]any{"div": `<div xmlns="http://www.w3.org/1999/xhtml"><p>Asthma</p></div>`},
	}

	data, err := r.JSON()

	require.NoError(t, err)
	assert.Equal(t, `{
  "resourceType": "Condition",
  "text": {
    "div": "<div xmlns=\"http://www.w3.org/1999/xhtml\"><p>Asthma</p></div>"
  }
}`, string(data))
}
