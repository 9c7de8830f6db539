package coding

import (
	"github.com/nuts-foundation/ehrbridge/lib/resource"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/caramel/to"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

// Coding identifies a concept in a code system.
type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

func (c Coding) FHIR() fhir.Coding {
	result := fhir.Coding{}
	if c.System != "" {
		result.System = to.Ptr(c.System)
	}
	if c.Code != "" {
		result.Code = to.Ptr(c.Code)
	}
	if c.Display != "" {
		result.Display = to.Ptr(c.Display)
	}
	return result
}

// Map returns the generic JSON form of the coding.
func (c Coding) Map() map[string]any {
	result := map[string]any{}
	if c.System != "" {
		result["system"] = c.System
	}
	if c.Code != "" {
		result["code"] = c.Code
	}
	if c.Display != "" {
		result["display"] = c.Display
	}
	return result
}

// Concept builds a CodeableConcept with the given coding and optional text.
func Concept(c Coding, text string) fhir.CodeableConcept {
	result := fhir.CodeableConcept{
		Coding: []fhir.Coding{c.FHIR()},
	}
	if text != "" {
		result.Text = to.Ptr(text)
	}
	return result
}

// First returns the first (authoritative) coding of the CodeableConcept stored at the given field of the resource.
func First(r map[string]any, field string) (Coding, bool) {
	concept, ok := resource.Map(r, field)
	if !ok {
		return Coding{}, false
	}
	codingMap, ok := resource.FirstMap(concept, "coding")
	if !ok {
		return Coding{}, false
	}
	return Coding{
		System:  resource.String(codingMap, "system"),
		Code:    resource.String(codingMap, "code"),
		Display: resource.String(codingMap, "display"),
	}, true
}

// Token formats the coding as FHIR search token (system|code).
func Token(system, code string) string {
	return system + "|" + code
}
