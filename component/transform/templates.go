package transform

import (
	_ "embed"
	"fmt"

	"github.com/nuts-foundation/ehrbridge/lib/fhirutil"
	"github.com/nuts-foundation/ehrbridge/lib/resource"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

//go:embed templates/observation.json
var observationTemplate []byte

//go:embed templates/procedure.json
var procedureTemplate []byte

// BuildFixedObservation returns the blood pressure panel Observation for the given destination Patient id.
func BuildFixedObservation(subjectID string) (resource.Resource, error) {
	return fromTemplate[fhir.Observation](observationTemplate, subjectID)
}

// BuildFixedProcedure returns the subcutaneous immunotherapy Procedure for the given destination Patient id.
func BuildFixedProcedure(subjectID string) (resource.Resource, error) {
	return fromTemplate[fhir.Procedure](procedureTemplate, subjectID)
}

// fromTemplate parses the template, which must decode as model T, and points its subject at the given Patient.
func fromTemplate[T any](template []byte, subjectID string) (resource.Resource, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("subject id is required")
	}
	res, err := resource.Parse(template)
	if err != nil {
		return nil, fmt.Errorf("invalid template: %w", err)
	}
	if _, err := resource.ToModel[T](res); err != nil {
		return nil, fmt.Errorf("invalid %s template: %w", res.Type(), err)
	}
	res["subject"] = map[string]any{
		"reference": fhirutil.Reference("Patient", subjectID),
	}
	return res, nil
}
