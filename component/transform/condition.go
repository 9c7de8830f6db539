package transform

import (
	"errors"
	"html"

	"github.com/nuts-foundation/ehrbridge/lib/coding"
	"github.com/nuts-foundation/ehrbridge/lib/fhirutil"
	"github.com/nuts-foundation/ehrbridge/lib/profile"
	"github.com/nuts-foundation/ehrbridge/lib/resource"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/caramel/to"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

const (
	ParentConditionOnset = "2012-05-24"
	ChildConditionOnset  = "2014-06-01"
)

// ConditionTemplate holds the fixed content of Conditions built from terminology concepts.
type ConditionTemplate struct {
	ClinicalStatus     coding.Coding
	VerificationStatus coding.Coding
	Category           coding.Coding
	Severity           coding.Coding
	SeverityText       string
	BodySite           coding.Coding
	BodySiteText       string
}

var ConditionDefaults = ConditionTemplate{
	ClinicalStatus: coding.Coding{
		System:  coding.ConditionClinicalSystem,
		Code:    "active",
		Display: "Active",
	},
	VerificationStatus: coding.Coding{
		System:  coding.ConditionVerificationSystem,
		Code:    "confirmed",
		Display: "Confirmed",
	},
	Category: EncounterDiagnosisCategory,
	Severity: coding.Coding{
		System:  coding.SNOMEDSystem,
		Code:    "24484000",
		Display: "Severe",
	},
	SeverityText: "Severe",
	BodySite: coding.Coding{
		System:  coding.SNOMEDSystem,
		Code:    "34508005",
		Display: "Structure of mucous membrane of nose",
	},
	BodySiteText: "Mucous membrane of nose",
}

var EncounterDiagnosisCategory = coding.Coding{
	System:  coding.ConditionCategorySystem,
	Code:    "encounter-diagnosis",
	Display: "Encounter Diagnosis",
}

// defaultClinicalStatus is filled in on validation fixtures of Conditions that lack a clinical status.
var defaultClinicalStatus = coding.Coding{
	System: coding.ConditionClinicalSystem,
	Code:   "active",
}

// BuildConditionFromConcept builds a Condition for the given SNOMED CT concept, onset date and destination Patient id,
// using ConditionDefaults for the other elements.
func BuildConditionFromConcept(concept coding.Coding, subjectID string, onsetDate string) (resource.Resource, error) {
	if concept.Code == "" {
		return nil, errors.New("condition concept has no code")
	}
	if concept.System == "" {
		concept.System = coding.SNOMEDSystem
	}
	defaults := ConditionDefaults
	condition := fhir.Condition{
		Text: &fhir.Narrative{
			Status: fhir.NarrativeStatusGenerated,
			Div:    `<div xmlns="http://www.w3.org/1999/xhtml"><p>` + html.EscapeString(concept.Display) + `</p></div>`,
		},
		ClinicalStatus:     to.Ptr(coding.Concept(defaults.ClinicalStatus, "")),
		VerificationStatus: to.Ptr(coding.Concept(defaults.VerificationStatus, "")),
		Category:           []fhir.CodeableConcept{coding.Concept(defaults.Category, "")},
		Code:               to.Ptr(coding.Concept(concept, concept.Display)),
		Severity:           to.Ptr(coding.Concept(defaults.Severity, defaults.SeverityText)),
		BodySite:           []fhir.CodeableConcept{coding.Concept(defaults.BodySite, defaults.BodySiteText)},
		OnsetDateTime:      to.Ptr(onsetDate),
		Subject: fhir.Reference{
			Reference: to.Ptr(fhirutil.Reference("Patient", subjectID)),
		},
	}
	return resource.FromModel(condition)
}

// AttachValidationProfile prepares a resource for profile validation: meta.profile is set to the given profile,
// the first category is replaced by categoryOverride (if given) and
// Conditions without clinical status get the default (active) one.
// The given resource is not modified.
func AttachValidationProfile(res resource.Resource, profileURL string, categoryOverride *coding.Coding) resource.Resource {
	result := res.Clone()
	if result == nil {
		result = resource.Resource{}
	}
	profile.Replace(result, profileURL)
	if categoryOverride != nil {
		overrideCategory(result, *categoryOverride)
	}
	if result.Type() == "Condition" {
		if _, ok := result["clinicalStatus"]; !ok {
			result["clinicalStatus"] = map[string]any{
				"coding": []any{defaultClinicalStatus.Map()},
			}
		}
	}
	return result
}

func overrideCategory(res resource.Resource, override coding.Coding) {
	codings := []any{override.Map()}
	categories, _ := resource.Slice(res, "category")
	if len(categories) > 0 {
		if first, ok := categories[0].(map[string]any); ok {
			first["coding"] = codings
			res["category"] = categories
			return
		}
	}
	res["category"] = []any{
		map[string]any{"coding": codings},
	}
}
