package profile

const PatientValidation = "http://example.org/StructureDefinition/my-patient-profile"
const ConditionValidation = "http://example.org/StructureDefinition/my-condition-profile"
const VitalSigns = "http://hl7.org/fhir/StructureDefinition/vitalsigns"

// ForResourceType returns the profile validation fixtures of the given resource type are checked against.
func ForResourceType(resourceType string) string {
	switch resourceType {
	case "Patient":
		return PatientValidation
	case "Condition":
		return ConditionValidation
	case "Observation":
		return VitalSigns
	}
	return ""
}
