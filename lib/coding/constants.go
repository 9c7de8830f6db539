package coding

const SNOMEDSystem = "http://snomed.info/sct"
const LOINCSystem = "http://loinc.org"
const ICD10HL7Table = "I10"
const UCUMSystem = "http://unitsofmeasure.org"

const ConditionClinicalSystem = "http://terminology.hl7.org/CodeSystem/condition-clinical"
const ConditionVerificationSystem = "http://terminology.hl7.org/CodeSystem/condition-ver-status"
const ConditionCategorySystem = "http://terminology.hl7.org/CodeSystem/condition-category"

// SSNSystemMarker is contained in the identifier system of US social security numbers.
// OpenEMR uses http://hl7.org/fhir/sid/us-ssn.
const SSNSystemMarker = "us-ssn"

const BloodPressurePanelCode = "85354-9"
