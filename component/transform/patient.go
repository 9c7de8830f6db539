package transform

import (
	"fmt"
	"strings"

	"github.com/nuts-foundation/ehrbridge/lib/coding"
	"github.com/nuts-foundation/ehrbridge/lib/profile"
	"github.com/nuts-foundation/ehrbridge/lib/resource"
)

// DistrictNotFound is filled in when an address has no district.
const DistrictNotFound = "Not found"

// ToDestinationPatient derives the Patient to create on the destination EHR from the source Patient:
// server-managed elements and extensions are dropped, the SSN identifier is removed and the first address is completed.
// The source resource is not modified.
func ToDestinationPatient(source resource.Resource) resource.Resource {
	result := source.Without("id", "meta", "extension")
	removeSSNIdentifier(result)
	completeAddress(result, true)
	return result
}

// ValidationPatient prepares a Patient read from the destination EHR for profile validation.
// Unlike ToDestinationPatient it keeps the id, and only fills in the district when it's absent altogether.
func ValidationPatient(patient resource.Resource) resource.Resource {
	result := patient.Without("extension")
	profile.Replace(result, profile.PatientValidation)
	removeSSNIdentifier(result)
	completeAddress(result, false)
	return result
}

// AddressText renders the address as "<line> <city>, <district>, <state> <postalCode>", trimmed.
func AddressText(address map[string]any) string {
	return strings.TrimSpace(fmt.Sprintf("%s %s, %s, %s %s",
		resource.FirstString(address, "line"),
		resource.String(address, "city"),
		resource.String(address, "district"),
		resource.String(address, "state"),
		resource.String(address, "postalCode"),
	))
}

// removeSSNIdentifier removes the first identifier with a social security number system.
func removeSSNIdentifier(patient resource.Resource) {
	identifiers, ok := resource.Slice(patient, "identifier")
	if !ok {
		return
	}
	for i, item := range identifiers {
		identifier, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if strings.Contains(resource.String(identifier, "system"), coding.SSNSystemMarker) {
			result := make([]any, 0, len(identifiers)-1)
			result = append(result, identifiers[:i]...)
			result = append(result, identifiers[i+1:]...)
			patient["identifier"] = result
			return
		}
	}
}

// completeAddress fills in the district of the first address and recomputes its text.
// If overwriteBlank is set, a blank district is treated as absent.
func completeAddress(patient resource.Resource, overwriteBlank bool) {
	address, ok := resource.FirstMap(patient, "address")
	if !ok {
		return
	}
	district, exists := address["district"]
	if !exists || (overwriteBlank && isBlank(district)) {
		address["district"] = DistrictNotFound
	}
	address["text"] = AddressText(address)
}

func isBlank(value any) bool {
	if value == nil {
		return true
	}
	s, ok := value.(string)
	return ok && strings.TrimSpace(s) == ""
}
