package fhirutil

import (
	"fmt"

	"github.com/nuts-foundation/ehrbridge/lib/fhirapi"
	"github.com/nuts-foundation/ehrbridge/lib/resource"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

// BundleResources decodes the resources in the bundle's entries, in order.
// Entries without a resource are skipped.
// It returns fhirapi.ErrNotFound if the bundle has no entry carrying a resource.
func BundleResources(bundle fhir.Bundle) ([]resource.Resource, error) {
	var result []resource.Resource
	for i, entry := range bundle.Entry {
		if entry.Resource == nil {
			continue
		}
		res, err := resource.Parse(entry.Resource)
		if err != nil {
			return nil, &fhirapi.MalformedResponseError{
				What:  fmt.Sprintf("Bundle.entry[%d].resource", i),
				Cause: err,
			}
		}
		result = append(result, res)
	}
	if len(result) == 0 {
		return nil, fhirapi.ErrNotFound
	}
	return result, nil
}

// BundleTotal returns the number of matches in a searchset bundle.
// It uses Bundle.total when the server reports it, the number of entries otherwise.
func BundleTotal(bundle fhir.Bundle) int {
	if bundle.Total != nil {
		return *bundle.Total
	}
	return len(bundle.Entry)
}
