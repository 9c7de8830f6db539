// Package source provides read-only access to the source EHR's FHIR API.
package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	fhirclient "github.com/SanteonNL/go-fhir-client"
	"github.com/nuts-foundation/ehrbridge/lib/coding"
	"github.com/nuts-foundation/ehrbridge/lib/fhirapi"
	"github.com/nuts-foundation/ehrbridge/lib/fhirutil"
	"github.com/nuts-foundation/ehrbridge/lib/resource"
	"github.com/rs/zerolog/log"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

type Config struct {
	FHIRBaseURL string `koanf:"fhirbaseurl"`
	// PatientID is the id of the patient on the source EHR whose record is migrated.
	PatientID string        `koanf:"patientid"`
	Timeout   time.Duration `koanf:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		FHIRBaseURL: "https://in-info-web20.luddy.indianapolis.iu.edu/apis/default/fhir",
		PatientID:   "9d036484-c661-485c-899d-fcab43d40914",
		Timeout:     30 * time.Second,
	}
}

type Component struct {
	client fhirclient.Client
}

// New creates the source client. The given HTTP client is expected to authenticate requests.
func New(config Config, httpClient *http.Client) (*Component, error) {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if config.Timeout > 0 {
		withTimeout := *httpClient
		withTimeout.Timeout = config.Timeout
		httpClient = &withTimeout
	}
	client, err := fhirutil.NewClient(config.FHIRBaseURL, httpClient)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	return &Component{client: client}, nil
}

// Search performs a GET search, passing the filters verbatim as query parameters.
// It returns fhirapi.ErrNotFound if the resulting bundle has no entries.
func (c *Component) Search(ctx context.Context, resourceType string, filters url.Values) ([]resource.Resource, error) {
	var bundle fhir.Bundle
	if err := c.search(ctx, resourceType, filters, &bundle); err != nil {
		return nil, err
	}
	resources, err := fhirutil.BundleResources(bundle)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", resourceType, err)
	}
	log.Ctx(ctx).Debug().Msgf("Found %d %s resource(s) on source EHR", len(resources), resourceType)
	return resources, nil
}

// Count returns the number of resources matching the filters.
func (c *Component) Count(ctx context.Context, resourceType string, filters url.Values) (int, error) {
	var bundle fhir.Bundle
	if err := c.search(ctx, resourceType, filters, &bundle); err != nil {
		return 0, err
	}
	return fhirutil.BundleTotal(bundle), nil
}

func (c *Component) Read(ctx context.Context, resourceType string, id string) (resource.Resource, error) {
	var result resource.Resource
	if err := c.client.ReadWithContext(ctx, fhirutil.Reference(resourceType, id), &result); err != nil {
		return nil, fhirapi.ClientError("read "+fhirutil.Reference(resourceType, id)+" from source", err)
	}
	if result.Type() != resourceType {
		return nil, &fhirapi.MalformedResponseError{What: resourceType + ".resourceType"}
	}
	return result, nil
}

func (c *Component) ReadPatient(ctx context.Context, id string) (resource.Resource, error) {
	return c.Read(ctx, "Patient", id)
}

// SearchPatients searches patients by name and gender, born after the given date (YYYY-MM-DD).
func (c *Component) SearchPatients(ctx context.Context, name string, gender string, bornAfter string) ([]resource.Resource, error) {
	filters := url.Values{}
	if name != "" {
		filters.Set("name", name)
	}
	if gender != "" {
		filters.Set("gender", gender)
	}
	if bornAfter != "" {
		filters.Set("birthdate", "gt"+bornAfter)
	}
	return c.Search(ctx, "Patient", filters)
}

func (c *Component) SearchConditions(ctx context.Context, patientID string) ([]resource.Resource, error) {
	return c.Search(ctx, "Condition", url.Values{"patient": {patientID}})
}

func (c *Component) SearchObservations(ctx context.Context, patientID string, system string, code string) ([]resource.Resource, error) {
	return c.Search(ctx, "Observation", url.Values{
		"patient": {patientID},
		"code":    {coding.Token(system, code)},
	})
}

func (c *Component) SearchProcedures(ctx context.Context, patientID string) ([]resource.Resource, error) {
	return c.Search(ctx, "Procedure", url.Values{"patient": {patientID}})
}

func (c *Component) search(ctx context.Context, resourceType string, filters url.Values, target *fhir.Bundle) error {
	if err := c.client.ReadWithContext(ctx, resourceType, target, fhirutil.SearchOptions(filters)...); err != nil {
		return fhirapi.ClientError("search "+resourceType+" on source", err)
	}
	return nil
}
