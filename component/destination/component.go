// Package destination creates, reads and validates resources on the destination ("primary") EHR's FHIR API.
package destination

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	fhirclient "github.com/SanteonNL/go-fhir-client"
	"github.com/nuts-foundation/ehrbridge/lib/fhirapi"
	"github.com/nuts-foundation/ehrbridge/lib/fhirutil"
	"github.com/nuts-foundation/ehrbridge/lib/resource"
	"github.com/rs/zerolog/log"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

type Config struct {
	FHIRBaseURL string        `koanf:"fhirbaseurl"`
	Timeout     time.Duration `koanf:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		FHIRBaseURL: "http://159.203.105.138:8080/fhir",
		Timeout:     30 * time.Second,
	}
}

// fhirJSONBody marks POST bodies as FHIR JSON, some servers reject plain application/json.
var fhirJSONBody = fhirclient.RequestHeaders(map[string][]string{
	"Content-Type": {fhirapi.JSONMimeType},
})

// serverManagedMeta are meta elements the destination server assigns itself.
var serverManagedMeta = []string{"versionId", "lastUpdated", "source"}

// ValidationOutcome is the result of the $validate operation.
type ValidationOutcome struct {
	StatusCode int
	Outcome    fhir.OperationOutcome
}

// Valid reports whether the server accepted the resource: a 2xx status without error or fatal issues.
func (v ValidationOutcome) Valid() bool {
	if v.StatusCode < 200 || v.StatusCode > 299 {
		return false
	}
	for _, issue := range v.Outcome.Issue {
		if issue.Severity == fhir.IssueSeverityError || issue.Severity == fhir.IssueSeverityFatal {
			return false
		}
	}
	return true
}

// Component is the destination EHR client.
// Create has no idempotency key: creating the same resource twice results in two resources.
type Component struct {
	client fhirclient.Client
}

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
		return nil, fmt.Errorf("destination: %w", err)
	}
	return &Component{client: client}, nil
}

// Create creates the resource and returns it as the server stored it, including the server-assigned id.
// The id and server-managed meta elements of the given resource are not sent.
func (c *Component) Create(ctx context.Context, resourceType string, res resource.Resource) (resource.Resource, error) {
	if t := res.Type(); t != resourceType {
		return nil, fmt.Errorf("create %s: resource is of type %q", resourceType, t)
	}
	body := prepareCreate(res)
	var created resource.Resource
	if err := c.client.CreateWithContext(ctx, body, &created, fhirclient.AtPath("/"+resourceType), fhirJSONBody); err != nil {
		return nil, fhirapi.ClientError("create "+resourceType, err)
	}
	if created.ID() == "" {
		return nil, &fhirapi.MalformedResponseError{What: resourceType + ".id"}
	}
	log.Ctx(ctx).Info().Msgf("Created %s on destination EHR", fhirutil.Reference(resourceType, created.ID()))
	return created, nil
}

func (c *Component) Read(ctx context.Context, resourceType string, id string) (resource.Resource, error) {
	if id == "" {
		return nil, errors.New("read " + resourceType + ": id is required")
	}
	var result resource.Resource
	if err := c.client.ReadWithContext(ctx, fhirutil.Reference(resourceType, id), &result); err != nil {
		return nil, fhirapi.ClientError("read "+fhirutil.Reference(resourceType, id), err)
	}
	if result.Type() != resourceType {
		return nil, &fhirapi.MalformedResponseError{What: resourceType + ".resourceType"}
	}
	return result, nil
}

// Validate invokes $validate for the resource. A rejected resource is not an error:
// the returned outcome holds the HTTP status and the OperationOutcome the server responded with.
// Only failures to reach the server (or responses without OperationOutcome) are returned as error.
func (c *Component) Validate(ctx context.Context, resourceType string, res resource.Resource) (*ValidationOutcome, error) {
	var outcome fhir.OperationOutcome
	err := c.client.CreateWithContext(ctx, res, &outcome, fhirclient.AtPath("/"+resourceType+"/$validate"), fhirJSONBody)
	if err != nil {
		var outcomeErr fhirclient.OperationOutcomeError
		if errors.As(err, &outcomeErr) {
			return &ValidationOutcome{
				StatusCode: outcomeErr.HttpStatusCode,
				Outcome:    outcomeErr.OperationOutcome,
			}, nil
		}
		return nil, fhirapi.ClientError("validate "+resourceType, err)
	}
	return &ValidationOutcome{
		StatusCode: http.StatusOK,
		Outcome:    outcome,
	}, nil
}

// Count returns the number of resources matching the filters.
func (c *Component) Count(ctx context.Context, resourceType string, filters url.Values) (int, error) {
	var bundle fhir.Bundle
	if err := c.search(ctx, resourceType, filters, &bundle); err != nil {
		return 0, err
	}
	return fhirutil.BundleTotal(bundle), nil
}

func (c *Component) search(ctx context.Context, resourceType string, filters url.Values, target *fhir.Bundle) error {
	if err := c.client.ReadWithContext(ctx, resourceType, target, fhirutil.SearchOptions(filters)...); err != nil {
		return fhirapi.ClientError("search "+resourceType, err)
	}
	return nil
}

// prepareCreate returns a copy of the resource without id and server-managed meta elements.
// meta is dropped entirely if nothing else remains.
func prepareCreate(res resource.Resource) resource.Resource {
	result := res.Without("id")
	meta, ok := resource.Map(result, "meta")
	if !ok {
		delete(result, "meta")
		return result
	}
	for _, key := range serverManagedMeta {
		delete(meta, key)
	}
	if len(meta) == 0 {
		delete(result, "meta")
	}
	return result
}
