// Package terminology is a client for the Hermes SNOMED CT terminology server.
package terminology

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/nuts-foundation/ehrbridge/lib/fhirapi"
	"github.com/rs/zerolog/log"
)

// ICD10CMMapRefset is the SNOMED CT to ICD-10 complex map reference set.
const ICD10CMMapRefset = "447562003"

type Config struct {
	BaseURL string        `koanf:"baseurl"`
	Timeout time.Duration `koanf:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		BaseURL: "http://159.203.121.13:8080/v1/snomed",
		Timeout: 30 * time.Second,
	}
}

type Component struct {
	client *resty.Client
	// ConceptPolicy selects the relative out of the search results.
	ConceptPolicy Policy[Concept]
	// MapPolicy selects the map entry out of the map results.
	MapPolicy Policy[MapEntry]
}

func New(config Config) (*Component, error) {
	if _, err := url.ParseRequestURI(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid terminology server URL %q: %w", config.BaseURL, err)
	}
	client := resty.New().
		SetBaseURL(config.BaseURL).
		SetHeader("Accept", "application/json")
	if config.Timeout > 0 {
		client.SetTimeout(config.Timeout)
	}
	return &Component{
		client:        client,
		ConceptPolicy: FirstMatch[Concept],
		MapPolicy:     FirstMatch[MapEntry],
	}, nil
}

// FindRelative looks up the parent or child concept of the given SNOMED CT code.
// It returns nil (and no error) if the terminology server doesn't return any concept.
// A non-success status yields a *fhirapi.TransportError, an unparsable body a *fhirapi.MalformedResponseError.
func (c *Component) FindRelative(ctx context.Context, code string, direction Direction) (*Concept, error) {
	constraint, err := direction.constraint(code)
	if err != nil {
		return nil, err
	}
	var results []Concept
	if err := c.get(ctx, "find "+direction.String()+" of "+code, "/search", map[string]string{"constraint": constraint}, &results); err != nil {
		return nil, err
	}
	concept, ok := c.ConceptPolicy(results)
	if !ok {
		log.Ctx(ctx).Info().Msgf("No %s concept found for %s", direction, code)
		return nil, nil
	}
	if concept.ConceptID == "" {
		return nil, &fhirapi.MalformedResponseError{What: "search result conceptId"}
	}
	return &concept, nil
}

// MapConcept maps a SNOMED CT concept using the given map reference set.
// It returns nil (and no error) if the concept isn't mapped.
func (c *Component) MapConcept(ctx context.Context, code string, mapID string) (*MapEntry, error) {
	var results []MapEntry
	path := "/concepts/" + url.PathEscape(code) + "/map/" + url.PathEscape(mapID)
	if err := c.get(ctx, "map "+code+" using "+mapID, path, nil, &results); err != nil {
		return nil, err
	}
	entry, ok := c.MapPolicy(results)
	if !ok {
		log.Ctx(ctx).Info().Msgf("No map target found for %s in reference set %s", code, mapID)
		return nil, nil
	}
	if entry.MapTarget == "" {
		return nil, &fhirapi.MalformedResponseError{What: "map result mapTarget"}
	}
	return &entry, nil
}

func (c *Component) get(ctx context.Context, operation string, path string, query map[string]string, target any) error {
	response, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get(path)
	if err != nil {
		return &fhirapi.TransportError{Operation: operation, Cause: err}
	}
	log.Ctx(ctx).Debug().Msgf("Terminology server: GET %s (status=%d)", response.Request.URL, response.StatusCode())
	if response.StatusCode() == http.StatusNotFound {
		// Hermes responds with 404 for unknown concepts
		return nil
	}
	if !response.IsSuccess() {
		return &fhirapi.TransportError{
			Operation:  operation,
			StatusCode: response.StatusCode(),
			Cause:      fmt.Errorf("terminology server responded: %s", response.String()),
		}
	}
	body := response.Body()
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return &fhirapi.MalformedResponseError{What: operation + " result", Cause: err}
	}
	return nil
}
