package fhirutil

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/SanteonNL/go-fhir-client"
	"github.com/rs/zerolog/log"
)

func ClientConfig() *fhirclient.Config {
	config := fhirclient.DefaultConfig()
	config.DefaultOptions = []fhirclient.Option{
		fhirclient.RequestHeaders(map[string][]string{
			"Cache-Control": {"no-cache"},
			"Accept":        {"application/fhir+json"},
		}),
	}
	config.Non2xxStatusHandler = func(response *http.Response, responseBody []byte) {
		log.Debug().Msgf("Non-2xx status code from FHIR server (%s %s, status=%d), content: %s", response.Request.Method, response.Request.URL, response.StatusCode, string(responseBody))
	}
	return &config
}

// NewClient creates a FHIR client for the server at baseURL, using the given HTTP client for all requests.
func NewClient(baseURL string, httpClient *http.Client) (fhirclient.Client, error) {
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid FHIR base URL %q: %w", baseURL, err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid FHIR base URL %q: must be absolute", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return fhirclient.New(parsedURL, httpClient, ClientConfig()), nil
}

// SearchOptions converts search filters into query parameter options, in a stable order.
func SearchOptions(filters url.Values) []fhirclient.Option {
	keys := make([]string, 0, len(filters))
	for key := range filters {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var opts []fhirclient.Option
	for _, key := range keys {
		for _, value := range filters[key] {
			opts = append(opts, fhirclient.QueryParam(key, value))
		}
	}
	return opts
}
