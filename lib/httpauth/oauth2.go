package httpauth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/nuts-foundation/ehrbridge/lib/fhirapi"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// OAuth2Config configures the client credentials grant against the token endpoint of the source EHR.
// ClientID and ClientSecret may be left empty, they're then read from client_id.txt and client_secret.txt
// in the data directory (see ResolveClientCredentials).
type OAuth2Config struct {
	TokenEndpoint string   `koanf:"tokenendpoint"`
	ClientID      string   `koanf:"clientid"`
	ClientSecret  string   `koanf:"clientsecret"`
	Scopes        []string `koanf:"scopes"`
}

// IsConfigured reports whether the token endpoint and both client credentials are known.
func (c OAuth2Config) IsConfigured() bool {
	return len(c.missing()) == 0
}

func (c OAuth2Config) missing() []string {
	var result []string
	if c.TokenEndpoint == "" {
		result = append(result, "tokenendpoint")
	}
	if c.ClientID == "" {
		result = append(result, "clientid")
	}
	if c.ClientSecret == "" {
		result = append(result, "clientsecret")
	}
	return result
}

// NewOAuth2HTTPClient returns a client that authenticates requests with a bearer token obtained from the token endpoint.
// The client id and secret are posted in the request body. The token is reused until it expires, then a new one is requested.
// Token requests and FHIR requests both go through baseTransport (http.DefaultTransport if nil).
func NewOAuth2HTTPClient(config OAuth2Config, baseTransport http.RoundTripper) (*http.Client, error) {
	if missing := config.missing(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: oauth2 %s not set", fhirapi.ErrCredentialMissing, strings.Join(missing, ", "))
	}
	if baseTransport == nil {
		baseTransport = http.DefaultTransport
	}
	grant := clientcredentials.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		TokenURL:     config.TokenEndpoint,
		Scopes:       config.Scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Transport: baseTransport})
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: grant.TokenSource(tokenCtx),
			Base:   baseTransport,
		},
	}, nil
}
