package httpauth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/nuts-foundation/ehrbridge/component/source"
	"github.com/nuts-foundation/ehrbridge/lib/fhirapi"
	"github.com/nuts-foundation/ehrbridge/lib/fhirtest"
	"github.com/nuts-foundation/ehrbridge/lib/httpauth"
	"github.com/nuts-foundation/ehrbridge/lib/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tokenEndpoint is a client credentials token endpoint that records the forms posted to it.
type tokenEndpoint struct {
	URL string

	mux   sync.Mutex
	forms []url.Values
}

// newTokenEndpoint starts a token endpoint issuing accessToken (valid for an hour).
// If accessToken is empty, it rejects every request with invalid_client.
func newTokenEndpoint(t *testing.T, accessToken string) *tokenEndpoint {
	t.Helper()
	endpoint := &tokenEndpoint{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		endpoint.mux.Lock()
		endpoint.forms = append(endpoint.forms, r.PostForm)
		endpoint.mux.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if accessToken == "" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": accessToken,
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(server.Close)
	endpoint.URL = server.URL
	return endpoint
}

func (e *tokenEndpoint) Forms() []url.Values {
	e.mux.Lock()
	defer e.mux.Unlock()
	return append([]url.Values(nil), e.forms...)
}

// sourceEHR starts a source FHIR server holding patient p1, accepting only the given bearer token.
func sourceEHR(t *testing.T, token string) *fhirtest.Server {
	t.Helper()
	server := fhirtest.NewServer(t)
	server.RequireBearerToken = token
	server.Seed(resource.Resource{"resourceType": "Patient", "id": "p1", "gender": "male"})
	return server
}

func TestNewHTTPClient_ClientCredentialsFromDataDir(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	writeFile(t, dataDir, httpauth.ClientIDFile, "emr-client\n")
	writeFile(t, dataDir, httpauth.ClientSecretFile, "emr-secret\n")
	tokens := newTokenEndpoint(t, "cc-token")
	ehr := sourceEHR(t, "cc-token")

	httpClient, err := httpauth.NewHTTPClient(httpauth.OAuth2Config{
		TokenEndpoint: tokens.URL,
		Scopes:        []string{"system/Patient.read", "system/Condition.read"},
	}, dataDir, nil)
	require.NoError(t, err)
	sourceClient, err := source.New(source.Config{FHIRBaseURL: ehr.URL}, httpClient)
	require.NoError(t, err)

	t.Run("token request carries the credentials from the files", func(t *testing.T) {
		patient, err := sourceClient.ReadPatient(ctx, "p1")
		require.NoError(t, err)

		assert.Equal(t, "p1", patient.ID())
		forms := tokens.Forms()
		require.Len(t, forms, 1)
		assert.Equal(t, "client_credentials", forms[0].Get("grant_type"))
		assert.Equal(t, "emr-client", forms[0].Get("client_id"))
		assert.Equal(t, "emr-secret", forms[0].Get("client_secret"))
		assert.Equal(t, "system/Patient.read system/Condition.read", forms[0].Get("scope"))
	})
	t.Run("FHIR requests carry the issued token", func(t *testing.T) {
		requests := ehr.Requests()
		require.NotEmpty(t, requests)
		assert.Equal(t, "/Patient/p1", requests[0].Path)
		assert.Equal(t, "Bearer cc-token", requests[0].Auth)
	})
	t.Run("token is reused until it expires", func(t *testing.T) {
		_, err := sourceClient.SearchConditions(ctx, "p1")
		require.ErrorIs(t, err, fhirapi.ErrNotFound)

		assert.Len(t, tokens.Forms(), 1)
		assert.Len(t, ehr.Requests(), 2)
	})
}

func TestNewHTTPClient_TokenEndpointRejectsCredentials(t *testing.T) {
	dataDir := t.TempDir()
	writeFile(t, dataDir, httpauth.ClientIDFile, "emr-client")
	writeFile(t, dataDir, httpauth.ClientSecretFile, "wrong-secret")
	tokens := newTokenEndpoint(t, "")
	ehr := sourceEHR(t, "cc-token")

	httpClient, err := httpauth.NewHTTPClient(httpauth.OAuth2Config{TokenEndpoint: tokens.URL}, dataDir, nil)
	require.NoError(t, err)
	sourceClient, err := source.New(source.Config{FHIRBaseURL: ehr.URL}, httpClient)
	require.NoError(t, err)

	_, err = sourceClient.ReadPatient(context.Background(), "p1")

	var transportErr *fhirapi.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Contains(t, err.Error(), "invalid_client")
	assert.Len(t, tokens.Forms(), 1)
	assert.Empty(t, ehr.Requests(), "no FHIR request is sent without a token")
}

func TestNewOAuth2HTTPClient_Incomplete(t *testing.T) {
	_, err := httpauth.NewOAuth2HTTPClient(httpauth.OAuth2Config{TokenEndpoint: "http://example.com/token"}, nil)

	require.ErrorIs(t, err, fhirapi.ErrCredentialMissing)
	assert.Contains(t, err.Error(), "clientid, clientsecret")
}
