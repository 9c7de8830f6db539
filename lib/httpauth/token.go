package httpauth

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/nuts-foundation/ehrbridge/lib/fhirapi"
	"golang.org/x/oauth2"
)

const (
	AccessTokenFile  = "access_token.json"
	ClientIDFile     = "client_id.txt"
	ClientSecretFile = "client_secret.txt"
)

type accessTokenDocument struct {
	AccessToken string `json:"access_token"`
}

// ReadAccessToken reads the bearer token from access_token.json in the given directory.
// It returns an error wrapping fhirapi.ErrCredentialMissing if the file is absent, unparsable or holds no token.
func ReadAccessToken(dataDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, AccessTokenFile))
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %w", fhirapi.ErrCredentialMissing, AccessTokenFile, err)
	}
	var doc accessTokenDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("%w: parse %s: %w", fhirapi.ErrCredentialMissing, AccessTokenFile, err)
	}
	if doc.AccessToken == "" {
		return "", fmt.Errorf("%w: no access_token in %s", fhirapi.ErrCredentialMissing, AccessTokenFile)
	}
	return doc.AccessToken, nil
}

// ReadClientCredentials reads the OAuth2 client id and secret from client_id.txt and client_secret.txt.
// Only the first line of each file is used.
func ReadClientCredentials(dataDir string) (clientID string, clientSecret string, err error) {
	clientID, err = readFirstLine(filepath.Join(dataDir, ClientIDFile))
	if err != nil {
		return "", "", err
	}
	clientSecret, err = readFirstLine(filepath.Join(dataDir, ClientSecretFile))
	if err != nil {
		return "", "", err
	}
	return clientID, clientSecret, nil
}

func readFirstLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", fhirapi.ErrCredentialMissing, err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	var line string
	if scanner.Scan() {
		line = strings.TrimSpace(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("%w: read %s: %w", fhirapi.ErrCredentialMissing, filepath.Base(path), err)
	}
	if line == "" {
		return "", fmt.Errorf("%w: %s is empty", fhirapi.ErrCredentialMissing, filepath.Base(path))
	}
	return line, nil
}

// NewBearerHTTPClient creates an http.Client that sends the given token as Authorization: Bearer header.
// Pass nil as baseTransport to use http.DefaultTransport.
func NewBearerHTTPClient(token string, baseTransport http.RoundTripper) *http.Client {
	if baseTransport == nil {
		baseTransport = http.DefaultTransport
	}
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   baseTransport,
		},
	}
}

// ResolveClientCredentials completes config with the client id and secret files in dataDir,
// for the fields that aren't configured explicitly.
func ResolveClientCredentials(config OAuth2Config, dataDir string) OAuth2Config {
	if config.TokenEndpoint == "" || (config.ClientID != "" && config.ClientSecret != "") {
		return config
	}
	clientID, clientSecret, err := ReadClientCredentials(dataDir)
	if err != nil {
		return config
	}
	if config.ClientID == "" {
		config.ClientID = clientID
	}
	if config.ClientSecret == "" {
		config.ClientSecret = clientSecret
	}
	return config
}

// NewHTTPClient returns the HTTP client used to call protected FHIR APIs.
// When OAuth2 client credentials are configured (or can be completed from the data directory),
// it returns a self-refreshing client. Otherwise it uses the token in access_token.json.
// If no credentials can be found, it returns a client without authentication together with
// an error wrapping fhirapi.ErrCredentialMissing; callers may log it and continue.
func NewHTTPClient(config OAuth2Config, dataDir string, baseTransport http.RoundTripper) (*http.Client, error) {
	config = ResolveClientCredentials(config, dataDir)
	if config.IsConfigured() {
		return NewOAuth2HTTPClient(config, baseTransport)
	}
	token, err := ReadAccessToken(dataDir)
	if err != nil {
		if baseTransport == nil {
			baseTransport = http.DefaultTransport
		}
		return &http.Client{Transport: baseTransport}, err
	}
	return NewBearerHTTPClient(token, baseTransport), nil
}

// IsCredentialMissing reports whether err signals absent credentials.
func IsCredentialMissing(err error) bool {
	return errors.Is(err, fhirapi.ErrCredentialMissing)
}
