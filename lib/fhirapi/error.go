package fhirapi

import (
	"errors"
	"fmt"
	"strings"

	fhirclient "github.com/SanteonNL/go-fhir-client"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

const JSONMimeType = "application/fhir+json"

// ErrNotFound is returned when a search yields no entries, or a persisted handle does not exist.
var ErrNotFound = errors.New("not found")

// ErrCredentialMissing is returned when the access token (or client credentials) can't be read.
var ErrCredentialMissing = errors.New("credentials missing")

// TransportError is returned when a server responds with a non-2xx status, or can't be reached at all.
type TransportError struct {
	// Operation describes the failed request, e.g. "create Patient".
	Operation string
	// StatusCode is the HTTP status code, if a response was received and it could be determined.
	StatusCode int
	// Outcome is the OperationOutcome the server returned, if any.
	Outcome *fhir.OperationOutcome
	Cause   error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	b.WriteString(e.Operation)
	b.WriteString(" failed")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status=%d)", e.StatusCode)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// MalformedResponseError is returned when a response doesn't contain the expected elements.
type MalformedResponseError struct {
	// What describes the expected content, e.g. "Condition.code.coding".
	What  string
	Cause error
}

func (e *MalformedResponseError) Error() string {
	if e.Cause == nil {
		return "malformed response: missing " + e.What
	}
	return fmt.Sprintf("malformed response (%s): %v", e.What, e.Cause)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Cause
}

// ClientError converts an error returned by the FHIR client into a TransportError,
// extracting the HTTP status code and OperationOutcome when the server returned one.
func ClientError(operation string, err error) error {
	if err == nil {
		return nil
	}
	result := &TransportError{
		Operation: operation,
		Cause:     err,
	}
	var outcomeErr fhirclient.OperationOutcomeError
	if errors.As(err, &outcomeErr) {
		result.StatusCode = outcomeErr.HttpStatusCode
		outcome := outcomeErr.OperationOutcome
		result.Outcome = &outcome
	}
	return result
}

// StatusCode returns the HTTP status code of a TransportError, or 0 if err isn't one (or the status is unknown).
func StatusCode(err error) int {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return transportErr.StatusCode
	}
	return 0
}

// Diagnostics renders the issues of an OperationOutcome as a single line, for logging.
func Diagnostics(outcome fhir.OperationOutcome) string {
	var parts []string
	for _, issue := range outcome.Issue {
		msg := issue.Severity.Code() + "/" + issue.Code.Code()
		if issue.Diagnostics != nil {
			msg += ": " + *issue.Diagnostics
		}
		parts = append(parts, msg)
	}
	return strings.Join(parts, "; ")
}
