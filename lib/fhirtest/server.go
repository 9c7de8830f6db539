// Package fhirtest provides an in-memory FHIR server for tests.
// It supports create, read, search and $validate, and enforces referential integrity of subject references:
// creating a resource whose subject references an unknown Patient fails with 422 Unprocessable Entity.
package fhirtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nuts-foundation/ehrbridge/lib/fhirapi"
	"github.com/nuts-foundation/ehrbridge/lib/fhirutil"
	"github.com/nuts-foundation/ehrbridge/lib/resource"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/caramel/to"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

// Request is a request received by the server.
type Request struct {
	Method      string
	Path        string
	Query       string
	ContentType string
	Auth        string
	Body        resource.Resource
}

type Server struct {
	URL string
	// RequireBearerToken, if set, makes the server reject requests without the matching Authorization header.
	RequireBearerToken string
	// ValidationStatus and ValidationOutcome are returned by $validate. Defaults to 200 with a single informational issue.
	ValidationStatus  int
	ValidationOutcome *fhir.OperationOutcome

	mux       sync.Mutex
	resources map[string]map[string]resource.Resource
	created   []string
	requests  []Request
}

// NewServer starts a server that is closed when the test completes.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		resources: map[string]map[string]resource.Resource{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /{type}/$validate", s.handleValidate)
	mux.HandleFunc("POST /{type}", s.handleCreate)
	mux.HandleFunc("GET /{type}/{id}", s.handleRead)
	mux.HandleFunc("GET /{type}", s.handleSearch)
	httpServer := httptest.NewServer(s.recordRequests(mux))
	t.Cleanup(httpServer.Close)
	s.URL = httpServer.URL
	return s
}

// Seed stores a resource as-is, without going through create. If it has no id, one is generated.
// It returns the resource's id.
func (s *Server) Seed(res resource.Resource) string {
	s.mux.Lock()
	defer s.mux.Unlock()
	stored := res.Clone()
	id := stored.ID()
	if id == "" {
		id = uuid.NewString()
		stored["id"] = id
	}
	s.store(stored)
	return id
}

// Created returns the references (<type>/<id>) of resources created through the REST API, in order of creation.
func (s *Server) Created() []string {
	s.mux.Lock()
	defer s.mux.Unlock()
	return append([]string(nil), s.created...)
}

// Resource returns a copy of a stored resource, or nil if it doesn't exist.
func (s *Server) Resource(resourceType string, id string) resource.Resource {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.resources[resourceType][id].Clone()
}

// Count returns the number of stored resources of the given type.
func (s *Server) Count(resourceType string) int {
	s.mux.Lock()
	defer s.mux.Unlock()
	return len(s.resources[resourceType])
}

// Requests returns all requests received so far.
func (s *Server) Requests() []Request {
	s.mux.Lock()
	defer s.mux.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *Server) recordRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := Request{
			Method:      r.Method,
			Path:        r.URL.Path,
			Query:       r.URL.RawQuery,
			ContentType: r.Header.Get("Content-Type"),
			Auth:        r.Header.Get("Authorization"),
		}
		if r.Body != nil {
			data, err := io.ReadAll(r.Body)
			if err != nil {
				writeOutcome(w, http.StatusBadRequest, fhir.IssueTypeStructure, "unable to read request body")
				return
			}
			if len(data) > 0 {
				req.Body, _ = resource.Parse(data)
			}
			r.Body = io.NopCloser(strings.NewReader(string(data)))
		}
		s.mux.Lock()
		s.requests = append(s.requests, req)
		s.mux.Unlock()
		if s.RequireBearerToken != "" && req.Auth != "Bearer "+s.RequireBearerToken {
			writeOutcome(w, http.StatusUnauthorized, fhir.IssueTypeLogin, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	resourceType := r.PathValue("type")
	res, ok := readResource(w, r, resourceType)
	if !ok {
		return
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	if ref, ok := subjectReference(res); ok {
		_, refID, err := fhirutil.ParseReference(ref)
		if err != nil || (fhirutil.ReferencesType(ref, "Patient") && s.resources["Patient"][refID] == nil) {
			writeOutcome(w, http.StatusUnprocessableEntity, fhir.IssueTypeProcessing, fmt.Sprintf("Resource %s is not known", ref))
			return
		}
	}
	id := uuid.NewString()
	res["id"] = id
	meta, _ := resource.Map(res, "meta")
	if meta == nil {
		meta = map[string]any{}
	}
	meta["versionId"] = "1"
	meta["lastUpdated"] = time.Now().UTC().Format(time.RFC3339)
	res["meta"] = meta
	s.store(res)
	s.created = append(s.created, fhirutil.Reference(resourceType, id))

	w.Header().Set("Location", fhirutil.Reference(resourceType, id)+"/_history/1")
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	resourceType := r.PathValue("type")
	id := r.PathValue("id")
	res := s.Resource(resourceType, id)
	if res == nil {
		writeOutcome(w, http.StatusNotFound, fhir.IssueTypeNotFound, fmt.Sprintf("Resource %s/%s is not known", resourceType, id))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	resourceType := r.PathValue("type")
	query := r.URL.Query()

	s.mux.Lock()
	var ids []string
	for id := range s.resources[resourceType] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	bundle := fhir.Bundle{
		Type: fhir.BundleTypeSearchset,
	}
	for _, id := range ids {
		res := s.resources[resourceType][id]
		if !matches(res, query) {
			continue
		}
		data, err := json.Marshal(res)
		if err != nil {
			s.mux.Unlock()
			writeOutcome(w, http.StatusInternalServerError, fhir.IssueTypeException, err.Error())
			return
		}
		bundle.Entry = append(bundle.Entry, fhir.BundleEntry{
			FullUrl:  to.Ptr(s.URL + "/" + fhirutil.Reference(resourceType, id)),
			Resource: data,
		})
	}
	s.mux.Unlock()
	bundle.Total = to.Ptr(len(bundle.Entry))
	writeJSON(w, http.StatusOK, bundle)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	resourceType := r.PathValue("type")
	if _, ok := readResource(w, r, resourceType); !ok {
		return
	}
	status := s.ValidationStatus
	if status == 0 {
		status = http.StatusOK
	}
	outcome := s.ValidationOutcome
	if outcome == nil {
		outcome = &fhir.OperationOutcome{
			Issue: []fhir.OperationOutcomeIssue{
				{
					Severity:    fhir.IssueSeverityInformation,
					Code:        fhir.IssueTypeInformational,
					Diagnostics: to.Ptr("No issues detected during validation"),
				},
			},
		}
	}
	writeJSON(w, status, outcome)
}

// store must be called with the lock held.
func (s *Server) store(res resource.Resource) {
	resourceType := res.Type()
	if s.resources[resourceType] == nil {
		s.resources[resourceType] = map[string]resource.Resource{}
	}
	s.resources[resourceType][res.ID()] = res
}

func readResource(w http.ResponseWriter, r *http.Request, resourceType string) (resource.Resource, bool) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeOutcome(w, http.StatusBadRequest, fhir.IssueTypeStructure, "unable to read request body")
		return nil, false
	}
	res, err := resource.Parse(data)
	if err != nil {
		writeOutcome(w, http.StatusBadRequest, fhir.IssueTypeStructure, err.Error())
		return nil, false
	}
	if res.Type() != resourceType {
		writeOutcome(w, http.StatusBadRequest, fhir.IssueTypeInvalid, fmt.Sprintf("resourceType %q does not match endpoint %s", res.Type(), resourceType))
		return nil, false
	}
	return res, true
}

func subjectReference(res resource.Resource) (string, bool) {
	subject, ok := resource.Map(res, "subject")
	if !ok {
		return "", false
	}
	ref := resource.String(subject, "reference")
	return ref, ref != ""
}

// matches implements the search parameters used by the workflow: patient, code, name, gender and birthdate.
// Unknown parameters are ignored.
func matches(res resource.Resource, query map[string][]string) bool {
	for param, values := range query {
		for _, value := range values {
			var ok bool
			switch param {
			case "patient", "subject":
				ref, _ := subjectReference(res)
				ok = ref == value || ref == "Patient/"+value
			case "code":
				ok = hasCode(res, value)
			case "name":
				ok = nameContains(res, value)
			case "gender":
				ok = resource.String(res, "gender") == value
			case "birthdate":
				ok = compareDate(resource.String(res, "birthDate"), value)
			default:
				ok = true
			}
			if !ok {
				return false
			}
		}
	}
	return true
}

func hasCode(res resource.Resource, token string) bool {
	system, code, hasSystem := strings.Cut(token, "|")
	if !hasSystem {
		code = token
	}
	concept, _ := resource.Map(res, "code")
	codings, _ := resource.Slice(concept, "coding")
	for _, item := range codings {
		c, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if resource.String(c, "code") == code && (!hasSystem || resource.String(c, "system") == system) {
			return true
		}
	}
	return false
}

func nameContains(res resource.Resource, value string) bool {
	value = strings.ToLower(value)
	names, _ := resource.Slice(res, "name")
	for _, item := range names {
		name, ok := item.(map[string]any)
		if !ok {
			continue
		}
		parts := []string{resource.String(name, "family"), resource.String(name, "text")}
		givenNames, _ := resource.Slice(name, "given")
		for _, given := range givenNames {
			if s, ok := given.(string); ok {
				parts = append(parts, s)
			}
		}
		for _, part := range parts {
			if part != "" && strings.HasPrefix(strings.ToLower(part), value) {
				return true
			}
		}
	}
	return false
}

func compareDate(actual string, constraint string) bool {
	if actual == "" {
		return false
	}
	if len(constraint) > 2 {
		switch constraint[:2] {
		case "gt":
			return actual > constraint[2:]
		case "lt":
			return actual < constraint[2:]
		case "ge":
			return actual >= constraint[2:]
		case "le":
			return actual <= constraint[2:]
		case "eq":
			return actual == constraint[2:]
		}
	}
	return actual == constraint
}

func writeOutcome(w http.ResponseWriter, status int, code fhir.IssueType, diagnostics string) {
	writeJSON(w, status, fhir.OperationOutcome{
		Issue: []fhir.OperationOutcomeIssue{
			{
				Severity:    fhir.IssueSeverityError,
				Code:        code,
				Diagnostics: to.Ptr(diagnostics),
			},
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", fhirapi.JSONMimeType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

