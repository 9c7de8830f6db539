package pipeline

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nuts-foundation/ehrbridge/component/destination"
	"github.com/nuts-foundation/ehrbridge/component/hl7v2"
	"github.com/nuts-foundation/ehrbridge/component/source"
	"github.com/nuts-foundation/ehrbridge/component/terminology"
	"github.com/nuts-foundation/ehrbridge/lib/artifacts"
	"github.com/nuts-foundation/ehrbridge/lib/coding"
	"github.com/nuts-foundation/ehrbridge/lib/fhirtest"
	"github.com/nuts-foundation/ehrbridge/lib/fhirutil"
	"github.com/nuts-foundation/ehrbridge/lib/profile"
	"github.com/nuts-foundation/ehrbridge/lib/resource"
	"github.com/nuts-foundation/ehrbridge/lib/statestore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/caramel/to"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

const sourcePatientID = "src-1"

type stubTerminology struct {
	relatives map[string]*terminology.Concept
	maps      map[string]*terminology.MapEntry
	err       error
}

func (s *stubTerminology) FindRelative(_ context.Context, code string, direction terminology.Direction) (*terminology.Concept, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.relatives[direction.String()+":"+code], nil
}

func (s *stubTerminology) MapConcept(_ context.Context, code string, mapID string) (*terminology.MapEntry, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.maps[code+"/"+mapID], nil
}

func asthmaTerminology() *stubTerminology {
	return &stubTerminology{
		relatives: map[string]*terminology.Concept{
			"parent:195967001": {ConceptID: "406463001", PreferredTerm: "Drug-induced asthma"},
			"child:195967001":  {ConceptID: "233678006", PreferredTerm: "Childhood asthma"},
		},
		maps: map[string]*terminology.MapEntry{
			"406463001/" + terminology.ICD10CMMapRefset: {ReferencedComponentID: "406463001", MapTarget: "J45.909"},
		},
	}
}

type testContext struct {
	pipeline    *Pipeline
	source      *fhirtest.Server
	destination *fhirtest.Server
	artifacts   *artifacts.Dir
	store       statestore.Store
	out         *bytes.Buffer
}

func setup(t *testing.T, terminologyClient Terminology) testContext {
	t.Helper()
	sourceServer := fhirtest.NewServer(t)
	sourceServer.Seed(resource.Resource{
		"resourceType": "Patient",
		"id":           sourcePatientID,
		"meta":         map[string]any{"versionId": "3"},
		"gender":       "male",
		"birthDate":    "2004-10-01",
		"name":         []any{map[string]any{"family": "Doe", "given": []any{"James"}}},
		"identifier": []any{
			map[string]any{"system": "http://hl7.org/fhir/sid/us-ssn", "value": "999-99-9999"},
			map[string]any{"system": "http://example.org/mrn", "value": "12345"},
		},
		"address": []any{map[string]any{
			"line":       []any{"1 Main St"},
			"city":       "Indianapolis",
			"state":      "IN",
			"postalCode": "46202",
		}},
	})
	sourceServer.Seed(resource.Resource{
		"resourceType": "Condition",
		"id":           "cond-1",
		"subject":      map[string]any{"reference": "Patient/" + sourcePatientID},
		"code":         map[string]any{"coding": []any{map[string]any{"system": coding.SNOMEDSystem, "code": "195967001", "display": "Asthma"}}},
	})
	destinationServer := fhirtest.NewServer(t)

	sourceClient, err := source.New(source.Config{FHIRBaseURL: sourceServer.URL}, http.DefaultClient)
	require.NoError(t, err)
	destinationClient, err := destination.New(destination.Config{FHIRBaseURL: destinationServer.URL}, http.DefaultClient)
	require.NoError(t, err)
	dataDir := t.TempDir()
	dir, err := artifacts.New(dataDir)
	require.NoError(t, err)
	store, err := statestore.NewFileStore(dataDir)
	require.NoError(t, err)
	out := new(bytes.Buffer)

	return testContext{
		pipeline: &Pipeline{
			Source:      sourceClient,
			Terminology: terminologyClient,
			Destination: destinationClient,
			Store:       store,
			Artifacts:   dir,
			Builder: &hl7v2.Builder{
				Header: hl7v2.DefaultHeader,
				Now: func() time.Time {
					return time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)
				},
			},
			SourcePatientID: sourcePatientID,
			Explore:         DefaultExploreConfig(),
			Out:             out,
		},
		source:      sourceServer,
		destination: destinationServer,
		artifacts:   dir,
		store:       store,
		out:         out,
	}
}

func runTask(t *testing.T, p *Pipeline, name string, state *State) error {
	t.Helper()
	task, err := p.Task(name, state)
	require.NoError(t, err)
	return task.Run(context.Background())
}

func TestPipeline_Run(t *testing.T) {
	tc := setup(t, asthmaTerminology())

	err := tc.pipeline.Run(context.Background())

	require.NoError(t, err)
	created := tc.destination.Created()
	require.Len(t, created, 5)
	patientType, patientID, err := fhirutil.ParseReference(created[0])
	require.NoError(t, err)
	assert.Equal(t, "Patient", patientType)
	for i, expectedType := range []string{"Condition", "Condition", "Observation", "Procedure"} {
		assert.True(t, fhirutil.ReferencesType(created[i+1], expectedType), created[i+1])
	}
	t.Run("destination patient", func(t *testing.T) {
		patient := tc.destination.Resource("Patient", patientID)
		identifiers, _ := resource.Slice(patient, "identifier")
		require.Len(t, identifiers, 1)
		assert.Equal(t, "12345", identifiers[0].(map[string]any)["value"])
		address, _ := resource.FirstMap(patient, "address")
		assert.Equal(t, "1 Main St Indianapolis, Not found, IN 46202", address["text"])
	})
	t.Run("conditions reference the destination patient", func(t *testing.T) {
		for _, ref := range created[1:] {
			resourceType, id, err := fhirutil.ParseReference(ref)
			require.NoError(t, err)
			res := tc.destination.Resource(resourceType, id)
			subject, _ := resource.Map(res, "subject")
			assert.Equal(t, "Patient/"+patientID, subject["reference"])
		}
	})
	t.Run("handles", func(t *testing.T) {
		storedPatientID, err := tc.store.Get(context.Background(), statestore.KeyPrimaryPatientID)
		require.NoError(t, err)
		assert.Equal(t, patientID, storedPatientID)
		_, observationID, _ := fhirutil.ParseReference(created[3])
		storedObservationID, err := tc.store.Get(context.Background(), statestore.KeyObservationID)
		require.NoError(t, err)
		assert.Equal(t, observationID, storedObservationID)
		_, procedureID, _ := fhirutil.ParseReference(created[4])
		storedProcedureID, err := tc.store.Get(context.Background(), statestore.KeyProcedureID)
		require.NoError(t, err)
		assert.Equal(t, procedureID, storedProcedureID)
	})
	t.Run("fixtures", func(t *testing.T) {
		patient, err := tc.artifacts.ReadResource(artifacts.PatientFile)
		require.NoError(t, err)
		assert.Equal(t, patientID, patient.ID())
		assert.Equal(t, []string{profile.PatientValidation}, profile.Of(patient))

		parent, err := tc.artifacts.ReadResource(artifacts.ParentConditionFile)
		require.NoError(t, err)
		parentCode, _ := coding.First(parent, "code")
		assert.Equal(t, "406463001", parentCode.Code)
		assert.Equal(t, "2012-05-24", parent["onsetDateTime"])
		assert.Equal(t, []string{profile.ConditionValidation}, profile.Of(parent))
		category, _ := resource.FirstMap(parent, "category")
		categoryCode, _ := coding.First(map[string]any{"category": category}, "category")
		assert.Equal(t, "encounter-diagnosis", categoryCode.Code)

		child, err := tc.artifacts.ReadResource(artifacts.ChildConditionFile)
		require.NoError(t, err)
		childCode, _ := coding.First(child, "code")
		assert.Equal(t, "233678006", childCode.Code)
		assert.Equal(t, "2014-06-01", child["onsetDateTime"])

		for _, file := range []string{artifacts.ObservationFile, artifacts.ProcedureFile} {
			res, err := tc.artifacts.ReadResource(file)
			require.NoError(t, err)
			subject, _ := resource.Map(res, "subject")
			assert.Equal(t, "Patient/"+patientID, subject["reference"], file)
		}
	})
	t.Run("ADT message", func(t *testing.T) {
		message, err := os.ReadFile(tc.artifacts.File(artifacts.ADTMessageFile))
		require.NoError(t, err)
		segments := strings.Split(string(message), "\r")
		require.Len(t, segments, 4)
		assert.Equal(t, "MSH|^~\\&|MyApp|OpenEMR|PrimaryCareEHR|PrimaryFacility|20250301123000||ADT^A01|MSG00001|P|2.5", segments[0])
		assert.True(t, strings.HasPrefix(segments[1], "PID|1||"+sourcePatientID+"||Doe^James||20041001|M"), segments[1])
		assert.Equal(t, "DG1|1||J45.909^Drug-induced asthma^I10|Drug-induced asthma", segments[3])
	})
	t.Run("validation and insights", func(t *testing.T) {
		assert.Contains(t, tc.out.String(), "patient.json\tvalid (200)")
		assert.Contains(t, tc.out.String(), "procedure.json\tvalid (200)")
		assert.True(t, tc.artifacts.Exists(artifacts.InsightsReportFile))
	})
	t.Run("explore output", func(t *testing.T) {
		assert.Contains(t, tc.out.String(), "Patient src-1\tmale\t2004-10-01\tJames Doe")
		assert.Contains(t, tc.out.String(), "Condition cond-1\t195967001\tAsthma")
	})
}

func TestPipeline_Task(t *testing.T) {
	t.Run("unknown task", func(t *testing.T) {
		_, err := (&Pipeline{}).Task("deploy", nil)
		assert.EqualError(t, err, "unknown task: deploy")
	})
	t.Run("all tasks", func(t *testing.T) {
		var names []string
		for _, task := range (&Pipeline{}).Tasks(&State{}) {
			names = append(names, task.Name())
		}
		assert.Equal(t, TaskNames, names)
	})
}

func TestPipeline_ParentCondition(t *testing.T) {
	assertOnlyPatientCreated := func(t *testing.T, tc testContext) {
		t.Helper()
		created := tc.destination.Created()
		require.Len(t, created, 1)
		assert.True(t, fhirutil.ReferencesType(created[0], "Patient"), created[0])
		_, patientID, _ := fhirutil.ParseReference(created[0])
		storedPatientID, err := tc.store.Get(context.Background(), statestore.KeyPrimaryPatientID)
		require.NoError(t, err)
		assert.Equal(t, patientID, storedPatientID)
		assert.True(t, tc.artifacts.Exists(artifacts.PatientFile))
		assert.False(t, tc.artifacts.Exists(artifacts.ParentConditionFile))
	}
	t.Run("no parent concept", func(t *testing.T) {
		tc := setup(t, &stubTerminology{})
		state := &State{}

		err := runTask(t, tc.pipeline, TaskParentCondition, state)

		require.NoError(t, err)
		assertOnlyPatientCreated(t, tc)
		// dependent tasks still have a patient to work with
		require.NoError(t, runTask(t, tc.pipeline, TaskObservation, state))
		assert.NotEmpty(t, state.ObservationID)
	})
	t.Run("terminology failure is treated as no parent concept", func(t *testing.T) {
		tc := setup(t, &stubTerminology{err: errors.New("connection refused")})

		err := runTask(t, tc.pipeline, TaskParentCondition, nil)

		require.NoError(t, err)
		assertOnlyPatientCreated(t, tc)
	})
	t.Run("no source conditions", func(t *testing.T) {
		tc := setup(t, asthmaTerminology())
		tc.source.Seed(resource.Resource{
			"resourceType": "Patient",
			"id":           "lonely",
			"gender":       "female",
		})
		tc.pipeline.SourcePatientID = "lonely"

		err := runTask(t, tc.pipeline, TaskParentCondition, nil)

		require.NoError(t, err)
		assertOnlyPatientCreated(t, tc)
	})
	t.Run("source patient not found", func(t *testing.T) {
		tc := setup(t, asthmaTerminology())
		tc.source.Seed(resource.Resource{
			"resourceType": "Condition",
			"id":           "cond-2",
			"subject":      map[string]any{"reference": "Patient/ghost"},
			"code":         map[string]any{"coding": []any{map[string]any{"system": coding.SNOMEDSystem, "code": "195967001"}}},
		})
		tc.pipeline.SourcePatientID = "ghost"
		logs := new(bytes.Buffer)
		ctx := zerolog.New(logs).WithContext(context.Background())
		task, err := tc.pipeline.Task(TaskParentCondition, nil)
		require.NoError(t, err)

		err = task.Run(ctx)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "task parent-condition")
		assert.Empty(t, tc.destination.Created())
		assert.Contains(t, logs.String(), `"task":"parent-condition"`)
		assert.Contains(t, logs.String(), `"status":404`)
	})
}

func TestPipeline_IndependentTasks(t *testing.T) {
	tc := setup(t, asthmaTerminology())
	require.NoError(t, runTask(t, tc.pipeline, TaskParentCondition, &State{}))
	patientID, err := tc.store.Get(context.Background(), statestore.KeyPrimaryPatientID)
	require.NoError(t, err)

	state := &State{}
	require.NoError(t, runTask(t, tc.pipeline, TaskObservation, state))

	assert.Equal(t, patientID, state.PrimaryPatientID)
	assert.NotEmpty(t, state.ObservationID)
	observation := tc.destination.Resource("Observation", state.ObservationID)
	subject, _ := resource.Map(observation, "subject")
	assert.Equal(t, "Patient/"+patientID, subject["reference"])
}

func TestPipeline_TasksWithoutDestinationPatient(t *testing.T) {
	for _, name := range []string{TaskChildCondition, TaskObservation, TaskProcedure, TaskInsights} {
		t.Run(name, func(t *testing.T) {
			tc := setup(t, asthmaTerminology())

			err := runTask(t, tc.pipeline, name, nil)

			require.NoError(t, err)
			assert.Empty(t, tc.destination.Created())
		})
	}
}

func TestPipeline_ADT(t *testing.T) {
	t.Run("without parent condition", func(t *testing.T) {
		tc := setup(t, asthmaTerminology())

		err := runTask(t, tc.pipeline, TaskADT, nil)

		require.NoError(t, err)
		assert.False(t, tc.artifacts.Exists(artifacts.ADTMessageFile))
	})
	t.Run("no ICD-10 mapping", func(t *testing.T) {
		terminologyClient := asthmaTerminology()
		tc := setup(t, terminologyClient)
		require.NoError(t, runTask(t, tc.pipeline, TaskParentCondition, nil))
		terminologyClient.maps = nil

		err := runTask(t, tc.pipeline, TaskADT, nil)

		require.NoError(t, err)
		assert.False(t, tc.artifacts.Exists(artifacts.ADTMessageFile))
	})
}

func TestPipeline_Validate(t *testing.T) {
	t.Run("missing fixtures are skipped", func(t *testing.T) {
		tc := setup(t, asthmaTerminology())

		err := runTask(t, tc.pipeline, TaskValidate, nil)

		require.NoError(t, err)
		assert.Empty(t, tc.out.String())
	})
	t.Run("invalid fixture is reported", func(t *testing.T) {
		tc := setup(t, asthmaTerminology())
		require.NoError(t, runTask(t, tc.pipeline, TaskParentCondition, nil))
		tc.destination.ValidationStatus = http.StatusUnprocessableEntity
		tc.destination.ValidationOutcome = &fhir.OperationOutcome{
			Issue: []fhir.OperationOutcomeIssue{{
				Severity:    fhir.IssueSeverityError,
				Code:        fhir.IssueTypeInvalid,
				Diagnostics: to.Ptr("Profile not found"),
			}},
		}
		tc.out.Reset()

		err := runTask(t, tc.pipeline, TaskValidate, nil)

		require.NoError(t, err)
		assert.Contains(t, tc.out.String(), "parent_condition.json\tinvalid (422)\terror/invalid: Profile not found")
		assert.NotContains(t, tc.out.String(), "observation.json")
	})
	t.Run("profiles are attached", func(t *testing.T) {
		tc := setup(t, asthmaTerminology())
		state := &State{}
		require.NoError(t, runTask(t, tc.pipeline, TaskParentCondition, state))
		require.NoError(t, runTask(t, tc.pipeline, TaskObservation, state))

		require.NoError(t, runTask(t, tc.pipeline, TaskValidate, state))

		var validated []resource.Resource
		for _, request := range tc.destination.Requests() {
			if strings.HasSuffix(request.Path, "/$validate") {
				validated = append(validated, request.Body)
			}
		}
		require.Len(t, validated, 3)
		assert.Equal(t, []string{profile.VitalSigns}, profile.Of(validated[2]))
	})
	t.Run("validated profiles are logged", func(t *testing.T) {
		tc := setup(t, asthmaTerminology())
		require.NoError(t, runTask(t, tc.pipeline, TaskParentCondition, nil))
		logs := new(bytes.Buffer)
		ctx := zerolog.New(logs).WithContext(context.Background())
		task, err := tc.pipeline.Task(TaskValidate, nil)
		require.NoError(t, err)

		require.NoError(t, task.Run(ctx))

		assert.Contains(t, logs.String(), `"file":"patient.json","profile":["`+profile.PatientValidation+`"]`)
		assert.Contains(t, logs.String(), `"file":"child_condition.json","message":"Fixture not found, skipping validation"`)
	})
}
