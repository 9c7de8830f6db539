// Package pipeline implements the tasks that migrate a patient record from the source EHR to the destination EHR.
// Tasks can be invoked one by one (e.g. from separate processes), handing over server-assigned ids through the state store,
// or chained in-process by Run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/nuts-foundation/ehrbridge/component"
	"github.com/nuts-foundation/ehrbridge/component/destination"
	"github.com/nuts-foundation/ehrbridge/component/hl7v2"
	"github.com/nuts-foundation/ehrbridge/component/terminology"
	"github.com/nuts-foundation/ehrbridge/lib/artifacts"
	"github.com/nuts-foundation/ehrbridge/lib/fhirapi"
	"github.com/nuts-foundation/ehrbridge/lib/logging"
	"github.com/nuts-foundation/ehrbridge/lib/resource"
	"github.com/nuts-foundation/ehrbridge/lib/statestore"
	"github.com/rs/zerolog/log"
)

const (
	TaskExplore         = "explore"
	TaskParentCondition = "parent-condition"
	TaskChildCondition  = "child-condition"
	TaskObservation     = "observation"
	TaskProcedure       = "procedure"
	TaskADT             = "adt"
	TaskValidate        = "validate"
	TaskInsights        = "insights"
)

// TaskNames lists the tasks in the order Run executes them.
var TaskNames = []string{
	TaskExplore,
	TaskParentCondition,
	TaskChildCondition,
	TaskObservation,
	TaskProcedure,
	TaskADT,
	TaskValidate,
	TaskInsights,
}

// SourceRegistry is the read-only source EHR.
type SourceRegistry interface {
	ReadPatient(ctx context.Context, id string) (resource.Resource, error)
	SearchPatients(ctx context.Context, name string, gender string, bornAfter string) ([]resource.Resource, error)
	SearchConditions(ctx context.Context, patientID string) ([]resource.Resource, error)
	SearchObservations(ctx context.Context, patientID string, system string, code string) ([]resource.Resource, error)
	SearchProcedures(ctx context.Context, patientID string) ([]resource.Resource, error)
	Count(ctx context.Context, resourceType string, filters url.Values) (int, error)
}

// Terminology looks up related SNOMED CT concepts and map reference set entries.
type Terminology interface {
	FindRelative(ctx context.Context, code string, direction terminology.Direction) (*terminology.Concept, error)
	MapConcept(ctx context.Context, code string, mapID string) (*terminology.MapEntry, error)
}

// DestinationRegistry is the EHR the resources are migrated to.
type DestinationRegistry interface {
	Create(ctx context.Context, resourceType string, res resource.Resource) (resource.Resource, error)
	Read(ctx context.Context, resourceType string, id string) (resource.Resource, error)
	Validate(ctx context.Context, resourceType string, res resource.Resource) (*destination.ValidationOutcome, error)
	Count(ctx context.Context, resourceType string, filters url.Values) (int, error)
}

// ExploreConfig holds the filters of the patient search the explore task performs.
type ExploreConfig struct {
	Name      string `koanf:"name"`
	Gender    string `koanf:"gender"`
	BornAfter string `koanf:"bornafter"`
}

func DefaultExploreConfig() ExploreConfig {
	return ExploreConfig{
		Name:      "James",
		Gender:    "male",
		BornAfter: "2000-01-01",
	}
}

// State holds the handles passed between tasks of a single run.
// Empty fields are loaded from the state store the first time a task needs them.
type State struct {
	PrimaryPatientID string
	ObservationID    string
	ProcedureID      string
}

type Pipeline struct {
	Source      SourceRegistry
	Terminology Terminology
	Destination DestinationRegistry
	Store       statestore.Store
	Artifacts   *artifacts.Dir
	Builder     *hl7v2.Builder
	// SourcePatientID is the id of the patient on the source EHR whose record is migrated.
	SourcePatientID string
	Explore         ExploreConfig
	// Out receives the human-readable task output (search results, validation outcomes).
	Out io.Writer
}

type task struct {
	name  string
	state *State
	fn    func(ctx context.Context, state *State) error
}

func (t task) Name() string {
	return t.name
}

func (t task) Run(ctx context.Context) error {
	log.Ctx(ctx).Info().Msgf("Running task: %s", t.name)
	if err := t.fn(ctx, t.state); err != nil {
		event := log.Ctx(ctx).Error().Err(err).Str(logging.FieldTask, t.name)
		if status := fhirapi.StatusCode(err); status != 0 {
			event = event.Int(logging.FieldStatus, status)
		}
		event.Msg("Task failed")
		return fmt.Errorf("task %s: %w", t.name, err)
	}
	return nil
}

// Task returns the named task. Tasks sharing the same state hand over ids in-process.
func (p *Pipeline) Task(name string, state *State) (component.Task, error) {
	if state == nil {
		state = &State{}
	}
	var fn func(ctx context.Context, state *State) error
	switch name {
	case TaskExplore:
		fn = p.explore
	case TaskParentCondition:
		fn = p.parentCondition
	case TaskChildCondition:
		fn = p.childCondition
	case TaskObservation:
		fn = p.observation
	case TaskProcedure:
		fn = p.procedure
	case TaskADT:
		fn = p.adt
	case TaskValidate:
		fn = p.validate
	case TaskInsights:
		fn = p.insights
	default:
		return nil, fmt.Errorf("unknown task: %s", name)
	}
	return task{name: name, state: state, fn: fn}, nil
}

// Tasks returns all tasks, in execution order, sharing the given state.
func (p *Pipeline) Tasks(state *State) []component.Task {
	var result []component.Task
	for _, name := range TaskNames {
		t, _ := p.Task(name, state)
		result = append(result, t)
	}
	return result
}

// Run executes all tasks in order, stopping at the first task that fails.
// Resources created by earlier tasks are not removed when a later task fails.
func (p *Pipeline) Run(ctx context.Context) error {
	state := &State{}
	for _, t := range p.Tasks(state) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.Run(ctx); err != nil {
			return err
		}
	}
	log.Ctx(ctx).Info().Msgf("All tasks completed (destination patient: %s)", state.PrimaryPatientID)
	return nil
}

func (p *Pipeline) out() io.Writer {
	if p.Out == nil {
		return os.Stdout
	}
	return p.Out
}

// primaryPatientID returns the id of the patient created on the destination EHR.
// If no task of this run created it, it is read from the state store.
func (p *Pipeline) primaryPatientID(ctx context.Context, state *State) (string, error) {
	return p.handle(ctx, &state.PrimaryPatientID, statestore.KeyPrimaryPatientID)
}

func (p *Pipeline) handle(ctx context.Context, field *string, key string) (string, error) {
	if *field != "" {
		return *field, nil
	}
	value, err := p.Store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	*field = value
	return value, nil
}

func (p *Pipeline) storeHandle(ctx context.Context, field *string, key string, value string) error {
	*field = value
	if err := p.Store.Put(ctx, key, value); err != nil {
		return fmt.Errorf("persist %s: %w", key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, fhirapi.ErrNotFound)
}
