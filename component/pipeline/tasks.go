package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/nuts-foundation/ehrbridge/component/hl7v2"
	"github.com/nuts-foundation/ehrbridge/component/insights"
	"github.com/nuts-foundation/ehrbridge/component/terminology"
	"github.com/nuts-foundation/ehrbridge/component/transform"
	"github.com/nuts-foundation/ehrbridge/lib/artifacts"
	"github.com/nuts-foundation/ehrbridge/lib/coding"
	"github.com/nuts-foundation/ehrbridge/lib/fhirapi"
	"github.com/nuts-foundation/ehrbridge/lib/fhirutil"
	"github.com/nuts-foundation/ehrbridge/lib/logging"
	"github.com/nuts-foundation/ehrbridge/lib/profile"
	"github.com/nuts-foundation/ehrbridge/lib/resource"
	"github.com/nuts-foundation/ehrbridge/lib/statestore"
	"github.com/rs/zerolog/log"
)

// explore lists the source patients matching the configured filters and the conditions of the migrated patient.
func (p *Pipeline) explore(ctx context.Context, _ *State) error {
	patients, err := p.Source.SearchPatients(ctx, p.Explore.Name, p.Explore.Gender, p.Explore.BornAfter)
	if isNotFound(err) {
		log.Ctx(ctx).Info().Msgf("No patients found (name=%s, gender=%s, born after %s)", p.Explore.Name, p.Explore.Gender, p.Explore.BornAfter)
	} else if err != nil {
		return err
	}
	for _, patient := range patients {
		_, _ = fmt.Fprintf(p.out(), "Patient %s\t%s\t%s\t%s\n", patient.ID(),
			resource.String(patient, "gender"), resource.String(patient, "birthDate"), displayName(patient))
	}

	conditions, err := p.Source.SearchConditions(ctx, p.SourcePatientID)
	if isNotFound(err) {
		log.Ctx(ctx).Info().Msgf("No conditions found for source patient %s", p.SourcePatientID)
		return nil
	} else if err != nil {
		return err
	}
	for _, condition := range conditions {
		code, _ := coding.First(condition, "code")
		_, _ = fmt.Fprintf(p.out(), "Condition %s\t%s\t%s\n", condition.ID(), code.Code, code.Display)
	}
	return nil
}

// parentCondition creates the patient on the destination EHR, together with a condition coded with the parent concept
// of the source patient's first condition. The patient is created even if no parent concept is found.
func (p *Pipeline) parentCondition(ctx context.Context, state *State) error {
	sourcePatient, err := p.Source.ReadPatient(ctx, p.SourcePatientID)
	if err != nil {
		return err
	}
	createdPatient, err := p.Destination.Create(ctx, "Patient", transform.ToDestinationPatient(sourcePatient))
	if err != nil {
		return err
	}
	if err := p.storeHandle(ctx, &state.PrimaryPatientID, statestore.KeyPrimaryPatientID, createdPatient.ID()); err != nil {
		return err
	}
	log.Ctx(ctx).Info().Str(logging.FieldResourceID, createdPatient.ID()).Msg("Patient created on destination EHR")

	patient, err := p.Destination.Read(ctx, "Patient", state.PrimaryPatientID)
	if err != nil {
		return err
	}
	if err := p.Artifacts.WriteResource(artifacts.PatientFile, transform.ValidationPatient(patient)); err != nil {
		return err
	}

	concept, err := p.relativeOfSourceCondition(ctx, terminology.Parent)
	if err != nil || concept == nil {
		return err
	}
	condition, err := p.createCondition(ctx, concept, state.PrimaryPatientID, transform.ParentConditionOnset)
	if err != nil {
		return err
	}
	return p.writeConditionFixture(ctx, condition, artifacts.ParentConditionFile)
}

// childCondition adds a condition coded with the child concept of the source patient's first condition
// to the patient created by parentCondition.
func (p *Pipeline) childCondition(ctx context.Context, state *State) error {
	patientID, err := p.primaryPatientID(ctx, state)
	if isNotFound(err) {
		log.Ctx(ctx).Warn().Msgf("No destination patient, run %s first", TaskParentCondition)
		return nil
	} else if err != nil {
		return err
	}
	concept, err := p.relativeOfSourceCondition(ctx, terminology.Child)
	if err != nil || concept == nil {
		return err
	}
	condition, err := p.createCondition(ctx, concept, patientID, transform.ChildConditionOnset)
	if err != nil {
		return err
	}
	return p.writeConditionFixture(ctx, condition, artifacts.ChildConditionFile)
}

// observation creates the fixed blood pressure observation for the destination patient.
func (p *Pipeline) observation(ctx context.Context, state *State) error {
	patientID, err := p.primaryPatientID(ctx, state)
	if isNotFound(err) {
		log.Ctx(ctx).Warn().Msgf("No destination patient, run %s first", TaskParentCondition)
		return nil
	} else if err != nil {
		return err
	}
	existing, err := p.Source.SearchObservations(ctx, p.SourcePatientID, coding.LOINCSystem, coding.BloodPressurePanelCode)
	if err := logSourceSearch(ctx, "Observation", existing, err); err != nil {
		return err
	}

	observation, err := transform.BuildFixedObservation(patientID)
	if err != nil {
		return err
	}
	if err := p.Artifacts.WriteResource(artifacts.ObservationFile, observation); err != nil {
		return err
	}
	created, err := p.Destination.Create(ctx, "Observation", observation)
	if err != nil {
		return err
	}
	return p.storeHandle(ctx, &state.ObservationID, statestore.KeyObservationID, created.ID())
}

// procedure creates the fixed procedure for the destination patient.
func (p *Pipeline) procedure(ctx context.Context, state *State) error {
	patientID, err := p.primaryPatientID(ctx, state)
	if isNotFound(err) {
		log.Ctx(ctx).Warn().Msgf("No destination patient, run %s first", TaskParentCondition)
		return nil
	} else if err != nil {
		return err
	}
	existing, err := p.Source.SearchProcedures(ctx, p.SourcePatientID)
	if err := logSourceSearch(ctx, "Procedure", existing, err); err != nil {
		return err
	}

	procedure, err := transform.BuildFixedProcedure(patientID)
	if err != nil {
		return err
	}
	if err := p.Artifacts.WriteResource(artifacts.ProcedureFile, procedure); err != nil {
		return err
	}
	created, err := p.Destination.Create(ctx, "Procedure", procedure)
	if err != nil {
		return err
	}
	return p.storeHandle(ctx, &state.ProcedureID, statestore.KeyProcedureID, created.ID())
}

// adt renders the ADT^A01 message for the source patient, diagnosed with the parent condition mapped to ICD-10.
func (p *Pipeline) adt(ctx context.Context, _ *State) error {
	condition, err := p.Artifacts.ReadResource(artifacts.ParentConditionFile)
	if isNotFound(err) {
		log.Ctx(ctx).Warn().Msgf("No %s, run %s first", artifacts.ParentConditionFile, TaskParentCondition)
		return nil
	} else if err != nil {
		return err
	}
	conditionCode, ok := coding.First(condition, "code")
	if !ok || conditionCode.Code == "" {
		return &fhirapi.MalformedResponseError{What: artifacts.ParentConditionFile + " Condition.code"}
	}

	entry, err := p.Terminology.MapConcept(ctx, conditionCode.Code, terminology.ICD10CMMapRefset)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str(logging.FieldCode, conditionCode.Code).Msg("ICD-10 mapping lookup failed")
		return nil
	}
	if entry == nil || entry.MapTarget == "" {
		log.Ctx(ctx).Warn().Str(logging.FieldCode, conditionCode.Code).Msg("No ICD-10 mapping found, ADT message not created")
		return nil
	}

	patient, err := p.Source.ReadPatient(ctx, p.SourcePatientID)
	if err != nil {
		return err
	}
	builder := p.Builder
	if builder == nil {
		builder = hl7v2.NewBuilder()
	}
	message, err := builder.BuildADT(patient, condition, hl7v2.Diagnosis{
		Code: entry.MapTarget,
		Term: conditionCode.Display,
	})
	if err != nil {
		return err
	}
	if err := p.Artifacts.WriteText(artifacts.ADTMessageFile, message); err != nil {
		return err
	}
	log.Ctx(ctx).Info().Str(logging.FieldFile, artifacts.ADTMessageFile).Msgf("ADT message created (%s -> %s)", conditionCode.Code, entry.MapTarget)
	return nil
}

type fixture struct {
	file         string
	resourceType string
}

var validationFixtures = []fixture{
	{file: artifacts.PatientFile, resourceType: "Patient"},
	{file: artifacts.ParentConditionFile, resourceType: "Condition"},
	{file: artifacts.ChildConditionFile, resourceType: "Condition"},
	{file: artifacts.ObservationFile, resourceType: "Observation"},
	{file: artifacts.ProcedureFile, resourceType: "Procedure"},
}

// validate checks the fixtures against the destination EHR's $validate operation.
// Invalid fixtures are reported, but don't fail the task.
func (p *Pipeline) validate(ctx context.Context, _ *State) error {
	for _, f := range validationFixtures {
		if !p.Artifacts.Exists(f.file) {
			log.Ctx(ctx).Warn().Str(logging.FieldFile, f.file).Msg("Fixture not found, skipping validation")
			continue
		}
		res, err := p.Artifacts.ReadResource(f.file)
		if err != nil {
			return err
		}
		if res.Type() != f.resourceType {
			return fmt.Errorf("%s: expected %s, got %s", f.file, f.resourceType, res.Type())
		}
		if profileURL := profile.ForResourceType(f.resourceType); profileURL != "" {
			res = transform.AttachValidationProfile(res, profileURL, nil)
		}
		outcome, err := p.Destination.Validate(ctx, f.resourceType, res)
		if err != nil {
			return err
		}
		result := "valid"
		if !outcome.Valid() {
			result = "invalid"
		}
		diagnostics := fhirapi.Diagnostics(outcome.Outcome)
		logEvent := log.Ctx(ctx).Info()
		if !outcome.Valid() {
			logEvent = log.Ctx(ctx).Warn()
		}
		logEvent.Str(logging.FieldFile, f.file).
			Strs(logging.FieldProfile, profile.Of(res)).
			Int(logging.FieldStatus, outcome.StatusCode).
			Msgf("Fixture is %s: %s", result, diagnostics)
		_, _ = fmt.Fprintf(p.out(), "%s\t%s (%d)\t%s\n", f.file, result, outcome.StatusCode, diagnostics)
	}
	return nil
}

// insights writes the report comparing the resource counts of the source and destination patient.
func (p *Pipeline) insights(ctx context.Context, state *State) error {
	patientID, err := p.primaryPatientID(ctx, state)
	if isNotFound(err) {
		log.Ctx(ctx).Warn().Msgf("No destination patient, run %s first", TaskParentCondition)
		return nil
	} else if err != nil {
		return err
	}
	report, err := insights.Collect(ctx, p.Source, p.SourcePatientID, p.Destination, patientID)
	if err != nil {
		return err
	}
	if err := report.SaveXLSX(p.Artifacts.File(artifacts.InsightsReportFile)); err != nil {
		return err
	}
	log.Ctx(ctx).Info().Str(logging.FieldFile, artifacts.InsightsReportFile).Msg("Insights report created")
	return nil
}

// relativeOfSourceCondition returns the parent or child concept of the code of the source patient's first condition.
// It returns nil if there is none, in which case the dependent steps are skipped.
func (p *Pipeline) relativeOfSourceCondition(ctx context.Context, direction terminology.Direction) (*terminology.Concept, error) {
	conditions, err := p.Source.SearchConditions(ctx, p.SourcePatientID)
	if isNotFound(err) {
		log.Ctx(ctx).Warn().Msgf("No conditions found for source patient %s", p.SourcePatientID)
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	if len(conditions) == 0 {
		log.Ctx(ctx).Warn().Msgf("No conditions found for source patient %s", p.SourcePatientID)
		return nil, nil
	}
	sourceCode, ok := coding.First(conditions[0], "code")
	if !ok || sourceCode.Code == "" {
		return nil, &fhirapi.MalformedResponseError{What: fhirutil.Reference("Condition", conditions[0].ID()) + " code"}
	}

	concept, err := p.Terminology.FindRelative(ctx, sourceCode.Code, direction)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str(logging.FieldCode, sourceCode.Code).Msgf("Lookup of %s concept failed", direction)
		return nil, nil
	}
	if concept == nil {
		log.Ctx(ctx).Warn().Str(logging.FieldCode, sourceCode.Code).Msgf("No %s concept found", direction)
		return nil, nil
	}
	log.Ctx(ctx).Info().Str(logging.FieldCode, sourceCode.Code).Msgf("Found %s concept: %s (%s)", direction, concept.ConceptID, concept.Display())
	return concept, nil
}

func (p *Pipeline) createCondition(ctx context.Context, concept *terminology.Concept, patientID string, onsetDate string) (resource.Resource, error) {
	condition, err := transform.BuildConditionFromConcept(concept.Coding(), patientID, onsetDate)
	if err != nil {
		return nil, err
	}
	created, err := p.Destination.Create(ctx, "Condition", condition)
	if err != nil {
		return nil, err
	}
	return p.Destination.Read(ctx, "Condition", created.ID())
}

func (p *Pipeline) writeConditionFixture(ctx context.Context, condition resource.Resource, file string) error {
	category := transform.EncounterDiagnosisCategory
	profiled := transform.AttachValidationProfile(condition, profile.ConditionValidation, &category)
	if err := p.Artifacts.WriteResource(file, profiled); err != nil {
		return err
	}
	log.Ctx(ctx).Info().Str(logging.FieldFile, file).Msg("Validation fixture written")
	return nil
}

func logSourceSearch(ctx context.Context, resourceType string, results []resource.Resource, err error) error {
	if isNotFound(err) {
		log.Ctx(ctx).Info().Str(logging.FieldResourceType, resourceType).Msg("No matching resources on source EHR")
		return nil
	} else if err != nil {
		return err
	}
	for _, res := range results {
		log.Ctx(ctx).Info().Str(logging.FieldResourceType, resourceType).Str(logging.FieldResourceID, res.ID()).Msg("Found resource on source EHR")
	}
	return nil
}

func displayName(patient resource.Resource) string {
	name, ok := resource.FirstMap(patient, "name")
	if !ok {
		return ""
	}
	if text := resource.String(name, "text"); text != "" {
		return text
	}
	var parts []string
	given, _ := resource.Slice(name, "given")
	for _, g := range given {
		if s, ok := g.(string); ok {
			parts = append(parts, s)
		}
	}
	if family := resource.String(name, "family"); family != "" {
		parts = append(parts, family)
	}
	return strings.Join(parts, " ")
}
