// Package hl7v2 builds HL7 v2 messages from FHIR resources.
package hl7v2

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nuts-foundation/ehrbridge/lib/coding"
	"github.com/nuts-foundation/ehrbridge/lib/resource"
)

const (
	segmentSeparator   = "\r"
	fieldSeparator     = "|"
	componentSeparator = "^"
	encodingCharacters = `^~\&`
	timestampLayout    = "20060102150405"
)

// Header holds the constant MSH fields.
type Header struct {
	SendingApplication   string
	SendingFacility      string
	ReceivingApplication string
	ReceivingFacility    string
	MessageType          string
	ControlID            string
	ProcessingID         string
	Version              string
}

var DefaultHeader = Header{
	SendingApplication:   "MyApp",
	SendingFacility:      "OpenEMR",
	ReceivingApplication: "PrimaryCareEHR",
	ReceivingFacility:    "PrimaryFacility",
	MessageType:          "ADT^A01",
	ControlID:            "MSG00001",
	ProcessingID:         "P",
	Version:              "2.5",
}

// Diagnosis is the ICD-10 code (and description) a SNOMED CT condition maps to.
type Diagnosis struct {
	Code string
	Term string
}

type Builder struct {
	Header Header
	// Now returns the message timestamp (MSH-7).
	Now func() time.Time
}

func NewBuilder() *Builder {
	return &Builder{
		Header: DefaultHeader,
		Now:    time.Now,
	}
}

// BuildADT renders an ADT^A01 message with MSH, PID, PV1 and DG1 segments, separated by carriage returns.
// The PID segment is derived from the patient, DG1 from the condition's SNOMED CT term and the mapped diagnosis.
func (b *Builder) BuildADT(patient resource.Resource, condition resource.Resource, diagnosis Diagnosis) (string, error) {
	if patient == nil {
		return "", errors.New("hl7v2: patient resource is required")
	}
	conditionCoding, ok := coding.First(condition, "code")
	if !ok {
		return "", errors.New("hl7v2: condition has no code")
	}
	if diagnosis.Code == "" {
		return "", errors.New("hl7v2: diagnosis code is required")
	}
	segments := []string{
		b.msh(),
		pid(patient),
		segment("PV1", "1", "O"),
		segment("DG1", "1", "", components(diagnosis.Code, diagnosis.Term, coding.ICD10HL7Table), escape(conditionCoding.Display)),
	}
	return strings.Join(segments, segmentSeparator), nil
}

func (b *Builder) msh() string {
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	h := b.Header
	// MSH-1 is the field separator itself, so MSH-2 directly follows the segment name.
	return "MSH" + fieldSeparator + strings.Join([]string{
		encodingCharacters,
		escape(h.SendingApplication),
		escape(h.SendingFacility),
		escape(h.ReceivingApplication),
		escape(h.ReceivingFacility),
		now().Format(timestampLayout),
		"",
		h.MessageType,
		escape(h.ControlID),
		escape(h.ProcessingID),
		escape(h.Version),
	}, fieldSeparator)
}

func pid(patient resource.Resource) string {
	name, _ := resource.FirstMap(patient, "name")
	address, _ := resource.FirstMap(patient, "address")
	return segment("PID",
		"1",
		"",
		escape(patient.ID()),
		"",
		components(resource.String(name, "family"), resource.FirstString(name, "given")),
		"",
		BirthDate(resource.String(patient, "birthDate")),
		Gender(resource.String(patient, "gender")),
		"",
		"",
		components(
			resource.FirstString(address, "line"),
			resource.String(address, "city"),
			resource.String(address, "state"),
			resource.String(address, "postalCode"),
			"",
			"H",
		),
	)
}

// Gender reduces an administrative gender to its first character, upper cased (male -> M).
func Gender(gender string) string {
	if gender == "" {
		return ""
	}
	first, _ := utf8.DecodeRuneInString(gender)
	return escape(strings.ToUpper(string(first)))
}

// BirthDate renders a FHIR date (YYYY-MM-DD) as HL7 date (YYYYMMDD).
func BirthDate(date string) string {
	return escape(strings.ReplaceAll(date, "-", ""))
}

func segment(name string, fields ...string) string {
	return name + fieldSeparator + strings.Join(fields, fieldSeparator)
}

// components escapes and joins the given values as components of a single field.
func components(values ...string) string {
	escaped := make([]string, len(values))
	for i, value := range values {
		escaped[i] = escape(value)
	}
	return strings.Join(escaped, componentSeparator)
}

// escape replaces HL7 delimiters in a value by their escape sequences.
func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\E\`)
	s = strings.ReplaceAll(s, "|", `\F\`)
	s = strings.ReplaceAll(s, "^", `\S\`)
	s = strings.ReplaceAll(s, "~", `\R\`)
	s = strings.ReplaceAll(s, "&", `\T\`)
	return s
}
