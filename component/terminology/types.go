package terminology

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/nuts-foundation/ehrbridge/lib/coding"
)

// Direction selects which hierarchical relative of a concept is looked up.
type Direction int

const (
	Parent Direction = iota
	Child
)

func (d Direction) String() string {
	switch d {
	case Parent:
		return "parent"
	case Child:
		return "child"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// constraint returns the ECL constraint Hermes evaluates for the direction.
func (d Direction) constraint(code string) (string, error) {
	switch d {
	case Parent:
		return ">!" + code, nil
	case Child:
		return "<!" + code, nil
	default:
		return "", fmt.Errorf("unsupported direction: %s", d)
	}
}

// SCTID is a SNOMED CT identifier. Hermes renders identifiers as JSON numbers, but strings are accepted as well.
type SCTID string

func (s *SCTID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = SCTID(str)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return fmt.Errorf("invalid SNOMED CT identifier %s: %w", string(data), err)
	}
	*s = SCTID(number.String())
	return nil
}

// Concept is a search result of the terminology server.
type Concept struct {
	ConceptID     SCTID  `json:"conceptId"`
	Term          string `json:"term"`
	PreferredTerm string `json:"preferredTerm"`
}

// Display returns the preferred term, or the matched term if the server didn't return one.
func (c Concept) Display() string {
	if c.PreferredTerm != "" {
		return c.PreferredTerm
	}
	return c.Term
}

// Coding returns the concept as a SNOMED CT coding.
func (c Concept) Coding() coding.Coding {
	return coding.Coding{
		System:  coding.SNOMEDSystem,
		Code:    string(c.ConceptID),
		Display: c.Display(),
	}
}

// MapEntry is an item of a map reference set, mapping a SNOMED CT concept to a code in another code system.
type MapEntry struct {
	ReferencedComponentID SCTID  `json:"referencedComponentId"`
	MapTarget             string `json:"mapTarget"`
	MapRule               string `json:"mapRule,omitempty"`
	MapAdvice             string `json:"mapAdvice,omitempty"`
}

// Policy selects the canonical result out of a result set. It returns false if no result qualifies.
type Policy[T any] func(results []T) (T, bool)

// FirstMatch selects the first result, as the terminology server ranked it.
func FirstMatch[T any](results []T) (T, bool) {
	var zero T
	if len(results) == 0 {
		return zero, false
	}
	return results[0], true
}
