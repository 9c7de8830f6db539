// Package artifacts reads and writes the local files that are exchanged between tasks and inspected by operators:
// JSON resource fixtures (e.g. patient.json) and plain text artifacts (e.g. adt_message.txt).
package artifacts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/nuts-foundation/ehrbridge/lib/fhirapi"
	"github.com/nuts-foundation/ehrbridge/lib/resource"
)

const (
	PatientFile         = "patient.json"
	ParentConditionFile = "parent_condition.json"
	ChildConditionFile  = "child_condition.json"
	ObservationFile     = "observation.json"
	ProcedureFile       = "procedure.json"
	ADTMessageFile      = "adt_message.txt"
	InsightsReportFile  = "resource_etl_counts.xlsx"
)

// Dir is a directory holding artifacts.
type Dir struct {
	Path string
}

func New(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", path, err)
	}
	return &Dir{Path: path}, nil
}

// File returns the full path of the named artifact.
func (d Dir) File(name string) string {
	return filepath.Join(d.Path, name)
}

// WriteResource writes the resource as indented JSON.
func (d Dir) WriteResource(name string, res resource.Resource) error {
	data, err := res.JSON()
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	return d.WriteText(name, string(data))
}

// ReadResource reads a JSON artifact. It returns an error wrapping fhirapi.ErrNotFound if the file doesn't exist.
func (d Dir) ReadResource(name string) (resource.Resource, error) {
	data, err := d.read(name)
	if err != nil {
		return nil, err
	}
	res, err := resource.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return res, nil
}

func (d Dir) WriteText(name string, text string) error {
	if err := os.WriteFile(d.File(name), []byte(text), 0644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Exists reports whether the artifact has been written.
func (d Dir) Exists(name string) bool {
	_, err := os.Stat(d.File(name))
	return err == nil
}

func (d Dir) read(name string) ([]byte, error) {
	data, err := os.ReadFile(d.File(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, fhirapi.ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}
