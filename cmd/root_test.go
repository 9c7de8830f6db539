package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nuts-foundation/ehrbridge/component/pipeline"
	"github.com/nuts-foundation/ehrbridge/lib/artifacts"
	"github.com/nuts-foundation/ehrbridge/lib/fhirtest"
	"github.com/nuts-foundation/ehrbridge/lib/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand()
	for _, name := range append(pipeline.TaskNames, "run") {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestExecute_Validate(t *testing.T) {
	chdir(t, t.TempDir())
	dataDir := t.TempDir()
	destinationServer := fhirtest.NewServer(t)
	t.Setenv("EHRB_DESTINATION_FHIRBASEURL", destinationServer.URL)
	t.Setenv("EHRB_LOG_LEVEL", "error")
	dir, err := artifacts.New(dataDir)
	require.NoError(t, err)
	require.NoError(t, dir.WriteResource(artifacts.ProcedureFile, resource.Resource{
		"resourceType": "Procedure",
		"status":       "completed",
	}))

	out, err := execute(t, "validate", "--data-dir", dataDir)

	require.NoError(t, err)
	assert.Contains(t, out, "procedure.json\tvalid (200)")
	assert.NotContains(t, out, "patient.json")
	require.Len(t, destinationServer.Requests(), 1)
	assert.Equal(t, "/Procedure/$validate", destinationServer.Requests()[0].Path)
}

func TestExecute_Errors(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("EHRB_LOG_LEVEL", "error")

	t.Run("missing config file", func(t *testing.T) {
		_, err := execute(t, "validate", "--config", filepath.Join(t.TempDir(), "missing.yml"))
		assert.ErrorContains(t, err, "failed to load config file")
	})
	t.Run("unsupported state backend", func(t *testing.T) {
		t.Setenv("EHRB_STATE_BACKEND", "etcd")
		_, err := execute(t, "validate", "--data-dir", t.TempDir())
		assert.ErrorContains(t, err, "unsupported state backend: etcd")
	})
	t.Run("unexpected argument", func(t *testing.T) {
		_, err := execute(t, "adt", "extra")
		assert.Error(t, err)
	})
	t.Run("data directory is a file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
		_, err := execute(t, "validate", "--data-dir", path)
		assert.ErrorContains(t, err, "failed to open data directory")
	})
}

func TestExecute_Version(t *testing.T) {
	GitVersion = "v1.2.3"
	t.Cleanup(func() {
		GitVersion = ""
	})

	out, err := execute(t, "version")

	require.NoError(t, err)
	assert.Contains(t, out, "Version: v1.2.3\n")
}
