package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordShowCmd_Executes(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	out, err := executeCommand("record", "show", "doc-1")

	require.NoError(t, err)
	assert.Contains(t, out, "Run:     run-1 (agent)")
	assert.Contains(t, out, "Doe [high]")
	assert.Contains(t, out, "(invalid: not a date)")
	assert.Contains(t, out, "[1] result=7.9, test=Glucose")
	assert.Contains(t, out, "Other people (1):")
	assert.Contains(t, out, "[1] patient_first_name=John, patient_last_name=Doe")
}

func TestRecordShowCmd_JSON(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	out, err := executeCommand("record", "show", "--json", "doc-1")

	require.NoError(t, err)
	assert.Contains(t, out, "\"RunID\": \"run-1\"")
}

func TestRecordExportCmd_WritesFile(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	path := filepath.Join(t.TempDir(), "out.xlsx")
	out, err := executeCommand("record", "export", "--out", path, "doc-1")

	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("xlsx"), data)
	assert.Contains(t, out, "Exported record of doc-1")
}

func TestRecordExportCmd_RemovesFileOnError(t *testing.T) {
	cleanup, mocks := setupTestServicesWith()
	defer cleanup()
	mocks.record.err = errMock

	path := filepath.Join(t.TempDir(), "out.xlsx")
	_, err := executeCommand("record", "export", "-o", path, "doc-1")

	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRecordCmds_NoService(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	recordService = nil

	_, err := executeCommand("record", "show", "doc-1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "record service not configured")
}
