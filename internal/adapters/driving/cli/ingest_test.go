package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestCmd_RequiresFiles(t *testing.T) {
	_, err := executeCommand("ingest")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg(s)")
}

func TestIngestCmd_UploadsFiles(t *testing.T) {
	cleanup, mocks := setupTestServicesWith()
	defer cleanup()

	dir := t.TempDir()
	first := filepath.Join(dir, "page1.png")
	second := filepath.Join(dir, "page2.png")
	require.NoError(t, os.WriteFile(first, []byte("one"), 0o600))
	require.NoError(t, os.WriteFile(second, []byte("two"), 0o600))

	out, err := executeCommand("ingest", "--title", "Lab report", first, second)

	require.NoError(t, err)
	require.NotNil(t, mocks.document.ingested)
	assert.Equal(t, "Lab report", mocks.document.ingested.Title)
	require.Len(t, mocks.document.ingested.Files, 2)
	assert.Equal(t, "page1.png", mocks.document.ingested.Files[0].Name)
	assert.Equal(t, []byte("two"), mocks.document.ingested.Files[1].Data)
	assert.Contains(t, out, "Uploaded doc-1 (2 pages)")
	assert.Contains(t, out, "docintel pipeline start doc-1")
	assert.Empty(t, mocks.pipeline.history())
}

func TestIngestCmd_StartRunsPipeline(t *testing.T) {
	cleanup, mocks := setupTestServicesWith()
	defer cleanup()

	path := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o600))

	out, err := executeCommand("ingest", "--start", path)

	require.NoError(t, err)
	assert.Equal(t, []string{"start doc-1"}, mocks.pipeline.history())
	assert.Contains(t, out, "State:   ready")
}

func TestIngestCmd_MissingFile(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	_, err := executeCommand("ingest", filepath.Join(t.TempDir(), "missing.pdf"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read")
}

func TestIngestCmd_ServiceError(t *testing.T) {
	cleanup, mocks := setupTestServicesWith()
	defer cleanup()
	mocks.document.err = errMock

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	_, err := executeCommand("ingest", path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingest failed")
}
