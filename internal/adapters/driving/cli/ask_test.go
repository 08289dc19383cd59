package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

func TestAskCmd_RequiresDocument(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	_, err := executeCommand("ask", "what is the glucose?")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "--doc is required")
}

func TestAskCmd_SingleDocument(t *testing.T) {
	cleanup, mocks := setupTestServicesWith()
	defer cleanup()

	out, err := executeCommand("ask", "--doc", "doc-1", "--sources", "what is the glucose?")

	require.NoError(t, err)
	assert.Nil(t, mocks.ask.across)
	assert.Contains(t, out, "Glucose was 7.9 mmol/L.")
	assert.Contains(t, out, "[1] pages 1-2, chunk chunk-1")
	assert.Contains(t, out, "Sources:")
	assert.Contains(t, out, "(0.91)")
}

func TestAskCmd_MultipleDocuments(t *testing.T) {
	cleanup, mocks := setupTestServicesWith()
	defer cleanup()

	out, err := executeCommand("ask", "-d", "doc-1", "-d", "doc-2", "glucose?")

	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1", "doc-2"}, mocks.ask.across)
	assert.Contains(t, out, domain.InsufficientContextText)
	assert.NotContains(t, out, "Citations:")
}

func TestAskCmd_ServiceError(t *testing.T) {
	cleanup, mocks := setupTestServicesWith()
	defer cleanup()
	mocks.ask.err = domain.ErrNotReady

	_, err := executeCommand("ask", "--doc", "doc-1", "q")

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotReady)
}

func TestPageLabel(t *testing.T) {
	assert.Equal(t, "page 3", pageLabel(domain.PageRange{First: 2, Last: 2}))
	assert.Equal(t, "pages 1-2", pageLabel(domain.PageRange{First: 0, Last: 1}))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc...", truncate("abcdef", 3))
	assert.Equal(t, "éé...", truncate("ééé", 2))
}
