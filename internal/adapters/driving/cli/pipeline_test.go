package cli

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driving"
)

func TestPipelineCmd_HasSubcommands(t *testing.T) {
	commands := pipelineCmd.Commands()
	commandNames := make([]string, 0, len(commands))
	for _, cmd := range commands {
		commandNames = append(commandNames, cmd.Name())
	}

	assert.ElementsMatch(t, []string{"start", "retry", "rerun", "status", "list"}, commandNames)
}

func TestPipelineStartCmd_RunsAndPrintsStatus(t *testing.T) {
	cleanup, mocks := setupTestServicesWith()
	defer cleanup()

	out, err := executeCommand("pipeline", "start", "doc-1")

	require.NoError(t, err)
	assert.Equal(t, []string{"start doc-1"}, mocks.pipeline.history())
	assert.Contains(t, out, "Starting pipeline for doc-1")
	assert.Contains(t, out, "State:   ready")
	assert.Contains(t, out, "extraction done")
}

func TestPipelineStartCmd_ReportsFailure(t *testing.T) {
	cleanup, mocks := setupTestServicesWith()
	defer cleanup()
	mocks.pipeline.runErr = errMock
	mocks.pipeline.status = &driving.PipelineStatus{
		DocumentID: "doc-1",
		State:      domain.StateFailed,
		Label:      "failed(ocr)",
		Stages:     map[domain.Stage]domain.StageStatus{domain.StageOCR: {State: domain.StageFailed}},
		PagesDone:  1,
		PagesTotal: 2,
		Errors:     []domain.StageError{{Stage: domain.StageOCR, Message: "page 2: engine crashed"}},
	}

	out, err := executeCommand("pipeline", "start", "doc-1")

	require.Error(t, err)
	assert.ErrorIs(t, err, errMock)
	assert.Contains(t, out, "failed(ocr)")
	assert.Contains(t, out, "ocr: page 2: engine crashed")
	assert.Contains(t, out, "indexing   pending")
}

func TestPipelineRetryCmd_Executes(t *testing.T) {
	cleanup, mocks := setupTestServicesWith()
	defer cleanup()

	_, err := executeCommand("pipeline", "retry", "doc-1")

	require.NoError(t, err)
	assert.Equal(t, []string{"retry doc-1"}, mocks.pipeline.history())
}

func TestPipelineRerunCmd(t *testing.T) {
	t.Run("reruns extraction", func(t *testing.T) {
		cleanup, mocks := setupTestServicesWith()
		defer cleanup()

		_, err := executeCommand("pipeline", "rerun", "doc-1", "extraction")

		require.NoError(t, err)
		assert.Equal(t, []string{"rerun doc-1 extraction"}, mocks.pipeline.history())
	})

	t.Run("rejects ocr", func(t *testing.T) {
		cleanup, mocks := setupTestServicesWith()
		defer cleanup()

		_, err := executeCommand("pipeline", "rerun", "doc-1", "ocr")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid stage")
		assert.Empty(t, mocks.pipeline.history())
	})
}

func TestPipelineStartCmd_CancelsOnInterrupt(t *testing.T) {
	cleanup, mocks := setupTestServicesWith()
	defer cleanup()
	mocks.pipeline.block = make(chan struct{})
	mocks.pipeline.runErr = domain.ErrCancelled

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	out, err := executeCommandContext(ctx, "", "pipeline", "start", "doc-1")

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCancelled)
	assert.Contains(t, out, "Cancelling")
	assert.Equal(t, []string{"doc-1"}, mocks.pipeline.cancelled)
}

func TestPipelineStatusCmd_Executes(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	out, err := executeCommand("pipeline", "status", "doc-1")

	require.NoError(t, err)
	assert.Contains(t, out, "Document: doc-1")
	assert.Contains(t, out, "Pages:   2/2 recognised")
}

func TestPipelineListCmd_Executes(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	out, err := executeCommand("pipeline", "list")

	require.NoError(t, err)
	assert.Contains(t, out, "STATE")
	assert.Contains(t, out, "doc-1")
	assert.Contains(t, out, "1/2")
}

func TestPipelineCmds_NoService(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	pipelineService = nil

	for _, sub := range []string{"start", "retry", "status"} {
		_, err := executeCommand("pipeline", sub, "doc-1")
		require.Error(t, err, sub)
		assert.Contains(t, err.Error(), "pipeline service not configured")
	}
}
