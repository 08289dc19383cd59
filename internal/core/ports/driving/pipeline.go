package driving

import (
	"context"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

// PipelineService drives documents through OCR, indexing and extraction.
type PipelineService interface {
	// Start runs the pipeline for an uploaded document and blocks until the
	// run ends. Returns domain.ErrRunInProgress if a run is active.
	Start(ctx context.Context, documentID string) error

	// StartAsync launches the pipeline and returns once the run is
	// registered. The channel receives the run result.
	StartAsync(ctx context.Context, documentID string) (<-chan error, error)

	// Retry re-enters the failed stages of a failed document.
	Retry(ctx context.Context, documentID string) error

	// Rerun re-enters a completed post-OCR stage, such as re-extraction.
	Rerun(ctx context.Context, documentID string, stage domain.Stage) error

	// Cancel stops launching new work for an active run.
	Cancel(documentID string) error

	// Status returns the persisted status of a document.
	Status(ctx context.Context, documentID string) (*PipelineStatus, error)
}

// PipelineStatus is a presentation view of a document's progress.
type PipelineStatus struct {
	// DocumentID identifies the document.
	DocumentID string

	// State is the pipeline state.
	State domain.PipelineState

	// Label renders the state, e.g. "failed(ocr)".
	Label string

	// Stages holds per-stage progress.
	Stages map[domain.Stage]domain.StageStatus

	// Running indicates an in-flight run in this process.
	Running bool

	// PagesDone and PagesTotal report OCR coverage.
	PagesDone  int
	PagesTotal int

	// Errors is the document error log.
	Errors []domain.StageError
}
