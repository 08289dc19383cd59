package driven

import (
	"context"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

// ExtractionBackend turns document text into a structured record.
// Strategies share domain.Schema; validation happens in the core.
// Failures are reported as *domain.ExtractionError.
type ExtractionBackend interface {
	// Extract produces an unvalidated record for the request.
	Extract(ctx context.Context, req ExtractionRequest) (*domain.StructuredRecord, error)

	// Name returns the strategy name recorded in provenance.
	Name() string
}

// ExtractionRequest is the input to an extraction backend.
type ExtractionRequest struct {
	// DocumentID is the source document.
	DocumentID string

	// Text is the document text with page markers.
	Text string

	// Schema is the target schema.
	Schema domain.Schema
}
