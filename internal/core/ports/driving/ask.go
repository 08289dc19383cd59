package driving

import (
	"context"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

// AskService answers questions about documents with grounded citations.
type AskService interface {
	// Ask answers a question about one document.
	Ask(ctx context.Context, documentID, question string, opts AskOptions) (*AskResult, error)

	// AskAcross answers a question over several documents.
	AskAcross(ctx context.Context, documentIDs []string, question string, opts AskOptions) (*AskResult, error)
}

// AskOptions configures a question.
type AskOptions struct {
	// TopK overrides the configured number of retrieved chunks.
	TopK int
}

// AskResult is the answer together with the chunks it was grounded on.
type AskResult struct {
	Answer  *domain.Answer
	Sources []domain.ScoredChunk
}
