package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driving"
)

// Ensure AskService implements the interface.
var _ driving.AskService = (*AskService)(nil)

// AskService retrieves relevant chunks and synthesises a cited answer.
type AskService struct {
	retriever   *Retriever
	synthesizer *AnswerSynthesizer
	topK        int
}

// NewAskService creates an ask service.
func NewAskService(retriever *Retriever, synthesizer *AnswerSynthesizer, topK int) *AskService {
	if topK <= 0 {
		topK = domain.DefaultPipelineSettings().Retrieval.TopK
	}
	return &AskService{retriever: retriever, synthesizer: synthesizer, topK: topK}
}

// Ask answers a question about one document.
func (s *AskService) Ask(ctx context.Context, documentID, question string, opts driving.AskOptions) (*driving.AskResult, error) {
	return s.AskAcross(ctx, []string{documentID}, question, opts)
}

// AskAcross answers a question over several documents.
func (s *AskService) AskAcross(
	ctx context.Context, documentIDs []string, question string, opts driving.AskOptions,
) (*driving.AskResult, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question is required", domain.ErrInvalidInput)
	}
	k := opts.TopK
	if k <= 0 {
		k = s.topK
	}

	sources, err := s.retriever.RetrieveAcross(ctx, documentIDs, question, k)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	answer, err := s.synthesizer.Answer(ctx, question, sources)
	if err != nil {
		return nil, fmt.Errorf("synthesize answer: %w", err)
	}

	return &driving.AskResult{Answer: answer, Sources: sources}, nil
}
