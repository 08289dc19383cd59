// Package singlepass provides the extraction strategy that asks for the
// whole record, row observations included, in one prompt.
package singlepass

import (
	"context"
	"fmt"
	"sync"

	"github.com/custodia-labs/docintel/internal/adapters/driven/extraction"
	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

// Ensure Backend implements the interfaces.
var (
	_ driven.ExtractionBackend = (*Backend)(nil)
	_ driven.PromptStoreAware  = (*Backend)(nil)
)

// Backend runs single-prompt extraction over an LLM.
type Backend struct {
	llm driven.LLMService

	mu      sync.RWMutex
	prompts driven.PromptStore
}

// New creates a single-pass extraction backend.
func New(llm driven.LLMService) *Backend {
	return &Backend{llm: llm}
}

// Name returns the strategy name.
func (b *Backend) Name() string {
	return string(domain.ExtractionSinglePass)
}

// SetPromptStore sets the store the prompt is loaded from.
func (b *Backend) SetPromptStore(store driven.PromptStore) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prompts = store
}

// Extract produces an unvalidated record from one completion.
func (b *Backend) Extract(ctx context.Context, req driven.ExtractionRequest) (*domain.StructuredRecord, error) {
	b.mu.RLock()
	template := extraction.LoadPrompt(b.prompts, driven.PromptSinglePass)
	b.mu.RUnlock()

	prompt := fmt.Sprintf(template, extraction.DescribeSchema(req.Schema), req.Text)
	reply, err := b.llm.Generate(ctx, prompt, driven.GenerateOptions{JSON: true})
	if err != nil {
		return nil, extraction.Failed(b.Name(), "generation failed", err)
	}

	var resp extraction.Response
	if err := extraction.Decode(reply, &resp); err != nil {
		return nil, extraction.Failed(b.Name(), "model returned malformed JSON", err)
	}
	return extraction.Record(resp, req.Text), nil
}
