// Package agent provides the two-step agent extraction strategy: an
// extraction agent reads the document into fields and table rows, then an
// observation agent annotates every row.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/custodia-labs/docintel/internal/adapters/driven/extraction"
	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
	"github.com/custodia-labs/docintel/internal/logger"
)

// Ensure Backend implements the interfaces.
var (
	_ driven.ExtractionBackend = (*Backend)(nil)
	_ driven.PromptStoreAware  = (*Backend)(nil)
)

// ObservationColumn is the row column the observation agent fills.
const ObservationColumn = "observation"

// Backend runs the agent pipeline over an LLM.
type Backend struct {
	llm driven.LLMService

	mu      sync.RWMutex
	prompts driven.PromptStore
}

type observationResponse struct {
	Observations []string `json:"observations"`
}

// New creates an agent extraction backend.
func New(llm driven.LLMService) *Backend {
	return &Backend{llm: llm}
}

// Name returns the strategy name.
func (b *Backend) Name() string {
	return string(domain.ExtractionAgent)
}

// SetPromptStore sets the store agent prompts are loaded from.
func (b *Backend) SetPromptStore(store driven.PromptStore) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prompts = store
}

func (b *Backend) prompt(name string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return extraction.LoadPrompt(b.prompts, name)
}

// Extract runs the extraction agent, then the observation agent when the
// schema has an observation column and rows were found.
func (b *Backend) Extract(ctx context.Context, req driven.ExtractionRequest) (*domain.StructuredRecord, error) {
	prompt := fmt.Sprintf(b.prompt(driven.PromptExtractionAgent), extraction.DescribeSchema(req.Schema), req.Text)
	reply, err := b.llm.Generate(ctx, prompt, driven.GenerateOptions{JSON: true})
	if err != nil {
		return nil, extraction.Failed(b.Name(), "extraction agent failed", err)
	}

	var resp extraction.Response
	if err := extraction.Decode(reply, &resp); err != nil {
		return nil, extraction.Failed(b.Name(), "extraction agent returned malformed JSON", err)
	}
	rec := extraction.Record(resp, req.Text)
	logger.Debug("Extraction agent found %d fields and %d rows in %s (%d further people)",
		len(rec.Fields), len(rec.Rows), req.DocumentID, len(rec.People))

	if _, ok := req.Schema.RowField(ObservationColumn); !ok || len(rec.Rows) == 0 {
		return rec, nil
	}
	if err := b.observe(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// observe asks the observation agent to annotate rows. A reply with the
// wrong number of entries leaves the rows unannotated.
func (b *Backend) observe(ctx context.Context, rec *domain.StructuredRecord) error {
	rows := make([]map[string]any, len(rec.Rows))
	for i, row := range rec.Rows {
		plain := make(map[string]any, len(row.Values))
		for name, fv := range row.Values {
			if name != ObservationColumn {
				plain[name] = fv.Value
			}
		}
		rows[i] = plain
	}
	payload, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal rows: %w", err)
	}

	prompt := fmt.Sprintf(b.prompt(driven.PromptObservationAgent), payload)
	reply, err := b.llm.Generate(ctx, prompt, driven.GenerateOptions{JSON: true})
	if err != nil {
		return extraction.Failed(b.Name(), "observation agent failed", err)
	}

	var resp observationResponse
	if err := extraction.Decode(reply, &resp); err != nil {
		return extraction.Failed(b.Name(), "observation agent returned malformed JSON", err)
	}
	if len(resp.Observations) != len(rec.Rows) {
		logger.Warn("Observation agent returned %d entries for %d rows; rows left unannotated",
			len(resp.Observations), len(rec.Rows))
		return nil
	}

	for i, obs := range resp.Observations {
		page := -1
		if result, ok := rec.Rows[i].Values["result"]; ok {
			page = result.Provenance.Page
		}
		rec.Rows[i].Values[ObservationColumn] = domain.FieldValue{
			Value:      obs,
			Provenance: domain.Provenance{Page: page},
		}
	}
	return nil
}
