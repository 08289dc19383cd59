// Package vertex provides a text extraction backend that asks a Gemini
// vision model for the words on a page and their bounding boxes.
package vertex

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/vertexai/genai"

	"github.com/custodia-labs/docintel/internal/adapters/driven/ocr"
	gemini "github.com/custodia-labs/docintel/internal/adapters/driven/vertex"
	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

// Ensure Backend implements the interfaces.
var (
	_ driven.TextExtractionBackend = (*Backend)(nil)
	_ driven.PromptStoreAware      = (*Backend)(nil)
)

// Backend recognises page text with a Gemini model.
type Backend struct {
	gen   gemini.Generator
	model string

	mu      sync.RWMutex
	prompts driven.PromptStore
}

type wordsResponse struct {
	Words []struct {
		Text   string `json:"text"`
		Line   int    `json:"line"`
		X      int    `json:"x"`
		Y      int    `json:"y"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	} `json:"words"`
}

// New creates a vision OCR backend. The caller owns gen and closes it.
func New(gen gemini.Generator, model string) *Backend {
	if model == "" {
		model = gemini.DefaultModel
	}
	return &Backend{gen: gen, model: model}
}

// SetPromptStore sets the store the transcription prompt is loaded from.
func (b *Backend) SetPromptStore(store driven.PromptStore) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prompts = store
}

// Name returns the backend name.
func (b *Backend) Name() string {
	return "vertex"
}

// Close releases resources.
func (b *Backend) Close() error {
	return nil
}

// Extract recognises the text of one page.
func (b *Backend) Extract(ctx context.Context, page domain.PageImage) (*domain.RecognizedText, error) {
	if !strings.HasPrefix(page.MIMEType, "image/") && page.MIMEType != "application/pdf" {
		return nil, &domain.OCRError{
			Code:    "unsupported",
			Message: fmt.Sprintf("cannot read %s", page.MIMEType),
			Page:    page.Index,
			Err:     domain.ErrUnsupportedType,
		}
	}

	resp, err := b.gen.Generate(ctx, b.model, gemini.Request{
		Parts: []genai.Part{
			genai.Blob{MIMEType: page.MIMEType, Data: page.Data},
			genai.Text(b.prompt()),
		},
		Config: gemini.Config(0, 0, true),
	})
	if err != nil {
		return nil, gemini.ProviderError("ocr", err)
	}

	text, err := gemini.ResponseText(resp)
	if err != nil {
		return nil, &domain.OCRError{Code: "output", Message: "empty model response", Page: page.Index, Err: err}
	}

	words, err := parseWords(text)
	if err != nil {
		return nil, &domain.OCRError{Code: "output", Message: "unreadable model response", Page: page.Index, Err: err}
	}
	return ocr.Build(words, b.Name()), nil
}

func (b *Backend) prompt() string {
	b.mu.RLock()
	store := b.prompts
	b.mu.RUnlock()

	if store != nil {
		if p, err := store.Load(driven.PromptVisionOCR); err == nil && p != "" {
			return p
		}
	}
	return driven.DefaultPrompts[driven.PromptVisionOCR]
}

// parseWords decodes the model's word list. Models sometimes wrap JSON in
// a markdown fence, which is stripped first.
func parseWords(text string) ([]ocr.Word, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var resp wordsResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &resp); err != nil {
		return nil, fmt.Errorf("decode words: %w", err)
	}

	words := make([]ocr.Word, 0, len(resp.Words))
	for _, w := range resp.Words {
		words = append(words, ocr.Word{
			Text: w.Text,
			Line: w.Line,
			Box:  domain.BoundingBox{X: w.X, Y: w.Y, Width: w.Width, Height: w.Height},
		})
	}
	return words, nil
}
