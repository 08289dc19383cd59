// Package chunker provides a fixed-size token window chunker.
package chunker

import (
	"fmt"
	"unicode"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

// DefaultWindowSize is the default number of tokens per chunk.
const DefaultWindowSize = 100

// DefaultOverlap is the default number of tokens shared by consecutive chunks.
const DefaultOverlap = 20

// Ensure Processor implements the interface.
var _ driven.TextChunker = (*Processor)(nil)

// Processor splits recognised document text into overlapping token windows.
type Processor struct {
	windowSize int
	overlap    int
}

// Option configures the chunker processor.
type Option func(*Processor)

// WithWindowSize sets the window size in tokens.
func WithWindowSize(size int) Option {
	return func(p *Processor) {
		if size > 0 {
			p.windowSize = size
		}
	}
}

// WithOverlap sets the overlap between windows in tokens.
func WithOverlap(overlap int) Option {
	return func(p *Processor) {
		if overlap >= 0 {
			p.overlap = overlap
		}
	}
}

// New creates a chunker. The overlap must be smaller than the window.
func New(opts ...Option) (*Processor, error) {
	p := &Processor{
		windowSize: DefaultWindowSize,
		overlap:    DefaultOverlap,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.overlap >= p.windowSize {
		return nil, fmt.Errorf("%w: overlap %d must be smaller than window %d",
			domain.ErrInvalidInput, p.overlap, p.windowSize)
	}

	return p, nil
}

// Name returns the processor name.
func (p *Processor) Name() string {
	return "chunker"
}

// WindowSize returns the configured window size.
func (p *Processor) WindowSize() int { return p.windowSize }

// Overlap returns the configured overlap.
func (p *Processor) Overlap() int { return p.overlap }

// Chunk splits the document's page-ordered text into chunks.
func (p *Processor) Chunk(doc *domain.Document) ([]domain.Chunk, error) {
	text, spans := domain.JoinPages(doc.Pages)
	tokens := tokenize(text)
	if len(tokens) == 0 {
		// Empty content produces no chunks
		return nil, nil
	}

	step := p.windowSize - p.overlap
	chunks := make([]domain.Chunk, 0, len(tokens)/step+1)

	for start, position := 0, 0; start < len(tokens); start, position = start+step, position+1 {
		end := start + p.windowSize
		if end > len(tokens) {
			end = len(tokens)
		}

		from, to := tokens[start].start, tokens[end-1].end
		content := text[from:to]
		hash := domain.ContentHash(content)

		chunks = append(chunks, domain.Chunk{
			ID:          fmt.Sprintf("%s:%04d:%s", doc.ID, position, hash[:16]),
			DocumentID:  doc.ID,
			Position:    position,
			Pages:       domain.PageRange{First: domain.PageAt(spans, from), Last: domain.PageAt(spans, to-1)},
			Start:       from,
			End:         to,
			Content:     content,
			ContentHash: hash,
		})

		if end == len(tokens) {
			break
		}
	}

	return chunks, nil
}

type span struct {
	start, end int
}

// tokenize returns the byte spans of whitespace separated tokens.
func tokenize(text string) []span {
	var tokens []span
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				tokens = append(tokens, span{start: start, end: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		tokens = append(tokens, span{start: start, end: len(text)})
	}
	return tokens
}
