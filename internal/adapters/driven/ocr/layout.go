// Package ocr holds helpers shared by the text extraction backends.
package ocr

import (
	"strings"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

// Word is a recognised word in reading order.
type Word struct {
	Text string

	// Line is an ordinal; a change of line starts a new text line.
	Line int

	Box        domain.BoundingBox
	Confidence float64
}

// Build lays words out as text, one space between words of a line and a
// newline between lines, and records each word's token offset.
func Build(words []Word, backend string) *domain.RecognizedText {
	var b strings.Builder
	tokens := make([]domain.Token, 0, len(words))
	line := 0

	for _, w := range words {
		text := strings.TrimSpace(w.Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			if w.Line != line {
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
		}
		line = w.Line
		tokens = append(tokens, domain.Token{
			Text:       text,
			Offset:     b.Len(),
			Box:        w.Box,
			Confidence: w.Confidence,
		})
		b.WriteString(text)
	}

	return &domain.RecognizedText{Text: b.String(), Tokens: tokens, Backend: backend}
}
