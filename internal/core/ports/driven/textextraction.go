package driven

import (
	"context"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

// TextExtractionBackend converts a page image into recognised text with
// layout tokens. Failures are reported as *domain.OCRError.
//
// Implementations include:
//   - tesseract (local engine, TSV layout output)
//   - Vertex AI Gemini (vision model returning word boxes)
type TextExtractionBackend interface {
	// Extract recognises the text of a single page.
	Extract(ctx context.Context, page domain.PageImage) (*domain.RecognizedText, error)

	// Name returns the backend name recorded on recognised text.
	Name() string

	// Close releases resources.
	Close() error
}
