package driven

import (
	"context"
	"io"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

// PageSplitter splits an uploaded multi-page file into page images.
type PageSplitter interface {
	// Split returns one page image per page, in page order.
	Split(ctx context.Context, data []byte) ([]domain.PageImage, error)
}

// RecordExporter writes a structured record to a spreadsheet.
type RecordExporter interface {
	// Export writes rec to w.
	Export(ctx context.Context, rec *domain.StructuredRecord, schema domain.Schema, w io.Writer) error
}
