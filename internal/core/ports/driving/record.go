package driving

import (
	"context"
	"io"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

// RecordService exposes extracted structured records.
type RecordService interface {
	// Get returns the current record of a document.
	Get(ctx context.Context, documentID string) (*domain.StructuredRecord, error)

	// Export writes the record as a spreadsheet.
	Export(ctx context.Context, documentID string, w io.Writer) error
}
