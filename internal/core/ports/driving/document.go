package driving

import (
	"context"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

// DocumentService manages uploaded documents.
type DocumentService interface {
	// Ingest creates a document in the Uploaded state from files.
	Ingest(ctx context.Context, req IngestRequest) (*domain.Document, error)

	// Get retrieves a document by ID.
	Get(ctx context.Context, documentID string) (*domain.Document, error)

	// List returns all documents.
	List(ctx context.Context) ([]domain.Document, error)

	// Text returns the recognised text of a document in page order.
	Text(ctx context.Context, documentID string) (string, error)

	// Delete removes a document with its chunks, index and record.
	Delete(ctx context.Context, documentID string) error
}

// IngestRequest describes an upload.
type IngestRequest struct {
	// Title names the document. Defaults to the first file name.
	Title string

	// Files are PDFs or page images, in page order.
	Files []IngestFile
}

// IngestFile is one uploaded file.
type IngestFile struct {
	Name     string
	MIMEType string
	Data     []byte
}
