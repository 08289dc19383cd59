package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

// DocumentStore persists documents, pages and pipeline status.
// Backed by SQLite so retries survive process restarts.
type DocumentStore interface {
	// CreateDocument stores a new document with its pages.
	CreateDocument(ctx context.Context, doc *domain.Document) error

	// GetDocument retrieves a document with pages, status and error log.
	GetDocument(ctx context.Context, id string) (*domain.Document, error)

	// ListDocuments returns all documents without page data.
	ListDocuments(ctx context.Context) ([]domain.Document, error)

	// SavePageText stores the recognised text of a page.
	// Returns domain.ErrPageImmutable if the page already has text.
	SavePageText(ctx context.Context, documentID string, pageIndex int, text domain.RecognizedText) error

	// SaveStatus replaces the pipeline status of a document.
	SaveStatus(ctx context.Context, documentID string, status domain.Status) error

	// AppendError adds an entry to the document's error log.
	AppendError(ctx context.Context, documentID string, entry domain.StageError) error

	// DeleteDocument removes a document, its chunks and its record.
	DeleteDocument(ctx context.Context, id string) error

	// AcquireLease claims the run lease of a document for owner until expires.
	// Returns domain.ErrRunInProgress while another owner holds a lease that
	// has not expired at now.
	AcquireLease(ctx context.Context, documentID, owner string, now, expires time.Time) error

	// RenewLease moves the expiry of a lease held by owner.
	// Returns domain.ErrLeaseLost if owner no longer holds it.
	RenewLease(ctx context.Context, documentID, owner string, expires time.Time) error

	// ReleaseLease drops the lease if owner holds it.
	ReleaseLease(ctx context.Context, documentID, owner string) error

	// LeaseActive reports whether an unexpired lease exists at now.
	LeaseActive(ctx context.Context, documentID string, now time.Time) (bool, error)
}

// ChunkStore persists chunks and their embeddings.
type ChunkStore interface {
	// SaveChunks replaces the chunk set of a document.
	// Embeddings of chunks whose id is unchanged are kept.
	SaveChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error

	// SaveEmbedding stores the embedding of one chunk.
	SaveEmbedding(ctx context.Context, chunkID string, embedding []float32, model string) error

	// GetChunks retrieves all chunks for a document ordered by position.
	GetChunks(ctx context.Context, documentID string) ([]domain.Chunk, error)

	// GetChunk retrieves a specific chunk by ID.
	GetChunk(ctx context.Context, id string) (*domain.Chunk, error)
}

// RecordStore persists structured records, one per document.
type RecordStore interface {
	// ReplaceRecord stores rec, discarding any prior record of the document.
	ReplaceRecord(ctx context.Context, rec *domain.StructuredRecord) error

	// GetRecord retrieves the current record of a document.
	GetRecord(ctx context.Context, documentID string) (*domain.StructuredRecord, error)
}
