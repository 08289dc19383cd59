package driven

import "context"

// VectorIndex provides similarity search partitioned per document.
// A document's partition holds only chunks derived from its own pages.
type VectorIndex interface {
	// Add inserts or replaces a vector in a document's partition.
	Add(ctx context.Context, entry VectorEntry) error

	// Search finds the k nearest chunks to query within one document.
	// Hits are ordered by descending similarity, ties by chunk position.
	Search(ctx context.Context, documentID string, query []float32, k int) ([]VectorHit, error)

	// Count returns the number of vectors in a document's partition.
	Count(ctx context.Context, documentID string) (int, error)

	// DeleteDocument drops a document's partition.
	DeleteDocument(ctx context.Context, documentID string) error

	// Close releases resources.
	Close() error
}

// VectorEntry is a vector stored in the index.
type VectorEntry struct {
	DocumentID string
	ChunkID    string
	Position   int
	Vector     []float32
}

// VectorHit represents a similarity search result.
type VectorHit struct {
	// ChunkID is the matched chunk.
	ChunkID string

	// Position is the chunk's ordinal position within its document.
	Position int

	// Similarity is higher for closer vectors. Cosine similarity for the
	// cosine metric, 1/(1+distance) for L2.
	Similarity float64
}
