package driven

import "github.com/custodia-labs/docintel/internal/core/domain"

// TextChunker splits a document's recognised text into chunks.
// Chunking must be deterministic: identical text and parameters yield
// identical chunk ids, boundaries and content hashes.
type TextChunker interface {
	// Name returns the chunker name for logging.
	Name() string

	// Chunk splits the document's concatenated page text.
	Chunk(doc *domain.Document) ([]domain.Chunk, error)
}
