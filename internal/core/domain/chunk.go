package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// Chunk is a retrievable window of a document's recognised text.
type Chunk struct {
	// ID is derived from the document, position and content hash so that
	// re-chunking identical text yields identical ids.
	ID string

	// DocumentID links to the parent Document.
	DocumentID string

	// Position is the ordinal position within the document.
	Position int

	// Pages is the ordered source page range.
	Pages PageRange

	// Start and End are byte offsets into the concatenated document text.
	Start int
	End   int

	// Content is the text content of this chunk.
	Content string

	// ContentHash is the sha256 of Content. A hash and model id uniquely
	// determine the embedding.
	ContentHash string

	// Embedding is the vector representation, nil until embedded.
	Embedding []float32

	// EmbeddingModel is the model id that produced Embedding.
	EmbeddingModel string
}

// IsEmbedded reports whether the chunk carries an embedding from model.
func (c Chunk) IsEmbedded(model string) bool {
	return len(c.Embedding) > 0 && c.EmbeddingModel == model
}

// PageRange is an inclusive range of page indexes.
type PageRange struct {
	First int `json:"first"`
	Last  int `json:"last"`
}

// Less orders page ranges by first page then last page.
func (r PageRange) Less(o PageRange) bool {
	if r.First != o.First {
		return r.First < o.First
	}
	return r.Last < o.Last
}

// ContentHash returns the hex sha256 of text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ScoredChunk is a retrieval hit.
type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

// SimilarityMetric selects the vector comparison used by the index.
type SimilarityMetric string

// Available similarity metrics.
const (
	MetricCosine SimilarityMetric = "cosine"
	MetricL2     SimilarityMetric = "l2"
)

// IsValid returns true if the metric is recognised.
func (m SimilarityMetric) IsValid() bool {
	return m == MetricCosine || m == MetricL2
}
