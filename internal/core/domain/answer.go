package domain

// InsufficientContextText is the text of the insufficient context answer.
const InsufficientContextText = "There is not enough information in this document to answer the question."

// Answer is a grounded response to a question.
type Answer struct {
	// Text is the answer text.
	Text string

	// Citations link spans of Text to the chunks that support them.
	Citations []Citation

	// Insufficient is true when no context was available.
	Insufficient bool
}

// Citation attributes part of an answer to a source chunk.
type Citation struct {
	// ChunkID is the cited chunk. It is always one of the input chunks.
	ChunkID string

	// Pages is the cited chunk's page range.
	Pages PageRange

	// Start and End are byte offsets of the supported span in the answer.
	// A citation of the whole answer covers [0, len(Text)).
	Start int
	End   int
}

// InsufficientContext returns the sentinel answer used when retrieval
// produced nothing.
func InsufficientContext() *Answer {
	return &Answer{Text: InsufficientContextText, Insufficient: true}
}
