package domain

// SearchOptions configures a keyword search.
type SearchOptions struct {
	// Fuzzy enables edit distance matching.
	Fuzzy bool

	// MaxDistance is the fuzzy edit distance threshold. Nil uses the
	// configured default; zero accepts only exact word windows.
	MaxDistance *int
}

// Distance returns a MaxDistance value of n.
func Distance(n int) *int {
	return &n
}

// Match is a keyword hit within a document.
type Match struct {
	// PageIndex is the page containing the match.
	PageIndex int

	// Span locates the match within the page text.
	Span TokenSpan

	// Snippet is the surrounding context.
	Snippet string

	// Boxes are the page regions of the matched tokens, for highlighting.
	Boxes []BoundingBox

	// Distance is the edit distance of a fuzzy match, 0 for exact.
	Distance int
}

// TokenSpan is a range of page text.
type TokenSpan struct {
	// Start and End are byte offsets into the page's recognised text.
	Start int
	End   int

	// FirstToken and LastToken index the covered layout tokens,
	// -1 when the page has no layout tokens.
	FirstToken int
	LastToken  int
}
