package domain

import (
	"sort"
	"strings"
	"time"
)

// PageSeparator joins the recognised text of consecutive pages.
const PageSeparator = "\n\n"

// Document represents a scanned document moving through the pipeline.
// It is owned by the pipeline orchestrator; pages are immutable once OCR'd.
type Document struct {
	// ID is the unique identifier for the document.
	ID string

	// Title is the human-readable title, usually the uploaded file name.
	Title string

	// Pages holds the document pages ordered by Index.
	Pages []Page

	// Status is the persisted pipeline state.
	Status Status

	// Errors is the ordered stage error log.
	Errors []StageError

	// CreatedAt is when the document was uploaded.
	CreatedAt time.Time

	// UpdatedAt is when the document was last updated.
	UpdatedAt time.Time
}

// Page is a single page of a document.
type Page struct {
	// Index is the 0-based page position. Order is significant.
	Index int

	// MIMEType describes Data (image/png, image/jpeg, application/pdf).
	MIMEType string

	// Data holds the raw page bytes.
	Data []byte

	// Text is the recognised text, nil until the page has been OCR'd.
	Text *RecognizedText
}

// HasText reports whether OCR has produced text for the page.
func (p Page) HasText() bool {
	return p.Text != nil
}

// Image returns the OCR input for the page.
func (p Page) Image() PageImage {
	return PageImage{Index: p.Index, MIMEType: p.MIMEType, Data: p.Data}
}

// PageImage is the input to a text extraction backend.
type PageImage struct {
	Index    int
	MIMEType string
	Data     []byte
}

// RecognizedText is the output of OCR for one page.
type RecognizedText struct {
	// Text is the plain recognised text.
	Text string

	// Tokens maps offsets in Text back to page regions.
	Tokens []Token

	// Backend names the backend that produced the text.
	Backend string
}

// Token is a recognised word with its position on the page.
type Token struct {
	// Text is the token as it appears in RecognizedText.Text.
	Text string

	// Offset is the byte offset of the token within RecognizedText.Text.
	Offset int

	// Box is the token's region on the page image.
	Box BoundingBox

	// Confidence is the backend confidence in [0, 1], 0 if unknown.
	Confidence float64
}

// End returns the byte offset just past the token.
func (t Token) End() int {
	return t.Offset + len(t.Text)
}

// BoundingBox is a rectangle in page pixel coordinates.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// StageError is an entry in a document's error log.
type StageError struct {
	Stage     Stage
	Message   string
	Timestamp time.Time
}

// PageSpan locates a page's text within concatenated document text.
type PageSpan struct {
	Page  int
	Start int
	End   int
}

// SortPages orders pages by index in place.
func SortPages(pages []Page) {
	sort.SliceStable(pages, func(i, j int) bool {
		return pages[i].Index < pages[j].Index
	})
}

// JoinPages concatenates recognised page text in page index order.
// Pages without text are skipped. The returned spans locate each
// included page inside the concatenated text.
func JoinPages(pages []Page) (string, []PageSpan) {
	ordered := make([]Page, len(pages))
	copy(ordered, pages)
	SortPages(ordered)

	var b strings.Builder
	spans := make([]PageSpan, 0, len(ordered))
	for _, p := range ordered {
		if !p.HasText() {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(PageSeparator)
		}
		start := b.Len()
		b.WriteString(p.Text.Text)
		spans = append(spans, PageSpan{Page: p.Index, Start: start, End: b.Len()})
	}
	return b.String(), spans
}

// PageAt returns the page index whose span contains offset. Offsets that
// fall in a separator belong to the following page.
func PageAt(spans []PageSpan, offset int) int {
	if len(spans) == 0 {
		return -1
	}
	for _, s := range spans {
		if offset < s.End {
			return s.Page
		}
	}
	return spans[len(spans)-1].Page
}

// OCRCoverage returns how many pages have recognised text.
func (d *Document) OCRCoverage() (done, total int) {
	for _, p := range d.Pages {
		if p.HasText() {
			done++
		}
	}
	return done, len(d.Pages)
}

// PendingPages returns the pages still waiting for OCR.
func (d *Document) PendingPages() []Page {
	var pending []Page
	for _, p := range d.Pages {
		if !p.HasText() {
			pending = append(pending, p)
		}
	}
	return pending
}

// LastError returns the most recent error log entry for a stage.
func (d *Document) LastError(stage Stage) (StageError, bool) {
	for i := len(d.Errors) - 1; i >= 0; i-- {
		if d.Errors[i].Stage == stage {
			return d.Errors[i], true
		}
	}
	return StageError{}, false
}
