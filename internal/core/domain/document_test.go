package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textPage(index int, text string) Page {
	return Page{Index: index, Text: &RecognizedText{Text: text}}
}

func TestJoinPages_PreservesIndexOrder(t *testing.T) {
	// Pages arrive out of order, as OCR tasks complete.
	pages := []Page{textPage(2, "third"), textPage(0, "first"), textPage(1, "second")}

	text, spans := JoinPages(pages)

	assert.Equal(t, "first\n\nsecond\n\nthird", text)
	require.Len(t, spans, 3)
	assert.Equal(t, PageSpan{Page: 0, Start: 0, End: 5}, spans[0])
	assert.Equal(t, PageSpan{Page: 1, Start: 7, End: 13}, spans[1])
	assert.Equal(t, PageSpan{Page: 2, Start: 15, End: 20}, spans[2])
	// The input slice is not reordered.
	assert.Equal(t, 2, pages[0].Index)
}

func TestJoinPages_SkipsPagesWithoutText(t *testing.T) {
	pages := []Page{textPage(0, "a"), {Index: 1}, textPage(2, "c")}

	text, spans := JoinPages(pages)

	assert.Equal(t, "a\n\nc", text)
	require.Len(t, spans, 2)
	assert.Equal(t, 2, spans[1].Page)
}

func TestPageAt(t *testing.T) {
	_, spans := JoinPages([]Page{textPage(0, "abc"), textPage(1, "def")})

	assert.Equal(t, 0, PageAt(spans, 0))
	assert.Equal(t, 0, PageAt(spans, 2))
	assert.Equal(t, 1, PageAt(spans, 3), "separator belongs to the next page")
	assert.Equal(t, 1, PageAt(spans, 5))
	assert.Equal(t, 1, PageAt(spans, 99))
	assert.Equal(t, -1, PageAt(nil, 0))
}

func TestDocument_PendingPages(t *testing.T) {
	doc := Document{Pages: []Page{textPage(0, "a"), {Index: 1}, textPage(2, "c")}}

	pending := doc.PendingPages()
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Index)

	done, total := doc.OCRCoverage()
	assert.Equal(t, 2, done)
	assert.Equal(t, 3, total)
}

func TestDocument_LastError(t *testing.T) {
	doc := Document{Errors: []StageError{
		{Stage: StageOCR, Message: "first"},
		{Stage: StageIndexing, Message: "index"},
		{Stage: StageOCR, Message: "second"},
	}}

	e, ok := doc.LastError(StageOCR)
	require.True(t, ok)
	assert.Equal(t, "second", e.Message)

	_, ok = doc.LastError(StageExtraction)
	assert.False(t, ok)
}

func TestContentHash_Deterministic(t *testing.T) {
	assert.Equal(t, ContentHash("glucose 5.4"), ContentHash("glucose 5.4"))
	assert.NotEqual(t, ContentHash("glucose 5.4"), ContentHash("glucose 5.5"))
	assert.Len(t, ContentHash(""), 64)
}

func TestPageRange_Less(t *testing.T) {
	assert.True(t, PageRange{First: 0, Last: 0}.Less(PageRange{First: 0, Last: 1}))
	assert.True(t, PageRange{First: 0, Last: 5}.Less(PageRange{First: 1, Last: 1}))
	assert.False(t, PageRange{First: 1, Last: 1}.Less(PageRange{First: 1, Last: 1}))
}
