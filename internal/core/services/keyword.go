package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agext/levenshtein"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
	"github.com/custodia-labs/docintel/internal/core/ports/driving"
	"github.com/custodia-labs/docintel/internal/logger"
)

// Ensure KeywordSearchService implements the interface.
var _ driving.KeywordSearchService = (*KeywordSearchService)(nil)

// KeywordSearchService searches recognised page text directly. It needs
// only OCR output and works whether or not indexing succeeded.
type KeywordSearchService struct {
	docs     driven.DocumentStore
	settings domain.KeywordSettings
}

// NewKeywordSearchService creates a keyword search service.
func NewKeywordSearchService(docs driven.DocumentStore, settings domain.KeywordSettings) *KeywordSearchService {
	defaults := domain.DefaultPipelineSettings().Keyword
	if settings.FuzzyDistance < 0 {
		settings.FuzzyDistance = defaults.FuzzyDistance
	}
	if settings.SnippetRadius <= 0 {
		settings.SnippetRadius = defaults.SnippetRadius
	}
	return &KeywordSearchService{docs: docs, settings: settings}
}

// Search returns keyword matches ordered by (page, offset). A document
// with recognised text but no match yields an empty slice.
func (s *KeywordSearchService) Search(
	ctx context.Context, documentID, keyword string, opts domain.SearchOptions,
) ([]domain.Match, error) {
	logger.Section("Keyword Search")
	keyword = strings.TrimSpace(keyword)
	logger.Debug("Keyword: %q, fuzzy: %t", keyword, opts.Fuzzy)

	doc, err := s.docs.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	if done, _ := doc.OCRCoverage(); done == 0 {
		return nil, domain.ErrNotReady
	}

	matches := []domain.Match{}
	if keyword == "" {
		return matches, nil
	}

	maxDist := s.settings.FuzzyDistance
	if opts.MaxDistance != nil && *opts.MaxDistance >= 0 {
		maxDist = *opts.MaxDistance
	}

	for _, page := range doc.Pages {
		if !page.HasText() {
			continue
		}
		var spans []hitSpan
		if opts.Fuzzy {
			spans = fuzzyFind(page.Text.Text, keyword, maxDist)
		} else {
			spans = exactFind(page.Text.Text, keyword)
		}
		for _, h := range spans {
			matches = append(matches, s.match(page, h))
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].PageIndex != matches[j].PageIndex {
			return matches[i].PageIndex < matches[j].PageIndex
		}
		return matches[i].Span.Start < matches[j].Span.Start
	})
	logger.Debug("Found %d matches", len(matches))
	return matches, nil
}

type hitSpan struct {
	start, end int
	distance   int
}

func (s *KeywordSearchService) match(page domain.Page, h hitSpan) domain.Match {
	m := domain.Match{
		PageIndex: page.Index,
		Span:      domain.TokenSpan{Start: h.start, End: h.end, FirstToken: -1, LastToken: -1},
		Snippet:   snippet(page.Text.Text, h.start, h.end, s.settings.SnippetRadius),
		Distance:  h.distance,
	}
	for i, tok := range page.Text.Tokens {
		if tok.End() <= h.start || tok.Offset >= h.end {
			continue
		}
		if m.Span.FirstToken < 0 {
			m.Span.FirstToken = i
		}
		m.Span.LastToken = i
		m.Boxes = append(m.Boxes, tok.Box)
	}
	return m
}

// exactFind returns non-overlapping case-insensitive occurrences of keyword.
func exactFind(text, keyword string) []hitSpan {
	var hits []hitSpan
	for i := 0; i < len(text); {
		if n, ok := prefixFold(text[i:], keyword); ok {
			hits = append(hits, hitSpan{start: i, end: i + n})
			i += n
			continue
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
	}
	return hits
}

// prefixFold reports whether s starts with prefix under simple case
// folding, returning the number of bytes of s consumed.
func prefixFold(s, prefix string) (int, bool) {
	n := 0
	for _, pr := range prefix {
		if n >= len(s) {
			return 0, false
		}
		sr, size := utf8.DecodeRuneInString(s[n:])
		if sr != pr && unicode.ToLower(sr) != unicode.ToLower(pr) {
			return 0, false
		}
		n += size
	}
	return n, true
}

type word struct {
	start, end int
	norm       string
}

// words splits text at whitespace and trims punctuation from each word.
func words(text string) []word {
	var out []word
	for _, f := range fieldSpans(text) {
		raw := text[f.start:f.end]
		trimmed := strings.TrimFunc(raw, unicode.IsPunct)
		if trimmed == "" {
			continue
		}
		lead := strings.Index(raw, trimmed)
		out = append(out, word{
			start: f.start + lead,
			end:   f.start + lead + len(trimmed),
			norm:  strings.ToLower(trimmed),
		})
	}
	return out
}

func fieldSpans(text string) []hitSpan {
	var spans []hitSpan
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				spans = append(spans, hitSpan{start: start, end: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		spans = append(spans, hitSpan{start: start, end: len(text)})
	}
	return spans
}

// fuzzyFind slides a window of as many words as keyword has over text and
// keeps windows within maxDist edits. Keywords no longer than maxDist
// must match exactly.
func fuzzyFind(text, keyword string, maxDist int) []hitSpan {
	kwWords := words(keyword)
	if len(kwWords) == 0 {
		return nil
	}
	parts := make([]string, len(kwWords))
	for i, w := range kwWords {
		parts[i] = w.norm
	}
	target := strings.Join(parts, " ")
	if utf8.RuneCountInString(target) <= maxDist {
		maxDist = 0
	}

	ws := words(text)
	var hits []hitSpan
	for i := 0; i+len(kwWords) <= len(ws); {
		window := ws[i : i+len(kwWords)]
		cand := make([]string, len(window))
		for j, w := range window {
			cand[j] = w.norm
		}
		d := levenshtein.Distance(target, strings.Join(cand, " "), nil)
		if d <= maxDist {
			hits = append(hits, hitSpan{start: window[0].start, end: window[len(window)-1].end, distance: d})
			i += len(kwWords)
			continue
		}
		i++
	}
	return hits
}

// snippet returns up to radius bytes of context around [start, end),
// aligned to rune boundaries with whitespace collapsed.
func snippet(text string, start, end, radius int) string {
	from := start - radius
	if from < 0 {
		from = 0
	}
	for from > 0 && !utf8.RuneStart(text[from]) {
		from--
	}
	to := end + radius
	if to > len(text) {
		to = len(text)
	}
	for to < len(text) && !utf8.RuneStart(text[to]) {
		to++
	}

	out := strings.Join(strings.Fields(text[from:to]), " ")
	if from > 0 {
		out = "..." + out
	}
	if to < len(text) {
		out += "..."
	}
	return out
}
