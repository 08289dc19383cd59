package services

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
	"github.com/custodia-labs/docintel/internal/logger"
)

// insufficientMarker is the reply the answer prompt asks for when the
// sources do not contain the answer.
const insufficientMarker = "INSUFFICIENT_CONTEXT"

// citationPattern matches source markers such as [1] or [2, 3].
var citationPattern = regexp.MustCompile(`\[(\d+(?:\s*,\s*\d+)*)\]`)

// AnswerSynthesizer composes grounded answers from retrieved chunks.
type AnswerSynthesizer struct {
	llm     driven.LLMService
	prompts driven.PromptStore
	caller  *caller
}

// NewAnswerSynthesizer creates an answer synthesizer.
// The llm may be nil; questions with context then fail with
// domain.ErrLLMUnavailable.
func NewAnswerSynthesizer(llm driven.LLMService, retry domain.RetrySettings) *AnswerSynthesizer {
	return &AnswerSynthesizer{llm: llm, caller: newCaller(retry)}
}

// SetPromptStore sets the prompt store for loading customisable prompts.
func (s *AnswerSynthesizer) SetPromptStore(store driven.PromptStore) {
	s.prompts = store
}

// Answer answers question from chunks. Without chunks it returns the
// insufficient context answer and never calls the generation backend.
func (s *AnswerSynthesizer) Answer(ctx context.Context, question string, chunks []domain.ScoredChunk) (*domain.Answer, error) {
	if len(chunks) == 0 {
		logger.Debug("No context retrieved, returning insufficient context")
		return domain.InsufficientContext(), nil
	}
	if s.llm == nil {
		return nil, domain.ErrLLMUnavailable
	}

	template := loadPrompt(s.prompts, driven.PromptAnswer)
	prompt := fmt.Sprintf(template, formatSources(chunks), strings.TrimSpace(question))

	var completion string
	err := s.caller.do(ctx, nil, "generate answer", func(callCtx context.Context) error {
		var err error
		completion, err = s.llm.Generate(callCtx, prompt, driven.GenerateOptions{Temperature: 0})
		return asProviderError(s.llm.ModelName(), "generate", err)
	})
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	text := strings.TrimSpace(completion)
	if text == "" || strings.EqualFold(text, insufficientMarker) {
		return domain.InsufficientContext(), nil
	}

	return &domain.Answer{Text: text, Citations: attribute(text, chunks)}, nil
}

// formatSources numbers the chunks from 1 with their page range.
func formatSources(chunks []domain.ScoredChunk) string {
	var b strings.Builder
	for i, c := range chunks {
		pages := fmt.Sprintf("page %d", c.Chunk.Pages.First+1)
		if c.Chunk.Pages.Last != c.Chunk.Pages.First {
			pages = fmt.Sprintf("pages %d-%d", c.Chunk.Pages.First+1, c.Chunk.Pages.Last+1)
		}
		fmt.Fprintf(&b, "[%d] (%s)\n%s\n\n", i+1, pages, strings.TrimSpace(c.Chunk.Content))
	}
	return strings.TrimRight(b.String(), "\n")
}

// sentence is a span of answer text and the source numbers it cites.
type sentence struct {
	start, end int
	sources    []int
}

// attribute maps source markers onto the sentences that carry them.
// Markers outside 1..len(chunks) are ignored. Without any valid marker
// the whole answer is attributed to every chunk.
func attribute(text string, chunks []domain.ScoredChunk) []domain.Citation {
	var citations []domain.Citation
	seen := make(map[string]bool)

	for _, sent := range splitSentences(text) {
		for _, n := range sent.sources {
			if n < 1 || n > len(chunks) {
				continue
			}
			c := chunks[n-1].Chunk
			key := fmt.Sprintf("%s/%d", c.ID, sent.start)
			if seen[key] {
				continue
			}
			seen[key] = true
			citations = append(citations, domain.Citation{
				ChunkID: c.ID,
				Pages:   c.Pages,
				Start:   sent.start,
				End:     sent.end,
			})
		}
	}

	if len(citations) > 0 {
		return citations
	}
	for _, c := range chunks {
		citations = append(citations, domain.Citation{
			ChunkID: c.Chunk.ID,
			Pages:   c.Chunk.Pages,
			Start:   0,
			End:     len(text),
		})
	}
	return citations
}

// splitSentences splits text at sentence terminators and newlines.
// A fragment holding only markers is attached to the previous sentence.
func splitSentences(text string) []sentence {
	var out []sentence
	start := 0
	flush := func(end int) {
		frag := text[start:end]
		trimmed := strings.TrimSpace(frag)
		if trimmed == "" {
			start = end
			return
		}
		lead := strings.Index(frag, trimmed)
		s := sentence{start: start + lead, end: start + lead + len(trimmed), sources: markers(trimmed)}
		rest := strings.TrimSpace(citationPattern.ReplaceAllString(trimmed, ""))
		if (rest == "" || rest == ".") && len(out) > 0 {
			prev := &out[len(out)-1]
			prev.sources = append(prev.sources, s.sources...)
		} else {
			out = append(out, s)
		}
		start = end
	}

	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\n':
			flush(i)
		case '.', '!', '?':
			if i+1 == len(text) || text[i+1] == ' ' || text[i+1] == '\n' {
				flush(i + 1)
			}
		}
	}
	flush(len(text))
	return out
}

func markers(s string) []int {
	var nums []int
	for _, m := range citationPattern.FindAllStringSubmatch(s, -1) {
		for _, part := range strings.Split(m[1], ",") {
			if n, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
				nums = append(nums, n)
			}
		}
	}
	return nums
}

// loadPrompt returns the named template from store, falling back to the
// built-in default.
func loadPrompt(store driven.PromptStore, name string) string {
	if store != nil {
		if p, err := store.Load(name); err == nil && p != "" {
			return p
		}
	}
	return driven.DefaultPrompts[name]
}
