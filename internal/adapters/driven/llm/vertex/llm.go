// Package vertex provides an LLM service adapter using Vertex AI Gemini.
package vertex

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	gemini "github.com/custodia-labs/docintel/internal/adapters/driven/vertex"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

// Ensure LLMService implements the interface.
var _ driven.LLMService = (*LLMService)(nil)

// LLMService provides LLM operations using Gemini models.
type LLMService struct {
	gen   gemini.Generator
	model string
}

// NewLLMService creates a Gemini LLM service over gen. The caller owns gen
// and closes it.
func NewLLMService(gen gemini.Generator, model string) *LLMService {
	if model == "" {
		model = gemini.DefaultModel
	}
	return &LLMService{gen: gen, model: model}
}

// Generate produces text completion from a prompt.
func (s *LLMService) Generate(ctx context.Context, prompt string, opts driven.GenerateOptions) (string, error) {
	cfg := gemini.Config(opts.Temperature, opts.MaxTokens, opts.JSON)
	cfg.StopSequences = opts.StopWords
	return s.send(ctx, "generate", gemini.Request{
		Parts:  []genai.Part{genai.Text(prompt)},
		Config: cfg,
	})
}

// Chat conducts a multi-turn conversation. System messages become the
// system instruction and the final message is the new turn.
func (s *LLMService) Chat(ctx context.Context, messages []driven.ChatMessage, opts driven.ChatOptions) (string, error) {
	var system []string
	var turns []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			system = append(system, msg.Content)
		case "assistant":
			turns = append(turns, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(msg.Content)}})
		default:
			turns = append(turns, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(msg.Content)}})
		}
	}
	if len(turns) == 0 {
		return "", fmt.Errorf("vertex chat: no user message")
	}

	last := turns[len(turns)-1]
	return s.send(ctx, "chat", gemini.Request{
		System:  strings.Join(system, "\n\n"),
		History: turns[:len(turns)-1],
		Parts:   last.Parts,
		Config:  gemini.Config(opts.Temperature, opts.MaxTokens, opts.JSON),
	})
}

func (s *LLMService) send(ctx context.Context, op string, req gemini.Request) (string, error) {
	resp, err := s.gen.Generate(ctx, s.model, req)
	if err != nil {
		return "", gemini.ProviderError(op, err)
	}
	text, err := gemini.ResponseText(resp)
	if err != nil {
		return "", gemini.ProviderError(op, err)
	}
	return text, nil
}

// ModelName returns the name of the LLM model being used.
func (s *LLMService) ModelName() string {
	return s.model
}

// Ping sends a one-token generation request. Vertex AI has no cheaper
// health endpoint on the generative API.
func (s *LLMService) Ping(ctx context.Context) error {
	_, err := s.gen.Generate(ctx, s.model, gemini.Request{
		Parts:  []genai.Part{genai.Text("ping")},
		Config: gemini.Config(0, 1, false),
	})
	if err != nil {
		return fmt.Errorf("vertex: ping failed: %w", gemini.ProviderError("ping", err))
	}
	return nil
}

// Close releases resources.
func (s *LLMService) Close() error {
	return nil
}
