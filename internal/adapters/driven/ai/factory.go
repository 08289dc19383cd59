// Package ai provides factory functions for creating AI service adapters.
package ai

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/api/option"

	ollamaembed "github.com/custodia-labs/docintel/internal/adapters/driven/embedding/ollama"
	openaiembed "github.com/custodia-labs/docintel/internal/adapters/driven/embedding/openai"
	"github.com/custodia-labs/docintel/internal/adapters/driven/extraction/agent"
	"github.com/custodia-labs/docintel/internal/adapters/driven/extraction/singlepass"
	anthropicllm "github.com/custodia-labs/docintel/internal/adapters/driven/llm/anthropic"
	ollamallm "github.com/custodia-labs/docintel/internal/adapters/driven/llm/ollama"
	openaillm "github.com/custodia-labs/docintel/internal/adapters/driven/llm/openai"
	vertexllm "github.com/custodia-labs/docintel/internal/adapters/driven/llm/vertex"
	"github.com/custodia-labs/docintel/internal/adapters/driven/ocr/tesseract"
	vertexocr "github.com/custodia-labs/docintel/internal/adapters/driven/ocr/vertex"
	gemini "github.com/custodia-labs/docintel/internal/adapters/driven/vertex"
	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
	"github.com/custodia-labs/docintel/internal/logger"
)

// pingTimeout is the maximum time to wait for service connectivity validation.
const pingTimeout = 5 * time.Second

const fixHint = "Run 'docintel settings' to fix"

// DialFunc opens a Vertex AI generator.
type DialFunc func(ctx context.Context, vertex domain.VertexSettings) (gemini.Generator, error)

func dialVertex(ctx context.Context, vertex domain.VertexSettings) (gemini.Generator, error) {
	var opts []option.ClientOption
	if vertex.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(vertex.CredentialsFile))
	}
	client, err := gemini.NewClient(ctx, vertex.Project, vertex.Region, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Factory creates provider adapters from settings. Vertex backends share
// one lazily dialed client which Close releases.
type Factory struct {
	vertex domain.VertexSettings
	dial   DialFunc

	mu  sync.Mutex
	gen gemini.Generator
}

// NewFactory creates a factory. A nil dial uses the Vertex AI client.
func NewFactory(vertex domain.VertexSettings, dial DialFunc) *Factory {
	if dial == nil {
		dial = dialVertex
	}
	return &Factory{vertex: vertex, dial: dial}
}

// Close releases the shared Vertex client, if one was dialed.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gen == nil {
		return nil
	}
	var err error
	if c, ok := f.gen.(interface{ Close() error }); ok {
		err = c.Close()
	}
	f.gen = nil
	return err
}

func (f *Factory) generator(ctx context.Context) (gemini.Generator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gen != nil {
		return f.gen, nil
	}
	if f.vertex.Project == "" {
		return nil, fmt.Errorf("vertex.project is not set")
	}
	gen, err := f.dial(ctx, f.vertex)
	if err != nil {
		return nil, err
	}
	logger.Debug("Vertex AI client ready (project %s, region %s)", f.vertex.Project, f.vertex.Region)
	f.gen = gen
	return gen, nil
}

// Providers holds every adapter the pipeline needs.
type Providers struct {
	Embedding  driven.EmbeddingService
	LLM        driven.LLMService
	OCR        driven.TextExtractionBackend
	Extraction driven.ExtractionBackend
}

// Close releases all resources held by the providers.
func (p *Providers) Close() {
	if p.Embedding != nil {
		p.Embedding.Close()
	}
	if p.LLM != nil {
		p.LLM.Close()
	}
	if p.OCR != nil {
		p.OCR.Close()
	}
}

// Build creates and configures all providers for settings. Adapters that
// load prompts are pointed at prompts when it is non-nil. Missing embedding
// or LLM configuration is an error since the pipeline needs both.
func (f *Factory) Build(ctx context.Context, settings *domain.AppSettings, prompts driven.PromptStore) (*Providers, error) {
	p := &Providers{}

	embed, err := CreateEmbeddingService(&settings.Embedding)
	if err != nil {
		return nil, fmt.Errorf("%w: %w. %s", domain.ErrEmbeddingUnavailable, err, fixHint)
	}
	if embed == nil {
		return nil, fmt.Errorf("%w: not configured. %s", domain.ErrEmbeddingUnavailable, fixHint)
	}
	p.Embedding = embed

	llm, err := f.LLM(ctx, &settings.LLM)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("%w: %w. %s", domain.ErrLLMUnavailable, err, fixHint)
	}
	if llm == nil {
		p.Close()
		return nil, fmt.Errorf("%w: not configured. %s", domain.ErrLLMUnavailable, fixHint)
	}
	p.LLM = llm

	ocr, err := f.OCR(ctx, &settings.Pipeline.OCR)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("%w: %w. %s", domain.ErrOCRUnavailable, err, fixHint)
	}
	p.OCR = ocr

	extraction, err := CreateExtractionBackend(settings.Pipeline.Extraction.Strategy, llm)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.Extraction = extraction

	if prompts != nil {
		for _, svc := range []any{p.LLM, p.OCR, p.Extraction} {
			if aware, ok := svc.(driven.PromptStoreAware); ok {
				aware.SetPromptStore(prompts)
			}
		}
	}

	logger.Debug("Providers: embedding=%s llm=%s ocr=%s extraction=%s",
		settings.Embedding.Provider, settings.LLM.Provider, ocr.Name(), extraction.Name())
	return p, nil
}

// LLM creates the generation provider for settings.
// Returns nil if the provider is not configured.
func (f *Factory) LLM(ctx context.Context, settings *domain.LLMSettings) (driven.LLMService, error) {
	if settings == nil || !settings.IsConfigured() {
		return nil, nil
	}
	if settings.Provider != domain.AIProviderVertex {
		return CreateLLMService(settings)
	}
	gen, err := f.generator(ctx)
	if err != nil {
		return nil, err
	}
	return vertexllm.NewLLMService(gen, settings.Model), nil
}

// OCR creates the text extraction backend for settings.
func (f *Factory) OCR(ctx context.Context, settings *domain.OCRSettings) (driven.TextExtractionBackend, error) {
	switch settings.Backend {
	case domain.OCRBackendTesseract, "":
		return tesseract.New(tesseract.Config{Lang: settings.Language}, nil), nil

	case domain.OCRBackendVertex:
		gen, err := f.generator(ctx)
		if err != nil {
			return nil, err
		}
		return vertexocr.New(gen, f.vertex.OCRModel), nil

	default:
		return nil, fmt.Errorf("unsupported OCR backend: %s", settings.Backend)
	}
}

// CreateExtractionBackend creates the extraction strategy over llm.
func CreateExtractionBackend(strategy domain.ExtractionStrategy, llm driven.LLMService) (driven.ExtractionBackend, error) {
	if llm == nil {
		return nil, domain.ErrLLMUnavailable
	}
	switch strategy {
	case domain.ExtractionAgent, "":
		return agent.New(llm), nil
	case domain.ExtractionSinglePass:
		return singlepass.New(llm), nil
	default:
		return nil, fmt.Errorf("unsupported extraction strategy: %s", strategy)
	}
}

// ValidateEmbeddingConfig validates an embedding configuration by creating a service and pinging it.
func ValidateEmbeddingConfig(settings *domain.EmbeddingSettings) error {
	if settings == nil || !settings.IsConfigured() {
		return nil
	}

	svc, err := CreateEmbeddingService(settings)
	if err != nil {
		return err
	}
	if svc == nil {
		return nil
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	return svc.Ping(ctx)
}

// ValidateLLMConfig validates an LLM configuration by creating a service and pinging it.
func (f *Factory) ValidateLLMConfig(settings *domain.LLMSettings) error {
	if settings == nil || !settings.IsConfigured() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	svc, err := f.LLM(ctx, settings)
	if err != nil {
		return err
	}
	if svc == nil {
		return nil
	}
	defer svc.Close()
	return svc.Ping(ctx)
}

// CreateEmbeddingService creates the appropriate embedding service based on settings.
// Returns nil if the provider is not configured.
func CreateEmbeddingService(settings *domain.EmbeddingSettings) (driven.EmbeddingService, error) {
	if settings == nil || !settings.IsConfigured() {
		return nil, nil
	}

	switch settings.Provider {
	case domain.AIProviderOllama:
		return createOllamaEmbedding(settings)

	case domain.AIProviderOpenAI:
		return createOpenAIEmbedding(settings)

	case domain.AIProviderAnthropic, domain.AIProviderVertex:
		return nil, fmt.Errorf("%s embeddings are not supported, use ollama or openai", settings.Provider)

	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", settings.Provider)
	}
}

// CreateLLMService creates the LLM service for providers that need no
// shared client. Vertex goes through Factory.LLM.
// Returns nil if the provider is not configured.
func CreateLLMService(settings *domain.LLMSettings) (driven.LLMService, error) {
	if settings == nil || !settings.IsConfigured() {
		return nil, nil
	}

	switch settings.Provider {
	case domain.AIProviderOllama:
		return createOllamaLLM(settings)

	case domain.AIProviderOpenAI:
		return createOpenAILLM(settings)

	case domain.AIProviderAnthropic:
		return createAnthropicLLM(settings)

	case domain.AIProviderVertex:
		return nil, fmt.Errorf("vertex requires a factory with project settings")

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", settings.Provider)
	}
}

// createOllamaEmbedding creates an Ollama embedding service.
func createOllamaEmbedding(settings *domain.EmbeddingSettings) (driven.EmbeddingService, error) {
	dimensions := domain.EmbeddingDimensions()[settings.Model]
	if dimensions == 0 {
		dimensions = ollamaembed.DefaultDimensions
	}

	svc, err := ollamaembed.NewEmbeddingService(ollamaembed.Config{
		BaseURL:    settings.BaseURL,
		Model:      settings.Model,
		Dimensions: dimensions,
	})
	if err != nil {
		return nil, err
	}
	return svc, nil
}

// createOpenAIEmbedding creates an OpenAI embedding service.
func createOpenAIEmbedding(settings *domain.EmbeddingSettings) (driven.EmbeddingService, error) {
	dimensions := domain.EmbeddingDimensions()[settings.Model]

	svc, err := openaiembed.NewEmbeddingService(openaiembed.Config{
		APIKey:     settings.APIKey,
		BaseURL:    settings.BaseURL,
		Model:      settings.Model,
		Dimensions: dimensions,
	})
	if err != nil {
		return nil, err
	}
	return svc, nil
}

// createOllamaLLM creates an Ollama LLM service.
func createOllamaLLM(settings *domain.LLMSettings) (driven.LLMService, error) {
	svc, err := ollamallm.NewLLMService(ollamallm.LLMConfig{
		BaseURL: settings.BaseURL,
		Model:   settings.Model,
	})
	if err != nil {
		return nil, err
	}
	return svc, nil
}

// createOpenAILLM creates an OpenAI LLM service.
func createOpenAILLM(settings *domain.LLMSettings) (driven.LLMService, error) {
	svc, err := openaillm.NewLLMService(openaillm.LLMConfig{
		APIKey:  settings.APIKey,
		BaseURL: settings.BaseURL,
		Model:   settings.Model,
	})
	if err != nil {
		return nil, err
	}
	return svc, nil
}

// createAnthropicLLM creates an Anthropic LLM service.
func createAnthropicLLM(settings *domain.LLMSettings) (driven.LLMService, error) {
	svc, err := anthropicllm.NewLLMService(anthropicllm.Config{
		APIKey:  settings.APIKey,
		BaseURL: settings.BaseURL,
		Model:   settings.Model,
	})
	if err != nil {
		return nil, err
	}
	return svc, nil
}
