package services

import (
	"fmt"
	"slices"
	"time"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
	"github.com/custodia-labs/docintel/internal/core/ports/driving"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

// Config keys for settings storage.
//
//nolint:gosec // G101: These are config key names, not actual credentials.
const (
	keyChunkWindow       = "chunk.window_size"
	keyChunkOverlap      = "chunk.overlap"
	keyRetrievalTopK     = "retrieval.top_k"
	keyRetrievalMinScore = "retrieval.similarity_threshold"
	keyRetrievalMetric   = "retrieval.metric"
	keyOCRBackend        = "ocr.backend"
	keyOCRBudget         = "ocr.failure_budget"
	keyOCRConcurrency    = "ocr.concurrency"
	keyOCRLanguage       = "ocr.language"
	keyRetryAttempts     = "retry.attempts"
	keyRetryBackoff      = "retry.backoff_ms"
	keyRetryTimeout      = "retry.call_timeout_ms"
	keyRetryRate         = "retry.rate_per_second"
	keySearchFuzzy       = "search.fuzzy_distance"
	keySearchSnippet     = "search.snippet_radius"
	keyExtractStrategy   = "extraction.strategy"
	keyEmbedProvider     = "embedding.provider"
	keyEmbedModel        = "embedding.model"
	keyEmbedBaseURL      = "embedding.base_url"
	keyEmbedAPIKey       = "embedding.api_key"
	keyLLMProvider       = "llm.provider"
	keyLLMModel          = "llm.model"
	keyLLMBaseURL        = "llm.base_url"
	keyLLMAPIKey         = "llm.api_key"
	keyVertexProject     = "vertex.project"
	keyVertexRegion      = "vertex.region"
	keyVertexOCRModel    = "vertex.ocr_model"
	keyVertexCredentials = "vertex.credentials_file"
)

// SettingsService manages application settings.
type SettingsService struct {
	configStore driven.ConfigStore
	aiValidator driven.AIConfigValidator
}

// NewSettingsService creates a new settings service.
func NewSettingsService(configStore driven.ConfigStore, aiValidator driven.AIConfigValidator) *SettingsService {
	return &SettingsService{
		configStore: configStore,
		aiValidator: aiValidator,
	}
}

// Get retrieves current application settings.
// Missing keys fall back to the defaults.
func (s *SettingsService) Get() (*domain.AppSettings, error) {
	defaults := domain.DefaultAppSettings()
	dp := defaults.Pipeline

	settings := &domain.AppSettings{
		Pipeline: domain.PipelineSettings{
			Chunk: domain.ChunkSettings{
				WindowSize: s.getInt(keyChunkWindow, dp.Chunk.WindowSize),
				Overlap:    s.getIntAllowZero(keyChunkOverlap, dp.Chunk.Overlap),
			},
			Retrieval: domain.RetrievalSettings{
				TopK:                s.getInt(keyRetrievalTopK, dp.Retrieval.TopK),
				SimilarityThreshold: s.getFloat(keyRetrievalMinScore, dp.Retrieval.SimilarityThreshold),
				Metric:              domain.SimilarityMetric(s.getString(keyRetrievalMetric, string(dp.Retrieval.Metric))),
			},
			OCR: domain.OCRSettings{
				Backend:       domain.OCRBackend(s.getString(keyOCRBackend, string(dp.OCR.Backend))),
				FailureBudget: s.getFloat(keyOCRBudget, dp.OCR.FailureBudget),
				Concurrency:   s.getInt(keyOCRConcurrency, dp.OCR.Concurrency),
				Language:      s.getString(keyOCRLanguage, dp.OCR.Language),
			},
			Retry: domain.RetrySettings{
				Attempts:      s.getInt(keyRetryAttempts, dp.Retry.Attempts),
				Backoff:       s.getMillis(keyRetryBackoff, dp.Retry.Backoff),
				CallTimeout:   s.getMillis(keyRetryTimeout, dp.Retry.CallTimeout),
				RatePerSecond: s.getFloat(keyRetryRate, dp.Retry.RatePerSecond),
			},
			Keyword: domain.KeywordSettings{
				FuzzyDistance: s.getInt(keySearchFuzzy, dp.Keyword.FuzzyDistance),
				SnippetRadius: s.getInt(keySearchSnippet, dp.Keyword.SnippetRadius),
			},
			Extraction: domain.ExtractionSettings{
				Strategy: domain.ExtractionStrategy(s.getString(keyExtractStrategy, string(dp.Extraction.Strategy))),
			},
		},
		Embedding: domain.EmbeddingSettings{
			Provider: s.getProvider(keyEmbedProvider, defaults.Embedding.Provider),
			Model:    s.getString(keyEmbedModel, defaults.Embedding.Model),
			BaseURL:  s.getString(keyEmbedBaseURL, defaults.Embedding.BaseURL),
			APIKey:   s.configStore.GetString(keyEmbedAPIKey),
		},
		LLM: domain.LLMSettings{
			Provider: s.getProvider(keyLLMProvider, defaults.LLM.Provider),
			Model:    s.getString(keyLLMModel, defaults.LLM.Model),
			BaseURL:  s.getString(keyLLMBaseURL, defaults.LLM.BaseURL),
			APIKey:   s.configStore.GetString(keyLLMAPIKey),
		},
		Vertex: domain.VertexSettings{
			Project:  s.configStore.GetString(keyVertexProject),
			Region:   s.getString(keyVertexRegion, defaults.Vertex.Region),
			OCRModel: s.getString(keyVertexOCRModel, defaults.Vertex.OCRModel),

			CredentialsFile: s.configStore.GetString(keyVertexCredentials),
		},
	}

	return settings, nil
}

// Save validates and persists application settings.
func (s *SettingsService) Save(settings *domain.AppSettings) error {
	if err := s.Validate(settings); err != nil {
		return err
	}

	p := settings.Pipeline
	values := []struct {
		key   string
		value any
	}{
		{keyChunkWindow, p.Chunk.WindowSize},
		{keyChunkOverlap, p.Chunk.Overlap},
		{keyRetrievalTopK, p.Retrieval.TopK},
		{keyRetrievalMinScore, p.Retrieval.SimilarityThreshold},
		{keyRetrievalMetric, string(p.Retrieval.Metric)},
		{keyOCRBackend, string(p.OCR.Backend)},
		{keyOCRBudget, p.OCR.FailureBudget},
		{keyOCRConcurrency, p.OCR.Concurrency},
		{keyOCRLanguage, p.OCR.Language},
		{keyRetryAttempts, p.Retry.Attempts},
		{keyRetryBackoff, int(p.Retry.Backoff / time.Millisecond)},
		{keyRetryTimeout, int(p.Retry.CallTimeout / time.Millisecond)},
		{keyRetryRate, p.Retry.RatePerSecond},
		{keySearchFuzzy, p.Keyword.FuzzyDistance},
		{keySearchSnippet, p.Keyword.SnippetRadius},
		{keyExtractStrategy, string(p.Extraction.Strategy)},
		{keyEmbedProvider, settings.Embedding.Provider.String()},
		{keyEmbedModel, settings.Embedding.Model},
		{keyEmbedBaseURL, settings.Embedding.BaseURL},
		{keyLLMProvider, settings.LLM.Provider.String()},
		{keyLLMModel, settings.LLM.Model},
		{keyLLMBaseURL, settings.LLM.BaseURL},
		{keyVertexProject, settings.Vertex.Project},
		{keyVertexRegion, settings.Vertex.Region},
		{keyVertexOCRModel, settings.Vertex.OCRModel},
		{keyVertexCredentials, settings.Vertex.CredentialsFile},
	}
	for _, v := range values {
		if err := s.configStore.Set(v.key, v.value); err != nil {
			return fmt.Errorf("save %s: %w", v.key, err)
		}
	}

	// API keys are only written when set so a blank form never erases them.
	if settings.Embedding.APIKey != "" {
		if err := s.configStore.Set(keyEmbedAPIKey, settings.Embedding.APIKey); err != nil {
			return fmt.Errorf("save embedding api_key: %w", err)
		}
	}
	if settings.LLM.APIKey != "" {
		if err := s.configStore.Set(keyLLMAPIKey, settings.LLM.APIKey); err != nil {
			return fmt.Errorf("save llm api_key: %w", err)
		}
	}

	return nil
}

// Validate checks settings for consistency.
func (s *SettingsService) Validate(settings *domain.AppSettings) error {
	if settings == nil {
		return fmt.Errorf("%w: settings are required", domain.ErrInvalidInput)
	}
	p := settings.Pipeline

	switch {
	case p.Chunk.WindowSize <= 0:
		return fmt.Errorf("%w: chunk window must be positive", domain.ErrInvalidInput)
	case p.Chunk.Overlap < 0 || p.Chunk.Overlap >= p.Chunk.WindowSize:
		return fmt.Errorf("%w: chunk overlap %d must be in [0, %d)",
			domain.ErrInvalidInput, p.Chunk.Overlap, p.Chunk.WindowSize)
	case p.Retrieval.TopK <= 0:
		return fmt.Errorf("%w: top_k must be positive", domain.ErrInvalidInput)
	case !p.Retrieval.Metric.IsValid():
		return fmt.Errorf("%w: unknown similarity metric %q", domain.ErrInvalidInput, p.Retrieval.Metric)
	case p.OCR.FailureBudget < 0 || p.OCR.FailureBudget > 1:
		return fmt.Errorf("%w: ocr failure budget must be in [0, 1]", domain.ErrInvalidInput)
	case p.OCR.Concurrency <= 0:
		return fmt.Errorf("%w: ocr concurrency must be positive", domain.ErrInvalidInput)
	case !p.OCR.Backend.IsValid():
		return fmt.Errorf("%w: unknown ocr backend %q", domain.ErrInvalidInput, p.OCR.Backend)
	case p.Retry.Attempts < 1:
		return fmt.Errorf("%w: retry attempts must be at least 1", domain.ErrInvalidInput)
	case p.Retry.Backoff < 0 || p.Retry.CallTimeout < 0 || p.Retry.RatePerSecond < 0:
		return fmt.Errorf("%w: retry durations and rate must not be negative", domain.ErrInvalidInput)
	case p.Keyword.FuzzyDistance < 0:
		return fmt.Errorf("%w: fuzzy distance must not be negative", domain.ErrInvalidInput)
	case !p.Extraction.Strategy.IsValid():
		return fmt.Errorf("%w: unknown extraction strategy %q", domain.ErrInvalidInput, p.Extraction.Strategy)
	}

	if !slices.Contains(domain.AllEmbeddingProviders(), settings.Embedding.Provider) {
		return fmt.Errorf("%w: provider %s does not support embeddings",
			domain.ErrInvalidInput, settings.Embedding.Provider)
	}
	if !slices.Contains(domain.AllLLMProviders(), settings.LLM.Provider) {
		return fmt.Errorf("%w: unknown llm provider %s", domain.ErrInvalidInput, settings.LLM.Provider)
	}
	if needsVertex(settings) && settings.Vertex.Project == "" {
		return fmt.Errorf("%w: vertex.project is required for vertex backends", domain.ErrInvalidInput)
	}

	return nil
}

// SetEmbeddingProvider configures the embedding provider.
func (s *SettingsService) SetEmbeddingProvider(provider domain.AIProvider, model, apiKey string) error {
	if !slices.Contains(domain.AllEmbeddingProviders(), provider) {
		return fmt.Errorf("provider %s does not support embeddings", provider)
	}

	// Validate API key if required
	if provider.RequiresAPIKey() && apiKey == "" {
		return fmt.Errorf("API key required for %s", provider)
	}

	settings, err := s.Get()
	if err != nil {
		return err
	}

	settings.Embedding.Provider = provider
	settings.Embedding.Model = modelOrDefault(model, domain.DefaultEmbeddingModels()[provider])
	settings.Embedding.BaseURL = baseURLFor(provider, settings.Embedding.BaseURL)
	settings.Embedding.APIKey = apiKey

	return s.Save(settings)
}

// SetLLMProvider configures the LLM provider.
func (s *SettingsService) SetLLMProvider(provider domain.AIProvider, model, apiKey string) error {
	if !provider.IsValid() {
		return fmt.Errorf("invalid LLM provider: %s", provider)
	}

	// Validate API key if required
	if provider.RequiresAPIKey() && apiKey == "" {
		return fmt.Errorf("API key required for %s", provider)
	}

	settings, err := s.Get()
	if err != nil {
		return err
	}

	settings.LLM.Provider = provider
	settings.LLM.Model = modelOrDefault(model, domain.DefaultLLMModels()[provider])
	settings.LLM.BaseURL = baseURLFor(provider, settings.LLM.BaseURL)
	settings.LLM.APIKey = apiKey

	return s.Save(settings)
}

// GetDefaults returns default settings.
func (s *SettingsService) GetDefaults() domain.AppSettings {
	return domain.DefaultAppSettings()
}

// ValidateProviders pings the configured embedding and LLM providers.
func (s *SettingsService) ValidateProviders() error {
	if s.aiValidator == nil {
		return nil
	}
	settings, err := s.Get()
	if err != nil {
		return err
	}
	if err := s.aiValidator.ValidateEmbedding(&settings.Embedding); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
	}
	if err := s.aiValidator.ValidateLLM(&settings.LLM); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrLLMUnavailable, err)
	}
	return nil
}

func needsVertex(settings *domain.AppSettings) bool {
	return settings.Pipeline.OCR.Backend == domain.OCRBackendVertex ||
		settings.LLM.Provider == domain.AIProviderVertex
}

func modelOrDefault(model, fallback string) string {
	if model != "" {
		return model
	}
	return fallback
}

// baseURLFor keeps a custom endpoint for local providers and clears it for cloud ones.
func baseURLFor(provider domain.AIProvider, current string) string {
	if !provider.IsLocal() {
		return ""
	}
	if current == "" {
		return "http://localhost:11434"
	}
	return current
}

// Helper methods for reading config with defaults.

func (s *SettingsService) getString(key, defaultVal string) string {
	val := s.configStore.GetString(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getInt(key string, defaultVal int) int {
	val := s.configStore.GetInt(key)
	if val == 0 {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getIntAllowZero(key string, defaultVal int) int {
	if _, exists := s.configStore.Get(key); !exists {
		return defaultVal
	}
	return s.configStore.GetInt(key)
}

func (s *SettingsService) getFloat(key string, defaultVal float64) float64 {
	if _, exists := s.configStore.Get(key); !exists {
		return defaultVal
	}
	return s.configStore.GetFloat(key)
}

func (s *SettingsService) getMillis(key string, defaultVal time.Duration) time.Duration {
	if _, exists := s.configStore.Get(key); !exists {
		return defaultVal
	}
	return time.Duration(s.configStore.GetInt(key)) * time.Millisecond
}

func (s *SettingsService) getProvider(key string, defaultVal domain.AIProvider) domain.AIProvider {
	val := s.configStore.GetString(key)
	if val == "" {
		return defaultVal
	}
	provider := domain.AIProvider(val)
	if !provider.IsValid() {
		return defaultVal
	}
	return provider
}
