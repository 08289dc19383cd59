package domain

import "time"

const unknownDescription = "Unknown"

// AIProvider identifies an AI service provider for embeddings or LLM.
type AIProvider string

// Available AI providers.
const (
	// AIProviderOllama is local Ollama instance.
	AIProviderOllama AIProvider = "ollama"

	// AIProviderOpenAI is OpenAI cloud API.
	AIProviderOpenAI AIProvider = "openai"

	// AIProviderAnthropic is Anthropic cloud API.
	AIProviderAnthropic AIProvider = "anthropic"

	// AIProviderVertex is Google Vertex AI (Gemini).
	AIProviderVertex AIProvider = "vertex"
)

// IsValid returns true if the AI provider is recognised.
func (p AIProvider) IsValid() bool {
	switch p {
	case AIProviderOllama, AIProviderOpenAI, AIProviderAnthropic, AIProviderVertex:
		return true
	default:
		return false
	}
}

// RequiresAPIKey returns true if this provider needs an API key.
// Vertex authenticates with application default credentials.
func (p AIProvider) RequiresAPIKey() bool {
	return p == AIProviderOpenAI || p == AIProviderAnthropic
}

// IsLocal returns true if this provider runs locally.
func (p AIProvider) IsLocal() bool {
	return p == AIProviderOllama
}

// String returns the string representation.
func (p AIProvider) String() string {
	return string(p)
}

// Description returns a human-readable description of the provider.
func (p AIProvider) Description() string {
	switch p {
	case AIProviderOllama:
		return "Ollama (local)"
	case AIProviderOpenAI:
		return "OpenAI (cloud)"
	case AIProviderAnthropic:
		return "Anthropic (cloud)"
	case AIProviderVertex:
		return "Vertex AI Gemini (cloud)"
	default:
		return unknownDescription
	}
}

// OCRBackend selects the text extraction backend.
type OCRBackend string

// Available OCR backends.
const (
	// OCRBackendTesseract runs the local tesseract engine.
	OCRBackendTesseract OCRBackend = "tesseract"

	// OCRBackendVertex sends page images to a Gemini vision model.
	OCRBackendVertex OCRBackend = "vertex"
)

// IsValid returns true if the OCR backend is recognised.
func (b OCRBackend) IsValid() bool {
	return b == OCRBackendTesseract || b == OCRBackendVertex
}

// ExtractionStrategy selects the structured extraction backend.
type ExtractionStrategy string

// Available extraction strategies.
const (
	// ExtractionAgent runs an extraction agent followed by an observation agent.
	ExtractionAgent ExtractionStrategy = "agent"

	// ExtractionSinglePass asks for the whole record in one prompt.
	ExtractionSinglePass ExtractionStrategy = "single_pass"
)

// IsValid returns true if the strategy is recognised.
func (s ExtractionStrategy) IsValid() bool {
	return s == ExtractionAgent || s == ExtractionSinglePass
}

// EmbeddingSettings holds embedding provider configuration.
type EmbeddingSettings struct {
	// Provider is the embedding service provider.
	Provider AIProvider

	// Model is the embedding model name.
	Model string

	// BaseURL is the API endpoint (for Ollama).
	BaseURL string

	// APIKey is the API key (for OpenAI).
	APIKey string
}

// IsConfigured returns true if the embedding provider is set up.
func (e EmbeddingSettings) IsConfigured() bool {
	if !e.Provider.IsValid() {
		return false
	}
	if e.Provider.RequiresAPIKey() && e.APIKey == "" {
		return false
	}
	return true
}

// LLMSettings holds LLM provider configuration.
type LLMSettings struct {
	// Provider is the LLM service provider.
	Provider AIProvider

	// Model is the LLM model name.
	Model string

	// BaseURL is the API endpoint (for Ollama).
	BaseURL string

	// APIKey is the API key (for OpenAI/Anthropic).
	APIKey string
}

// IsConfigured returns true if the LLM provider is set up.
func (l LLMSettings) IsConfigured() bool {
	if !l.Provider.IsValid() {
		return false
	}
	if l.Provider.RequiresAPIKey() && l.APIKey == "" {
		return false
	}
	return true
}

// VertexSettings holds Google Cloud settings shared by Vertex backends.
type VertexSettings struct {
	Project string
	Region  string

	// OCRModel is the Gemini model used for vision OCR.
	OCRModel string

	// CredentialsFile is a service account key file. Empty uses
	// application default credentials.
	CredentialsFile string
}

// ChunkSettings configures the token window chunker.
type ChunkSettings struct {
	// WindowSize is the number of tokens per chunk.
	WindowSize int

	// Overlap is the number of tokens shared by consecutive chunks.
	// Must be smaller than WindowSize.
	Overlap int
}

// RetrievalSettings configures the retriever.
type RetrievalSettings struct {
	// TopK is the number of chunks returned per query.
	TopK int

	// SimilarityThreshold drops hits scoring below it.
	SimilarityThreshold float64

	// Metric is the vector comparison used by the index.
	Metric SimilarityMetric
}

// OCRSettings configures the OCR stage.
type OCRSettings struct {
	// Backend selects the text extraction backend.
	Backend OCRBackend

	// FailureBudget is the fraction of pages allowed to fail before the
	// document is marked Failed(ocr). Zero fails on any page failure.
	FailureBudget float64

	// Concurrency bounds parallel page OCR calls.
	Concurrency int

	// Language is the tesseract language code.
	Language string
}

// RetrySettings bounds backend calls.
type RetrySettings struct {
	// Attempts is the total number of tries per call.
	Attempts int

	// Backoff is the delay before the second attempt; it doubles after that.
	Backoff time.Duration

	// CallTimeout is the per-call deadline.
	CallTimeout time.Duration

	// RatePerSecond limits backend calls, zero is unlimited.
	RatePerSecond float64
}

// KeywordSettings configures keyword search.
type KeywordSettings struct {
	// FuzzyDistance is the default edit distance threshold.
	FuzzyDistance int

	// SnippetRadius is the number of bytes of context on each side of a match.
	SnippetRadius int
}

// ExtractionSettings configures structured extraction.
type ExtractionSettings struct {
	Strategy ExtractionStrategy
}

// PipelineSettings holds the tunable pipeline parameters.
type PipelineSettings struct {
	Chunk      ChunkSettings
	Retrieval  RetrievalSettings
	OCR        OCRSettings
	Retry      RetrySettings
	Keyword    KeywordSettings
	Extraction ExtractionSettings
}

// AppSettings holds all application settings.
type AppSettings struct {
	// Pipeline holds pipeline tuning.
	Pipeline PipelineSettings

	// Embedding holds embedding provider settings.
	Embedding EmbeddingSettings

	// LLM holds LLM provider settings.
	LLM LLMSettings

	// Vertex holds Google Cloud settings.
	Vertex VertexSettings
}

// DefaultPipelineSettings returns the pipeline defaults.
func DefaultPipelineSettings() PipelineSettings {
	return PipelineSettings{
		Chunk: ChunkSettings{
			WindowSize: 100,
			Overlap:    20,
		},
		Retrieval: RetrievalSettings{
			TopK:   3,
			Metric: MetricCosine,
		},
		OCR: OCRSettings{
			Backend:       OCRBackendTesseract,
			FailureBudget: 0,
			Concurrency:   4,
			Language:      "eng",
		},
		Retry: RetrySettings{
			Attempts:    3,
			Backoff:     500 * time.Millisecond,
			CallTimeout: 60 * time.Second,
		},
		Keyword: KeywordSettings{
			FuzzyDistance: 2,
			SnippetRadius: 40,
		},
		Extraction: ExtractionSettings{
			Strategy: ExtractionAgent,
		},
	}
}

// DefaultAppSettings returns settings with sensible defaults.
// Embedding and generation default to a local Ollama instance.
func DefaultAppSettings() AppSettings {
	return AppSettings{
		Pipeline: DefaultPipelineSettings(),
		Embedding: EmbeddingSettings{
			Provider: AIProviderOllama,
			Model:    DefaultEmbeddingModels()[AIProviderOllama],
			BaseURL:  "http://localhost:11434",
		},
		LLM: LLMSettings{
			Provider: AIProviderOllama,
			Model:    DefaultLLMModels()[AIProviderOllama],
			BaseURL:  "http://localhost:11434",
		},
		Vertex: VertexSettings{
			Region:   "us-central1",
			OCRModel: "gemini-1.5-pro",
		},
	}
}

// AllEmbeddingProviders returns providers that support embeddings.
func AllEmbeddingProviders() []AIProvider {
	return []AIProvider{
		AIProviderOllama,
		AIProviderOpenAI,
	}
}

// AllLLMProviders returns providers that support LLM operations.
func AllLLMProviders() []AIProvider {
	return []AIProvider{
		AIProviderOllama,
		AIProviderOpenAI,
		AIProviderAnthropic,
		AIProviderVertex,
	}
}

// DefaultEmbeddingModels returns default models for each embedding provider.
func DefaultEmbeddingModels() map[AIProvider]string {
	return map[AIProvider]string{
		AIProviderOllama: "nomic-embed-text",
		AIProviderOpenAI: "text-embedding-3-small",
	}
}

// DefaultLLMModels returns default models for each LLM provider.
func DefaultLLMModels() map[AIProvider]string {
	return map[AIProvider]string{
		AIProviderOllama:    "llama3.2",
		AIProviderOpenAI:    "gpt-4o-mini",
		AIProviderAnthropic: "claude-3-5-sonnet-latest",
		AIProviderVertex:    "gemini-1.5-pro",
	}
}

// EmbeddingDimensions returns the vector dimensions for known models.
func EmbeddingDimensions() map[string]int {
	return map[string]int{
		// Ollama models
		"nomic-embed-text":  768,
		"mxbai-embed-large": 1024,
		"all-minilm":        384,
		// OpenAI models
		"text-embedding-3-small": 1536,
		"text-embedding-3-large": 3072,
		"text-embedding-ada-002": 1536,
	}
}
