package driven

import "github.com/custodia-labs/docintel/internal/core/domain"

// AIConfigValidator checks provider settings against the live provider.
type AIConfigValidator interface {
	// ValidateEmbedding pings the configured embedding provider.
	ValidateEmbedding(config *domain.EmbeddingSettings) error

	// ValidateLLM pings the configured generation provider.
	ValidateLLM(config *domain.LLMSettings) error
}
