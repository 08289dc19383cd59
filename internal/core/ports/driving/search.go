package driving

import (
	"context"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

// KeywordSearchService finds keywords in recognised text.
type KeywordSearchService interface {
	// Search returns matches ordered by page and offset.
	Search(ctx context.Context, documentID, keyword string, opts domain.SearchOptions) ([]domain.Match, error)
}
