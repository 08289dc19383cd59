package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
	"github.com/custodia-labs/docintel/internal/logger"
)

// Retriever finds the chunks of a document most similar to a query.
type Retriever struct {
	docs      driven.DocumentStore
	chunks    driven.ChunkStore
	index     driven.VectorIndex
	indexer   *ChunkIndexer
	embedder  driven.EmbeddingService
	caller    *caller
	topK      int
	threshold float64
}

// NewRetriever creates a retriever. The indexer is used to warm index
// partitions from persisted embeddings and may be nil.
func NewRetriever(
	docs driven.DocumentStore,
	chunks driven.ChunkStore,
	index driven.VectorIndex,
	indexer *ChunkIndexer,
	embedder driven.EmbeddingService,
	settings domain.RetrievalSettings,
	retry domain.RetrySettings,
) *Retriever {
	topK := settings.TopK
	if topK <= 0 {
		topK = domain.DefaultPipelineSettings().Retrieval.TopK
	}
	return &Retriever{
		docs:      docs,
		chunks:    chunks,
		index:     index,
		indexer:   indexer,
		embedder:  embedder,
		caller:    newCaller(retry),
		topK:      topK,
		threshold: settings.SimilarityThreshold,
	}
}

// ranked is a hit with the rank of its document in a multi-document query.
type ranked struct {
	domain.ScoredChunk
	docRank int
}

// Retrieve returns at most k chunks of one document ordered by descending
// score. An empty index yields an empty result, never an error.
func (r *Retriever) Retrieve(ctx context.Context, documentID, query string, k int) ([]domain.ScoredChunk, error) {
	return r.RetrieveAcross(ctx, []string{documentID}, query, k)
}

// RetrieveAcross searches several documents explicitly and merges the hits.
func (r *Retriever) RetrieveAcross(ctx context.Context, documentIDs []string, query string, k int) ([]domain.ScoredChunk, error) {
	logger.Section("Retrieval")
	if k <= 0 {
		k = r.topK
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.ScoredChunk{}, nil
	}

	var qvec []float32
	var all []ranked
	for rank, id := range documentIDs {
		doc, err := r.docs.GetDocument(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get document: %w", err)
		}

		if doc.Status.IndexModel == "" {
			logger.Debug("Document %s has not been indexed", id)
			continue
		}
		if r.embedder == nil {
			return nil, domain.ErrEmbeddingUnavailable
		}
		// Stale partitions are never loaded into the index.
		if doc.Status.IndexModel != r.embedder.ModelName() {
			return nil, &domain.IndexConsistencyError{
				DocumentID: id,
				IndexModel: doc.Status.IndexModel,
				QueryModel: r.embedder.ModelName(),
			}
		}

		count, err := r.partitionSize(ctx, doc)
		if err != nil {
			return nil, err
		}
		if count == 0 {
			logger.Debug("Document %s has an empty index", id)
			continue
		}

		if qvec == nil {
			if qvec, err = r.embedQuery(ctx, query); err != nil {
				return nil, err
			}
		}

		hits, err := r.search(ctx, doc, qvec, k)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			all = append(all, ranked{ScoredChunk: h, docRank: rank})
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.docRank != b.docRank {
			return a.docRank < b.docRank
		}
		if a.Chunk.Pages != b.Chunk.Pages {
			return a.Chunk.Pages.Less(b.Chunk.Pages)
		}
		return a.Chunk.Position < b.Chunk.Position
	})
	if len(all) > k {
		all = all[:k]
	}

	results := make([]domain.ScoredChunk, len(all))
	for i, h := range all {
		results[i] = h.ScoredChunk
	}
	logger.Debug("Retrieved %d chunks", len(results))
	return results, nil
}

// partitionSize returns the number of vectors indexed for doc, loading
// persisted embeddings when the partition is empty.
func (r *Retriever) partitionSize(ctx context.Context, doc *domain.Document) (int, error) {
	count, err := r.index.Count(ctx, doc.ID)
	if err != nil {
		return 0, fmt.Errorf("count vectors: %w", err)
	}
	if count > 0 || r.indexer == nil {
		return count, nil
	}
	return r.indexer.Warm(ctx, doc.ID, doc.Status.IndexModel)
}

func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	model := r.embedder.ModelName()
	var qvec []float32
	err := r.caller.do(ctx, nil, "embed query", func(callCtx context.Context) error {
		var err error
		qvec, err = r.embedder.Embed(callCtx, query)
		return asProviderError(model, "embed", err)
	})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return qvec, nil
}

func (r *Retriever) search(ctx context.Context, doc *domain.Document, qvec []float32, k int) ([]domain.ScoredChunk, error) {
	hits, err := r.index.Search(ctx, doc.ID, qvec, k)
	if errors.Is(err, domain.ErrInvalidInput) {
		return nil, &domain.IndexConsistencyError{
			DocumentID: doc.ID,
			IndexModel: doc.Status.IndexModel,
			QueryModel: r.embedder.ModelName(),
			Detail:     err.Error(),
		}
	}
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	results := make([]domain.ScoredChunk, 0, len(hits))
	for _, h := range hits {
		if r.threshold > 0 && h.Similarity < r.threshold {
			continue
		}
		chunk, err := r.chunks.GetChunk(ctx, h.ChunkID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				logger.Warn("Indexed chunk %s no longer stored", h.ChunkID)
				continue
			}
			return nil, fmt.Errorf("get chunk: %w", err)
		}
		results = append(results, domain.ScoredChunk{Chunk: *chunk, Score: h.Similarity})
	}
	return results, nil
}
