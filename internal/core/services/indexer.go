package services

import (
	"context"
	"fmt"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
	"github.com/custodia-labs/docintel/internal/logger"
)

// ChunkIndexer chunks recognised text, embeds the chunks and maintains the
// document's vector index partition.
type ChunkIndexer struct {
	chunker  driven.TextChunker
	chunks   driven.ChunkStore
	index    driven.VectorIndex
	embedder driven.EmbeddingService
	cache    driven.EmbeddingCache
	caller   *caller
}

// IndexResult summarises an indexing run.
type IndexResult struct {
	// Model is the embedding model id of the index.
	Model string

	// Chunks is the number of chunks in the index.
	Chunks int

	// Reused counts chunks whose stored embedding was kept.
	Reused int

	// CacheHits counts embeddings served by the content hash cache.
	CacheHits int

	// Embedded counts embeddings requested from the provider.
	Embedded int
}

// NewChunkIndexer creates a chunk indexer.
// The cache is optional; embedder may be nil, in which case Index fails
// with domain.ErrEmbeddingUnavailable.
func NewChunkIndexer(
	chunker driven.TextChunker,
	chunks driven.ChunkStore,
	index driven.VectorIndex,
	embedder driven.EmbeddingService,
	cache driven.EmbeddingCache,
	retry domain.RetrySettings,
) *ChunkIndexer {
	return &ChunkIndexer{
		chunker:  chunker,
		chunks:   chunks,
		index:    index,
		embedder: embedder,
		cache:    cache,
		caller:   newCaller(retry),
	}
}

// ModelName returns the active embedding model id, empty if unavailable.
func (i *ChunkIndexer) ModelName() string {
	if i.embedder == nil {
		return ""
	}
	return i.embedder.ModelName()
}

// Index chunks the document and embeds every chunk that lacks an embedding
// from the active model. Each embedding is persisted as soon as it exists,
// so a failed run resumes from the chunks still missing one.
func (i *ChunkIndexer) Index(ctx context.Context, doc *domain.Document, stop <-chan struct{}) (*IndexResult, error) {
	if i.embedder == nil {
		return nil, domain.ErrEmbeddingUnavailable
	}
	model := i.embedder.ModelName()
	result := &IndexResult{Model: model}

	chunks, err := i.chunker.Chunk(doc)
	if err != nil {
		return nil, fmt.Errorf("chunk document: %w", err)
	}
	result.Chunks = len(chunks)

	existing, err := i.chunks.GetChunks(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	prior := make(map[string]domain.Chunk, len(existing))
	for _, c := range existing {
		prior[c.ID] = c
	}
	for idx := range chunks {
		if p, ok := prior[chunks[idx].ID]; ok && p.IsEmbedded(model) {
			chunks[idx].Embedding = p.Embedding
			chunks[idx].EmbeddingModel = model
			result.Reused++
		}
	}

	if err := i.chunks.SaveChunks(ctx, doc.ID, chunks); err != nil {
		return nil, fmt.Errorf("save chunks: %w", err)
	}
	logger.Debug("Indexing %s: %d chunks, %d already embedded", doc.ID, len(chunks), result.Reused)

	for idx := range chunks {
		c := &chunks[idx]
		if c.IsEmbedded(model) {
			continue
		}
		if stopped(stop) {
			return result, domain.ErrCancelled
		}

		vec, hit, err := i.embed(ctx, stop, c.ContentHash, c.Content, model)
		if err != nil {
			return result, fmt.Errorf("embed chunk %s: %w", c.ID, err)
		}
		if hit {
			result.CacheHits++
		} else {
			result.Embedded++
		}

		if err := i.chunks.SaveEmbedding(ctx, c.ID, vec, model); err != nil {
			return result, fmt.Errorf("save embedding: %w", err)
		}
		c.Embedding = vec
		c.EmbeddingModel = model
	}

	if err := i.rebuild(ctx, doc.ID, chunks); err != nil {
		return result, err
	}

	logger.Info("Indexed %s: %d chunks (%d embedded, %d cached, %d reused)",
		doc.ID, result.Chunks, result.Embedded, result.CacheHits, result.Reused)
	return result, nil
}

// Warm loads persisted embeddings into an empty index partition, for
// indexes that do not survive process restarts.
func (i *ChunkIndexer) Warm(ctx context.Context, documentID, model string) (int, error) {
	chunks, err := i.chunks.GetChunks(ctx, documentID)
	if err != nil {
		return 0, fmt.Errorf("get chunks: %w", err)
	}
	var embedded []domain.Chunk
	for _, c := range chunks {
		if c.IsEmbedded(model) {
			embedded = append(embedded, c)
		}
	}
	if len(embedded) == 0 {
		return 0, nil
	}
	if err := i.rebuild(ctx, documentID, embedded); err != nil {
		return 0, err
	}
	return len(embedded), nil
}

func (i *ChunkIndexer) embed(
	ctx context.Context, stop <-chan struct{}, hash, text, model string,
) ([]float32, bool, error) {
	if i.cache != nil {
		vec, ok, err := i.cache.Get(ctx, hash, model)
		if err != nil {
			logger.Warn("Embedding cache lookup failed: %v", err)
		} else if ok {
			return vec, true, nil
		}
	}

	var vec []float32
	err := i.caller.do(ctx, stop, "embed", func(callCtx context.Context) error {
		var embedErr error
		vec, embedErr = i.embedder.Embed(callCtx, text)
		return asProviderError(model, "embed", embedErr)
	})
	if err != nil {
		return nil, false, err
	}

	if i.cache != nil {
		if err := i.cache.Put(ctx, hash, model, vec); err != nil {
			logger.Warn("Embedding cache store failed: %v", err)
		}
	}
	return vec, false, nil
}

// rebuild replaces the document's index partition with chunks.
func (i *ChunkIndexer) rebuild(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	if err := i.index.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("reset index: %w", err)
	}
	for _, c := range chunks {
		entry := driven.VectorEntry{
			DocumentID: documentID,
			ChunkID:    c.ID,
			Position:   c.Position,
			Vector:     c.Embedding,
		}
		if err := i.index.Add(ctx, entry); err != nil {
			return fmt.Errorf("add vector: %w", err)
		}
	}
	return nil
}
