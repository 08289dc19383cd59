package memory

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

// Ensure EmbeddingCache implements the interface.
var _ driven.EmbeddingCache = (*EmbeddingCache)(nil)

// DefaultCacheSize is the number of embeddings kept by default.
const DefaultCacheSize = 4096

// EmbeddingCache is a bounded LRU keyed by content hash and model.
// With a backing cache it reads through on a miss and writes through on Put.
type EmbeddingCache struct {
	entries *lru.Cache[string, []float32]
	backing driven.EmbeddingCache
}

// NewEmbeddingCache creates a cache holding at most size embeddings.
func NewEmbeddingCache(size int) *EmbeddingCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, _ := lru.New[string, []float32](size) // only fails for size <= 0
	return &EmbeddingCache{entries: entries}
}

// NewTieredEmbeddingCache creates an LRU in front of a persistent cache.
func NewTieredEmbeddingCache(size int, backing driven.EmbeddingCache) *EmbeddingCache {
	c := NewEmbeddingCache(size)
	c.backing = backing
	return c
}

// Get returns the cached embedding and whether it was present.
func (c *EmbeddingCache) Get(ctx context.Context, contentHash, model string) ([]float32, bool, error) {
	key := cacheKey(contentHash, model)
	if emb, ok := c.entries.Get(key); ok {
		return append([]float32(nil), emb...), true, nil
	}
	if c.backing == nil {
		return nil, false, nil
	}
	emb, ok, err := c.backing.Get(ctx, contentHash, model)
	if err != nil || !ok {
		return nil, false, err
	}
	c.entries.Add(key, append([]float32(nil), emb...))
	return emb, true, nil
}

// Put stores an embedding.
func (c *EmbeddingCache) Put(ctx context.Context, contentHash, model string, embedding []float32) error {
	c.entries.Add(cacheKey(contentHash, model), append([]float32(nil), embedding...))
	if c.backing != nil {
		return c.backing.Put(ctx, contentHash, model, embedding)
	}
	return nil
}

// Len returns the number of cached embeddings.
func (c *EmbeddingCache) Len() int {
	return c.entries.Len()
}

func cacheKey(contentHash, model string) string {
	return model + "\x00" + contentHash
}
