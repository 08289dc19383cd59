package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

// Ensure ChunkStore implements the interface.
var _ driven.ChunkStore = (*ChunkStore)(nil)

// ChunkStore is an in-memory implementation of driven.ChunkStore.
type ChunkStore struct {
	mu     sync.RWMutex
	chunks map[string]domain.Chunk
	byDoc  map[string][]string
}

// NewChunkStore creates a new in-memory chunk store.
func NewChunkStore() *ChunkStore {
	return &ChunkStore{
		chunks: make(map[string]domain.Chunk),
		byDoc:  make(map[string][]string),
	}
}

// SaveChunks replaces the chunk set of a document, keeping the embeddings
// of chunks whose id is unchanged.
func (s *ChunkStore) SaveChunks(_ context.Context, documentID string, chunks []domain.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := make(map[string]domain.Chunk, len(s.byDoc[documentID]))
	for _, id := range s.byDoc[documentID] {
		old[id] = s.chunks[id]
		delete(s.chunks, id)
	}

	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if prev, ok := old[c.ID]; ok && len(c.Embedding) == 0 {
			c.Embedding = prev.Embedding
			c.EmbeddingModel = prev.EmbeddingModel
		}
		c.DocumentID = documentID
		c.Embedding = append([]float32(nil), c.Embedding...)
		s.chunks[c.ID] = c
		ids = append(ids, c.ID)
	}
	s.byDoc[documentID] = ids
	return nil
}

// SaveEmbedding stores the embedding of one chunk.
func (s *ChunkStore) SaveEmbedding(_ context.Context, chunkID string, embedding []float32, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunks[chunkID]
	if !ok {
		return fmt.Errorf("chunk %s: %w", chunkID, domain.ErrNotFound)
	}
	c.Embedding = append([]float32(nil), embedding...)
	c.EmbeddingModel = model
	s.chunks[chunkID] = c
	return nil
}

// GetChunks retrieves all chunks for a document ordered by position.
func (s *ChunkStore) GetChunks(_ context.Context, documentID string) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Chunk, 0, len(s.byDoc[documentID]))
	for _, id := range s.byDoc[documentID] {
		out = append(out, s.chunks[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

// GetChunk retrieves a specific chunk by ID.
func (s *ChunkStore) GetChunk(_ context.Context, id string) (*domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chunks[id]
	if !ok {
		return nil, fmt.Errorf("chunk %s: %w", id, domain.ErrNotFound)
	}
	return &c, nil
}

func (s *ChunkStore) deleteDocument(documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.byDoc[documentID] {
		delete(s.chunks, id)
	}
	delete(s.byDoc, documentID)
}
