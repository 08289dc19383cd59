package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

// Ensure VectorIndex implements the interface.
var _ driven.VectorIndex = (*VectorIndex)(nil)

// VectorIndex is an exact nearest-neighbour index partitioned per document.
type VectorIndex struct {
	mu         sync.RWMutex
	metric     domain.SimilarityMetric
	fixed      int
	partitions map[string]*partition
}

// partition holds one document's vectors. Its dimension is set by the first
// vector and forgotten when the partition is dropped.
type partition struct {
	dimensions int
	entries    map[string]driven.VectorEntry
}

// NewVectorIndex creates an index using metric. A non-zero dimensions is
// enforced for every partition; with 0 each partition takes the dimension
// of its first vector.
func NewVectorIndex(metric domain.SimilarityMetric, dimensions int) *VectorIndex {
	if !metric.IsValid() {
		metric = domain.MetricCosine
	}
	return &VectorIndex{
		metric:     metric,
		fixed:      dimensions,
		partitions: make(map[string]*partition),
	}
}

// Add inserts or replaces a vector in a document's partition.
func (x *VectorIndex) Add(_ context.Context, entry driven.VectorEntry) error {
	if len(entry.Vector) == 0 {
		return fmt.Errorf("%w: empty vector for chunk %s", domain.ErrInvalidInput, entry.ChunkID)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	part, ok := x.partitions[entry.DocumentID]
	if !ok {
		dims := x.fixed
		if dims == 0 {
			dims = len(entry.Vector)
		}
		part = &partition{dimensions: dims, entries: make(map[string]driven.VectorEntry)}
	}
	if len(entry.Vector) != part.dimensions {
		return fmt.Errorf("%w: vector has %d dimensions, partition %s has %d",
			domain.ErrInvalidInput, len(entry.Vector), entry.DocumentID, part.dimensions)
	}
	x.partitions[entry.DocumentID] = part
	entry.Vector = append([]float32(nil), entry.Vector...)
	part.entries[entry.ChunkID] = entry
	return nil
}

// Search finds the k nearest chunks to query within one document.
func (x *VectorIndex) Search(_ context.Context, documentID string, query []float32, k int) ([]driven.VectorHit, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	part, ok := x.partitions[documentID]
	if !ok || k <= 0 {
		return []driven.VectorHit{}, nil
	}
	if len(query) != part.dimensions {
		return nil, fmt.Errorf("%w: query has %d dimensions, partition %s has %d",
			domain.ErrInvalidInput, len(query), documentID, part.dimensions)
	}

	hits := make([]driven.VectorHit, 0, len(part.entries))
	for _, e := range part.entries {
		hits = append(hits, driven.VectorHit{
			ChunkID:    e.ChunkID,
			Position:   e.Position,
			Similarity: x.similarity(query, e.Vector),
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].Position < hits[j].Position
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Count returns the number of vectors in a document's partition.
func (x *VectorIndex) Count(_ context.Context, documentID string) (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	part, ok := x.partitions[documentID]
	if !ok {
		return 0, nil
	}
	return len(part.entries), nil
}

// DeleteDocument drops a document's partition.
func (x *VectorIndex) DeleteDocument(_ context.Context, documentID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.partitions, documentID)
	return nil
}

// Close releases resources.
func (x *VectorIndex) Close() error {
	return nil
}

func (x *VectorIndex) similarity(a, b []float32) float64 {
	if x.metric == domain.MetricL2 {
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return 1 / (1 + math.Sqrt(sum))
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
