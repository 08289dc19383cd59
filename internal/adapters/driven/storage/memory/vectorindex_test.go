package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

func TestVectorIndex_SearchCosine(t *testing.T) {
	idx := NewVectorIndex(domain.MetricCosine, 0)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, driven.VectorEntry{DocumentID: "d1", ChunkID: "a", Position: 0, Vector: []float32{1, 0}}))
	require.NoError(t, idx.Add(ctx, driven.VectorEntry{DocumentID: "d1", ChunkID: "b", Position: 1, Vector: []float32{0, 1}}))
	require.NoError(t, idx.Add(ctx, driven.VectorEntry{DocumentID: "d2", ChunkID: "z", Position: 0, Vector: []float32{1, 0}}))

	hits, err := idx.Search(ctx, "d1", []float32{1, 0.1}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ChunkID)
	assert.Equal(t, "b", hits[1].ChunkID)
	assert.Greater(t, hits[0].Similarity, hits[1].Similarity)
}

func TestVectorIndex_TiesOrderedByPosition(t *testing.T) {
	idx := NewVectorIndex(domain.MetricCosine, 2)
	ctx := context.Background()
	for _, e := range []driven.VectorEntry{
		{DocumentID: "d1", ChunkID: "third", Position: 2, Vector: []float32{1, 1}},
		{DocumentID: "d1", ChunkID: "first", Position: 0, Vector: []float32{1, 1}},
		{DocumentID: "d1", ChunkID: "second", Position: 1, Vector: []float32{1, 1}},
	} {
		require.NoError(t, idx.Add(ctx, e))
	}

	hits, err := idx.Search(ctx, "d1", []float32{1, 1}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "first", hits[0].ChunkID)
	assert.Equal(t, "second", hits[1].ChunkID)
}

func TestVectorIndex_L2(t *testing.T) {
	idx := NewVectorIndex(domain.MetricL2, 0)
	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, driven.VectorEntry{DocumentID: "d1", ChunkID: "near", Vector: []float32{1, 1}}))
	require.NoError(t, idx.Add(ctx, driven.VectorEntry{DocumentID: "d1", ChunkID: "far", Position: 1, Vector: []float32{5, 5}}))

	hits, err := idx.Search(ctx, "d1", []float32{1, 1}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "near", hits[0].ChunkID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-9)
}

func TestVectorIndex_EmptyPartition(t *testing.T) {
	idx := NewVectorIndex(domain.MetricCosine, 3)
	hits, err := idx.Search(context.Background(), "none", []float32{1, 2}, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestVectorIndex_DimensionMismatch(t *testing.T) {
	idx := NewVectorIndex(domain.MetricCosine, 0)
	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, driven.VectorEntry{DocumentID: "d1", ChunkID: "a", Vector: []float32{1, 0}}))

	err := idx.Add(ctx, driven.VectorEntry{DocumentID: "d1", ChunkID: "b", Vector: []float32{1, 0, 0}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = idx.Search(ctx, "d1", []float32{1, 0, 0}, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestVectorIndex_CountAndDelete(t *testing.T) {
	idx := NewVectorIndex(domain.MetricCosine, 0)
	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, driven.VectorEntry{DocumentID: "d1", ChunkID: "a", Vector: []float32{1}}))
	require.NoError(t, idx.Add(ctx, driven.VectorEntry{DocumentID: "d1", ChunkID: "a", Vector: []float32{2}}))

	n, err := idx.Count(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, idx.DeleteDocument(ctx, "d1"))
	n, err = idx.Count(ctx, "d1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestVectorIndex_DimensionsPerPartition(t *testing.T) {
	idx := NewVectorIndex(domain.MetricCosine, 0)
	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, driven.VectorEntry{DocumentID: "old", ChunkID: "a", Vector: []float32{1, 0}}))
	require.NoError(t, idx.Add(ctx, driven.VectorEntry{DocumentID: "new", ChunkID: "b", Vector: []float32{0, 1, 0}}))

	hits, err := idx.Search(ctx, "new", []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].ChunkID)

	_, err = idx.Search(ctx, "old", []float32{0, 1, 0}, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestVectorIndex_DeleteResetsDimensions(t *testing.T) {
	idx := NewVectorIndex(domain.MetricCosine, 0)
	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, driven.VectorEntry{DocumentID: "d1", ChunkID: "a", Vector: []float32{1, 0}}))
	require.NoError(t, idx.DeleteDocument(ctx, "d1"))

	require.NoError(t, idx.Add(ctx, driven.VectorEntry{DocumentID: "d1", ChunkID: "a", Vector: []float32{1, 0, 0}}))
	n, err := idx.Count(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestVectorIndex_FixedDimensions(t *testing.T) {
	idx := NewVectorIndex(domain.MetricCosine, 3)
	err := idx.Add(context.Background(), driven.VectorEntry{DocumentID: "d1", ChunkID: "a", Vector: []float32{1, 0}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
