package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

func TestChunkIndexer_Index(t *testing.T) {
	f := newFixture(t, nil)
	doc := f.addRecognized(t, "doc-1", labPages[0], labPages[1], labPages[2])
	ctx := context.Background()

	res, err := f.indexer.Index(ctx, doc, nil)
	require.NoError(t, err)
	assert.Equal(t, "mock-embed-v1", res.Model)
	assert.Positive(t, res.Chunks)
	assert.Equal(t, res.Chunks, res.Embedded)
	assert.Zero(t, res.Reused)

	chunks, err := f.chunks.GetChunks(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, chunks, res.Chunks)
	for _, c := range chunks {
		assert.True(t, c.IsEmbedded("mock-embed-v1"), c.ID)
		assert.Equal(t, "doc-1", c.DocumentID)
	}

	n, err := f.index.Count(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, res.Chunks, n)
}

func TestChunkIndexer_ReindexReusesEmbeddings(t *testing.T) {
	f := newFixture(t, nil)
	doc := f.addRecognized(t, "doc-1", labPages[0], labPages[1])
	ctx := context.Background()

	first, err := f.indexer.Index(ctx, doc, nil)
	require.NoError(t, err)
	calls := f.embedder.callCount()

	second, err := f.indexer.Index(ctx, doc, nil)
	require.NoError(t, err)
	assert.Equal(t, first.Chunks, second.Reused)
	assert.Zero(t, second.Embedded)
	assert.Equal(t, calls, f.embedder.callCount())
}

func TestChunkIndexer_CacheHitSkipsProvider(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.addRecognized(t, "doc-a", labPages[1])
	b := f.addRecognized(t, "doc-b", labPages[1])

	_, err := f.indexer.Index(ctx, a, nil)
	require.NoError(t, err)
	calls := f.embedder.callCount()

	res, err := f.indexer.Index(ctx, b, nil)
	require.NoError(t, err)
	assert.Equal(t, calls, f.embedder.callCount())
	assert.Equal(t, res.Chunks, res.CacheHits)
	assert.Zero(t, res.Embedded)
}

func TestChunkIndexer_ModelChangeReembeds(t *testing.T) {
	f := newFixture(t, nil)
	doc := f.addRecognized(t, "doc-1", labPages[0])
	ctx := context.Background()

	_, err := f.indexer.Index(ctx, doc, nil)
	require.NoError(t, err)

	f.embedder.model = "mock-embed-v2"
	res, err := f.indexer.Index(ctx, doc, nil)
	require.NoError(t, err)
	assert.Equal(t, "mock-embed-v2", res.Model)
	assert.Zero(t, res.Reused)
	assert.Equal(t, res.Chunks, res.Embedded)
}

func TestChunkIndexer_ProviderFailureKeepsProgress(t *testing.T) {
	f := newFixture(t, nil)
	doc := f.addRecognized(t, "doc-1", labPages[0])
	ctx := context.Background()

	f.embedder.err = errBoom
	_, err := f.indexer.Index(ctx, doc, nil)
	require.Error(t, err)
	var pe *domain.ProviderError
	assert.ErrorAs(t, err, &pe)

	chunks, err := f.chunks.GetChunks(ctx, "doc-1")
	require.NoError(t, err)
	assert.NotEmpty(t, chunks)

	f.embedder.err = nil
	_, err = f.indexer.Index(ctx, doc, nil)
	require.NoError(t, err)
}

func TestChunkIndexer_Stopped(t *testing.T) {
	f := newFixture(t, nil)
	doc := f.addRecognized(t, "doc-1", labPages[0])
	stop := make(chan struct{})
	close(stop)

	_, err := f.indexer.Index(context.Background(), doc, stop)
	assert.ErrorIs(t, err, domain.ErrCancelled)
	assert.Zero(t, f.embedder.callCount())
}

func TestChunkIndexer_NoEmbedder(t *testing.T) {
	f := newFixture(t, nil)
	doc := f.addRecognized(t, "doc-1", labPages[0])
	idx := NewChunkIndexer(nil, f.chunks, f.index, nil, nil, f.settings.Retry)

	_, err := idx.Index(context.Background(), doc, nil)
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	assert.Empty(t, idx.ModelName())
}

func TestChunkIndexer_WarmRestoresPartition(t *testing.T) {
	f := newFixture(t, nil)
	doc := f.addRecognized(t, "doc-1", labPages[0], labPages[1])
	ctx := context.Background()

	res, err := f.indexer.Index(ctx, doc, nil)
	require.NoError(t, err)
	require.NoError(t, f.index.DeleteDocument(ctx, "doc-1"))

	n, err := f.indexer.Warm(ctx, "doc-1", res.Model)
	require.NoError(t, err)
	assert.Equal(t, res.Chunks, n)

	n, err = f.indexer.Warm(ctx, "doc-1", "other-model")
	require.NoError(t, err)
	assert.Zero(t, n)
}
