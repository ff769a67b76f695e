package indexing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congresssignal/backend/internal/storage/models"
	"github.com/congresssignal/backend/internal/vector/milvus"
	"github.com/congresssignal/backend/pkg/utils"
)

// testIndexStore implements Store for testing
type testIndexStore struct {
	extractions map[int64]*models.Extraction
	documents   map[int64]*models.Document
	setCalls    int
}

func newTestIndexStore() *testIndexStore {
	return &testIndexStore{
		extractions: make(map[int64]*models.Extraction),
		documents:   make(map[int64]*models.Document),
	}
}

func (s *testIndexStore) GetExtraction(id int64) (*models.Extraction, error) {
	e, ok := s.extractions[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return e, nil
}

func (s *testIndexStore) GetDocument(id int64) (*models.Document, error) {
	d, ok := s.documents[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return d, nil
}

func (s *testIndexStore) ListExtractionsNeedingEmbedding(limit int) ([]models.Extraction, error) {
	var out []models.Extraction
	for _, e := range s.extractions {
		if len(e.Embedding) == 0 || e.SummaryHash != utils.HashString(e.Summary) {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *testIndexStore) SetExtractionEmbedding(id int64, vector []float32, summaryHash string, at time.Time) error {
	s.setCalls++
	e := s.extractions[id]
	e.Embedding = vector
	e.SummaryHash = summaryHash
	e.EmbeddedAt = &at
	return nil
}

// testEmbedder implements Embedder for testing
type testEmbedder struct {
	calls  int
	vector []float32
}

func (e *testEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.vector != nil {
		return e.vector, nil
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

// testIndex implements Index for testing
type testIndex struct {
	upserts []milvus.Entry
}

func (i *testIndex) Upsert(ctx context.Context, entries []milvus.Entry) error {
	i.upserts = append(i.upserts, entries...)
	return nil
}

// testCache implements EmbeddingCache for testing
type testCache struct {
	vectors map[string][]float32
	hits    int
}

func (c *testCache) GetEmbedding(ctx context.Context, text string) []float32 {
	if v, ok := c.vectors[text]; ok {
		c.hits++
		return v
	}
	return nil
}

func (c *testCache) SetEmbedding(ctx context.Context, text string, vector []float32) {
	c.vectors[text] = vector
}

func setup() (*testIndexStore, *testEmbedder, *testIndex, *Indexer) {
	store := newTestIndexStore()
	store.documents[7] = &models.Document{ID: 7, PublishDate: "2026-01-30"}
	store.extractions[1] = &models.Extraction{ID: 1, DocumentID: 7, Summary: "A summary."}
	embedder := &testEmbedder{}
	index := &testIndex{}
	return store, embedder, index, NewIndexer(store, embedder, nil, index)
}

func TestReindexComputesAndPersistsAtomically(t *testing.T) {
	store, embedder, index, indexer := setup()

	embedded, err := indexer.ReindexByID(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, embedded)

	e := store.extractions[1]
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, e.Embedding)
	assert.Equal(t, utils.HashString("A summary."), e.SummaryHash)
	require.NotNil(t, e.EmbeddedAt)
	assert.Equal(t, 1, embedder.calls)
	require.Len(t, index.upserts, 1)
	assert.Equal(t, int64(7), index.upserts[0].DocumentID)
}

func TestReindexSkipsUnchangedSummary(t *testing.T) {
	_, embedder, _, indexer := setup()

	embedded, err := indexer.ReindexByID(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, embedded)

	// Same summary, embedding present: redelivered events are no-ops.
	embedded, err = indexer.ReindexByID(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, embedded)
	assert.Equal(t, 1, embedder.calls)
}

func TestReindexRecomputesAfterSummaryChange(t *testing.T) {
	store, embedder, _, indexer := setup()

	_, err := indexer.ReindexByID(context.Background(), 1)
	require.NoError(t, err)

	store.extractions[1].Summary = "A different summary."
	embedded, err := indexer.ReindexByID(context.Background(), 1)
	require.NoError(t, err)

	assert.True(t, embedded)
	assert.Equal(t, 2, embedder.calls)
	assert.Equal(t, utils.HashString("A different summary."), store.extractions[1].SummaryHash)
}

func TestReindexUsesCache(t *testing.T) {
	store := newTestIndexStore()
	store.documents[7] = &models.Document{ID: 7, PublishDate: "2026-01-30"}
	store.extractions[1] = &models.Extraction{ID: 1, DocumentID: 7, Summary: "A summary."}
	embedder := &testEmbedder{}
	cache := &testCache{vectors: map[string][]float32{
		"A summary.": {0.9, 0.8, 0.7},
	}}
	indexer := NewIndexer(store, embedder, cache, &testIndex{})

	_, err := indexer.ReindexByID(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 0, embedder.calls, "cached vector avoids the embedder call")
	assert.Equal(t, []float32{0.9, 0.8, 0.7}, store.extractions[1].Embedding)
	assert.Equal(t, 1, cache.hits)
}

func TestReindexPendingBackfills(t *testing.T) {
	store, embedder, _, indexer := setup()
	store.extractions[2] = &models.Extraction{ID: 2, DocumentID: 7, Summary: "Another."}

	report, err := indexer.ReindexPending(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 2, report.Embedded)
	assert.Equal(t, 2, embedder.calls)
}
