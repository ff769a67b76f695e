package matching

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congresssignal/backend/internal/storage/models"
	"github.com/congresssignal/backend/internal/vector/milvus"
)

// testEmbedder implements Embedder for testing
type testEmbedder struct {
	lastText    string
	shouldError bool
}

func (e *testEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if e.shouldError {
		return nil, errors.New("embedder down")
	}
	e.lastText = text
	return []float32{0.1, 0.2, 0.3}, nil
}

// testIndex implements Index for testing
type testIndex struct {
	hits []milvus.Hit
}

func (i *testIndex) Search(ctx context.Context, queryEmbedding []float32, topK int) ([]milvus.Hit, error) {
	if len(i.hits) > topK {
		return i.hits[:topK], nil
	}
	return i.hits, nil
}

// testDocStore implements Store for testing
type testDocStore struct {
	docs map[int64]models.Document
}

func (s *testDocStore) GetDocumentsByIDs(ids []int64) ([]models.Document, error) {
	var out []models.Document
	for _, id := range ids {
		if d, ok := s.docs[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func newMatcher(hits []milvus.Hit, docs map[int64]models.Document) (*Matcher, *testEmbedder) {
	embedder := &testEmbedder{}
	return NewMatcher(embedder, nil, &testIndex{hits: hits}, &testDocStore{docs: docs}, "regulatory policy congressional"), embedder
}

func TestMatchEnforcesStrictFloorAndTopK(t *testing.T) {
	matcher, _ := newMatcher(
		[]milvus.Hit{
			{DocumentID: 1, Score: 0.9},
			{DocumentID: 2, Score: 0.7},
			{DocumentID: 3, Score: 0.5}, // equal to floor, excluded
			{DocumentID: 4, Score: 0.3},
		},
		map[int64]models.Document{
			1: {ID: 1, PublishDate: "2026-01-30"},
			2: {ID: 2, PublishDate: "2026-01-29"},
			3: {ID: 3, PublishDate: "2026-01-28"},
			4: {ID: 4, PublishDate: "2026-01-27"},
		},
	)

	matches, err := matcher.Match(context.Background(), "defense", 0.5, 2)
	require.NoError(t, err)

	require.Len(t, matches, 2)
	for _, m := range matches {
		assert.Greater(t, m.Similarity, float32(0.5), "similarity must strictly exceed the floor")
	}
	assert.Equal(t, int64(1), matches[0].DocumentID)
	assert.Equal(t, int64(2), matches[1].DocumentID)
}

func TestMatchBreaksTiesByRecency(t *testing.T) {
	matcher, _ := newMatcher(
		[]milvus.Hit{
			{DocumentID: 1, Score: 0.8},
			{DocumentID: 2, Score: 0.8},
		},
		map[int64]models.Document{
			1: {ID: 1, PublishDate: "2026-01-10"},
			2: {ID: 2, PublishDate: "2026-01-20"},
		},
	)

	matches, err := matcher.Match(context.Background(), "defense", 0.1, 5)
	require.NoError(t, err)

	require.Len(t, matches, 2)
	assert.Equal(t, int64(2), matches[0].DocumentID, "equal similarity orders by newer publish date")
}

func TestMatchEmptyQueryFallsBack(t *testing.T) {
	matcher, embedder := newMatcher(nil, nil)

	matches, err := matcher.Match(context.Background(), "", 0.5, 5)
	require.NoError(t, err)

	assert.Empty(t, matches)
	assert.Equal(t, "regulatory policy congressional", embedder.lastText)
}

func TestMatchNoHitsAboveFloorIsEmptyNotError(t *testing.T) {
	matcher, _ := newMatcher(
		[]milvus.Hit{{DocumentID: 1, Score: 0.05}},
		map[int64]models.Document{1: {ID: 1}},
	)

	matches, err := matcher.Match(context.Background(), "defense", 0.5, 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestBuildSubscriptionQuery(t *testing.T) {
	q := BuildSubscriptionQuery(&models.Subscription{
		Sectors:  []string{"tech", "energy"},
		Keywords: []string{"semiconductors"},
	})
	assert.Equal(t, "tech energy semiconductors", q)

	assert.Equal(t, "", BuildSubscriptionQuery(&models.Subscription{}))
}

func TestBuildProQuery(t *testing.T) {
	q := BuildProQuery(&models.ProSubscription{
		CompanyType: "defense contractor",
		Keywords:    []string{"procurement", "export controls"},
	})
	assert.Equal(t, "defense contractor procurement export controls", q)
}
