package matching

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/congresssignal/backend/internal/metrics"
	"github.com/congresssignal/backend/internal/storage/models"
	"github.com/congresssignal/backend/internal/vector/milvus"
	"github.com/congresssignal/backend/pkg/logger"
)

type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, text string) []float32
	SetEmbedding(ctx context.Context, text string, vector []float32)
}

type Index interface {
	Search(ctx context.Context, queryEmbedding []float32, topK int) ([]milvus.Hit, error)
}

type Store interface {
	GetDocumentsByIDs(ids []int64) ([]models.Document, error)
}

// Match is one document that cleared the similarity floor for a query.
type Match struct {
	DocumentID  int64
	Similarity  float32
	PublishDate string // YYYY-MM-DD
}

// Matcher ranks indexed documents against a free-text profile query. The
// query is embedded with the same model that embedded the summaries, so
// scores are comparable across runs.
type Matcher struct {
	embedder      Embedder
	cache         EmbeddingCache
	index         Index
	store         Store
	fallbackQuery string
}

func NewMatcher(embedder Embedder, cache EmbeddingCache, index Index, store Store, fallbackQuery string) *Matcher {
	return &Matcher{
		embedder:      embedder,
		cache:         cache,
		index:         index,
		store:         store,
		fallbackQuery: fallbackQuery,
	}
}

// Match returns up to topK documents with similarity strictly above
// minSimilarity, ordered by similarity descending. Ties break on newer
// publish date. An empty query falls back to a broad default rather than
// matching nothing.
func (m *Matcher) Match(ctx context.Context, query string, minSimilarity float32, topK int) ([]Match, error) {
	start := time.Now()

	if query == "" {
		query = m.fallbackQuery
		logger.Debug("Empty profile query, using fallback")
	}
	if topK <= 0 {
		return nil, nil
	}

	vector, err := m.queryEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	// Over-fetch so the floor cut still leaves topK candidates.
	hits, err := m.index.Search(ctx, vector, topK*4)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	var ids []int64
	scores := make(map[int64]float32, len(hits))
	for _, h := range hits {
		if h.Score <= minSimilarity {
			continue
		}
		ids = append(ids, h.DocumentID)
		scores[h.DocumentID] = h.Score
	}
	if len(ids) == 0 {
		metrics.MatchResults.Observe(0)
		return nil, nil
	}

	docs, err := m.store.GetDocumentsByIDs(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load matched documents: %w", err)
	}

	matches := make([]Match, 0, len(docs))
	for _, d := range docs {
		matches = append(matches, Match{
			DocumentID:  d.ID,
			Similarity:  scores[d.ID],
			PublishDate: d.PublishDate,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		// Dates are YYYY-MM-DD, so string order is date order.
		return matches[i].PublishDate > matches[j].PublishDate
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}

	metrics.MatchDuration.Observe(time.Since(start).Seconds())
	metrics.MatchResults.Observe(float64(len(matches)))

	logger.Debug("Profile match completed",
		zap.Int("results", len(matches)),
		zap.Float64("floor", float64(minSimilarity)),
		zap.Int("topK", topK),
	)
	return matches, nil
}

func (m *Matcher) queryEmbedding(ctx context.Context, query string) ([]float32, error) {
	if m.cache != nil {
		if v := m.cache.GetEmbedding(ctx, query); v != nil {
			return v, nil
		}
	}
	vector, err := m.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, err
	}
	if m.cache != nil {
		m.cache.SetEmbedding(ctx, query, vector)
	}
	return vector, nil
}
