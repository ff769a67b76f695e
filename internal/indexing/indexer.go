package indexing

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/congresssignal/backend/internal/metrics"
	"github.com/congresssignal/backend/internal/storage/models"
	"github.com/congresssignal/backend/internal/vector/milvus"
	"github.com/congresssignal/backend/pkg/logger"
	"github.com/congresssignal/backend/pkg/utils"
)

type Store interface {
	GetExtraction(id int64) (*models.Extraction, error)
	GetDocument(id int64) (*models.Document, error)
	ListExtractionsNeedingEmbedding(limit int) ([]models.Extraction, error)
	SetExtractionEmbedding(id int64, vector []float32, summaryHash string, at time.Time) error
}

type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingCache is an optional vector cache keyed by content. A nil cache
// disables caching entirely.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, text string) []float32
	SetEmbedding(ctx context.Context, text string, vector []float32)
}

type Index interface {
	Upsert(ctx context.Context, entries []milvus.Entry) error
}

type Report struct {
	Processed int `json:"processed"`
	Embedded  int `json:"embedded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Indexer keeps extraction summaries and their embeddings in sync. The
// summary hash stored beside the vector is the idempotence check: an
// unchanged summary is never re-embedded.
type Indexer struct {
	store    Store
	embedder Embedder
	cache    EmbeddingCache
	index    Index
	now      func() time.Time
}

func NewIndexer(store Store, embedder Embedder, cache EmbeddingCache, index Index) *Indexer {
	return &Indexer{
		store:    store,
		embedder: embedder,
		cache:    cache,
		index:    index,
		now:      time.Now,
	}
}

// ReindexExtraction embeds one extraction's summary if it changed since the
// last embedding, persists vector and hash together, and mirrors the vector
// into the search index.
func (ix *Indexer) ReindexExtraction(ctx context.Context, e *models.Extraction) (bool, error) {
	if e.Summary == "" {
		return false, fmt.Errorf("extraction %d has no summary", e.ID)
	}

	hash := utils.HashString(e.Summary)
	if e.SummaryHash == hash && len(e.Embedding) > 0 {
		metrics.EmbeddingsSkipped.Inc()
		logger.Debug("Summary unchanged, skipping embedding",
			zap.Int64("extraction_id", e.ID),
		)
		return false, nil
	}

	vector := ix.cachedEmbedding(ctx, e.Summary)
	if vector == nil {
		var err error
		vector, err = ix.embedder.EmbedText(ctx, e.Summary)
		if err != nil {
			return false, fmt.Errorf("failed to embed summary: %w", err)
		}
		if ix.cache != nil {
			ix.cache.SetEmbedding(ctx, e.Summary, vector)
		}
	}

	if err := ix.store.SetExtractionEmbedding(e.ID, vector, hash, ix.now()); err != nil {
		return false, fmt.Errorf("failed to persist embedding: %w", err)
	}

	doc, err := ix.store.GetDocument(e.DocumentID)
	if err != nil {
		return false, fmt.Errorf("failed to load document %d: %w", e.DocumentID, err)
	}

	err = ix.index.Upsert(ctx, []milvus.Entry{{
		DocumentID:  doc.ID,
		Embedding:   vector,
		PublishDate: doc.PublishDate,
	}})
	if err != nil {
		return false, fmt.Errorf("failed to upsert into vector index: %w", err)
	}

	metrics.EmbeddingsComputed.Inc()
	return true, nil
}

// ReindexByID is the entry point for change events that only carry the row id.
func (ix *Indexer) ReindexByID(ctx context.Context, extractionID int64) (bool, error) {
	e, err := ix.store.GetExtraction(extractionID)
	if err != nil {
		return false, fmt.Errorf("failed to load extraction %d: %w", extractionID, err)
	}
	return ix.ReindexExtraction(ctx, e)
}

// ReindexPending backfills embeddings for extractions that have none, or
// whose summary changed after their last embedding. One failure does not
// stop the run.
func (ix *Indexer) ReindexPending(ctx context.Context, limit int) (Report, error) {
	extractions, err := ix.store.ListExtractionsNeedingEmbedding(limit)
	if err != nil {
		return Report{}, fmt.Errorf("failed to list extractions needing embedding: %w", err)
	}

	report := Report{}
	for i := range extractions {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Processed++

		embedded, err := ix.ReindexExtraction(ctx, &extractions[i])
		if err != nil {
			report.Failed++
			logger.Warn("Reindex failed for extraction",
				zap.Int64("extraction_id", extractions[i].ID),
				zap.Error(err),
			)
			continue
		}
		if embedded {
			report.Embedded++
		} else {
			report.Skipped++
		}
	}

	logger.Info("Reindex run complete",
		zap.Int("processed", report.Processed),
		zap.Int("embedded", report.Embedded),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func (ix *Indexer) cachedEmbedding(ctx context.Context, text string) []float32 {
	if ix.cache == nil {
		return nil
	}
	return ix.cache.GetEmbedding(ctx, text)
}
