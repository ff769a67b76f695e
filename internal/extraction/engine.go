package extraction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/congresssignal/backend/internal/metrics"
	"github.com/congresssignal/backend/internal/storage/models"
	"github.com/congresssignal/backend/pkg/logger"
)

// ErrExtractionFailed marks a capability or parse error. The document is left
// without an extraction row and picked up again on the next run.
var ErrExtractionFailed = errors.New("extraction failed")

// Payload is the structured response from the extractor capability. Sector
// and relevance come back as arrays; the engine validates and reduces them.
type Payload struct {
	Title              string   `json:"title"`
	CompaniesMentioned []string `json:"companies_mentioned"`
	Sector             []string `json:"sector"`
	Relevance          []string `json:"relevance"`
	Summary            string   `json:"summary"`
}

// Extractor turns a document content locator into a structured payload.
type Extractor interface {
	Extract(ctx context.Context, htmlURL string) (*Payload, string, error)
}

type Store interface {
	ListUnextractedDocuments(date string, limit int) ([]models.Document, error)
	UpsertExtraction(e *models.Extraction) error
}

// RelevanceReduce selects how the multi-valued extractor relevance collapses
// to the stored scalar. The original data model kept the first element, which
// is order-dependent; "highest" is the safer default.
type RelevanceReduce string

const (
	ReduceHighest RelevanceReduce = "highest"
	ReduceFirst   RelevanceReduce = "first"
)

type Report struct {
	Processed int `json:"processed"`
	Extracted int `json:"extracted"`
	Failed    int `json:"failed"`
}

// Engine derives business signals from documents, one extraction per
// document, upserting on the document-unique constraint.
type Engine struct {
	store     Store
	extractor Extractor
	reduce    RelevanceReduce
	now       func() time.Time
}

func NewEngine(store Store, extractor Extractor, reduce RelevanceReduce) *Engine {
	if reduce == "" {
		reduce = ReduceHighest
	}
	return &Engine{
		store:     store,
		extractor: extractor,
		reduce:    reduce,
		now:       time.Now,
	}
}

// ExtractPending runs extraction over documents that have an html_url and no
// extraction yet. A single document failing does not stop the run.
func (e *Engine) ExtractPending(ctx context.Context, date string, limit int) (Report, error) {
	docs, err := e.store.ListUnextractedDocuments(date, limit)
	if err != nil {
		return Report{}, fmt.Errorf("failed to list unextracted documents: %w", err)
	}

	report := Report{}
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Processed++

		if _, err := e.ExtractDocument(ctx, &doc); err != nil {
			report.Failed++
			logger.Warn("Extraction failed, document left for retry",
				zap.Int64("document_id", doc.ID),
				zap.String("package_id", doc.PackageID),
				zap.Error(err),
			)
			continue
		}
		report.Extracted++
	}

	logger.Info("Extraction run complete",
		zap.String("date", date),
		zap.Int("processed", report.Processed),
		zap.Int("extracted", report.Extracted),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// ExtractDocument runs the extractor for one document and persists the
// validated result. Nothing is persisted on failure, so the document stays
// eligible for the next run. Re-extracting an already-extracted document
// overwrites the previous signals.
func (e *Engine) ExtractDocument(ctx context.Context, doc *models.Document) (*models.Extraction, error) {
	if doc.HTMLURL == "" {
		return nil, fmt.Errorf("%w: document %d has no html url", ErrExtractionFailed, doc.ID)
	}

	payload, raw, err := e.extractor.Extract(ctx, doc.HTMLURL)
	if err != nil {
		metrics.ExtractionsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	extraction := &models.Extraction{
		DocumentID:  doc.ID,
		Title:       payload.Title,
		Companies:   payload.CompaniesMentioned,
		Sectors:     validSectors(payload.Sector, doc.ID),
		Relevance:   reduceRelevance(payload.Relevance, e.reduce, doc.ID),
		Summary:     payload.Summary,
		RawPayload:  raw,
		ExtractedAt: e.now(),
	}

	if err := e.store.UpsertExtraction(extraction); err != nil {
		metrics.ExtractionsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to persist extraction: %w", err)
	}

	metrics.ExtractionsTotal.WithLabelValues("extracted").Inc()
	return extraction, nil
}

// validSectors drops values outside the known taxonomy. The taxonomy is
// append-only, so a dropped value here is a warning, never a failure.
func validSectors(sectors []string, documentID int64) []string {
	var out []string
	for _, s := range sectors {
		if !models.IsKnownSector(s) {
			logger.Warn("Dropping unknown sector",
				zap.String("sector", s),
				zap.Int64("document_id", documentID),
			)
			continue
		}
		out = append(out, s)
	}
	return out
}

// reduceRelevance validates against the closed relevance enum and collapses
// the array to one value.
func reduceRelevance(values []string, mode RelevanceReduce, documentID int64) models.Relevance {
	var valid []models.Relevance
	for _, v := range values {
		r := models.Relevance(v)
		if !r.Valid() {
			logger.Warn("Dropping unknown relevance value",
				zap.String("relevance", v),
				zap.Int64("document_id", documentID),
			)
			continue
		}
		valid = append(valid, r)
	}

	if len(valid) == 0 {
		return ""
	}
	if mode == ReduceFirst {
		return valid[0]
	}

	best := valid[0]
	for _, r := range valid[1:] {
		if r.Rank() > best.Rank() {
			best = r
		}
	}
	return best
}
