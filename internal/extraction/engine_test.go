package extraction

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congresssignal/backend/internal/storage/models"
)

// testExtractor implements Extractor for testing
type testExtractor struct {
	payload     *Payload
	shouldError bool
}

func (e *testExtractor) Extract(ctx context.Context, htmlURL string) (*Payload, string, error) {
	if e.shouldError {
		return nil, "", errors.New("model unavailable")
	}
	return e.payload, `{"raw":"payload"}`, nil
}

// testEngineStore implements Store for testing
type testEngineStore struct {
	unextracted []models.Document
	saved       []*models.Extraction
	upsertError bool
}

func (s *testEngineStore) ListUnextractedDocuments(date string, limit int) ([]models.Document, error) {
	return s.unextracted, nil
}

func (s *testEngineStore) UpsertExtraction(e *models.Extraction) error {
	if s.upsertError {
		return errors.New("disk full")
	}
	s.saved = append(s.saved, e)
	return nil
}

func doc() *models.Document {
	return &models.Document{ID: 7, PackageID: "BILLS-119", HTMLURL: "https://example.gov/doc.htm"}
}

func TestExtractDocumentPersistsValidSignals(t *testing.T) {
	store := &testEngineStore{}
	engine := NewEngine(store, &testExtractor{payload: &Payload{
		Title:              "Defense appropriations",
		CompaniesMentioned: []string{"Acme Corp"},
		Sector:             []string{"tech", "finance"},
		Relevance:          []string{"medium"},
		Summary:            "A summary.",
	}}, ReduceHighest)

	ext, err := engine.ExtractDocument(context.Background(), doc())
	require.NoError(t, err)

	assert.Equal(t, int64(7), ext.DocumentID)
	assert.Equal(t, []string{"tech", "finance"}, ext.Sectors)
	assert.Equal(t, models.RelevanceMedium, ext.Relevance)
	require.Len(t, store.saved, 1)
}

func TestExtractDocumentDropsUnknownSectors(t *testing.T) {
	store := &testEngineStore{}
	engine := NewEngine(store, &testExtractor{payload: &Payload{
		Title:     "Some bill",
		Sector:    []string{"tech", "cryptozoology"},
		Relevance: []string{"low"},
		Summary:   "A summary.",
	}}, ReduceHighest)

	ext, err := engine.ExtractDocument(context.Background(), doc())
	require.NoError(t, err)

	assert.Equal(t, []string{"tech"}, ext.Sectors, "unknown sectors are dropped, not fatal")
}

func TestExtractDocumentReducesRelevance(t *testing.T) {
	payload := &Payload{
		Title:     "Some bill",
		Relevance: []string{"low", "high", "medium", "bogus"},
		Summary:   "A summary.",
	}

	highest := NewEngine(&testEngineStore{}, &testExtractor{payload: payload}, ReduceHighest)
	ext, err := highest.ExtractDocument(context.Background(), doc())
	require.NoError(t, err)
	assert.Equal(t, models.RelevanceHigh, ext.Relevance)

	first := NewEngine(&testEngineStore{}, &testExtractor{payload: payload}, ReduceFirst)
	ext, err = first.ExtractDocument(context.Background(), doc())
	require.NoError(t, err)
	assert.Equal(t, models.RelevanceLow, ext.Relevance)
}

func TestExtractDocumentAllInvalidRelevanceLeavesEmpty(t *testing.T) {
	engine := NewEngine(&testEngineStore{}, &testExtractor{payload: &Payload{
		Title:     "Some bill",
		Relevance: []string{"critical"},
		Summary:   "A summary.",
	}}, ReduceHighest)

	ext, err := engine.ExtractDocument(context.Background(), doc())
	require.NoError(t, err)
	assert.Equal(t, models.Relevance(""), ext.Relevance)
	assert.Equal(t, 0, ext.Relevance.Rank())
}

func TestExtractDocumentFailurePersistsNothing(t *testing.T) {
	store := &testEngineStore{}
	engine := NewEngine(store, &testExtractor{shouldError: true}, ReduceHighest)

	_, err := engine.ExtractDocument(context.Background(), doc())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExtractionFailed)
	assert.Empty(t, store.saved, "no partial extraction on failure")
}

func TestExtractPendingContinuesPastFailures(t *testing.T) {
	store := &testEngineStore{unextracted: []models.Document{
		{ID: 1, HTMLURL: "https://example.gov/a.htm"},
		{ID: 2, HTMLURL: ""}, // no content locator, fails
		{ID: 3, HTMLURL: "https://example.gov/c.htm"},
	}}
	engine := NewEngine(store, &testExtractor{payload: &Payload{
		Title:     "Bill",
		Relevance: []string{"high"},
		Summary:   "A summary.",
	}}, ReduceHighest)

	report, err := engine.ExtractPending(context.Background(), "2026-01-30", 10)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, 2, report.Extracted)
	assert.Equal(t, 1, report.Failed)
}
