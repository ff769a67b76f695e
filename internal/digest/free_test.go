package digest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congresssignal/backend/internal/matching"
	"github.com/congresssignal/backend/internal/storage/models"
)

// testFreeStore implements FreeStore in memory
type testFreeStore struct {
	subscriptions map[int64]*models.Subscription
	extractions   map[int64]*models.Extraction // by document id
	documents     map[int64]*models.Document
	dayExtr       []models.Extraction
	dayDocs       []models.Document
}

func newTestFreeStore() *testFreeStore {
	return &testFreeStore{
		subscriptions: make(map[int64]*models.Subscription),
		extractions:   make(map[int64]*models.Extraction),
		documents:     make(map[int64]*models.Document),
	}
}

func (s *testFreeStore) GetSubscription(id int64) (*models.Subscription, error) {
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return sub, nil
}

func (s *testFreeStore) ListActiveSubscriptions() ([]models.Subscription, error) {
	var out []models.Subscription
	for _, sub := range s.subscriptions {
		if sub.Active() {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (s *testFreeStore) ClaimWelcome(subscriptionID int64, at time.Time) (bool, error) {
	sub := s.subscriptions[subscriptionID]
	if sub.WelcomeSentAt != nil {
		return false, nil
	}
	sub.WelcomeSentAt = &at
	return true, nil
}

func (s *testFreeStore) GetExtractionByDocument(documentID int64) (*models.Extraction, error) {
	e, ok := s.extractions[documentID]
	if !ok {
		return nil, errors.New("not found")
	}
	return e, nil
}

func (s *testFreeStore) GetDocument(id int64) (*models.Document, error) {
	d, ok := s.documents[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return d, nil
}

func (s *testFreeStore) ListExtractionsForDate(date string) ([]models.Extraction, []models.Document, error) {
	return s.dayExtr, s.dayDocs, nil
}

// testMatcher implements Matcher for testing
type testMatcher struct {
	matches   []matching.Match
	calls     int
	lastFloor float32
	lastTopK  int
}

func (m *testMatcher) Match(ctx context.Context, query string, minSimilarity float32, topK int) ([]matching.Match, error) {
	m.calls++
	m.lastFloor = minSimilarity
	m.lastTopK = topK
	return m.matches, nil
}

// testMailer implements Mailer, recording sends
type testMailer struct {
	sent        []string // recipient per send
	shouldError bool
}

func (m *testMailer) Send(ctx context.Context, from, to, subject, html string) error {
	if m.shouldError {
		return errors.New("smtp refused")
	}
	m.sent = append(m.sent, to)
	return nil
}

func freeFixture() (*testFreeStore, *testMatcher, *testMailer, *FreeService) {
	store := newTestFreeStore()
	store.subscriptions[1] = &models.Subscription{
		ID:         1,
		Email:      "a@example.com",
		IsVerified: true,
	}
	store.documents[10] = &models.Document{ID: 10, Title: "HR 1", DetailsURL: "https://example.gov/hr1"}
	store.extractions[10] = &models.Extraction{
		ID:         100,
		DocumentID: 10,
		Title:      "HR 1",
		Relevance:  models.RelevanceHigh,
		Summary:    "A summary.",
	}

	matcher := &testMatcher{matches: []matching.Match{{DocumentID: 10, Similarity: 0.4}}}
	mail := &testMailer{}
	svc := NewFreeService(store, matcher, mail, FreeConfig{
		WelcomeFloor: 0.01,
		WelcomeTopK:  5,
		From:         "news@example.com",
	})
	return store, matcher, mail, svc
}

func TestWelcomeSendsOnce(t *testing.T) {
	_, _, mail, svc := freeFixture()

	outcome, err := svc.Welcome(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, outcome)
	assert.Equal(t, []string{"a@example.com"}, mail.sent)

	// Redelivered signup event: the marker makes it a no-op.
	outcome, err = svc.Welcome(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadySent, outcome)
	assert.Len(t, mail.sent, 1)
}

func TestWelcomeNoMatchesIsTerminal(t *testing.T) {
	_, matcher, mail, svc := freeFixture()
	matcher.matches = nil

	outcome, err := svc.Welcome(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoMatches, outcome)
	assert.Empty(t, mail.sent)
}

func TestWelcomeSkipsInactiveSubscription(t *testing.T) {
	store, matcher, _, svc := freeFixture()
	now := time.Now()
	store.subscriptions[1].UnsubscribedAt = &now

	outcome, err := svc.Welcome(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInactive, outcome)
	assert.Equal(t, 0, matcher.calls)
}

func TestWelcomeAppliesProfileFilter(t *testing.T) {
	store, _, mail, svc := freeFixture()
	store.subscriptions[1].RelevanceThreshold = models.RelevanceHigh
	store.extractions[10].Relevance = models.RelevanceMedium

	outcome, err := svc.Welcome(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoMatches, outcome, "candidates below threshold never reach the mailer")
	assert.Empty(t, mail.sent)
}

func TestSendDailyDigests(t *testing.T) {
	store, _, mail, svc := freeFixture()
	store.subscriptions[2] = &models.Subscription{
		ID:         2,
		Email:      "b@example.com",
		Sectors:    []string{"energy"},
		IsVerified: true,
	}
	store.dayExtr = []models.Extraction{
		{ID: 100, Sectors: []string{"tech"}, Relevance: models.RelevanceHigh, Title: "HR 1", Summary: "S."},
	}
	store.dayDocs = []models.Document{{ID: 10, Title: "HR 1"}}

	stats, err := svc.SendDailyDigests(context.Background(), "2026-01-30")
	require.NoError(t, err)

	// Subscriber 1 has no sector filter and receives it; subscriber 2's
	// energy filter drops the only candidate.
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, []string{"a@example.com"}, mail.sent)
}

func TestSendDailyDigestsKeywordFilter(t *testing.T) {
	store, _, mail, svc := freeFixture()
	store.subscriptions[1].Keywords = []string{"cryptocurrency"}
	store.subscriptions[2] = &models.Subscription{
		ID:         2,
		Email:      "b@example.com",
		Keywords:   []string{"procurement"},
		IsVerified: true,
	}
	store.dayExtr = []models.Extraction{
		{ID: 100, Relevance: models.RelevanceHigh, Title: "Defense procurement reform", Summary: "Contract award rules."},
	}
	store.dayDocs = []models.Document{{ID: 10, Title: "HR 1"}}

	stats, err := svc.SendDailyDigests(context.Background(), "2026-01-30")
	require.NoError(t, err)

	// Subscriber 1's keywords match nothing that day, so nothing is sent to
	// them; subscriber 2's "procurement" hits the title.
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, []string{"b@example.com"}, mail.sent)
}

func TestSendDailyDigestsCountsFailures(t *testing.T) {
	store, _, mail, svc := freeFixture()
	mail.shouldError = true
	store.dayExtr = []models.Extraction{
		{ID: 100, Relevance: models.RelevanceHigh, Title: "HR 1", Summary: "S."},
	}
	store.dayDocs = []models.Document{{ID: 10}}

	stats, err := svc.SendDailyDigests(context.Background(), "2026-01-30")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Sent)
}
