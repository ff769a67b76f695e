package digest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congresssignal/backend/internal/matching"
	"github.com/congresssignal/backend/internal/storage/models"
)

// testProStore implements ProStore with the same unique-key semantics as the
// real store.
type testProStore struct {
	subscriptions map[int64]*models.ProSubscription
	extractions   map[int64]*models.Extraction // by document id
	assignments   map[string]*models.ProDigestAssignment
	nextID        int64
}

func newTestProStore() *testProStore {
	return &testProStore{
		subscriptions: make(map[int64]*models.ProSubscription),
		extractions:   make(map[int64]*models.Extraction),
		assignments:   make(map[string]*models.ProDigestAssignment),
	}
}

func assignmentKey(subID, docID int64, period string) string {
	return fmt.Sprintf("%d/%d/%s", subID, docID, period)
}

func (s *testProStore) GetProSubscription(id int64) (*models.ProSubscription, error) {
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return sub, nil
}

func (s *testProStore) ListActiveProSubscriptions() ([]models.ProSubscription, error) {
	var out []models.ProSubscription
	for _, sub := range s.subscriptions {
		if sub.Active() {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (s *testProStore) GetExtractionByDocument(documentID int64) (*models.Extraction, error) {
	e, ok := s.extractions[documentID]
	if !ok {
		return nil, errors.New("not found")
	}
	return e, nil
}

func (s *testProStore) UpsertAssignment(subscriptionID, documentID int64, periodDate string, at time.Time) error {
	key := assignmentKey(subscriptionID, documentID, periodDate)
	if _, ok := s.assignments[key]; ok {
		return nil // unique constraint: duplicate is a no-op
	}
	s.nextID++
	s.assignments[key] = &models.ProDigestAssignment{
		ID:             s.nextID,
		SubscriptionID: subscriptionID,
		DocumentID:     documentID,
		PeriodDate:     periodDate,
		CreatedAt:      at,
	}
	return nil
}

func (s *testProStore) ListPendingAssignments(subscriptionID int64, periodDate string) ([]models.ProDigestAssignment, error) {
	var out []models.ProDigestAssignment
	for _, a := range s.assignments {
		if a.SubscriptionID == subscriptionID && a.PeriodDate == periodDate && a.Summary == "" {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *testProStore) ListUnsentAssignments(subscriptionID int64, periodDate string) ([]models.ProDigestAssignment, error) {
	var out []models.ProDigestAssignment
	for _, a := range s.assignments {
		if a.SubscriptionID == subscriptionID && a.PeriodDate == periodDate && a.Summary != "" && a.SentAt == nil {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *testProStore) SetAssignmentSummary(id int64, summary string) error {
	for _, a := range s.assignments {
		if a.ID == id {
			a.Summary = summary
			return nil
		}
	}
	return errors.New("not found")
}

func (s *testProStore) MarkAssignmentsSent(ids []int64, at time.Time) error {
	for _, id := range ids {
		for _, a := range s.assignments {
			if a.ID == id {
				a.SentAt = &at
			}
		}
	}
	return nil
}

// testSummarizer implements Summarizer, counting billable calls
type testSummarizer struct {
	calls       int
	shouldError bool
}

func (s *testSummarizer) Summarize(ctx context.Context, htmlURL, companyType string, keywords []string) (string, error) {
	s.calls++
	if s.shouldError {
		return "", errors.New("model unavailable")
	}
	return "Tailored briefing.", nil
}

func proFixture() (*testProStore, *testSummarizer, *testMailer, *ProService) {
	store := newTestProStore()
	store.subscriptions[1] = &models.ProSubscription{
		ID:          1,
		Email:       "pro@example.com",
		CompanyType: "defense contractor",
		Frequency:   models.FrequencyDaily,
		IsVerified:  true,
	}
	store.extractions[10] = &models.Extraction{
		ID:         100,
		DocumentID: 10,
		Relevance:  models.RelevanceHigh,
		Summary:    "A summary.",
	}

	matcher := &testMatcher{matches: []matching.Match{{DocumentID: 10, Similarity: 0.8}}}
	summarizer := &testSummarizer{}
	mail := &testMailer{}
	svc := NewProService(store, matcher, summarizer, mail, ProConfig{
		Floor:        0.5,
		TopK:         1,
		OnboardFloor: 0.01,
		OnboardTopK:  5,
		From:         "pro@example.com",
	})
	return store, summarizer, mail, svc
}

func TestProOnboardingMatchesWiderThanPeriodicRun(t *testing.T) {
	store := newTestProStore()
	store.subscriptions[1] = &models.ProSubscription{
		ID:          1,
		Email:       "pro@example.com",
		CompanyType: "defense contractor",
		Frequency:   models.FrequencyDaily,
		IsVerified:  true,
	}
	matcher := &testMatcher{}
	svc := NewProService(store, matcher, &testSummarizer{}, &testMailer{}, ProConfig{
		Floor:        0.5,
		TopK:         1,
		OnboardFloor: 0.01,
		OnboardTopK:  5,
		From:         "pro@example.com",
	})

	_, err := svc.RunByID(context.Background(), 1, "2026-01-30")
	require.NoError(t, err)
	assert.Equal(t, float32(0.01), matcher.lastFloor)
	assert.Equal(t, 5, matcher.lastTopK)

	sub := store.subscriptions[1]
	_, err = svc.RunForSubscription(context.Background(), sub, "2026-01-31")
	require.NoError(t, err)
	assert.Equal(t, float32(0.5), matcher.lastFloor)
	assert.Equal(t, 1, matcher.lastTopK)
}

func TestProRunFullCycle(t *testing.T) {
	store, summarizer, mail, svc := proFixture()

	outcome, err := svc.RunByID(context.Background(), 1, "2026-01-30")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, outcome)

	require.Len(t, store.assignments, 1)
	for _, a := range store.assignments {
		assert.Equal(t, models.AssignmentSent, a.State())
	}
	assert.Equal(t, 1, summarizer.calls)
	assert.Equal(t, []string{"pro@example.com"}, mail.sent)
}

func TestProRunIsIdempotentPerPeriod(t *testing.T) {
	store, summarizer, mail, svc := proFixture()

	_, err := svc.RunByID(context.Background(), 1, "2026-01-30")
	require.NoError(t, err)

	outcome, err := svc.RunByID(context.Background(), 1, "2026-01-30")
	require.NoError(t, err)

	assert.Equal(t, OutcomeNoMatches, outcome, "everything already sent for this period")
	assert.Len(t, store.assignments, 1, "rerun must not duplicate assignments")
	assert.Equal(t, 1, summarizer.calls, "summaries are never regenerated")
	assert.Len(t, mail.sent, 1, "one email per assignment reaching sent")
}

func TestProDeliveryFailureLeavesSummarized(t *testing.T) {
	store, summarizer, mail, svc := proFixture()
	mail.shouldError = true

	_, err := svc.RunByID(context.Background(), 1, "2026-01-30")
	require.Error(t, err)

	for _, a := range store.assignments {
		assert.Equal(t, models.AssignmentSummarized, a.State(), "failed send must stay retryable")
	}

	// Retry succeeds and skips the paid summarization step.
	mail.shouldError = false
	outcome, err := svc.RunByID(context.Background(), 1, "2026-01-30")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, outcome)
	assert.Equal(t, 1, summarizer.calls)
}

func TestProSummarizerFailureLeavesPending(t *testing.T) {
	store, summarizer, mail, svc := proFixture()
	summarizer.shouldError = true

	outcome, err := svc.RunByID(context.Background(), 1, "2026-01-30")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoMatches, outcome, "nothing summarized means nothing to send")
	assert.Empty(t, mail.sent)

	for _, a := range store.assignments {
		assert.Equal(t, models.AssignmentPending, a.State())
	}
}

func TestProNewPeriodCreatesNewAssignment(t *testing.T) {
	store, _, mail, svc := proFixture()

	_, err := svc.RunByID(context.Background(), 1, "2026-01-30")
	require.NoError(t, err)
	_, err = svc.RunByID(context.Background(), 1, "2026-01-31")
	require.NoError(t, err)

	assert.Len(t, store.assignments, 2)
	assert.Len(t, mail.sent, 2)
}

func TestRunDueRespectsFrequency(t *testing.T) {
	store, _, mail, svc := proFixture()
	store.subscriptions[1].Frequency = models.FrequencyWeekly

	// 2026-02-03 is a Tuesday; weekly subscribers are not due.
	tuesday := time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)
	stats, err := svc.RunDue(context.Background(), tuesday)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Sent)
	assert.Equal(t, 1, stats.Skipped)
	assert.Empty(t, mail.sent)

	monday := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	stats, err = svc.RunDue(context.Background(), monday)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent)
}
