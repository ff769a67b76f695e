package digest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/congresssignal/backend/internal/matching"
	"github.com/congresssignal/backend/internal/metrics"
	"github.com/congresssignal/backend/internal/storage/models"
	"github.com/congresssignal/backend/pkg/logger"
)

type ProStore interface {
	GetProSubscription(id int64) (*models.ProSubscription, error)
	ListActiveProSubscriptions() ([]models.ProSubscription, error)
	GetExtractionByDocument(documentID int64) (*models.Extraction, error)
	UpsertAssignment(subscriptionID, documentID int64, periodDate string, at time.Time) error
	ListPendingAssignments(subscriptionID int64, periodDate string) ([]models.ProDigestAssignment, error)
	ListUnsentAssignments(subscriptionID int64, periodDate string) ([]models.ProDigestAssignment, error)
	SetAssignmentSummary(id int64, summary string) error
	MarkAssignmentsSent(ids []int64, at time.Time) error
}

// Summarizer writes the per-subscriber briefing for one document.
type Summarizer interface {
	Summarize(ctx context.Context, htmlURL, companyType string, keywords []string) (string, error)
}

type ProConfig struct {
	Floor float32
	TopK  int
	// First-touch matching for a new subscription, wider than the
	// periodic run.
	OnboardFloor float32
	OnboardTopK  int
	From         string
}

// ProService runs the per-period pro digest. Every step is independently
// re-runnable: assignment rows dedup on (subscription, document, period),
// summarization skips rows that already have a summary, and sent_at guards
// resends. Crashing anywhere leaves a state the next run finishes from.
type ProService struct {
	store      ProStore
	matcher    Matcher
	summarizer Summarizer
	mailer     Mailer
	cfg        ProConfig
	now        func() time.Time
}

func NewProService(store ProStore, matcher Matcher, summarizer Summarizer, mailer Mailer, cfg ProConfig) *ProService {
	return &ProService{
		store:      store,
		matcher:    matcher,
		summarizer: summarizer,
		mailer:     mailer,
		cfg:        cfg,
		now:        time.Now,
	}
}

// RunForSubscription executes the full assign -> summarize -> send cycle for
// one subscription and period.
func (p *ProService) RunForSubscription(ctx context.Context, sub *models.ProSubscription, periodDate string) (Outcome, error) {
	if !sub.Active() {
		return OutcomeInactive, nil
	}

	if err := p.assign(ctx, sub, periodDate, p.cfg.Floor, p.cfg.TopK); err != nil {
		return "", err
	}
	if err := p.summarize(ctx, sub, periodDate); err != nil {
		return "", err
	}
	return p.send(ctx, sub, periodDate)
}

// RunByID onboards a new subscription: the same assign -> summarize -> send
// cycle, but matched with the onboarding floor and top-k.
func (p *ProService) RunByID(ctx context.Context, subscriptionID int64, periodDate string) (Outcome, error) {
	sub, err := p.store.GetProSubscription(subscriptionID)
	if err != nil {
		return "", fmt.Errorf("failed to load pro subscription %d: %w", subscriptionID, err)
	}
	if !sub.Active() {
		return OutcomeInactive, nil
	}

	if err := p.assign(ctx, sub, periodDate, p.cfg.OnboardFloor, p.cfg.OnboardTopK); err != nil {
		return "", err
	}
	if err := p.summarize(ctx, sub, periodDate); err != nil {
		return "", err
	}
	return p.send(ctx, sub, periodDate)
}

// RunDue runs subscriptions whose frequency makes them due at the given
// time: daily every day, weekly on Mondays, monthly on the 1st. The period
// date is the run date, so a weekly subscriber's period is the Monday it
// was composed.
func (p *ProService) RunDue(ctx context.Context, at time.Time) (Stats, error) {
	subs, err := p.store.ListActiveProSubscriptions()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list pro subscriptions: %w", err)
	}

	periodDate := at.Format("2006-01-02")
	stats := Stats{}
	for i := range subs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		sub := &subs[i]

		if !dueAt(sub.Frequency, at) {
			stats.Skipped++
			continue
		}

		outcome, err := p.RunForSubscription(ctx, sub, periodDate)
		if err != nil {
			stats.Failed++
			logger.Error("Pro digest run failed",
				zap.Int64("subscription_id", sub.ID),
				zap.String("period", periodDate),
				zap.Error(err),
			)
			continue
		}
		if outcome == OutcomeSent {
			stats.Sent++
		} else {
			stats.Skipped++
		}
	}

	logger.Info("Pro digest run complete",
		zap.String("period", periodDate),
		zap.Int("sent", stats.Sent),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}

func dueAt(freq models.Frequency, at time.Time) bool {
	switch freq {
	case models.FrequencyWeekly:
		return at.Weekday() == time.Monday
	case models.FrequencyMonthly:
		return at.Day() == 1
	default:
		return true
	}
}

// assign matches the profile against the index and upserts assignment rows.
// Re-running for the same period is a no-op for already-assigned documents.
func (p *ProService) assign(ctx context.Context, sub *models.ProSubscription, periodDate string, floor float32, topK int) error {
	query := matching.BuildProQuery(sub)
	matches, err := p.matcher.Match(ctx, query, floor, topK)
	if err != nil {
		return fmt.Errorf("pro match failed: %w", err)
	}

	profile := FromProSubscription(sub)
	for _, m := range matches {
		ext, err := p.store.GetExtractionByDocument(m.DocumentID)
		if err != nil {
			logger.Warn("Matched document has no extraction",
				zap.Int64("document_id", m.DocumentID),
				zap.Error(err),
			)
			continue
		}
		if len(Filter([]models.Extraction{*ext}, profile)) == 0 {
			continue
		}
		if err := p.store.UpsertAssignment(sub.ID, m.DocumentID, periodDate, p.now()); err != nil {
			return fmt.Errorf("failed to assign document %d: %w", m.DocumentID, err)
		}
	}
	return nil
}

// summarize fills in tailored summaries for pending assignments. A failed
// summary leaves the row pending for the next run; already-summarized rows
// are never re-billed.
func (p *ProService) summarize(ctx context.Context, sub *models.ProSubscription, periodDate string) error {
	pending, err := p.store.ListPendingAssignments(sub.ID, periodDate)
	if err != nil {
		return fmt.Errorf("failed to list pending assignments: %w", err)
	}

	for _, a := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		summary, err := p.summarizer.Summarize(ctx, a.DocHTMLURL, sub.CompanyType, sub.Keywords)
		if err != nil {
			logger.Warn("Tailored summary failed, assignment stays pending",
				zap.Int64("assignment_id", a.ID),
				zap.Error(err),
			)
			continue
		}
		if err := p.store.SetAssignmentSummary(a.ID, summary); err != nil {
			return fmt.Errorf("failed to persist summary for assignment %d: %w", a.ID, err)
		}
	}
	return nil
}

// send delivers all summarized-but-unsent assignments in one email, then
// marks them sent in a single batch. A delivery failure leaves every row in
// summarized for the next run.
func (p *ProService) send(ctx context.Context, sub *models.ProSubscription, periodDate string) (Outcome, error) {
	unsent, err := p.store.ListUnsentAssignments(sub.ID, periodDate)
	if err != nil {
		return "", fmt.Errorf("failed to list unsent assignments: %w", err)
	}
	if len(unsent) == 0 {
		metrics.DigestsSent.WithLabelValues("pro", "no_matches").Inc()
		return OutcomeNoMatches, nil
	}

	items := make([]Item, 0, len(unsent))
	ids := make([]int64, 0, len(unsent))
	for _, a := range unsent {
		items = append(items, NewItem(a.DocTitle, a.DocHTMLURL, a.Summary))
		ids = append(ids, a.ID)
	}

	subject, html, err := RenderPro(periodDate, items)
	if err != nil {
		return "", err
	}
	if err := p.mailer.Send(ctx, p.cfg.From, sub.Email, subject, html); err != nil {
		metrics.DigestsSent.WithLabelValues("pro", "failed").Inc()
		return "", fmt.Errorf("pro digest delivery failed: %w", err)
	}

	if err := p.store.MarkAssignmentsSent(ids, p.now()); err != nil {
		// The email went out; the rows will be resent next run. Surfaced so
		// the caller can alert on it.
		return "", fmt.Errorf("digest sent but failed to mark assignments: %w", err)
	}

	metrics.DigestsSent.WithLabelValues("pro", "sent").Inc()
	logger.Info("Pro digest sent",
		zap.Int64("subscription_id", sub.ID),
		zap.String("period", periodDate),
		zap.Int("items", len(items)),
	)
	return OutcomeSent, nil
}
