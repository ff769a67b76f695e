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

// Outcome is the terminal, non-error result of a digest attempt. Zero
// matches is an outcome, not a failure.
type Outcome string

const (
	OutcomeSent        Outcome = "sent"
	OutcomeAlreadySent Outcome = "already_sent"
	OutcomeNoMatches   Outcome = "no_matches"
	OutcomeInactive    Outcome = "inactive"
)

type Stats struct {
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

type Matcher interface {
	Match(ctx context.Context, query string, minSimilarity float32, topK int) ([]matching.Match, error)
}

type Mailer interface {
	Send(ctx context.Context, from, to, subject, html string) error
}

type FreeStore interface {
	GetSubscription(id int64) (*models.Subscription, error)
	ListActiveSubscriptions() ([]models.Subscription, error)
	ClaimWelcome(subscriptionID int64, at time.Time) (bool, error)
	GetExtractionByDocument(documentID int64) (*models.Extraction, error)
	GetDocument(id int64) (*models.Document, error)
	ListExtractionsForDate(date string) ([]models.Extraction, []models.Document, error)
}

type FreeConfig struct {
	WelcomeFloor float32
	WelcomeTopK  int
	From         string
}

// FreeService handles the free tier: the one-time welcome digest at signup
// and the daily profile digest.
type FreeService struct {
	store   FreeStore
	matcher Matcher
	mailer  Mailer
	cfg     FreeConfig
	now     func() time.Time
}

func NewFreeService(store FreeStore, matcher Matcher, mailer Mailer, cfg FreeConfig) *FreeService {
	return &FreeService{
		store:   store,
		matcher: matcher,
		mailer:  mailer,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Welcome sends the first-touch digest for a new subscription, at most once.
// The welcome marker is claimed before anything else, so redelivered signup
// events collapse into no-ops. A claim without a send (no matches, mailer
// down) deliberately stays claimed: at-most-once, not at-least-once.
func (f *FreeService) Welcome(ctx context.Context, subscriptionID int64) (Outcome, error) {
	sub, err := f.store.GetSubscription(subscriptionID)
	if err != nil {
		return "", fmt.Errorf("failed to load subscription %d: %w", subscriptionID, err)
	}
	if !sub.Active() {
		return OutcomeInactive, nil
	}

	claimed, err := f.store.ClaimWelcome(sub.ID, f.now())
	if err != nil {
		return "", fmt.Errorf("failed to claim welcome marker: %w", err)
	}
	if !claimed {
		logger.Debug("Welcome already sent", zap.Int64("subscription_id", sub.ID))
		return OutcomeAlreadySent, nil
	}

	// The welcome floor is deliberately generous: a first touch should show
	// something even for a vague profile.
	query := matching.BuildSubscriptionQuery(sub)
	matches, err := f.matcher.Match(ctx, query, f.cfg.WelcomeFloor, f.cfg.WelcomeTopK)
	if err != nil {
		return "", fmt.Errorf("welcome match failed: %w", err)
	}

	profile := FromSubscription(sub)
	items, err := f.buildMatchItems(matches, profile)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		metrics.DigestsSent.WithLabelValues("free", "no_matches").Inc()
		logger.Info("No welcome candidates", zap.Int64("subscription_id", sub.ID))
		return OutcomeNoMatches, nil
	}

	subject, html, err := RenderWelcome(items)
	if err != nil {
		return "", err
	}
	if err := f.mailer.Send(ctx, f.cfg.From, sub.Email, subject, html); err != nil {
		metrics.DigestsSent.WithLabelValues("free", "failed").Inc()
		return "", fmt.Errorf("welcome delivery failed: %w", err)
	}

	metrics.DigestsSent.WithLabelValues("free", "sent").Inc()
	logger.Info("Welcome digest sent",
		zap.Int64("subscription_id", sub.ID),
		zap.Int("items", len(items)),
	)
	return OutcomeSent, nil
}

// SendDailyDigests fans the day's extractions out to every active free
// subscription. One subscriber failing never blocks the rest.
func (f *FreeService) SendDailyDigests(ctx context.Context, date string) (Stats, error) {
	subs, err := f.store.ListActiveSubscriptions()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	extractions, docs, err := f.store.ListExtractionsForDate(date)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to load extractions for %s: %w", date, err)
	}
	docByExtraction := make(map[int64]*models.Document, len(docs))
	for i := range extractions {
		docByExtraction[extractions[i].ID] = &docs[i]
	}

	stats := Stats{}
	for i := range subs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		sub := &subs[i]

		profile := FromSubscription(sub)
		filtered := Filter(extractions, profile)
		kept := filtered[:0]
		for j := range filtered {
			if MatchesKeywords(&filtered[j], profile.Keywords) {
				kept = append(kept, filtered[j])
			}
		}
		if len(kept) == 0 {
			stats.Skipped++
			continue
		}

		items := make([]Item, 0, len(kept))
		for j := range kept {
			doc := docByExtraction[kept[j].ID]
			items = append(items, f.itemFor(&kept[j], doc, profile))
		}

		subject, html, err := RenderDaily(date, items)
		if err != nil {
			stats.Failed++
			logger.Error("Failed to render daily digest",
				zap.Int64("subscription_id", sub.ID),
				zap.Error(err),
			)
			continue
		}
		if err := f.mailer.Send(ctx, f.cfg.From, sub.Email, subject, html); err != nil {
			stats.Failed++
			metrics.DigestsSent.WithLabelValues("free", "failed").Inc()
			logger.Error("Daily digest delivery failed",
				zap.Int64("subscription_id", sub.ID),
				zap.Error(err),
			)
			continue
		}

		stats.Sent++
		metrics.DigestsSent.WithLabelValues("free", "sent").Inc()
	}

	logger.Info("Daily digest run complete",
		zap.String("date", date),
		zap.Int("sent", stats.Sent),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}

// buildMatchItems resolves matcher hits to filtered, renderable items.
func (f *FreeService) buildMatchItems(matches []matching.Match, profile Profile) ([]Item, error) {
	var items []Item
	for _, m := range matches {
		ext, err := f.store.GetExtractionByDocument(m.DocumentID)
		if err != nil {
			// The index can briefly lead the store; skip rather than fail.
			logger.Warn("Matched document has no extraction",
				zap.Int64("document_id", m.DocumentID),
				zap.Error(err),
			)
			continue
		}
		kept := Filter([]models.Extraction{*ext}, profile)
		if len(kept) == 0 {
			continue
		}
		doc, err := f.store.GetDocument(m.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("failed to load document %d: %w", m.DocumentID, err)
		}
		items = append(items, f.itemFor(&kept[0], doc, profile))
	}
	return items, nil
}

func (f *FreeService) itemFor(e *models.Extraction, doc *models.Document, profile Profile) Item {
	url := ""
	if doc != nil {
		url = doc.DetailsURL
		if url == "" {
			url = doc.HTMLURL
		}
	}
	item := NewItem(e.Title, url, e.Summary)
	item.Sectors = e.Sectors
	item.Relevance = string(e.Relevance)
	item.KeywordHits = MatchedKeywords(e, profile.Keywords)
	return item
}
