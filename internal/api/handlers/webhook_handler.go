package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/congresssignal/backend/internal/digest"
	"github.com/congresssignal/backend/internal/indexing"
	"github.com/congresssignal/backend/pkg/logger"
)

const reindexTimeout = 2 * time.Minute
const proDigestTimeout = 15 * time.Minute

// changeEvent is the change-data-capture payload posted by the database on
// row changes: event type, table, and the new row.
type changeEvent struct {
	Type   string `json:"type"`
	Table  string `json:"table"`
	Record struct {
		ID int64 `json:"id"`
	} `json:"record"`
}

// WebhookHandler consumes lifecycle events. Deliveries are at-least-once
// and unordered, so every path must collapse duplicates: the welcome marker
// for signups, the assignment unique key for pro runs, the unchanged-summary
// skip for reindexes.
type WebhookHandler struct {
	free    *digest.FreeService
	pro     *digest.ProService
	indexer *indexing.Indexer
}

func NewWebhookHandler(free *digest.FreeService, pro *digest.ProService, indexer *indexing.Indexer) *WebhookHandler {
	return &WebhookHandler{
		free:    free,
		pro:     pro,
		indexer: indexer,
	}
}

// HandleSubscriptionEvent fires the free-tier welcome on subscription insert.
func (h *WebhookHandler) HandleSubscriptionEvent(c *fiber.Ctx) error {
	event, err := parseEvent(c)
	if event == nil {
		return err
	}
	if event.Type != "INSERT" {
		return accepted(c, "ignored")
	}

	id := event.Record.ID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), onboardingTimeout)
		defer cancel()
		outcome, err := h.free.Welcome(ctx, id)
		if err != nil {
			logger.Error("Welcome event failed", zap.Int64("subscription_id", id), zap.Error(err))
			return
		}
		logger.Info("Welcome event handled",
			zap.Int64("subscription_id", id),
			zap.String("outcome", string(outcome)),
		)
	}()

	return accepted(c, "onboarding")
}

// HandleProOnboardEvent runs the first pro digest cycle on pro signup.
func (h *WebhookHandler) HandleProOnboardEvent(c *fiber.Ctx) error {
	event, err := parseEvent(c)
	if event == nil {
		return err
	}
	if event.Type != "INSERT" {
		return accepted(c, "ignored")
	}

	id := event.Record.ID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), onboardingTimeout)
		defer cancel()
		period := time.Now().Format("2006-01-02")
		outcome, err := h.pro.RunByID(ctx, id, period)
		if err != nil {
			logger.Error("Pro onboarding event failed", zap.Int64("subscription_id", id), zap.Error(err))
			return
		}
		logger.Info("Pro onboarding event handled",
			zap.Int64("subscription_id", id),
			zap.String("outcome", string(outcome)),
		)
	}()

	return accepted(c, "onboarding")
}

// HandleExtractionEvent reindexes the embedding when an extraction row is
// inserted or updated. Redelivery is free: an unchanged summary is skipped.
func (h *WebhookHandler) HandleExtractionEvent(c *fiber.Ctx) error {
	event, err := parseEvent(c)
	if event == nil {
		return err
	}
	if event.Type != "INSERT" && event.Type != "UPDATE" {
		return accepted(c, "ignored")
	}

	id := event.Record.ID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), reindexTimeout)
		defer cancel()
		embedded, err := h.indexer.ReindexByID(ctx, id)
		if err != nil {
			logger.Error("Reindex event failed", zap.Int64("extraction_id", id), zap.Error(err))
			return
		}
		logger.Info("Reindex event handled",
			zap.Int64("extraction_id", id),
			zap.Bool("embedded", embedded),
		)
	}()

	return accepted(c, "reindexing")
}

// HandleProDigestTrigger runs the periodic pro digest for every due
// subscription. Fired by an external scheduler.
func (h *WebhookHandler) HandleProDigestTrigger(c *fiber.Ctx) error {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), proDigestTimeout)
		defer cancel()
		stats, err := h.pro.RunDue(ctx, time.Now())
		if err != nil {
			logger.Error("Pro digest trigger failed", zap.Error(err))
			return
		}
		logger.Info("Pro digest trigger handled",
			zap.Int("sent", stats.Sent),
			zap.Int("skipped", stats.Skipped),
			zap.Int("failed", stats.Failed),
		)
	}()

	return accepted(c, "digesting")
}

// parseEvent decodes the change event, writing the 400 itself on bad input.
func parseEvent(c *fiber.Ctx) (*changeEvent, error) {
	var event changeEvent
	if err := c.BodyParser(&event); err != nil {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid event payload",
		})
	}
	if event.Record.ID == 0 {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Event record id is required",
		})
	}
	return &event, nil
}

func accepted(c *fiber.Ctx, status string) error {
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": status,
	})
}
