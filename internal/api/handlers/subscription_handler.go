package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/congresssignal/backend/internal/digest"
	"github.com/congresssignal/backend/internal/storage/models"
	"github.com/congresssignal/backend/pkg/logger"
)

// onboardingTimeout bounds the background welcome pipeline: one embedding
// call, one vector search, one email.
const onboardingTimeout = 2 * time.Minute

type SubscriptionStore interface {
	InsertSubscription(s *models.Subscription) error
	InsertProSubscription(s *models.ProSubscription) error
}

// SubscriptionHandler serves the anonymous signup routes and kicks off
// onboarding directly, covering deployments without database webhooks.
type SubscriptionHandler struct {
	store SubscriptionStore
	free  *digest.FreeService
	pro   *digest.ProService
}

func NewSubscriptionHandler(store SubscriptionStore, free *digest.FreeService, pro *digest.ProService) *SubscriptionHandler {
	return &SubscriptionHandler{
		store: store,
		free:  free,
		pro:   pro,
	}
}

func (h *SubscriptionHandler) CreateSubscription(c *fiber.Ctx) error {
	var req struct {
		Email              string   `json:"email"`
		Sectors            []string `json:"sectors"`
		RelevanceThreshold string   `json:"relevance_threshold"`
		Keywords           []string `json:"keywords"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))
	if !validEmail(email) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "A valid email is required",
		})
	}

	threshold := models.Relevance(req.RelevanceThreshold)
	if req.RelevanceThreshold != "" && !threshold.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "relevance_threshold must be one of low, medium, high",
		})
	}

	sub := &models.Subscription{
		Email:              email,
		Sectors:            knownSectorsOnly(req.Sectors),
		RelevanceThreshold: threshold,
		Keywords:           req.Keywords,
		IsVerified:         true,
	}
	if err := h.store.InsertSubscription(sub); err != nil {
		logger.Error("Failed to create subscription", zap.Error(err))
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Could not create subscription",
		})
	}

	go h.welcome(sub.ID)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":    sub.ID,
		"email": sub.Email,
	})
}

func (h *SubscriptionHandler) CreateProSubscription(c *fiber.Ctx) error {
	var req struct {
		Email       string   `json:"email"`
		CompanyType string   `json:"company_type"`
		Keywords    []string `json:"keywords"`
		Frequency   string   `json:"frequency"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))
	if !validEmail(email) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "A valid email is required",
		})
	}

	frequency := models.Frequency(req.Frequency)
	switch frequency {
	case "":
		frequency = models.FrequencyDaily
	case models.FrequencyDaily, models.FrequencyWeekly, models.FrequencyMonthly:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "frequency must be one of daily, weekly, monthly",
		})
	}

	sub := &models.ProSubscription{
		Email:       email,
		CompanyType: strings.TrimSpace(req.CompanyType),
		Keywords:    req.Keywords,
		Frequency:   frequency,
		IsVerified:  true,
	}
	if err := h.store.InsertProSubscription(sub); err != nil {
		logger.Error("Failed to create pro subscription", zap.Error(err))
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Could not create subscription",
		})
	}

	go h.proOnboard(sub.ID)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":    sub.ID,
		"email": sub.Email,
	})
}

func (h *SubscriptionHandler) welcome(subscriptionID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), onboardingTimeout)
	defer cancel()

	outcome, err := h.free.Welcome(ctx, subscriptionID)
	if err != nil {
		logger.Error("Welcome onboarding failed",
			zap.Int64("subscription_id", subscriptionID),
			zap.Error(err),
		)
		return
	}
	logger.Info("Welcome onboarding finished",
		zap.Int64("subscription_id", subscriptionID),
		zap.String("outcome", string(outcome)),
	)
}

func (h *SubscriptionHandler) proOnboard(subscriptionID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), onboardingTimeout)
	defer cancel()

	period := time.Now().Format("2006-01-02")
	outcome, err := h.pro.RunByID(ctx, subscriptionID, period)
	if err != nil {
		logger.Error("Pro onboarding failed",
			zap.Int64("subscription_id", subscriptionID),
			zap.Error(err),
		)
		return
	}
	logger.Info("Pro onboarding finished",
		zap.Int64("subscription_id", subscriptionID),
		zap.String("outcome", string(outcome)),
	)
}

func knownSectorsOnly(sectors []string) []string {
	var out []string
	for _, s := range sectors {
		s = strings.TrimSpace(strings.ToLower(s))
		if models.IsKnownSector(s) {
			out = append(out, s)
		}
	}
	return out
}

func validEmail(email string) bool {
	at := strings.Index(email, "@")
	return at > 0 && strings.Contains(email[at+1:], ".")
}
