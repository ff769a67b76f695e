package webhookauth

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/congresssignal/backend/pkg/logger"
)

// Middleware authenticates webhook and job routes with a shared secret
// header. An empty configured secret disables the check; the routes stay
// reachable and a warning is logged at startup.
func Middleware(secret string) fiber.Handler {
	if secret == "" {
		logger.Warn("Webhook secret not configured, webhook and job routes are unauthenticated")
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}
	return func(c *fiber.Ctx) error {
		provided := c.Get("x-webhook-secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			logger.Warn("Webhook auth rejected",
				zap.String("path", c.Path()),
				zap.String("ip", c.IP()),
			)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}
		return c.Next()
	}
}
