package webhookauth

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(secret string) *fiber.App {
	app := fiber.New()
	app.Post("/webhooks/test", Middleware(secret), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusAccepted)
	})
	return app
}

func TestRejectsWrongSecret(t *testing.T) {
	app := newApp("s3cret")

	req := httptest.NewRequest("POST", "/webhooks/test", nil)
	req.Header.Set("x-webhook-secret", "guess")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRejectsMissingHeader(t *testing.T) {
	app := newApp("s3cret")

	req := httptest.NewRequest("POST", "/webhooks/test", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestAcceptsCorrectSecret(t *testing.T) {
	app := newApp("s3cret")

	req := httptest.NewRequest("POST", "/webhooks/test", nil)
	req.Header.Set("x-webhook-secret", "s3cret")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
}

func TestEmptySecretDisablesCheck(t *testing.T) {
	app := newApp("")

	req := httptest.NewRequest("POST", "/webhooks/test", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
}
