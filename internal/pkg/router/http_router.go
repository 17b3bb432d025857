package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cadencepay/cadence/app/controllers"
)

// HttpRouter installs the public surface: the gateway webhook endpoint and a
// liveness probe.
type HttpRouter struct {
	webhook *controllers.WebhookController
}

func NewHttpRouter(webhook *controllers.WebhookController) *HttpRouter {
	return &HttpRouter{webhook: webhook}
}

func (h *HttpRouter) InstallRouter(app *fiber.App) {
	app.Post("/webhook/adyen", h.webhook.HandleAdyenWebhook)
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
}
