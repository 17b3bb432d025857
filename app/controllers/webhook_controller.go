package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/cadencepay/cadence/internal/pkg/billing"
)

// WebhookController receives gateway notification batches, authenticates
// them and queues the accepted items for the background consumer. The
// gateway only wants "[accepted]" back; processing happens asynchronously.
type WebhookController struct {
	ingestor *billing.Ingestor
}

func NewWebhookController(ingestor *billing.Ingestor) *WebhookController {
	return &WebhookController{ingestor: ingestor}
}

// HandleAdyenWebhook is POST /webhook/adyen.
func (wc *WebhookController) HandleAdyenWebhook(c *fiber.Ctx) error {
	queued, err := wc.ingestor.Ingest(c.Context(), c.Body())
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrAuthenticationFailed):
			log.Warnf("[Webhook] rejected unauthenticated notification from %s", c.IP())
		case errors.Is(err, billing.ErrInvalidPayload):
			log.Warnf("[Webhook] rejected malformed notification from %s: %v", c.IP(), err)
		default:
			log.Errorf("[Webhook] failed to queue notification: %v", err)
		}
		// Every failure class gets the same 500 JSON body; the gateway
		// redelivers on any non-2xx.
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Notification could not be processed",
		})
	}

	log.Infof("[Webhook] queued %d notification item(s)", queued)
	return c.SendString("[accepted]")
}
