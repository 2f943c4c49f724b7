package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/webhook"
)

const (
	HeaderHMACSignature   = "X-Callback-Signature"
	HeaderStripeSignature = "Stripe-Signature"
)

type WebhookHandler struct {
	Processor       *webhook.Processor
	SignatureHeader string
}

func NewWebhookHandler(p *webhook.Processor, scheme string) *WebhookHandler {
	header := HeaderHMACSignature
	if scheme == "stripe" {
		header = HeaderStripeSignature
	}
	return &WebhookHandler{Processor: p, SignatureHeader: header}
}

// HandleCallback acknowledges every verified event, including duplicates and events for
// records this service does not know. Only a failed apply asks for redelivery.
func (h *WebhookHandler) HandleCallback(c *fiber.Ctx) error {
	signature := c.Get(h.SignatureHeader)
	if signature == "" {
		return fail(c, fiber.StatusBadRequest, "Missing signature")
	}

	// fiber reuses the body buffer after the handler returns
	raw := append([]byte(nil), c.Body()...)
	res, err := h.Processor.Receive(c.UserContext(), raw, signature)
	if err != nil {
		return respond(c, nil, false, err)
	}
	return c.JSON(fiber.Map{
		"received":  true,
		"eventType": res.Type,
		"outcome":   res.Outcome,
	})
}
