package controllers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/BillingSync/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/BillingSync/internal/pkg/webhook"
)

// ProcessorStripe is the only processor accepted on /webhooks/:processor.
const ProcessorStripe = "stripe"

// TrafficCounter counts deliveries by event type and outcome.
type TrafficCounter interface {
	Count(ctx context.Context, eventType, outcome string)
}

// WebhookController exposes the receiver over HTTP. It verifies and records; processing happens on
// the job queue.
type WebhookController struct {
	receiver *webhook.Receiver
	counter  TrafficCounter
}

// NewWebhookController creates the controller. counter may be nil.
func NewWebhookController(receiver *webhook.Receiver, counter TrafficCounter) *WebhookController {
	return &WebhookController{receiver: receiver, counter: counter}
}

func (wc *WebhookController) HandleWebhook(c *fiber.Ctx) error {
	if c.Params("processor") != ProcessorStripe {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown_processor"})
	}

	// The body buffer is reused by fasthttp after the handler returns
	payload := append([]byte(nil), c.Body()...)
	receipt, err := wc.receiver.Receive(c.UserContext(), payload, c.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, webhook.ErrInvalidSignature):
		wc.count(c, "", counter.OutcomeInvalidSignature)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	case errors.Is(err, webhook.ErrMalformedEvent):
		wc.count(c, "", counter.OutcomeMalformed)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	case err != nil:
		wc.count(c, receipt.EventType, counter.OutcomeUnavailable)
		c.Set(fiber.HeaderRetryAfter, "30")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "temporarily_unavailable"})
	}

	switch {
	case receipt.Duplicate:
		wc.count(c, receipt.EventType, counter.OutcomeDuplicate)
	case receipt.Queued:
		wc.count(c, receipt.EventType, counter.OutcomeQueued)
	default:
		wc.count(c, receipt.EventType, counter.OutcomeNotQueued)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"received":  true,
		"eventId":   receipt.EventID,
		"eventType": receipt.EventType,
		"queued":    receipt.Queued,
		"duplicate": receipt.Duplicate,
	})
}

func (wc *WebhookController) count(c *fiber.Ctx, eventType, outcome string) {
	if wc.counter != nil {
		wc.counter.Count(c.UserContext(), eventType, outcome)
	}
}
