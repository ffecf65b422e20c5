package controllers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/BillingSync/app/models"
	"github.com/ManuelReschke/BillingSync/internal/pkg/statistics"
	"github.com/ManuelReschke/BillingSync/internal/pkg/webhook"
)

const (
	defaultEventListLimit = 50
	maxEventListLimit     = 500
)

// AdminWebhookController serves the operator endpoints: ledger inspection, replay and stats.
type AdminWebhookController struct {
	ledger   *webhook.Ledger
	enqueuer webhook.Enqueuer
	stats    *statistics.Service
}

func NewAdminWebhookController(ledger *webhook.Ledger, enqueuer webhook.Enqueuer, stats *statistics.Service) *AdminWebhookController {
	return &AdminWebhookController{ledger: ledger, enqueuer: enqueuer, stats: stats}
}

// adminEvent adds the stored payload, which the model hides from JSON.
type adminEvent struct {
	models.WebhookEvent
	Payload string `json:"payload,omitempty"`
}

// HandleListEvents lists ledger rows by status, failed by default.
func (ac *AdminWebhookController) HandleListEvents(c *fiber.Ctx) error {
	status := models.WebhookEventStatus(c.Query("status", string(models.WebhookEventStatusFailed)))
	switch status {
	case models.WebhookEventStatusQueued, models.WebhookEventStatusProcessing, models.WebhookEventStatusProcessed,
		models.WebhookEventStatusFailed, models.WebhookEventStatusRetrying:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_status", "message": "Unknown status " + string(status)})
	}

	limit := defaultEventListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_limit", "message": "limit must be a positive integer"})
		}
		limit = min(n, maxEventListLimit)
	}
	withPayload := c.QueryBool("payload", false)

	events, err := ac.ledger.ListByStatus(c.UserContext(), status, limit)
	if err != nil {
		log.Errorf("[Admin] Listing %s events failed: %v", status, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	out := make([]adminEvent, 0, len(events))
	for _, e := range events {
		item := adminEvent{WebhookEvent: e}
		if withPayload {
			item.Payload = e.RawPayload
		}
		out = append(out, item)
	}
	return c.JSON(fiber.Map{"status": status, "count": len(out), "events": out})
}

// HandleReplayEvent resets a failed event to queued and enqueues it again.
func (ac *AdminWebhookController) HandleReplayEvent(c *fiber.Ctx) error {
	eventID := c.Params("eventId")
	rec, err := webhook.Replay(c.UserContext(), ac.ledger, ac.enqueuer, eventID)
	switch {
	case errors.Is(err, webhook.ErrEventNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Unknown event " + eventID})
	case errors.Is(err, webhook.ErrNotReplayable):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "not_replayable", "message": err.Error()})
	case err != nil && rec == nil:
		log.Errorf("[Admin] Replay of %s failed: %v", eventID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	ac.stats.Invalidate()

	// Reset but not enqueued: the stale sweep picks it up
	queued := err == nil
	if !queued {
		log.Warnf("[Admin] Replay of %s reset the event but enqueue failed: %v", eventID, err)
	}
	log.Infof("[Admin] Event %s (%s) replayed", rec.EventID, rec.EventType)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"eventId":   rec.EventID,
		"eventType": rec.EventType,
		"status":    rec.Status,
		"queued":    queued,
	})
}

// HandleStats returns ledger counts (cached briefly) and live queue figures.
func (ac *AdminWebhookController) HandleStats(c *fiber.Ctx) error {
	data, err := ac.stats.GetStatisticsData(c.UserContext())
	if err != nil {
		log.Errorf("[Admin] Collecting statistics failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.JSON(data)
}
