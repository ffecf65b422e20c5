package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/BillingSync/app/models"
	"github.com/ManuelReschke/BillingSync/app/repository"
)

var (
	// ErrEventNotFound is returned when the ledger has no row for an event id.
	ErrEventNotFound = errors.New("webhook event not found")
	// ErrNotReplayable is returned when replay is requested for an event that did not fail.
	ErrNotReplayable = errors.New("only failed webhook events can be replayed")
)

// maxErrorMessageLength keeps stored failure messages readable in the admin listing.
const maxErrorMessageLength = 2000

// Ledger is the durable record of every received event and where it is in processing.
type Ledger struct {
	repo repository.WebhookEventRepository
}

func NewLedger(repo repository.WebhookEventRepository) *Ledger {
	return &Ledger{repo: repo}
}

// HasProcessed reports whether eventID has been applied successfully.
func (l *Ledger) HasProcessed(ctx context.Context, eventID string) (bool, error) {
	e, err := l.repo.GetByEventID(ctx, eventID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return e.Status == models.WebhookEventStatusProcessed, nil
}

// MarkQueued records a new event in status queued. It is one atomic insert; created is false when
// the event id was already recorded, whoever recorded it.
func (l *Ledger) MarkQueued(ctx context.Context, eventID, eventType string, rawPayload []byte) (bool, error) {
	created, err := l.repo.CreateIfNotExists(ctx, &models.WebhookEvent{
		Provider:   "stripe",
		EventID:    eventID,
		EventType:  eventType,
		Status:     models.WebhookEventStatusQueued,
		RawPayload: string(rawPayload),
	})
	if err != nil {
		return false, fmt.Errorf("record event %s: %w", eventID, err)
	}
	if created {
		log.Infof("[Webhook] Ledger: %s (%s) queued", eventID, eventType)
	}
	return created, nil
}

// UpdateStatus moves an event to status. cause is stored as the error message (nil clears it).
// Failed and retrying transitions increment the retry count.
func (l *Ledger) UpdateStatus(ctx context.Context, eventID, eventType string, status models.WebhookEventStatus, cause error) error {
	var msg *string
	if cause != nil {
		s := cause.Error()
		if len(s) > maxErrorMessageLength {
			s = s[:maxErrorMessageLength]
		}
		msg = &s
	}

	if err := l.repo.UpdateStatus(ctx, eventID, status, msg); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
		}
		return fmt.Errorf("update event %s to %s: %w", eventID, status, err)
	}

	if cause != nil {
		log.Warnf("[Webhook] Ledger: %s (%s) -> %s: %v", eventID, eventType, status, cause)
	} else {
		log.Infof("[Webhook] Ledger: %s (%s) -> %s", eventID, eventType, status)
	}
	return nil
}

// Claim takes the event for one processing run. Queued and retrying events can be claimed, and
// so can an event left in processing for longer than lease by a worker that died. false means
// another run holds it, it is already finished, or it does not exist.
func (l *Ledger) Claim(ctx context.Context, eventID string, lease time.Duration) (bool, error) {
	claimed, err := l.repo.Claim(ctx, eventID, []models.WebhookEventStatus{
		models.WebhookEventStatusQueued,
		models.WebhookEventStatusRetrying,
	}, time.Now().Add(-lease))
	if err != nil {
		return false, fmt.Errorf("claim event %s: %w", eventID, err)
	}
	if claimed {
		log.Debugf("[Webhook] Ledger: %s claimed", eventID)
	}
	return claimed, nil
}

// GetQueuedByID loads the ledger row with its stored payload.
func (l *Ledger) GetQueuedByID(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	e, err := l.repo.GetByEventID(ctx, eventID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	return e, err
}

// ResetForReplay puts a failed event back to queued. The retry count is kept as history.
func (l *Ledger) ResetForReplay(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	e, err := l.GetQueuedByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if e.Status != models.WebhookEventStatusFailed {
		return nil, fmt.Errorf("%w (event %s is %s)", ErrNotReplayable, eventID, e.Status)
	}
	if err := l.repo.ResetForReplay(ctx, eventID); err != nil {
		return nil, fmt.Errorf("reset event %s: %w", eventID, err)
	}
	log.Infof("[Webhook] Ledger: %s (%s) reset for replay", eventID, e.EventType)
	e.Status = models.WebhookEventStatusQueued
	e.ErrorMessage = nil
	e.ProcessedAt = nil
	return e, nil
}

func (l *Ledger) ListByStatus(ctx context.Context, status models.WebhookEventStatus, limit int) ([]models.WebhookEvent, error) {
	return l.repo.ListByStatus(ctx, status, limit)
}

// ListStale returns events parked in one of statuses since before olderThan.
func (l *Ledger) ListStale(ctx context.Context, statuses []models.WebhookEventStatus, olderThan time.Time, limit int) ([]models.WebhookEvent, error) {
	return l.repo.ListStale(ctx, statuses, olderThan, limit)
}

func (l *Ledger) CountByStatus(ctx context.Context) (map[models.WebhookEventStatus]int64, error) {
	return l.repo.CountByStatus(ctx)
}
