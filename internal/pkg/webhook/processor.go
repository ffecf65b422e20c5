package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/BillingSync/app/models"
	"github.com/ManuelReschke/BillingSync/internal/pkg/database"
	"github.com/ManuelReschke/BillingSync/internal/pkg/jobqueue"
)

// errUnsuccessful rolls back the reconciliation transaction when a handler reports failure.
var errUnsuccessful = errors.New("handler reported failure")

// ErrEventBusy is returned when another run holds the event; the job retries later.
var ErrEventBusy = errors.New("webhook event is being processed by another run")

// DefaultProcessingLease is how long a processing claim protects an event from a second run. It
// stays below the job queue's stuck-job timeout so a recovered job can take the event over.
const DefaultProcessingLease = 5 * time.Minute

// Processor runs one recorded event through the dispatcher and books the result in the ledger.
type Processor struct {
	ledger     *Ledger
	dispatcher *Dispatcher
	tx         database.Transactor
	lease      time.Duration
}

func NewProcessor(ledger *Ledger, dispatcher *Dispatcher, tx database.Transactor) *Processor {
	return &Processor{ledger: ledger, dispatcher: dispatcher, tx: tx, lease: DefaultProcessingLease}
}

// Process applies the stored event. The handler's writes and the processed mark commit together, so
// a cancelled or failed run leaves nothing half applied. The returned error drives the job queue:
// nil completes the job, a jobqueue.Permanent error fails it for good, anything else is retried.
// finalAttempt marks a transient failure as failed instead of retrying in the ledger.
func (p *Processor) Process(ctx context.Context, eventID, eventType string, finalAttempt bool) error {
	claimed, err := p.ledger.Claim(ctx, eventID, p.lease)
	if err != nil {
		return err
	}
	if !claimed {
		return p.unclaimed(ctx, eventID, eventType)
	}

	rec, err := p.ledger.GetQueuedByID(ctx, eventID)
	if err != nil {
		return err
	}
	eventType = rec.EventType

	env, err := ParseEnvelope([]byte(rec.RawPayload))
	if err != nil {
		p.record(ctx, eventID, eventType, models.WebhookEventStatusFailed, err)
		return jobqueue.Permanent(err)
	}

	var res Result
	err = p.tx.WithTransaction(ctx, func(ctx context.Context) error {
		res = p.dispatcher.Dispatch(ctx, env)
		if !res.Success() {
			return errUnsuccessful
		}
		return p.ledger.UpdateStatus(ctx, eventID, eventType, models.WebhookEventStatusProcessed, nil)
	})
	if err == nil {
		if len(res.Metadata) > 0 {
			log.Infof("[Webhook] %s (%s) %s %v", eventID, eventType, res, res.Metadata)
		} else {
			log.Infof("[Webhook] %s (%s) %s", eventID, eventType, res)
		}
		return nil
	}

	cause := err
	permanent := false
	if errors.Is(err, errUnsuccessful) {
		cause = errors.New(res.String())
		permanent = res.Outcome == OutcomePermanent
	}

	status := models.WebhookEventStatusRetrying
	if permanent || finalAttempt {
		status = models.WebhookEventStatusFailed
	}
	p.record(ctx, eventID, eventType, status, cause)

	err = fmt.Errorf("event %s (%s): %w", eventID, eventType, cause)
	if permanent {
		return jobqueue.Permanent(err)
	}
	return err
}

// unclaimed decides what a job does with an event it could not claim.
func (p *Processor) unclaimed(ctx context.Context, eventID, eventType string) error {
	done, err := p.ledger.HasProcessed(ctx, eventID)
	if err != nil {
		return err
	}
	if done {
		log.Infof("[Webhook] %s (%s) already processed, skipping", eventID, eventType)
		return nil
	}

	rec, err := p.ledger.GetQueuedByID(ctx, eventID)
	if errors.Is(err, ErrEventNotFound) {
		log.Errorf("[Webhook] Job for unknown event %s (%s)", eventID, eventType)
		return jobqueue.Permanent(err)
	}
	if err != nil {
		return err
	}
	if rec.Status == models.WebhookEventStatusProcessing {
		return fmt.Errorf("%w: %s", ErrEventBusy, eventID)
	}
	// failed events wait for an explicit replay
	log.Warnf("[Webhook] %s (%s) is %s, not processing", eventID, rec.EventType, rec.Status)
	return nil
}

// record writes a failure status even when ctx was cancelled by a shutdown.
func (p *Processor) record(ctx context.Context, eventID, eventType string, status models.WebhookEventStatus, cause error) {
	if err := p.ledger.UpdateStatus(context.WithoutCancel(ctx), eventID, eventType, status, cause); err != nil {
		log.Errorf("[Webhook] Could not record %s for %s: %v", status, eventID, err)
	}
}
