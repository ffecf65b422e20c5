package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/BillingSync/app/models"
	"github.com/ManuelReschke/BillingSync/internal/pkg/jobqueue"
)

// QueueName is the durable queue reserved for webhook processing.
const QueueName = "webhooks"

// RegisterJobs binds stripe event jobs on q to the processor.
func RegisterJobs(q *jobqueue.Queue, p *Processor) {
	q.RegisterHandler(jobqueue.JobTypeStripeEvent, func(ctx context.Context, job *jobqueue.Job) error {
		payload, err := jobqueue.StripeEventJobPayloadFromMap(job.Payload)
		if err != nil {
			return jobqueue.Permanent(fmt.Errorf("invalid stripe event payload: %w", err))
		}
		if payload.EventID == "" {
			return jobqueue.Permanent(errors.New("stripe event job without event id"))
		}
		return p.Process(ctx, payload.EventID, payload.EventType, job.IsFinalAttempt())
	})
}

// JobTracker is implemented by enqueuers that can tell whether an event still has a job in flight.
type JobTracker interface {
	HasLiveJob(ctx context.Context, eventID string) (bool, error)
}

// QueueEnqueuer puts events on the webhooks queue, keyed by event id.
type QueueEnqueuer struct {
	queue *jobqueue.Queue
}

func NewQueueEnqueuer(q *jobqueue.Queue) *QueueEnqueuer {
	return &QueueEnqueuer{queue: q}
}

func (e *QueueEnqueuer) Enqueue(ctx context.Context, eventID, eventType string) error {
	_, err := e.queue.EnqueueRefJob(ctx, eventID, jobqueue.JobTypeStripeEvent, jobqueue.StripeEventJobPayload{
		EventID:   eventID,
		EventType: eventType,
	}.ToMap())
	return err
}

func (e *QueueEnqueuer) HasLiveJob(ctx context.Context, eventID string) (bool, error) {
	return e.queue.HasLiveJob(ctx, eventID)
}

// Replay resets a failed event and queues it again.
func Replay(ctx context.Context, ledger *Ledger, enq Enqueuer, eventID string) (*models.WebhookEvent, error) {
	rec, err := ledger.ResetForReplay(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := enq.Enqueue(ctx, rec.EventID, rec.EventType); err != nil {
		return rec, fmt.Errorf("enqueue replay of %s: %w", eventID, err)
	}
	return rec, nil
}

// staleBatchSize caps how many orphans one sweep re-enqueues.
const staleBatchSize = 100

// RequeueStale returns a periodic task that re-enqueues events still queued or processing after
// staleAfter, e.g. when the enqueue after recording failed or the job died with its worker.
// Events whose job is only waiting behind a backlog are left alone when enq is a JobTracker.
// The row goes back to queued, which also restarts its stale timer.
func RequeueStale(ledger *Ledger, enq Enqueuer, staleAfter time.Duration) jobqueue.Task {
	tracker, _ := enq.(JobTracker)
	statuses := []models.WebhookEventStatus{models.WebhookEventStatusQueued, models.WebhookEventStatusProcessing}
	return func(ctx context.Context) error {
		events, err := ledger.ListStale(ctx, statuses, time.Now().Add(-staleAfter), staleBatchSize)
		if err != nil {
			return fmt.Errorf("list stale events: %w", err)
		}

		requeued := 0
		for _, e := range events {
			if tracker != nil {
				live, err := tracker.HasLiveJob(ctx, e.EventID)
				if err != nil {
					return fmt.Errorf("check job for %s: %w", e.EventID, err)
				}
				if live {
					continue
				}
			}
			if err := ledger.UpdateStatus(ctx, e.EventID, e.EventType, models.WebhookEventStatusQueued, nil); err != nil {
				return err
			}
			if err := enq.Enqueue(ctx, e.EventID, e.EventType); err != nil {
				return fmt.Errorf("requeue %s: %w", e.EventID, err)
			}
			requeued++
		}
		if requeued > 0 {
			log.Warnf("[Webhook] Re-enqueued %d stale events", requeued)
		}
		return nil
	}
}
