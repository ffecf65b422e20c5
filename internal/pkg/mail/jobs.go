package mail

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuelReschke/BillingSync/internal/pkg/jobqueue"
)

// QueueName is the durable queue for customer notifications.
const QueueName = "notifications"

// RegisterJobs binds email jobs on q to rendering and delivery.
func RegisterJobs(q *jobqueue.Queue, renderer *Renderer, mailer Mailer) {
	q.RegisterHandler(jobqueue.JobTypeSendEmail, NewEmailJobHandler(renderer, mailer))
}

// NewEmailJobHandler renders and sends one email job. Bad payloads and unknown templates fail
// permanently; delivery errors are retried by the queue.
func NewEmailJobHandler(renderer *Renderer, mailer Mailer) jobqueue.Handler {
	return func(ctx context.Context, job *jobqueue.Job) error {
		payload, err := jobqueue.EmailJobPayloadFromMap(job.Payload)
		if err != nil {
			return jobqueue.Permanent(fmt.Errorf("invalid email payload: %w", err))
		}
		if payload.To == "" {
			return jobqueue.Permanent(errors.New("email job without recipient"))
		}
		if payload.Data == nil {
			payload.Data = map[string]string{}
		}

		body, err := renderer.Render(payload.Template, payload.Data)
		if err != nil {
			return jobqueue.Permanent(err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return mailer.SendMail(payload.To, payload.Subject, body)
	}
}
