package mail

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/BillingSync/internal/pkg/billing"
	"github.com/ManuelReschke/BillingSync/internal/pkg/database"
	"github.com/ManuelReschke/BillingSync/internal/pkg/jobqueue"
)

// Enqueuer accepts email jobs; *jobqueue.Queue implements it.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, jobType jobqueue.JobType, payload map[string]interface{}) (*jobqueue.Job, error)
}

// enqueueTimeout bounds the enqueue that runs after the reconciliation committed.
const enqueueTimeout = 5 * time.Second

// QueueNotifier schedules customer emails on the notifications queue once the surrounding
// transaction commits. Failures are logged and never reach the caller.
type QueueNotifier struct {
	queue Enqueuer
}

var _ billing.Notifier = (*QueueNotifier)(nil)

func NewQueueNotifier(queue Enqueuer) *QueueNotifier {
	return &QueueNotifier{queue: queue}
}

func (n *QueueNotifier) SendWelcomeEmail(ctx context.Context, w billing.WelcomeNotice) {
	n.schedule(ctx, jobqueue.EmailJobPayload{
		To:       w.Email,
		Subject:  "Welcome to " + orDefault(w.PlanName, "your new plan"),
		Template: TemplateWelcome,
		Data: map[string]string{
			"Name":           w.Name,
			"PlanName":       w.PlanName,
			"SubscriptionID": w.SubscriptionID,
		},
	})
}

func (n *QueueNotifier) SendReceiptEmail(ctx context.Context, r billing.ReceiptNotice) {
	n.schedule(ctx, jobqueue.EmailJobPayload{
		To:       r.Email,
		Subject:  "Payment received for invoice " + r.InvoiceID,
		Template: TemplateReceipt,
		Data: map[string]string{
			"Name":       r.Name,
			"InvoiceID":  r.InvoiceID,
			"Amount":     FormatAmount(r.AmountPaid, r.Currency),
			"InvoiceURL": r.HostedInvoiceURL,
		},
	})
}

func (n *QueueNotifier) SendPaymentFailedEmail(ctx context.Context, f billing.PaymentFailedNotice) {
	subject := "Payment failed for invoice " + f.InvoiceID
	if f.Escalated {
		subject = "Action required: your subscription is past due"
	}
	n.schedule(ctx, jobqueue.EmailJobPayload{
		To:       f.Email,
		Subject:  subject,
		Template: TemplatePaymentFailed,
		Data: map[string]string{
			"Name":             f.Name,
			"InvoiceID":        f.InvoiceID,
			"Amount":           FormatAmount(f.AmountDue, f.Currency),
			"InvoiceURL":       f.HostedInvoiceURL,
			"DaysSinceFailure": strconv.Itoa(f.DaysSinceFailure),
			"DaysLeft":         strconv.Itoa(f.DaysLeft),
			"Escalated":        strconv.FormatBool(f.Escalated),
		},
	})
}

func (n *QueueNotifier) SendCancellationEmail(ctx context.Context, c billing.CancellationNotice) {
	n.schedule(ctx, jobqueue.EmailJobPayload{
		To:       c.Email,
		Subject:  "Your subscription has been canceled",
		Template: TemplateCancellation,
		Data: map[string]string{
			"Name":           c.Name,
			"PlanName":       orDefault(c.PlanName, "your"),
			"SubscriptionID": c.SubscriptionID,
			"EndedAt":        formatDate(c.EndedAt),
		},
	})
}

func (n *QueueNotifier) SendTrialEndingEmail(ctx context.Context, t billing.TrialEndingNotice) {
	n.schedule(ctx, jobqueue.EmailJobPayload{
		To:       t.Email,
		Subject:  "Your trial ends on " + formatDate(t.TrialEnd),
		Template: TemplateTrialEnding,
		Data: map[string]string{
			"Name":           t.Name,
			"PlanName":       orDefault(t.PlanName, "your"),
			"SubscriptionID": t.SubscriptionID,
			"TrialEnd":       formatDate(t.TrialEnd),
			"HasCard":        strconv.FormatBool(t.HasPaymentMethod),
		},
	})
}

func (n *QueueNotifier) schedule(ctx context.Context, p jobqueue.EmailJobPayload) {
	if p.To == "" {
		log.Warnf("[Mail] Skipping %s email without recipient", p.Template)
		return
	}
	p.Data["Subject"] = p.Subject

	database.AfterCommit(ctx, func() {
		enqueueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
		defer cancel()

		job, err := n.queue.EnqueueJob(enqueueCtx, jobqueue.JobTypeSendEmail, p.ToMap())
		if err != nil {
			log.Errorf("[Mail] Failed to enqueue %s email to %s: %v", p.Template, p.To, err)
			return
		}
		log.Debugf("[Mail] Enqueued %s email to %s as job %s", p.Template, p.To, job.ID)
	})
}

// FormatAmount renders minor currency units, e.g. 1500 usd -> "15.00 USD".
func FormatAmount(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, strings.ToUpper(currency))
}

func formatDate(t time.Time) string {
	return t.UTC().Format("January 2, 2006")
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
