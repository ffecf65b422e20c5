package billing

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/BillingSync/app/models"
	"github.com/ManuelReschke/BillingSync/app/repository"
	"github.com/ManuelReschke/BillingSync/internal/pkg/webhook"
)

// Processor event types handled here.
const (
	EventSubscriptionCreated        = "customer.subscription.created"
	EventSubscriptionUpdated        = "customer.subscription.updated"
	EventSubscriptionDeleted        = "customer.subscription.deleted"
	EventSubscriptionTrialWillEnd   = "customer.subscription.trial_will_end"
	EventInvoicePaid                = "invoice.paid"
	EventInvoicePaymentSucceeded    = "invoice.payment_succeeded"
	EventInvoicePaymentFailed       = "invoice.payment_failed"
	EventInvoiceFinalized           = "invoice.finalized"
	EventInvoiceVoided              = "invoice.voided"
	EventInvoiceMarkedUncollectible = "invoice.marked_uncollectible"
	EventCustomerUpdated            = "customer.updated"
	EventCustomerDeleted            = "customer.deleted"
	EventCheckoutSessionCompleted   = "checkout.session.completed"
)

// Config tunes the reconciler.
type Config struct {
	GracePeriodDays int
	// Now is the clock used for grace period and soft-delete timestamps.
	Now func() time.Time
}

// Reconciler applies processor events to local customers, subscriptions and invoices. Every handler
// reads the current local row before writing so it can run any number of times for one event.
type Reconciler struct {
	customers     repository.CustomerRepository
	plans         repository.PlanRepository
	subscriptions repository.SubscriptionRepository
	invoices      repository.InvoiceRepository
	notifier      Notifier
	stripe        StripeAPI
	grace         GracePeriod
	now           func() time.Time
}

func NewReconciler(repos *repository.Repositories, notifier Notifier, api StripeAPI, cfg Config) *Reconciler {
	if cfg.GracePeriodDays <= 0 {
		cfg.GracePeriodDays = DefaultGracePeriodDays
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reconciler{
		customers:     repos.Customer,
		plans:         repos.Plan,
		subscriptions: repos.Subscription,
		invoices:      repos.Invoice,
		notifier:      notifier,
		stripe:        api,
		grace:         GracePeriod{Days: cfg.GracePeriodDays},
		now:           cfg.Now,
	}
}

// RegisterHandlers binds every supported event type on d.
func RegisterHandlers(d *webhook.Dispatcher, r *Reconciler) error {
	handlers := map[string]webhook.HandlerFunc{
		EventSubscriptionCreated:        r.HandleSubscriptionCreated,
		EventSubscriptionUpdated:        r.HandleSubscriptionUpdated,
		EventSubscriptionDeleted:        r.HandleSubscriptionDeleted,
		EventSubscriptionTrialWillEnd:   r.HandleTrialWillEnd,
		EventInvoicePaid:                r.HandleInvoicePaid,
		EventInvoicePaymentSucceeded:    r.HandleInvoicePaid,
		EventInvoicePaymentFailed:       r.HandleInvoicePaymentFailed,
		EventInvoiceFinalized:           r.HandleInvoiceStatusChanged,
		EventInvoiceVoided:              r.HandleInvoiceStatusChanged,
		EventInvoiceMarkedUncollectible: r.HandleInvoiceStatusChanged,
		EventCustomerUpdated:            r.HandleCustomerUpdated,
		EventCustomerDeleted:            r.HandleCustomerDeleted,
		EventCheckoutSessionCompleted:   r.HandleCheckoutSessionCompleted,
	}
	for eventType, h := range handlers {
		if err := d.Register(eventType, h); err != nil {
			return err
		}
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// unixTime converts a processor timestamp; zero means unset.
func unixTime(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func timeOr(t *time.Time, fallback time.Time) time.Time {
	if t == nil {
		return fallback
	}
	return *t
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// customerByStripeID resolves the local customer, turning "not visible yet" into a retry. A
// customer the processor does not know either is a permanent failure.
func (r *Reconciler) customerByStripeID(ctx context.Context, stripeCustomerID string) (*models.Customer, *webhook.Result) {
	if stripeCustomerID == "" {
		res := webhook.Fail("event has no customer reference")
		return nil, &res
	}
	c, err := r.customers.GetByStripeID(ctx, stripeCustomerID)
	if isNotFound(err) {
		remote, err := r.stripe.GetCustomer(ctx, stripeCustomerID)
		var res webhook.Result
		switch {
		case err != nil:
			res = classifyOutbound(err, "get customer "+stripeCustomerID)
		case remote == nil:
			res = webhook.Fail("customer %s does not exist at the processor", stripeCustomerID)
		default:
			res = webhook.Retry("customer %s not found", stripeCustomerID)
		}
		return nil, &res
	}
	if err != nil {
		res := webhook.RetryOnError(err, "load customer")
		return nil, &res
	}
	return c, nil
}

// hasPaymentMethod asks the processor for cards on file. Lookup errors count as "has one" so a
// reminder never tells a paying customer to add a card.
func (r *Reconciler) hasPaymentMethod(ctx context.Context, c *models.Customer) bool {
	if c.ExternalID() == "" {
		return false
	}
	methods, err := r.stripe.ListPaymentMethods(ctx, c.ExternalID())
	if err != nil {
		log.Warnf("[Billing] Listing payment methods of %s failed: %v", c.ExternalID(), err)
		return true
	}
	return len(methods) > 0
}

// planName is used for notifications only; a missing plan is not an error there.
func (r *Reconciler) planName(ctx context.Context, planID uint) string {
	p, err := r.plans.GetByID(ctx, planID)
	if err != nil {
		return ""
	}
	return p.Name
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "<nil>"
	}
	return t.UTC().Format(time.RFC3339)
}
