package billing

import (
	"context"
	"time"

	"github.com/stripe/stripe-go/v76"
)

// Notifier sends customer emails. Calls are fire-and-forget: implementations log failures and never
// report them back, so a notification problem cannot fail a reconciliation.
type Notifier interface {
	SendWelcomeEmail(ctx context.Context, n WelcomeNotice)
	SendReceiptEmail(ctx context.Context, n ReceiptNotice)
	SendPaymentFailedEmail(ctx context.Context, n PaymentFailedNotice)
	SendCancellationEmail(ctx context.Context, n CancellationNotice)
	SendTrialEndingEmail(ctx context.Context, n TrialEndingNotice)
}

type WelcomeNotice struct {
	Email          string
	Name           string
	PlanName       string
	SubscriptionID string
}

type ReceiptNotice struct {
	Email            string
	Name             string
	InvoiceID        string
	AmountPaid       int64
	Currency         string
	HostedInvoiceURL string
}

// PaymentFailedNotice is soft while the subscription is in its grace period and escalated after.
type PaymentFailedNotice struct {
	Email            string
	Name             string
	InvoiceID        string
	AmountDue        int64
	Currency         string
	HostedInvoiceURL string
	DaysSinceFailure int
	DaysLeft         int
	Escalated        bool
}

type CancellationNotice struct {
	Email          string
	Name           string
	PlanName       string
	SubscriptionID string
	EndedAt        time.Time
}

// TrialEndingNotice.HasPaymentMethod is false when the processor has no card on file.
type TrialEndingNotice struct {
	Email            string
	Name             string
	PlanName         string
	SubscriptionID   string
	TrialEnd         time.Time
	HasPaymentMethod bool
}

// StripeAPI is the part of the outbound processor client the handlers use. Lookups return
// (nil, nil) when the object does not exist.
type StripeAPI interface {
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error)
	GetCustomer(ctx context.Context, id string) (*stripe.Customer, error)
	ListPaymentMethods(ctx context.Context, customerID string) ([]*stripe.PaymentMethod, error)
}
