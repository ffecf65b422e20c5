package billing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"gorm.io/gorm"

	"github.com/ManuelReschke/BillingSync/app/models"
	"github.com/ManuelReschke/BillingSync/app/repository"
	"github.com/ManuelReschke/BillingSync/internal/pkg/testutil"
	"github.com/ManuelReschke/BillingSync/internal/pkg/webhook"
)

type fakeNotifier struct {
	mu            sync.Mutex
	welcome       []WelcomeNotice
	receipts      []ReceiptNotice
	failures      []PaymentFailedNotice
	cancellations []CancellationNotice
	trials        []TrialEndingNotice
}

func (n *fakeNotifier) SendWelcomeEmail(_ context.Context, w WelcomeNotice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.welcome = append(n.welcome, w)
}

func (n *fakeNotifier) SendReceiptEmail(_ context.Context, r ReceiptNotice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receipts = append(n.receipts, r)
}

func (n *fakeNotifier) SendPaymentFailedEmail(_ context.Context, f PaymentFailedNotice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, f)
}

func (n *fakeNotifier) SendCancellationEmail(_ context.Context, c CancellationNotice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancellations = append(n.cancellations, c)
}

func (n *fakeNotifier) SendTrialEndingEmail(_ context.Context, t TrialEndingNotice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.trials = append(n.trials, t)
}

// fakeStripe knows every customer unless it is listed in goneCustomers.
type fakeStripe struct {
	subscriptions  map[string]*stripe.Subscription
	sessions       map[string]*stripe.CheckoutSession
	goneCustomers  map[string]bool
	paymentMethods map[string][]*stripe.PaymentMethod
	err            error
	subCalls       int
	sessionCalls   int
}

func (f *fakeStripe) GetSubscription(_ context.Context, id string) (*stripe.Subscription, error) {
	f.subCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.subscriptions[id], nil
}

func (f *fakeStripe) GetCheckoutSession(_ context.Context, id string) (*stripe.CheckoutSession, error) {
	f.sessionCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.sessions[id], nil
}

func (f *fakeStripe) GetCustomer(_ context.Context, id string) (*stripe.Customer, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.goneCustomers[id] {
		return nil, nil
	}
	return &stripe.Customer{ID: id}, nil
}

func (f *fakeStripe) ListPaymentMethods(_ context.Context, customerID string) ([]*stripe.PaymentMethod, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.paymentMethods[customerID], nil
}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fixture struct {
	db       *gorm.DB
	r        *Reconciler
	notifier *fakeNotifier
	api      *fakeStripe
	clock    *testClock
	customer *models.Customer
	plan     *models.Plan
}

const (
	testCustomerID = "cus_test"
	testPriceID    = "price_monthly"
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	f := &fixture{
		db:       db,
		notifier: &fakeNotifier{},
		api: &fakeStripe{
			subscriptions:  map[string]*stripe.Subscription{},
			sessions:       map[string]*stripe.CheckoutSession{},
			goneCustomers:  map[string]bool{},
			paymentMethods: map[string][]*stripe.PaymentMethod{},
		},
		clock: &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.customer = testutil.SeedCustomer(t, db, testCustomerID, "jane@example.com")
	f.plan = testutil.SeedPlan(t, db, testPriceID, "Pro Monthly")
	f.r = NewReconciler(repository.NewRepositories(db), f.notifier, f.api, Config{Now: f.clock.Now})
	return f
}

func (f *fixture) envelope(t *testing.T, id, eventType string, object interface{}) *webhook.Envelope {
	t.Helper()
	env, err := webhook.ParseEnvelope(testutil.EventPayload(t, id, eventType, object))
	require.NoError(t, err)
	return env
}

func (f *fixture) subscription(t *testing.T, stripeID string) *models.Subscription {
	t.Helper()
	var s models.Subscription
	require.NoError(t, f.db.Where("stripe_subscription_id = ?", stripeID).First(&s).Error)
	return &s
}

func (f *fixture) invoice(t *testing.T, stripeID string) *models.Invoice {
	t.Helper()
	var inv models.Invoice
	require.NoError(t, f.db.Where("stripe_invoice_id = ?", stripeID).First(&inv).Error)
	return &inv
}

func (f *fixture) reloadCustomer(t *testing.T) *models.Customer {
	t.Helper()
	var c models.Customer
	require.NoError(t, f.db.First(&c, f.customer.ID).Error)
	return &c
}

func subscriptionObject(id, status string) map[string]interface{} {
	return map[string]interface{}{
		"id":                   id,
		"object":               "subscription",
		"customer":             testCustomerID,
		"status":               status,
		"current_period_start": time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Unix(),
		"current_period_end":   time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC).Unix(),
		"items": map[string]interface{}{
			"object": "list",
			"data": []interface{}{
				map[string]interface{}{
					"id":       "si_" + id,
					"object":   "subscription_item",
					"quantity": 1,
					"price":    map[string]interface{}{"id": testPriceID, "object": "price"},
				},
			},
		},
	}
}

func invoiceObject(id, subscriptionID, status string) map[string]interface{} {
	obj := map[string]interface{}{
		"id":                 id,
		"object":             "invoice",
		"customer":           testCustomerID,
		"status":             status,
		"amount_due":         1500,
		"amount_paid":        0,
		"currency":           "usd",
		"hosted_invoice_url": "https://invoice.example.com/" + id,
	}
	if subscriptionID != "" {
		obj["subscription"] = subscriptionID
	}
	return obj
}
