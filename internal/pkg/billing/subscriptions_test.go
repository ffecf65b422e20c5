package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"

	"github.com/ManuelReschke/BillingSync/app/models"
	"github.com/ManuelReschke/BillingSync/internal/pkg/testutil"
	"github.com/ManuelReschke/BillingSync/internal/pkg/webhook"
)

func TestSubscriptionCreated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	env := f.envelope(t, "evt_created", EventSubscriptionCreated, subscriptionObject("sub_1", "active"))
	res := f.r.HandleSubscriptionCreated(ctx, env)
	require.Equal(t, webhook.OutcomeSucceeded, res.Outcome, res.String())

	sub := f.subscription(t, "sub_1")
	assert.Equal(t, f.customer.ID, sub.CustomerID)
	assert.Equal(t, f.plan.ID, sub.PlanID)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	require.NotNil(t, sub.CurrentPeriodStart)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.True(t, sub.CurrentPeriodStart.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, sub.CurrentPeriodEnd.Equal(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)))
	require.Len(t, f.notifier.welcome, 1)
	assert.Equal(t, "Pro Monthly", f.notifier.welcome[0].PlanName)

	// Redelivery changes nothing
	res = f.r.HandleSubscriptionCreated(ctx, env)
	assert.Equal(t, webhook.OutcomeSucceeded, res.Outcome)
	assert.Len(t, f.notifier.welcome, 1)

	var count int64
	require.NoError(t, f.db.Model(&models.Subscription{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSubscriptionCreatedInTrialSkipsWelcome(t *testing.T) {
	f := newFixture(t)

	obj := subscriptionObject("sub_trial", "trialing")
	obj["trial_end"] = f.clock.Now().Add(14 * 24 * time.Hour).Unix()
	res := f.r.HandleSubscriptionCreated(context.Background(), f.envelope(t, "evt_trial", EventSubscriptionCreated, obj))
	require.True(t, res.Success(), res.String())

	assert.Equal(t, models.SubscriptionStatusTrialing, f.subscription(t, "sub_trial").Status)
	assert.Empty(t, f.notifier.welcome)
}

func TestSubscriptionCreatedMissingReferencesRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	unknownCustomer := subscriptionObject("sub_1", "active")
	unknownCustomer["customer"] = "cus_unknown"
	res := f.r.HandleSubscriptionCreated(ctx, f.envelope(t, "evt_1", EventSubscriptionCreated, unknownCustomer))
	assert.Equal(t, webhook.OutcomeTransient, res.Outcome)

	unknownPrice := subscriptionObject("sub_2", "active")
	unknownPrice["items"] = map[string]interface{}{
		"object": "list",
		"data": []interface{}{
			map[string]interface{}{"id": "si_2", "quantity": 1, "price": map[string]interface{}{"id": "price_unknown"}},
		},
	}
	res = f.r.HandleSubscriptionCreated(ctx, f.envelope(t, "evt_2", EventSubscriptionCreated, unknownPrice))
	assert.Equal(t, webhook.OutcomeTransient, res.Outcome)

	var count int64
	require.NoError(t, f.db.Model(&models.Subscription{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestSubscriptionCreatedForCustomerUnknownToProcessor(t *testing.T) {
	f := newFixture(t)
	f.api.goneCustomers["cus_gone"] = true

	obj := subscriptionObject("sub_1", "active")
	obj["customer"] = "cus_gone"
	res := f.r.HandleSubscriptionCreated(context.Background(), f.envelope(t, "evt_1", EventSubscriptionCreated, obj))
	assert.Equal(t, webhook.OutcomePermanent, res.Outcome)
}

func TestSubscriptionCreatedWithoutPriceFails(t *testing.T) {
	f := newFixture(t)

	obj := subscriptionObject("sub_1", "active")
	delete(obj, "items")
	res := f.r.HandleSubscriptionCreated(context.Background(), f.envelope(t, "evt_1", EventSubscriptionCreated, obj))
	assert.Equal(t, webhook.OutcomePermanent, res.Outcome)
}

func TestSubscriptionUpdatedMirrorsFields(t *testing.T) {
	f := newFixture(t)
	testutil.SeedSubscription(t, f.db, f.customer, f.plan, "sub_1", models.SubscriptionStatusTrialing)
	yearly := testutil.SeedPlan(t, f.db, "price_yearly", "Pro Yearly")

	obj := subscriptionObject("sub_1", "active")
	obj["cancel_at_period_end"] = true
	obj["items"] = map[string]interface{}{
		"object": "list",
		"data": []interface{}{
			map[string]interface{}{"id": "si_1", "quantity": 3, "price": map[string]interface{}{"id": "price_yearly"}},
		},
	}
	res := f.r.HandleSubscriptionUpdated(context.Background(), f.envelope(t, "evt_upd", EventSubscriptionUpdated, obj))
	require.Equal(t, webhook.OutcomeSucceeded, res.Outcome, res.String())
	assert.Equal(t, "active", res.Metadata["status"])

	sub := f.subscription(t, "sub_1")
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, int64(3), sub.Quantity)
	assert.Equal(t, yearly.ID, sub.PlanID)
	require.NotNil(t, sub.CurrentPeriodEnd)

	// Same payload again is a no-op
	res = f.r.HandleSubscriptionUpdated(context.Background(), f.envelope(t, "evt_upd", EventSubscriptionUpdated, obj))
	assert.Contains(t, res.Message, "unchanged")
}

func TestSubscriptionUpdatedOutOfOrderKeepsNewerState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.SeedSubscription(t, f.db, f.customer, f.plan, "sub_1", models.SubscriptionStatusActive)

	withQuantity := func(q int) map[string]interface{} {
		obj := subscriptionObject("sub_1", "active")
		obj["items"] = map[string]interface{}{
			"object": "list",
			"data": []interface{}{
				map[string]interface{}{"id": "si_1", "quantity": q, "price": map[string]interface{}{"id": f.plan.StripePriceID}},
			},
		}
		return obj
	}

	newerObj := withQuantity(5)
	newerObj["cancel_at_period_end"] = true
	newer := f.envelope(t, "evt_newer", EventSubscriptionUpdated, newerObj)
	newer.Created = time.Unix(2000, 0).UTC()
	older := f.envelope(t, "evt_older", EventSubscriptionUpdated, withQuantity(2))
	older.Created = time.Unix(1000, 0).UTC()

	res := f.r.HandleSubscriptionUpdated(ctx, newer)
	require.Equal(t, webhook.OutcomeSucceeded, res.Outcome, res.String())

	res = f.r.HandleSubscriptionUpdated(ctx, older)
	assert.Equal(t, webhook.OutcomeIgnored, res.Outcome, res.String())

	sub := f.subscription(t, "sub_1")
	assert.Equal(t, int64(5), sub.Quantity)
	assert.True(t, sub.CancelAtPeriodEnd)
	require.NotNil(t, sub.RemoteUpdatedAt)
	assert.True(t, sub.RemoteUpdatedAt.Equal(newer.Created))

	// a later event applies again
	latest := f.envelope(t, "evt_latest", EventSubscriptionUpdated, withQuantity(7))
	latest.Created = time.Unix(3000, 0).UTC()
	res = f.r.HandleSubscriptionUpdated(ctx, latest)
	require.Equal(t, webhook.OutcomeSucceeded, res.Outcome, res.String())
	assert.Equal(t, int64(7), f.subscription(t, "sub_1").Quantity)
}

func TestSubscriptionCreatedStampsRemoteState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.envelope(t, "evt_created", EventSubscriptionCreated, subscriptionObject("sub_1", "active"))
	created.Created = time.Unix(2000, 0).UTC()
	require.True(t, f.r.HandleSubscriptionCreated(ctx, created).Success())

	stale := f.envelope(t, "evt_stale", EventSubscriptionUpdated, subscriptionObject("sub_1", "incomplete"))
	stale.Created = time.Unix(1500, 0).UTC()
	res := f.r.HandleSubscriptionUpdated(ctx, stale)
	assert.Equal(t, webhook.OutcomeIgnored, res.Outcome)
	assert.Equal(t, models.SubscriptionStatusActive, f.subscription(t, "sub_1").Status)
}

func TestSubscriptionUpdatedUnknownCreates(t *testing.T) {
	f := newFixture(t)

	res := f.r.HandleSubscriptionUpdated(context.Background(), f.envelope(t, "evt_upd", EventSubscriptionUpdated, subscriptionObject("sub_new", "active")))
	require.Equal(t, webhook.OutcomeSucceeded, res.Outcome, res.String())
	assert.Equal(t, models.SubscriptionStatusActive, f.subscription(t, "sub_new").Status)
}

func TestSubscriptionUpdatedCanceledIsTerminal(t *testing.T) {
	f := newFixture(t)
	testutil.SeedSubscription(t, f.db, f.customer, f.plan, "sub_1", models.SubscriptionStatusCanceled)

	res := f.r.HandleSubscriptionUpdated(context.Background(), f.envelope(t, "evt_late", EventSubscriptionUpdated, subscriptionObject("sub_1", "active")))
	assert.Equal(t, webhook.OutcomeIgnored, res.Outcome)
	assert.Equal(t, models.SubscriptionStatusCanceled, f.subscription(t, "sub_1").Status)
}

func TestSubscriptionUpdatedDoesNotOwnDunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.SeedSubscription(t, f.db, f.customer, f.plan, "sub_active", models.SubscriptionStatusActive)
	testutil.SeedSubscription(t, f.db, f.customer, f.plan, "sub_pastdue", models.SubscriptionStatusPastDue)

	res := f.r.HandleSubscriptionUpdated(ctx, f.envelope(t, "evt_1", EventSubscriptionUpdated, subscriptionObject("sub_active", "past_due")))
	require.True(t, res.Success(), res.String())
	assert.Equal(t, models.SubscriptionStatusActive, f.subscription(t, "sub_active").Status)

	res = f.r.HandleSubscriptionUpdated(ctx, f.envelope(t, "evt_2", EventSubscriptionUpdated, subscriptionObject("sub_pastdue", "active")))
	require.True(t, res.Success(), res.String())
	assert.Equal(t, models.SubscriptionStatusPastDue, f.subscription(t, "sub_pastdue").Status)

	res = f.r.HandleSubscriptionUpdated(ctx, f.envelope(t, "evt_3", EventSubscriptionUpdated, subscriptionObject("sub_pastdue", "canceled")))
	require.True(t, res.Success(), res.String())
	assert.Equal(t, models.SubscriptionStatusCanceled, f.subscription(t, "sub_pastdue").Status)
}

func TestSubscriptionDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.SeedSubscription(t, f.db, f.customer, f.plan, "sub_1", models.SubscriptionStatusActive)

	obj := subscriptionObject("sub_1", "canceled")
	obj["canceled_at"] = f.clock.Now().Add(-time.Hour).Unix()
	env := f.envelope(t, "evt_del", EventSubscriptionDeleted, obj)

	res := f.r.HandleSubscriptionDeleted(ctx, env)
	require.Equal(t, webhook.OutcomeSucceeded, res.Outcome, res.String())

	sub := f.subscription(t, "sub_1")
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)
	assert.True(t, sub.IsDeleted)
	require.NotNil(t, sub.CanceledAt)
	assert.True(t, sub.CanceledAt.Equal(f.clock.Now().Add(-time.Hour).Truncate(time.Second)))
	require.NotNil(t, sub.EndedAt)
	require.Len(t, f.notifier.cancellations, 1)
	assert.Equal(t, "Pro Monthly", f.notifier.cancellations[0].PlanName)

	res = f.r.HandleSubscriptionDeleted(ctx, env)
	assert.Equal(t, webhook.OutcomeSucceeded, res.Outcome)
	assert.Len(t, f.notifier.cancellations, 1)

	res = f.r.HandleSubscriptionDeleted(ctx, f.envelope(t, "evt_other", EventSubscriptionDeleted, subscriptionObject("sub_unknown", "canceled")))
	assert.Equal(t, webhook.OutcomeIgnored, res.Outcome)
}

func TestTrialWillEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.SeedSubscription(t, f.db, f.customer, f.plan, "sub_1", models.SubscriptionStatusTrialing)

	trialEnd := f.clock.Now().Add(3 * 24 * time.Hour).Truncate(time.Second)
	obj := subscriptionObject("sub_1", "trialing")
	obj["trial_end"] = trialEnd.Unix()

	res := f.r.HandleTrialWillEnd(ctx, f.envelope(t, "evt_trial", EventSubscriptionTrialWillEnd, obj))
	require.Equal(t, webhook.OutcomeSucceeded, res.Outcome, res.String())
	require.Len(t, f.notifier.trials, 1)
	assert.True(t, f.notifier.trials[0].TrialEnd.Equal(trialEnd))
	assert.False(t, f.notifier.trials[0].HasPaymentMethod)

	f.api.paymentMethods[f.customer.ExternalID()] = []*stripe.PaymentMethod{{ID: "pm_1"}}
	res = f.r.HandleTrialWillEnd(ctx, f.envelope(t, "evt_trial_3", EventSubscriptionTrialWillEnd, obj))
	require.Equal(t, webhook.OutcomeSucceeded, res.Outcome, res.String())
	require.Len(t, f.notifier.trials, 2)
	assert.True(t, f.notifier.trials[1].HasPaymentMethod)

	res = f.r.HandleTrialWillEnd(ctx, f.envelope(t, "evt_trial_2", EventSubscriptionTrialWillEnd, subscriptionObject("sub_unknown", "trialing")))
	assert.Equal(t, webhook.OutcomeTransient, res.Outcome)
}
