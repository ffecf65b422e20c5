package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v76"

	"github.com/ManuelReschke/BillingSync/app/models"
)

func TestSubscriptionStatusFromStripe(t *testing.T) {
	known := map[stripe.SubscriptionStatus]models.SubscriptionStatus{
		stripe.SubscriptionStatusIncomplete:        models.SubscriptionStatusIncomplete,
		stripe.SubscriptionStatusIncompleteExpired: models.SubscriptionStatusIncompleteExpired,
		stripe.SubscriptionStatusTrialing:          models.SubscriptionStatusTrialing,
		stripe.SubscriptionStatusActive:            models.SubscriptionStatusActive,
		stripe.SubscriptionStatusPastDue:           models.SubscriptionStatusPastDue,
		stripe.SubscriptionStatusCanceled:          models.SubscriptionStatusCanceled,
		stripe.SubscriptionStatusUnpaid:            models.SubscriptionStatusUnpaid,
		stripe.SubscriptionStatusPaused:            models.SubscriptionStatusPaused,
	}
	for remote, want := range known {
		got, ok := SubscriptionStatusFromStripe(remote)
		assert.True(t, ok, remote)
		assert.Equal(t, want, got)
	}

	_, ok := SubscriptionStatusFromStripe("frozen")
	assert.False(t, ok)
}

func TestInvoiceStatusFromStripe(t *testing.T) {
	got, ok := InvoiceStatusFromStripe(stripe.InvoiceStatusUncollectible)
	assert.True(t, ok)
	assert.Equal(t, models.InvoiceStatusUncollectible, got)

	_, ok = InvoiceStatusFromStripe("deleted")
	assert.False(t, ok)
}

func TestSubscriptionStatusForUpdate(t *testing.T) {
	cases := []struct {
		name    string
		current models.SubscriptionStatus
		remote  models.SubscriptionStatus
		want    models.SubscriptionStatus
		apply   bool
	}{
		{"trial converts", models.SubscriptionStatusTrialing, models.SubscriptionStatusActive, models.SubscriptionStatusActive, true},
		{"incomplete activates", models.SubscriptionStatusIncomplete, models.SubscriptionStatusActive, models.SubscriptionStatusActive, true},
		{"unchanged", models.SubscriptionStatusActive, models.SubscriptionStatusActive, models.SubscriptionStatusActive, false},
		{"canceled is terminal", models.SubscriptionStatusCanceled, models.SubscriptionStatusActive, models.SubscriptionStatusCanceled, false},
		{"past_due leaves only via payment", models.SubscriptionStatusPastDue, models.SubscriptionStatusActive, models.SubscriptionStatusPastDue, false},
		{"past_due can be canceled", models.SubscriptionStatusPastDue, models.SubscriptionStatusCanceled, models.SubscriptionStatusCanceled, true},
		{"active to past_due belongs to grace escalation", models.SubscriptionStatusActive, models.SubscriptionStatusPastDue, models.SubscriptionStatusActive, false},
		{"trialing to past_due belongs to grace escalation", models.SubscriptionStatusTrialing, models.SubscriptionStatusPastDue, models.SubscriptionStatusTrialing, false},
		{"incomplete to past_due", models.SubscriptionStatusIncomplete, models.SubscriptionStatusPastDue, models.SubscriptionStatusPastDue, true},
		{"active cancels", models.SubscriptionStatusActive, models.SubscriptionStatusCanceled, models.SubscriptionStatusCanceled, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, apply := subscriptionStatusForUpdate(tc.current, tc.remote)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.apply, apply)
		})
	}
}

func TestCanMoveInvoice(t *testing.T) {
	cases := []struct {
		from, to models.InvoiceStatus
		want     bool
	}{
		{models.InvoiceStatusDraft, models.InvoiceStatusOpen, true},
		{models.InvoiceStatusOpen, models.InvoiceStatusPaid, true},
		{models.InvoiceStatusOpen, models.InvoiceStatusUncollectible, true},
		{models.InvoiceStatusUncollectible, models.InvoiceStatusPaid, true},
		{models.InvoiceStatusUncollectible, models.InvoiceStatusVoid, true},
		{models.InvoiceStatusOpen, models.InvoiceStatusDraft, false},
		{models.InvoiceStatusPaid, models.InvoiceStatusOpen, false},
		{models.InvoiceStatusPaid, models.InvoiceStatusVoid, false},
		{models.InvoiceStatusVoid, models.InvoiceStatusPaid, false},
		{models.InvoiceStatusOpen, models.InvoiceStatusOpen, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, canMoveInvoice(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}
