package billing

import (
	"github.com/stripe/stripe-go/v76"

	"github.com/ManuelReschke/BillingSync/app/models"
)

// SubscriptionStatusFromStripe maps a processor subscription status onto the local enum. Unknown
// values are rejected rather than guessed.
func SubscriptionStatusFromStripe(status stripe.SubscriptionStatus) (models.SubscriptionStatus, bool) {
	switch status {
	case stripe.SubscriptionStatusIncomplete:
		return models.SubscriptionStatusIncomplete, true
	case stripe.SubscriptionStatusIncompleteExpired:
		return models.SubscriptionStatusIncompleteExpired, true
	case stripe.SubscriptionStatusTrialing:
		return models.SubscriptionStatusTrialing, true
	case stripe.SubscriptionStatusActive:
		return models.SubscriptionStatusActive, true
	case stripe.SubscriptionStatusPastDue:
		return models.SubscriptionStatusPastDue, true
	case stripe.SubscriptionStatusCanceled:
		return models.SubscriptionStatusCanceled, true
	case stripe.SubscriptionStatusUnpaid:
		return models.SubscriptionStatusUnpaid, true
	case stripe.SubscriptionStatusPaused:
		return models.SubscriptionStatusPaused, true
	default:
		return "", false
	}
}

// InvoiceStatusFromStripe maps a processor invoice status onto the local enum.
func InvoiceStatusFromStripe(status stripe.InvoiceStatus) (models.InvoiceStatus, bool) {
	switch status {
	case stripe.InvoiceStatusDraft:
		return models.InvoiceStatusDraft, true
	case stripe.InvoiceStatusOpen:
		return models.InvoiceStatusOpen, true
	case stripe.InvoiceStatusPaid:
		return models.InvoiceStatusPaid, true
	case stripe.InvoiceStatusUncollectible:
		return models.InvoiceStatusUncollectible, true
	case stripe.InvoiceStatusVoid:
		return models.InvoiceStatusVoid, true
	default:
		return "", false
	}
}

// subscriptionStatusForUpdate decides which status a subscription update may apply. Leaving
// past_due belongs to invoice payment (cancellation excepted), and entering past_due from a healthy
// state belongs to the grace period escalation.
func subscriptionStatusForUpdate(current, remote models.SubscriptionStatus) (models.SubscriptionStatus, bool) {
	if current == remote || !current.CanTransitionTo(remote) {
		return current, false
	}
	if current == models.SubscriptionStatusPastDue && remote != models.SubscriptionStatusCanceled {
		return current, false
	}
	if remote == models.SubscriptionStatusPastDue && current.IsEntitling() {
		return current, false
	}
	return remote, true
}

// invoiceStatusRank orders invoice states so late events cannot move an invoice backwards.
var invoiceStatusRank = map[models.InvoiceStatus]int{
	models.InvoiceStatusDraft:         0,
	models.InvoiceStatusOpen:          1,
	models.InvoiceStatusUncollectible: 2,
	models.InvoiceStatusPaid:          3,
	models.InvoiceStatusVoid:          3,
}

// canMoveInvoice reports whether an invoice may go from one status to another. Paid and void are
// final; uncollectible invoices can still be paid or voided.
func canMoveInvoice(from, to models.InvoiceStatus) bool {
	if from == to {
		return false
	}
	if from == models.InvoiceStatusPaid || from == models.InvoiceStatusVoid {
		return false
	}
	return invoiceStatusRank[to] > invoiceStatusRank[from]
}
