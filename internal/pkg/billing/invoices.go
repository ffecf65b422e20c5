package billing

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v76"

	"github.com/ManuelReschke/BillingSync/app/models"
	"github.com/ManuelReschke/BillingSync/internal/pkg/webhook"
)

func decodeInvoice(env *webhook.Envelope) (*stripe.Invoice, *webhook.Result) {
	var inv stripe.Invoice
	if err := env.Decode(&inv); err != nil {
		res := webhook.Fail("%v", err)
		return nil, &res
	}
	if inv.ID == "" {
		res := webhook.Fail("invoice object without id")
		return nil, &res
	}
	return &inv, nil
}

// loadOrCreateInvoice returns the local invoice, inserting seed when none exists yet.
func (r *Reconciler) loadOrCreateInvoice(ctx context.Context, seed *models.Invoice) (*models.Invoice, bool, *webhook.Result) {
	local, err := r.invoices.GetByStripeID(ctx, seed.StripeInvoiceID)
	if err == nil {
		return local, false, nil
	}
	if !isNotFound(err) {
		res := webhook.RetryOnError(err, "load invoice")
		return nil, false, &res
	}

	if err := seed.Validate(); err != nil {
		res := webhook.Fail("invalid invoice %s: %v", seed.StripeInvoiceID, err)
		return nil, false, &res
	}
	created, err := r.invoices.CreateIfNotExists(ctx, seed)
	if err != nil {
		res := webhook.RetryOnError(err, "create invoice")
		return nil, false, &res
	}
	if created {
		log.Infof("[Billing] Created invoice %s (%s)", seed.StripeInvoiceID, seed.Status)
	}
	return seed, created, nil
}

// linkSubscription sets the invoice's subscription once the subscription is known locally.
// An existing link is never replaced.
func (r *Reconciler) linkSubscription(ctx context.Context, local *models.Invoice, inv *stripe.Invoice) (*models.Subscription, *webhook.Result) {
	if local.SubscriptionID != nil {
		sub, err := r.subscriptions.GetByID(ctx, *local.SubscriptionID)
		if isNotFound(err) {
			return nil, nil
		}
		if err != nil {
			res := webhook.RetryOnError(err, "load subscription")
			return nil, &res
		}
		return sub, nil
	}
	if inv.Subscription == nil || inv.Subscription.ID == "" {
		return nil, nil
	}

	sub, err := r.subscriptions.GetByStripeIDIncludingDeleted(ctx, inv.Subscription.ID)
	if isNotFound(err) {
		log.Debugf("[Billing] Invoice %s: subscription %s not known yet", inv.ID, inv.Subscription.ID)
		return nil, nil
	}
	if err != nil {
		res := webhook.RetryOnError(err, "load subscription")
		return nil, &res
	}
	local.SubscriptionID = &sub.ID
	return sub, nil
}

// HandleInvoicePaid marks the invoice paid and is the recovery path out of past_due.
func (r *Reconciler) HandleInvoicePaid(ctx context.Context, env *webhook.Envelope) webhook.Result {
	inv, res := decodeInvoice(env)
	if res != nil {
		return *res
	}
	customer, res := r.customerByStripeID(ctx, stripeCustomerID(inv.Customer))
	if res != nil {
		return *res
	}

	now := r.now()
	paidAt := now
	if inv.StatusTransitions != nil {
		paidAt = timeOr(unixTime(inv.StatusTransitions.PaidAt), now)
	}

	local, created, res := r.loadOrCreateInvoice(ctx, &models.Invoice{
		CustomerID:       customer.ID,
		StripeInvoiceID:  inv.ID,
		Status:           models.InvoiceStatusPaid,
		AmountDue:        0,
		AmountPaid:       inv.AmountPaid,
		Currency:         string(inv.Currency),
		HostedInvoiceURL: inv.HostedInvoiceURL,
		PaidAt:           &paidAt,
	})
	if res != nil {
		return *res
	}

	alreadyPaid := !created && local.Status == models.InvoiceStatusPaid
	if !created && !alreadyPaid {
		if local.Status == models.InvoiceStatusVoid {
			return webhook.Ignored("invoice %s is void", inv.ID)
		}
		log.Infof("[Billing] Invoice %s: status %s -> paid", inv.ID, local.Status)
		local.Status = models.InvoiceStatusPaid
		local.AmountPaid = inv.AmountPaid
		if local.PaidAt == nil {
			local.PaidAt = &paidAt
		}
		if inv.HostedInvoiceURL != "" {
			local.HostedInvoiceURL = inv.HostedInvoiceURL
		}
	}

	hadLink := local.SubscriptionID != nil
	sub, res := r.linkSubscription(ctx, local, inv)
	if res != nil {
		return *res
	}
	if created || !alreadyPaid || (!hadLink && local.SubscriptionID != nil) {
		if err := r.invoices.Save(ctx, local); err != nil {
			return webhook.RetryOnError(err, "save invoice")
		}
	}

	recovered := false
	if sub != nil && sub.Status == models.SubscriptionStatusPastDue {
		sub.SetStatus(models.SubscriptionStatusActive)
		if err := r.subscriptions.Save(ctx, sub); err != nil {
			return webhook.RetryOnError(err, "save subscription")
		}
		recovered = true
		log.Infof("[Billing] Subscription %s recovered from past_due after payment of %s", sub.StripeSubscriptionID, inv.ID)
	}

	if alreadyPaid && !recovered {
		return webhook.Succeeded("invoice %s already paid", inv.ID)
	}

	r.notifier.SendReceiptEmail(ctx, ReceiptNotice{
		Email:            customer.Email,
		Name:             customer.Name,
		InvoiceID:        inv.ID,
		AmountPaid:       local.AmountPaid,
		Currency:         local.Currency,
		HostedInvoiceURL: local.HostedInvoiceURL,
	})

	result := webhook.Succeeded("invoice %s paid", inv.ID)
	if recovered {
		result = result.With("recovered_subscription", sub.StripeSubscriptionID)
	}
	return result
}

// HandleInvoicePaymentFailed keeps the invoice open, stamps the first failure once and escalates the
// subscription to past_due only after the grace period measured from that first failure.
func (r *Reconciler) HandleInvoicePaymentFailed(ctx context.Context, env *webhook.Envelope) webhook.Result {
	inv, res := decodeInvoice(env)
	if res != nil {
		return *res
	}
	customer, res := r.customerByStripeID(ctx, stripeCustomerID(inv.Customer))
	if res != nil {
		return *res
	}

	local, _, res := r.loadOrCreateInvoice(ctx, &models.Invoice{
		CustomerID:       customer.ID,
		StripeInvoiceID:  inv.ID,
		Status:           models.InvoiceStatusOpen,
		AmountDue:        inv.AmountDue,
		AmountPaid:       inv.AmountPaid,
		Currency:         string(inv.Currency),
		HostedInvoiceURL: inv.HostedInvoiceURL,
	})
	if res != nil {
		return *res
	}

	switch local.Status {
	case models.InvoiceStatusPaid, models.InvoiceStatusVoid:
		return webhook.Ignored("invoice %s is already %s", inv.ID, local.Status)
	case models.InvoiceStatusDraft:
		log.Infof("[Billing] Invoice %s: status %s -> open", inv.ID, local.Status)
		local.Status = models.InvoiceStatusOpen
	}
	local.AmountDue = inv.AmountDue
	if inv.HostedInvoiceURL != "" {
		local.HostedInvoiceURL = inv.HostedInvoiceURL
	}

	sub, res := r.linkSubscription(ctx, local, inv)
	if res != nil {
		return *res
	}

	now := r.now()
	if local.MarkFirstFailure(now) {
		log.Infof("[Billing] Invoice %s: first payment failure recorded", inv.ID)
	}
	firstFailure, ok := local.FirstFailureDate()
	if !ok {
		return webhook.Fail("invoice %s has an unreadable first failure marker %v",
			inv.ID, local.Metadata[models.InvoiceMetaFirstFailureDate])
	}
	decision := r.grace.Evaluate(firstFailure, now)

	repeated := local.LastFailureEventID() == env.ID
	local.SetLastFailureEventID(env.ID)
	if err := r.invoices.Save(ctx, local); err != nil {
		return webhook.RetryOnError(err, "save invoice")
	}

	escalatedSub := false
	if decision.Escalate && sub != nil && sub.Status.IsEntitling() {
		previous := sub.Status
		sub.SetStatus(models.SubscriptionStatusPastDue)
		if err := r.subscriptions.Save(ctx, sub); err != nil {
			return webhook.RetryOnError(err, "save subscription")
		}
		escalatedSub = true
		log.Warnf("[Billing] Subscription %s: %s -> past_due, %.1f days since first failure of %s",
			sub.StripeSubscriptionID, previous, decision.ElapsedDays, inv.ID)
	}

	result := webhook.Succeeded("payment failure on %s recorded", inv.ID).
		With("elapsed_days", fmt.Sprintf("%.2f", decision.ElapsedDays)).
		With("escalated", fmt.Sprint(decision.Escalate))
	if escalatedSub {
		result = result.With("past_due_subscription", sub.StripeSubscriptionID)
	}
	if repeated {
		return result.With("notification", "skipped")
	}

	r.notifier.SendPaymentFailedEmail(ctx, PaymentFailedNotice{
		Email:            customer.Email,
		Name:             customer.Name,
		InvoiceID:        inv.ID,
		AmountDue:        local.AmountDue,
		Currency:         local.Currency,
		HostedInvoiceURL: local.HostedInvoiceURL,
		DaysSinceFailure: int(decision.ElapsedDays),
		DaysLeft:         decision.DaysLeft,
		Escalated:        decision.Escalate,
	})
	return result
}

// HandleInvoiceStatusChanged mirrors finalized, voided and uncollectible invoices. Voiding is the
// only path that detaches an invoice from its subscription.
func (r *Reconciler) HandleInvoiceStatusChanged(ctx context.Context, env *webhook.Envelope) webhook.Result {
	inv, res := decodeInvoice(env)
	if res != nil {
		return *res
	}

	remote, ok := InvoiceStatusFromStripe(inv.Status)
	if !ok {
		return webhook.Fail("invoice %s has unknown status %q", inv.ID, inv.Status)
	}
	switch env.Type {
	case EventInvoiceVoided:
		remote = models.InvoiceStatusVoid
	case EventInvoiceMarkedUncollectible:
		remote = models.InvoiceStatusUncollectible
	}

	customer, res := r.customerByStripeID(ctx, stripeCustomerID(inv.Customer))
	if res != nil {
		return *res
	}

	local, created, res := r.loadOrCreateInvoice(ctx, &models.Invoice{
		CustomerID:       customer.ID,
		StripeInvoiceID:  inv.ID,
		Status:           remote,
		AmountDue:        inv.AmountDue,
		AmountPaid:       inv.AmountPaid,
		Currency:         string(inv.Currency),
		HostedInvoiceURL: inv.HostedInvoiceURL,
	})
	if res != nil {
		return *res
	}

	changed := created
	if !created && canMoveInvoice(local.Status, remote) {
		log.Infof("[Billing] Invoice %s: status %s -> %s", inv.ID, local.Status, remote)
		local.Status = remote
		local.AmountDue = inv.AmountDue
		changed = true
	}

	if local.Status == models.InvoiceStatusVoid {
		if local.SubscriptionID != nil {
			log.Infof("[Billing] Invoice %s: void, detaching from subscription %d", inv.ID, *local.SubscriptionID)
			local.SubscriptionID = nil
			changed = true
		}
	} else if local.SubscriptionID == nil {
		if _, res := r.linkSubscription(ctx, local, inv); res != nil {
			return *res
		}
		changed = changed || local.SubscriptionID != nil
	}

	if !changed {
		return webhook.Succeeded("invoice %s unchanged (%s)", inv.ID, local.Status)
	}
	if err := r.invoices.Save(ctx, local); err != nil {
		return webhook.RetryOnError(err, "save invoice")
	}
	return webhook.Succeeded("invoice %s is %s", inv.ID, local.Status)
}
