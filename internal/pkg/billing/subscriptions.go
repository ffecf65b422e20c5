package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v76"

	"github.com/ManuelReschke/BillingSync/app/models"
	"github.com/ManuelReschke/BillingSync/internal/pkg/webhook"
)

func primaryItem(sub *stripe.Subscription) *stripe.SubscriptionItem {
	if sub.Items == nil {
		return nil
	}
	for _, item := range sub.Items.Data {
		if item != nil && item.Price != nil && item.Price.ID != "" {
			return item
		}
	}
	return nil
}

func primaryPriceID(sub *stripe.Subscription) string {
	if item := primaryItem(sub); item != nil {
		return item.Price.ID
	}
	return ""
}

func subscriptionQuantity(sub *stripe.Subscription) int64 {
	if item := primaryItem(sub); item != nil && item.Quantity > 0 {
		return item.Quantity
	}
	return 1
}

func stripeCustomerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

// HandleSubscriptionCreated creates the local subscription unless it already exists, which is the
// normal case when checkout completion got there first.
func (r *Reconciler) HandleSubscriptionCreated(ctx context.Context, env *webhook.Envelope) webhook.Result {
	var sub stripe.Subscription
	if err := env.Decode(&sub); err != nil {
		return webhook.Fail("%v", err)
	}
	return r.createSubscription(ctx, &sub, env.Created)
}

// createSubscription inserts sub and stamps it with remoteAt, the creation time of the event
// that carried or triggered it.
func (r *Reconciler) createSubscription(ctx context.Context, sub *stripe.Subscription, remoteAt time.Time) webhook.Result {
	if sub.ID == "" {
		return webhook.Fail("subscription object without id")
	}

	existing, err := r.subscriptions.GetByStripeIDIncludingDeleted(ctx, sub.ID)
	if err == nil {
		return webhook.Succeeded("subscription %s already exists", sub.ID).With("subscription_id", fmt.Sprint(existing.ID))
	}
	if !isNotFound(err) {
		return webhook.RetryOnError(err, "load subscription")
	}

	customer, res := r.customerByStripeID(ctx, stripeCustomerID(sub.Customer))
	if res != nil {
		return *res
	}

	priceID := primaryPriceID(sub)
	if priceID == "" {
		return webhook.Fail("subscription %s has no price", sub.ID)
	}
	plan, err := r.plans.GetByStripePriceID(ctx, priceID)
	if isNotFound(err) {
		return webhook.Retry("plan for price %s not found", priceID)
	}
	if err != nil {
		return webhook.RetryOnError(err, "load plan")
	}

	status, ok := SubscriptionStatusFromStripe(sub.Status)
	if !ok {
		return webhook.Fail("subscription %s has unknown status %q", sub.ID, sub.Status)
	}

	now := r.now()
	periodStart := timeOr(unixTime(sub.CurrentPeriodStart), timeOr(unixTime(sub.StartDate), now))
	periodEnd := plan.PeriodEnd(periodStart)

	local := &models.Subscription{
		CustomerID:           customer.ID,
		PlanID:               plan.ID,
		StripeSubscriptionID: sub.ID,
		Status:               status,
		Quantity:             subscriptionQuantity(sub),
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
		CanceledAt:           unixTime(sub.CanceledAt),
		EndedAt:              unixTime(sub.EndedAt),
		TrialStart:           unixTime(sub.TrialStart),
		TrialEnd:             unixTime(sub.TrialEnd),
		CurrentPeriodStart:   &periodStart,
		CurrentPeriodEnd:     &periodEnd,
	}
	local.MarkRemoteState(remoteAt)
	if err := local.Validate(); err != nil {
		return webhook.Fail("invalid subscription %s: %v", sub.ID, err)
	}

	created, err := r.subscriptions.CreateIfNotExists(ctx, local)
	if err != nil {
		return webhook.RetryOnError(err, "create subscription")
	}
	if !created {
		return webhook.Succeeded("subscription %s already exists", sub.ID).With("subscription_id", fmt.Sprint(local.ID))
	}
	log.Infof("[Billing] Created subscription %s for customer %d on plan %s (%s)", sub.ID, customer.ID, plan.Name, status)

	if !local.InTrial(now) {
		r.notifier.SendWelcomeEmail(ctx, WelcomeNotice{
			Email:          customer.Email,
			Name:           customer.Name,
			PlanName:       plan.Name,
			SubscriptionID: sub.ID,
		})
	}
	return webhook.Succeeded("created subscription %s", sub.ID).With("subscription_id", fmt.Sprint(local.ID))
}

// HandleSubscriptionUpdated mirrors the remote subscription onto the local row. A missing row is
// created instead. Status changes go through the state machine and the dunning ownership rules.
func (r *Reconciler) HandleSubscriptionUpdated(ctx context.Context, env *webhook.Envelope) webhook.Result {
	var sub stripe.Subscription
	if err := env.Decode(&sub); err != nil {
		return webhook.Fail("%v", err)
	}
	if sub.ID == "" {
		return webhook.Fail("subscription object without id")
	}

	local, err := r.subscriptions.GetByStripeIDIncludingDeleted(ctx, sub.ID)
	if isNotFound(err) {
		log.Infof("[Billing] Update for unknown subscription %s, creating it", sub.ID)
		return r.createSubscription(ctx, &sub, env.Created)
	}
	if err != nil {
		return webhook.RetryOnError(err, "load subscription")
	}
	if local.IsDeleted || local.Status.IsTerminal() {
		return webhook.Ignored("subscription %s is canceled", sub.ID)
	}
	if local.ReflectsNewerThan(env.Created) {
		log.Infof("[Billing] Subscription %s: event %s from %s is older than applied state %s, skipping",
			sub.ID, env.ID, formatTime(&env.Created), formatTime(local.RemoteUpdatedAt))
		return webhook.Ignored("subscription %s already reflects a newer event", sub.ID)
	}

	var changes []string
	change := func(field string, from, to interface{}) {
		changes = append(changes, field)
		log.Infof("[Billing] Subscription %s: %s %v -> %v", sub.ID, field, from, to)
	}

	if remote, ok := SubscriptionStatusFromStripe(sub.Status); !ok {
		log.Warnf("[Billing] Subscription %s: unknown remote status %q ignored", sub.ID, sub.Status)
	} else if next, apply := subscriptionStatusForUpdate(local.Status, remote); apply {
		change("status", local.Status, next)
		local.SetStatus(next)
	} else if remote != local.Status {
		log.Infof("[Billing] Subscription %s: keeping status %s (remote %s)", sub.ID, local.Status, remote)
	}

	if local.CancelAtPeriodEnd != sub.CancelAtPeriodEnd {
		change("cancel_at_period_end", local.CancelAtPeriodEnd, sub.CancelAtPeriodEnd)
		local.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	}
	mirrorTime := func(field string, dst **time.Time, sec int64) {
		remote := unixTime(sec)
		if !sameTime(*dst, remote) {
			change(field, formatTime(*dst), formatTime(remote))
			*dst = remote
		}
	}
	mirrorTime("canceled_at", &local.CanceledAt, sub.CanceledAt)
	mirrorTime("ended_at", &local.EndedAt, sub.EndedAt)
	mirrorTime("trial_start", &local.TrialStart, sub.TrialStart)
	mirrorTime("trial_end", &local.TrialEnd, sub.TrialEnd)
	if sub.CurrentPeriodStart != 0 {
		mirrorTime("current_period_start", &local.CurrentPeriodStart, sub.CurrentPeriodStart)
	}
	if sub.CurrentPeriodEnd != 0 {
		mirrorTime("current_period_end", &local.CurrentPeriodEnd, sub.CurrentPeriodEnd)
	}

	if q := subscriptionQuantity(&sub); q != local.Quantity {
		change("quantity", local.Quantity, q)
		local.Quantity = q
	}

	if priceID := primaryPriceID(&sub); priceID != "" {
		plan, err := r.plans.GetByStripePriceID(ctx, priceID)
		if isNotFound(err) {
			return webhook.Retry("plan for price %s not found", priceID)
		}
		if err != nil {
			return webhook.RetryOnError(err, "load plan")
		}
		if plan.ID != local.PlanID {
			change("plan", local.PlanID, plan.ID)
			local.PlanID = plan.ID
		}
	}

	stamped := local.MarkRemoteState(env.Created)
	if len(changes) == 0 {
		if stamped {
			if err := r.subscriptions.Save(ctx, local); err != nil {
				return webhook.RetryOnError(err, "save subscription")
			}
		}
		return webhook.Succeeded("subscription %s unchanged", sub.ID)
	}
	if err := r.subscriptions.Save(ctx, local); err != nil {
		return webhook.RetryOnError(err, "save subscription")
	}
	return webhook.Succeeded("subscription %s updated: %s", sub.ID, strings.Join(changes, ", ")).
		With("status", string(local.Status))
}

// HandleSubscriptionDeleted cancels and soft-deletes the local subscription.
func (r *Reconciler) HandleSubscriptionDeleted(ctx context.Context, env *webhook.Envelope) webhook.Result {
	var sub stripe.Subscription
	if err := env.Decode(&sub); err != nil {
		return webhook.Fail("%v", err)
	}

	local, err := r.subscriptions.GetByStripeIDIncludingDeleted(ctx, sub.ID)
	if isNotFound(err) {
		return webhook.Ignored("subscription %s unknown, nothing to delete", sub.ID)
	}
	if err != nil {
		return webhook.RetryOnError(err, "load subscription")
	}
	if local.IsDeleted {
		return webhook.Succeeded("subscription %s already deleted", sub.ID)
	}

	now := r.now()
	previous := local.Status
	local.SetStatus(models.SubscriptionStatusCanceled)
	canceledAt := timeOr(unixTime(sub.CanceledAt), now)
	endedAt := timeOr(unixTime(sub.EndedAt), now)
	local.CanceledAt = &canceledAt
	local.EndedAt = &endedAt
	local.IsDeleted = true
	local.DeletedAt = &now

	if err := r.subscriptions.Save(ctx, local); err != nil {
		return webhook.RetryOnError(err, "save subscription")
	}
	log.Infof("[Billing] Subscription %s canceled (was %s)", sub.ID, previous)

	if customer, err := r.customers.GetByID(ctx, local.CustomerID); err == nil {
		r.notifier.SendCancellationEmail(ctx, CancellationNotice{
			Email:          customer.Email,
			Name:           customer.Name,
			PlanName:       r.planName(ctx, local.PlanID),
			SubscriptionID: sub.ID,
			EndedAt:        endedAt,
		})
	}
	return webhook.Succeeded("subscription %s canceled", sub.ID)
}

// HandleTrialWillEnd reminds the customer a few days before the trial converts.
func (r *Reconciler) HandleTrialWillEnd(ctx context.Context, env *webhook.Envelope) webhook.Result {
	var sub stripe.Subscription
	if err := env.Decode(&sub); err != nil {
		return webhook.Fail("%v", err)
	}

	local, err := r.subscriptions.GetByStripeID(ctx, sub.ID)
	if isNotFound(err) {
		return webhook.Retry("subscription %s not found", sub.ID)
	}
	if err != nil {
		return webhook.RetryOnError(err, "load subscription")
	}
	if local.Status.IsTerminal() {
		return webhook.Ignored("subscription %s is canceled", sub.ID)
	}

	customer, err := r.customers.GetByID(ctx, local.CustomerID)
	if err != nil {
		return webhook.Ignored("no live customer for subscription %s", sub.ID)
	}
	trialEnd := unixTime(sub.TrialEnd)
	if trialEnd == nil {
		trialEnd = local.TrialEnd
	}
	if trialEnd == nil {
		return webhook.Ignored("subscription %s has no trial end", sub.ID)
	}

	r.notifier.SendTrialEndingEmail(ctx, TrialEndingNotice{
		Email:            customer.Email,
		Name:             customer.Name,
		PlanName:         r.planName(ctx, local.PlanID),
		SubscriptionID:   sub.ID,
		TrialEnd:         *trialEnd,
		HasPaymentMethod: r.hasPaymentMethod(ctx, customer),
	})
	return webhook.Succeeded("trial ending notice for %s", sub.ID)
}
