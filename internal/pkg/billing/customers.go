package billing

import (
	"context"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v76"

	"github.com/ManuelReschke/BillingSync/app/models"
	"github.com/ManuelReschke/BillingSync/internal/pkg/webhook"
)

// ReviewReasonActiveSubscriptions is stored on customers deleted at the processor while they still
// hold an active or trialing subscription.
const ReviewReasonActiveSubscriptions = "deleted at processor with active subscriptions"

func decodeCustomer(env *webhook.Envelope) (*stripe.Customer, *webhook.Result) {
	var c stripe.Customer
	if err := env.Decode(&c); err != nil {
		res := webhook.Fail("%v", err)
		return nil, &res
	}
	if c.ID == "" {
		res := webhook.Fail("customer object without id")
		return nil, &res
	}
	return &c, nil
}

// HandleCustomerDeleted soft-deletes the customer, unless it still has an entitling subscription.
// That conflict is flagged for an operator and reported as success.
func (r *Reconciler) HandleCustomerDeleted(ctx context.Context, env *webhook.Envelope) webhook.Result {
	remote, res := decodeCustomer(env)
	if res != nil {
		return *res
	}

	local, err := r.customers.GetByStripeID(ctx, remote.ID)
	if isNotFound(err) {
		return webhook.Ignored("customer %s unknown or already deleted", remote.ID)
	}
	if err != nil {
		return webhook.RetryOnError(err, "load customer")
	}

	active, err := r.subscriptions.CountByCustomerAndStatus(ctx, local.ID,
		models.SubscriptionStatusActive, models.SubscriptionStatusTrialing)
	if err != nil {
		return webhook.RetryOnError(err, "count subscriptions")
	}
	if active > 0 {
		if local.NeedsReview {
			return webhook.Succeeded("customer %s already flagged for review", remote.ID)
		}
		local.FlagForReview(ReviewReasonActiveSubscriptions)
		if err := r.customers.Save(ctx, local); err != nil {
			return webhook.RetryOnError(err, "save customer")
		}
		log.Warnf("[Billing] Customer %s deleted at processor but has %d active subscriptions, flagged for review", remote.ID, active)
		return webhook.Succeeded("customer %s flagged for review", remote.ID).With("review", "active_subscriptions")
	}

	local.SoftDelete(r.now())
	if err := r.customers.Save(ctx, local); err != nil {
		return webhook.RetryOnError(err, "save customer")
	}
	log.Infof("[Billing] Customer %s (%d) soft-deleted", remote.ID, local.ID)
	return webhook.Succeeded("customer %s deleted", remote.ID)
}

// HandleCustomerUpdated mirrors contact details.
func (r *Reconciler) HandleCustomerUpdated(ctx context.Context, env *webhook.Envelope) webhook.Result {
	remote, res := decodeCustomer(env)
	if res != nil {
		return *res
	}

	local, err := r.customers.GetByStripeID(ctx, remote.ID)
	if isNotFound(err) {
		return webhook.Ignored("customer %s unknown", remote.ID)
	}
	if err != nil {
		return webhook.RetryOnError(err, "load customer")
	}

	changed := false
	if remote.Email != "" && remote.Email != local.Email {
		log.Infof("[Billing] Customer %s: email changed", remote.ID)
		local.Email = remote.Email
		changed = true
	}
	if remote.Name != "" && remote.Name != local.Name {
		log.Infof("[Billing] Customer %s: name %q -> %q", remote.ID, local.Name, remote.Name)
		local.Name = remote.Name
		changed = true
	}
	if !changed {
		return webhook.Succeeded("customer %s unchanged", remote.ID)
	}
	if err := local.Validate(); err != nil {
		return webhook.Fail("invalid customer %s: %v", remote.ID, err)
	}
	if err := r.customers.Save(ctx, local); err != nil {
		return webhook.RetryOnError(err, "save customer")
	}
	return webhook.Succeeded("customer %s updated", remote.ID)
}
