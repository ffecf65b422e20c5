package billing

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v76"

	"github.com/ManuelReschke/BillingSync/internal/pkg/stripeclient"
	"github.com/ManuelReschke/BillingSync/internal/pkg/webhook"
)

// HandleCheckoutSessionCompleted creates the subscription a subscription-mode checkout produced.
// The event only references the subscription, so the full object is fetched from the processor.
func (r *Reconciler) HandleCheckoutSessionCompleted(ctx context.Context, env *webhook.Envelope) webhook.Result {
	var cs stripe.CheckoutSession
	if err := env.Decode(&cs); err != nil {
		return webhook.Fail("%v", err)
	}
	if cs.Mode != stripe.CheckoutSessionModeSubscription {
		return webhook.Ignored("checkout session %s is not a subscription checkout", cs.ID)
	}
	if cs.Subscription == nil || cs.Subscription.ID == "" {
		// Thin payloads omit the reference; the session itself carries it
		fetched, err := r.stripe.GetCheckoutSession(ctx, cs.ID)
		if err != nil {
			return classifyOutbound(err, "fetch checkout session "+cs.ID)
		}
		if fetched == nil || fetched.Subscription == nil || fetched.Subscription.ID == "" {
			return webhook.Fail("checkout session %s has no subscription", cs.ID)
		}
		cs.Subscription = fetched.Subscription
		if cs.Customer == nil {
			cs.Customer = fetched.Customer
		}
	}
	subID := cs.Subscription.ID

	if _, err := r.subscriptions.GetByStripeIDIncludingDeleted(ctx, subID); err == nil {
		return webhook.Succeeded("subscription %s already exists", subID)
	} else if !isNotFound(err) {
		return webhook.RetryOnError(err, "load subscription")
	}

	sub, err := r.stripe.GetSubscription(ctx, subID)
	if err != nil {
		return classifyOutbound(err, "fetch subscription "+subID)
	}
	if sub == nil {
		return webhook.Fail("subscription %s does not exist at the processor", subID)
	}
	if sub.Customer == nil && cs.Customer != nil {
		sub.Customer = cs.Customer
	}
	return r.createSubscription(ctx, sub, env.Created)
}

// classifyOutbound maps an outbound client error onto a handler result.
func classifyOutbound(err error, what string) webhook.Result {
	if errors.Is(err, stripeclient.ErrPermanent) {
		return webhook.Fail("%s: %v", what, err)
	}
	return webhook.RetryOnError(err, what)
}
