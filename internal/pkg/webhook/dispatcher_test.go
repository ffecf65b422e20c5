package webhook

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_RoutesToRegisteredHandler(t *testing.T) {
	d := NewDispatcher()
	var got *Envelope
	require.NoError(t, d.Register("invoice.paid", HandlerFunc(func(ctx context.Context, env *Envelope) Result {
		got = env
		return Retry("customer not visible yet")
	})))

	env := &Envelope{ID: "evt_1", Type: "invoice.paid"}
	res := d.Dispatch(context.Background(), env)

	assert.Same(t, env, got)
	assert.Equal(t, OutcomeTransient, res.Outcome, "result is propagated unchanged")
	assert.Equal(t, "customer not visible yet", res.Message)
}

func TestDispatcher_UnknownTypeIsIgnored(t *testing.T) {
	d := NewDispatcher()
	res := d.Dispatch(context.Background(), &Envelope{ID: "evt_2", Type: "radar.early_fraud_warning.created"})

	assert.True(t, res.Success())
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Equal(t, "no handler, ignored", res.Message)
}

func TestDispatcher_RejectsDuplicateRegistration(t *testing.T) {
	d := NewDispatcher()
	h := HandlerFunc(func(ctx context.Context, env *Envelope) Result { return Succeeded("ok") })

	require.NoError(t, d.Register("invoice.paid", h))
	err := d.Register("invoice.paid", h)
	assert.ErrorIs(t, err, ErrDuplicateHandler)
}

func TestDispatcher_EventTypesSorted(t *testing.T) {
	d := NewDispatcher()
	h := HandlerFunc(func(ctx context.Context, env *Envelope) Result { return Succeeded("ok") })
	for _, et := range []string{"invoice.paid", "customer.deleted", "customer.subscription.created"} {
		require.NoError(t, d.Register(et, h))
	}
	assert.Equal(t, []string{"customer.deleted", "customer.subscription.created", "invoice.paid"}, d.EventTypes())
}

func TestDispatcher_PanicBecomesPermanentFailure(t *testing.T) {
	d := NewDispatcher()
	require.NoError(t, d.Register("invoice.paid", HandlerFunc(func(ctx context.Context, env *Envelope) Result {
		panic("nil invoice")
	})))

	res := d.Dispatch(context.Background(), &Envelope{ID: "evt_3", Type: "invoice.paid"})
	assert.Equal(t, OutcomePermanent, res.Outcome)
	assert.Contains(t, res.Message, "nil invoice")
}

func TestDispatcher_CancelledContextRetries(t *testing.T) {
	d := NewDispatcher()
	called := false
	require.NoError(t, d.Register("invoice.paid", HandlerFunc(func(ctx context.Context, env *Envelope) Result {
		called = true
		return Succeeded("ok")
	})))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := d.Dispatch(ctx, &Envelope{ID: "evt_4", Type: "invoice.paid"})

	assert.False(t, called)
	assert.True(t, res.RequiresRetry())
}
