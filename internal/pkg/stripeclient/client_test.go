package stripeclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		SecretKey:   "sk_test_123",
		RateLimit:   1000,
		Burst:       10,
		MaxRetries:  2,
		BackoffBase: time.Millisecond,
		BaseURL:     srv.URL,
	})
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

const subscriptionBody = `{
	"id": "sub_123",
	"object": "subscription",
	"customer": "cus_123",
	"status": "active",
	"items": {"object": "list", "data": [{"id": "si_1", "object": "subscription_item", "quantity": 2, "price": {"id": "price_monthly", "object": "price"}}]}
}`

func TestGetSubscription(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/subscriptions/sub_123", r.URL.Path)
		writeJSON(w, http.StatusOK, subscriptionBody)
	})

	sub, err := client.GetSubscription(context.Background(), "sub_123")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "sub_123", sub.ID)
	assert.Equal(t, stripe.SubscriptionStatusActive, sub.Status)
	require.Len(t, sub.Items.Data, 1)
	assert.Equal(t, "price_monthly", sub.Items.Data[0].Price.ID)
}

func TestGetSubscriptionNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, `{"error": {"type": "invalid_request_error", "code": "resource_missing", "message": "No such subscription"}}`)
	})

	sub, err := client.GetSubscription(context.Background(), "sub_missing")
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusInternalServerError, `{"error": {"type": "api_error", "message": "boom"}}`)
			return
		}
		writeJSON(w, http.StatusOK, subscriptionBody)
	})

	sub, err := client.GetSubscription(context.Background(), "sub_123")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, int32(3), calls.Load())
}

func TestTransientAfterRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusTooManyRequests, `{"error": {"type": "invalid_request_error", "code": "rate_limit", "message": "slow down"}}`)
	})

	_, err := client.GetCheckoutSession(context.Background(), "cs_123")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransient))
	assert.False(t, errors.Is(err, ErrPermanent))
	assert.Equal(t, int32(3), calls.Load())

	var se *stripe.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.HTTPStatusCode)
}

func TestPermanentFailureIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusUnauthorized, `{"error": {"type": "invalid_request_error", "message": "Invalid API Key provided"}}`)
	})

	_, err := client.GetCustomer(context.Background(), "cus_123")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPermanent))
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetCustomerDeleted(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"id": "cus_123", "object": "customer", "deleted": true}`)
	})

	cust, err := client.GetCustomer(context.Background(), "cus_123")
	require.NoError(t, err)
	assert.Nil(t, cust)
}

func TestListPaymentMethods(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_methods", r.URL.Path)
		assert.Equal(t, "cus_123", r.URL.Query().Get("customer"))
		writeJSON(w, http.StatusOK, `{"object": "list", "url": "/v1/payment_methods", "has_more": false, "data": [
			{"id": "pm_1", "object": "payment_method", "type": "card"},
			{"id": "pm_2", "object": "payment_method", "type": "card"}
		]}`)
	})

	methods, err := client.ListPaymentMethods(context.Background(), "cus_123")
	require.NoError(t, err)
	require.Len(t, methods, 2)
	assert.Equal(t, "pm_1", methods[0].ID)
}

func TestCancelledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		cancel()
		writeJSON(w, http.StatusServiceUnavailable, `{"error": {"type": "api_error", "message": "down"}}`)
	})

	_, err := client.GetSubscription(ctx, "sub_123")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransient))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"network", errors.New("connection reset"), KindTransient},
		{"missing", &stripe.Error{HTTPStatusCode: 404, Code: stripe.ErrorCodeResourceMissing}, KindNotFound},
		{"rate limited", &stripe.Error{HTTPStatusCode: 429}, KindTransient},
		{"lock timeout", &stripe.Error{HTTPStatusCode: 409}, KindTransient},
		{"server", &stripe.Error{HTTPStatusCode: 502}, KindTransient},
		{"bad request", &stripe.Error{HTTPStatusCode: 400}, KindPermanent},
		{"forbidden", &stripe.Error{HTTPStatusCode: 403}, KindPermanent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}
