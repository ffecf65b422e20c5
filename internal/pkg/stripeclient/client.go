package stripeclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"golang.org/x/time/rate"
)

var (
	// ErrTransient wraps failures worth retrying later (network, rate limit, processor outage).
	ErrTransient = errors.New("transient stripe error")
	// ErrPermanent wraps failures a retry cannot fix (bad request, authentication).
	ErrPermanent = errors.New("permanent stripe error")
)

// Config configures the outbound client.
type Config struct {
	SecretKey  string
	RateLimit  float64 // requests per second
	Burst      int
	MaxRetries int
	// BackoffBase is the first retry delay; it doubles per attempt.
	BackoffBase time.Duration
	// BaseURL overrides the API endpoint (tests).
	BaseURL    string
	HTTPClient *http.Client
}

// Client is a rate limited, retrying wrapper around the stripe API. Lookups return (nil, nil)
// when the object does not exist.
type Client struct {
	api         *client.API
	limiter     *rate.Limiter
	maxRetries  int
	backoffBase time.Duration
}

func New(cfg Config) *Client {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 250 * time.Millisecond
	}

	backendCfg := &stripe.BackendConfig{
		// Retries are ours so they share the limiter and honour the context
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     fiberLogger{},
		HTTPClient:        cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(cfg.BaseURL)
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	}

	return &Client{
		api:         client.New(cfg.SecretKey, backends),
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		maxRetries:  cfg.MaxRetries,
		backoffBase: cfg.BackoffBase,
	}
}

// GetSubscription fetches a subscription with its items.
func (c *Client) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	var sub *stripe.Subscription
	found, err := c.do(ctx, "get subscription "+id, func() error {
		params := &stripe.SubscriptionParams{}
		params.Context = ctx
		var err error
		sub, err = c.api.Subscriptions.Get(id, params)
		return err
	})
	if err != nil || !found {
		return nil, err
	}
	return sub, nil
}

// GetCheckoutSession fetches a checkout session.
func (c *Client) GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error) {
	var cs *stripe.CheckoutSession
	found, err := c.do(ctx, "get checkout session "+id, func() error {
		params := &stripe.CheckoutSessionParams{}
		params.Context = ctx
		var err error
		cs, err = c.api.CheckoutSessions.Get(id, params)
		return err
	})
	if err != nil || !found {
		return nil, err
	}
	return cs, nil
}

// GetCustomer fetches a customer. Deleted customers are reported as not found.
func (c *Client) GetCustomer(ctx context.Context, id string) (*stripe.Customer, error) {
	var cust *stripe.Customer
	found, err := c.do(ctx, "get customer "+id, func() error {
		params := &stripe.CustomerParams{}
		params.Context = ctx
		var err error
		cust, err = c.api.Customers.Get(id, params)
		return err
	})
	if err != nil || !found || cust.Deleted {
		return nil, err
	}
	return cust, nil
}

// ListPaymentMethods returns the card payment methods attached to a customer.
func (c *Client) ListPaymentMethods(ctx context.Context, customerID string) ([]*stripe.PaymentMethod, error) {
	var methods []*stripe.PaymentMethod
	_, err := c.do(ctx, "list payment methods of "+customerID, func() error {
		methods = nil
		params := &stripe.PaymentMethodListParams{
			Customer: stripe.String(customerID),
			Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
		}
		params.Context = ctx
		it := c.api.PaymentMethods.List(params)
		for it.Next() {
			methods = append(methods, it.PaymentMethod())
		}
		return it.Err()
	})
	if err != nil {
		return nil, err
	}
	return methods, nil
}

// do runs call under the rate limiter and retries transient failures with exponential backoff.
// found is false when the processor answered "not found".
func (c *Client) do(ctx context.Context, op string, call func() error) (found bool, err error) {
	delay := c.backoffBase
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return false, fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
		}

		err := call()
		if err == nil {
			return true, nil
		}

		kind := Classify(err)
		switch {
		case kind == KindNotFound:
			return false, nil
		case kind == KindPermanent:
			return false, fmt.Errorf("%s: %w: %w", op, ErrPermanent, err)
		case ctx.Err() != nil:
			return false, fmt.Errorf("%s: %w: %w", op, ErrTransient, ctx.Err())
		case attempt >= c.maxRetries:
			return false, fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
		}

		log.Warnf("[StripeClient] %s failed (attempt %d/%d), retrying in %s: %v", op, attempt+1, c.maxRetries+1, delay, err)
		select {
		case <-ctx.Done():
			return false, fmt.Errorf("%s: %w: %w", op, ErrTransient, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// Kind classifies an error returned by the stripe API.
type Kind int

const (
	KindTransient Kind = iota
	KindPermanent
	KindNotFound
)

// Classify sorts stripe errors: missing objects, permanent client errors, and everything else
// (network, 429, 5xx) as transient.
func Classify(err error) Kind {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return KindTransient
	}
	if se.Code == stripe.ErrorCodeResourceMissing || se.HTTPStatusCode == http.StatusNotFound {
		return KindNotFound
	}
	switch {
	case se.HTTPStatusCode == http.StatusTooManyRequests,
		se.HTTPStatusCode == http.StatusConflict,
		se.HTTPStatusCode >= 500,
		se.HTTPStatusCode == 0:
		return KindTransient
	default:
		return KindPermanent
	}
}

// fiberLogger routes stripe-go's internal logging through the application logger.
type fiberLogger struct{}

func (fiberLogger) Debugf(format string, v ...interface{}) { log.Debugf("[StripeClient] "+format, v...) }
func (fiberLogger) Infof(format string, v ...interface{})  { log.Debugf("[StripeClient] "+format, v...) }
func (fiberLogger) Warnf(format string, v ...interface{})  { log.Warnf("[StripeClient] "+format, v...) }
func (fiberLogger) Errorf(format string, v ...interface{}) { log.Errorf("[StripeClient] "+format, v...) }
