package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	stripewebhook "github.com/stripe/stripe-go/v76/webhook"
)

var (
	// ErrInvalidSignature is returned before any side effect when no configured secret verifies the payload.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedEvent is returned for a correctly signed payload that is not a usable event.
	ErrMalformedEvent = errors.New("malformed webhook event")
	// ErrLedgerUnavailable is returned when the event could not be recorded durably.
	ErrLedgerUnavailable = errors.New("webhook ledger unavailable")
)

// DefaultTolerance bounds the age of a signature timestamp.
const DefaultTolerance = 5 * time.Minute

// Enqueuer schedules asynchronous processing of a recorded event.
type Enqueuer interface {
	Enqueue(ctx context.Context, eventID, eventType string) error
}

// Receipt is what the receiver reports back to the processor.
type Receipt struct {
	EventID   string `json:"eventId"`
	EventType string `json:"eventType"`
	Queued    bool   `json:"queued"`
	Duplicate bool   `json:"duplicate"`
}

// Receiver verifies incoming deliveries, records them in the ledger and hands them to the queue.
// It never runs business logic.
type Receiver struct {
	ledger    *Ledger
	enqueuer  Enqueuer
	secrets   []string
	tolerance time.Duration
}

// NewReceiver creates a receiver. Several secrets may be configured while a signing secret is
// being rotated; a delivery is accepted if any of them verifies it.
func NewReceiver(ledger *Ledger, enqueuer Enqueuer, secrets []string, tolerance time.Duration) *Receiver {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Receiver{
		ledger:    ledger,
		enqueuer:  enqueuer,
		secrets:   secrets,
		tolerance: tolerance,
	}
}

// Verify checks the signature header against every configured secret and parses the event.
func (r *Receiver) Verify(payload []byte, signatureHeader string) (*Envelope, error) {
	if signatureHeader == "" || len(r.secrets) == 0 {
		return nil, ErrInvalidSignature
	}

	opts := stripewebhook.ConstructEventOptions{
		Tolerance:                r.tolerance,
		IgnoreAPIVersionMismatch: true,
	}

	var lastErr error
	for _, secret := range r.secrets {
		evt, err := stripewebhook.ConstructEventWithOptions(payload, signatureHeader, secret, opts)
		if err == nil {
			env, err := NewEnvelope(evt)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
			}
			return env, nil
		}
		if !isSignatureError(err) {
			// Signature matched but the body is not an event
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, lastErr)
}

func isSignatureError(err error) bool {
	return errors.Is(err, stripewebhook.ErrNoValidSignature) ||
		errors.Is(err, stripewebhook.ErrNotSigned) ||
		errors.Is(err, stripewebhook.ErrInvalidHeader) ||
		errors.Is(err, stripewebhook.ErrTooOld)
}

// Receive verifies the delivery and records it. A delivery whose event id is already in the ledger
// is a duplicate and is not enqueued again. An enqueue failure after the event was recorded is
// logged and reported as queued=false; the stale-event sweep picks the event up later.
func (r *Receiver) Receive(ctx context.Context, payload []byte, signatureHeader string) (Receipt, error) {
	env, err := r.Verify(payload, signatureHeader)
	if err != nil {
		return Receipt{}, err
	}

	receipt := Receipt{EventID: env.ID, EventType: env.Type}

	created, err := r.ledger.MarkQueued(ctx, env.ID, env.Type, payload)
	if err != nil {
		log.Errorf("[Webhook] Could not record %s (%s): %v", env.ID, env.Type, err)
		return receipt, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	if !created {
		log.Infof("[Webhook] Duplicate delivery of %s (%s) ignored", env.ID, env.Type)
		receipt.Duplicate = true
		return receipt, nil
	}

	if err := r.enqueuer.Enqueue(ctx, env.ID, env.Type); err != nil {
		log.Errorf("[Webhook] Recorded %s but enqueue failed: %v", env.ID, err)
		return receipt, nil
	}
	receipt.Queued = true
	return receipt, nil
}
