package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
)

// Envelope is a verified processor event reduced to what handlers need. Data holds the raw JSON of
// the event's object; handlers decode it into the stripe type they expect.
type Envelope struct {
	ID                 string
	Type               string
	Created            time.Time
	Livemode           bool
	APIVersion         string
	Account            string
	Data               json.RawMessage
	PreviousAttributes map[string]interface{}
}

// NewEnvelope converts a parsed stripe event.
func NewEnvelope(evt stripe.Event) (*Envelope, error) {
	if evt.ID == "" || evt.Type == "" {
		return nil, errors.New("event is missing id or type")
	}
	env := &Envelope{
		ID:         evt.ID,
		Type:       string(evt.Type),
		Livemode:   evt.Livemode,
		APIVersion: evt.APIVersion,
		Account:    evt.Account,
	}
	if evt.Created > 0 {
		env.Created = time.Unix(evt.Created, 0).UTC()
	}
	if evt.Data != nil {
		env.Data = evt.Data.Raw
		env.PreviousAttributes = evt.Data.PreviousAttributes
	}
	return env, nil
}

// ParseEnvelope rebuilds an envelope from a stored payload. The payload was verified when it was
// received, so no signature is checked here.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var evt stripe.Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, fmt.Errorf("decode event payload: %w", err)
	}
	return NewEnvelope(evt)
}

// Decode unmarshals the event object into v, e.g. a *stripe.Invoice.
func (e *Envelope) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s has no data object", e.ID)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s object: %w", e.Type, err)
	}
	return nil
}

// Changed reports whether the event's previous_attributes name the given field.
func (e *Envelope) Changed(field string) bool {
	_, ok := e.PreviousAttributes[field]
	return ok
}
