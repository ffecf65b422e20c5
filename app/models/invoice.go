package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "draft"
	InvoiceStatusOpen          InvoiceStatus = "open"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusUncollectible InvoiceStatus = "uncollectible"
	InvoiceStatusVoid          InvoiceStatus = "void"
)

// Metadata keys kept on Invoice.Metadata.
const (
	InvoiceMetaFirstFailureDate   = "first_failure_date"
	InvoiceMetaLastFailureEventID = "last_failure_event_id"
)

// Invoice mirrors a processor invoice. SubscriptionID is set once resolvable and only cleared on void.
type Invoice struct {
	ID               uint              `gorm:"primaryKey" json:"id"`
	CustomerID       uint              `gorm:"not null;index" json:"customer_id" validate:"required"`
	SubscriptionID   *uint             `gorm:"index" json:"subscription_id,omitempty"`
	StripeInvoiceID  string            `gorm:"type:varchar(191);not null;uniqueIndex:ux_invoices_stripe_invoice_id" json:"stripe_invoice_id" validate:"required,max=191"`
	Status           InvoiceStatus     `gorm:"type:varchar(32);not null;default:'draft';index" json:"status" validate:"oneof=draft open paid uncollectible void"`
	AmountDue        int64             `gorm:"not null;default:0" json:"amount_due"`
	AmountPaid       int64             `gorm:"not null;default:0" json:"amount_paid"`
	Currency         string            `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	HostedInvoiceURL string            `gorm:"type:varchar(500);default:''" json:"hosted_invoice_url,omitempty"`
	PaidAt           *time.Time        `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	Metadata         datatypes.JSONMap `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt        time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (i *Invoice) Validate() error {
	return validator.New().Struct(i)
}

// FirstFailureDate returns the grace-period marker written on the first payment failure.
func (i *Invoice) FirstFailureDate() (time.Time, bool) {
	if i.Metadata == nil {
		return time.Time{}, false
	}
	raw, ok := i.Metadata[InvoiceMetaFirstFailureDate].(string)
	if !ok || raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// HasFirstFailureMarker reports whether the marker key is present, readable or not.
func (i *Invoice) HasFirstFailureMarker() bool {
	_, ok := i.Metadata[InvoiceMetaFirstFailureDate]
	return ok
}

// MarkFirstFailure stamps the grace-period marker. An existing marker is never overwritten, even
// one that does not parse; the return value reports whether this call wrote it.
func (i *Invoice) MarkFirstFailure(at time.Time) bool {
	if i.HasFirstFailureMarker() {
		return false
	}
	if i.Metadata == nil {
		i.Metadata = datatypes.JSONMap{}
	}
	i.Metadata[InvoiceMetaFirstFailureDate] = at.UTC().Format(time.RFC3339Nano)
	return true
}

// LastFailureEventID is the processor event that last triggered dunning for this invoice.
func (i *Invoice) LastFailureEventID() string {
	if i.Metadata == nil {
		return ""
	}
	v, _ := i.Metadata[InvoiceMetaLastFailureEventID].(string)
	return v
}

func (i *Invoice) SetLastFailureEventID(eventID string) {
	if i.Metadata == nil {
		i.Metadata = datatypes.JSONMap{}
	}
	i.Metadata[InvoiceMetaLastFailureEventID] = eventID
}
