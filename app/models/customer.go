package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Customer is the local billing identity joined to the processor by StripeCustomerID.
// The external id is nullable so a cleared (deleted) customer never collides with a new one.
type Customer struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	Email            string     `gorm:"type:varchar(200);not null;index" json:"email" validate:"required,email,max=200"`
	Name             string     `gorm:"type:varchar(150);default:''" json:"name" validate:"max=150"`
	StripeCustomerID *string    `gorm:"type:varchar(191);uniqueIndex:ux_customers_stripe_customer_id" json:"stripe_customer_id,omitempty"`
	NeedsReview      bool       `gorm:"default:false;index" json:"needs_review"`
	ReviewReason     string     `gorm:"type:varchar(255);default:''" json:"review_reason,omitempty"`
	IsDeleted        bool       `gorm:"default:false;index" json:"is_deleted"`
	DeletedAt        *time.Time `gorm:"type:timestamp;default:null" json:"deleted_at,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c *Customer) Validate() error {
	return validator.New().Struct(c)
}

// ExternalID returns the processor id or an empty string once it was cleared.
func (c *Customer) ExternalID() string {
	if c.StripeCustomerID == nil {
		return ""
	}
	return *c.StripeCustomerID
}

// FlagForReview marks the customer for an operator decision.
func (c *Customer) FlagForReview(reason string) {
	c.NeedsReview = true
	c.ReviewReason = reason
}

// SoftDelete marks the row deleted and releases its external id.
func (c *Customer) SoftDelete(at time.Time) {
	c.IsDeleted = true
	c.DeletedAt = &at
	c.StripeCustomerID = nil
}
