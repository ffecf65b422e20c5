package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	PlanIntervalDay   = "day"
	PlanIntervalWeek  = "week"
	PlanIntervalMonth = "month"
	PlanIntervalYear  = "year"
)

// Plan maps a processor price to a local product tier.
type Plan struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Name          string    `gorm:"type:varchar(100);not null" json:"name" validate:"required,max=100"`
	StripePriceID string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_plans_stripe_price_id" json:"stripe_price_id" validate:"required,max=191"`
	Interval      string    `gorm:"type:varchar(16);not null;default:'month'" json:"interval" validate:"oneof=day week month year"`
	IntervalCount int       `gorm:"not null;default:1" json:"interval_count" validate:"gte=1"`
	AmountCents   int64     `gorm:"not null;default:0" json:"amount_cents" validate:"gte=0"`
	Currency      string    `gorm:"type:varchar(3);not null;default:'usd'" json:"currency" validate:"len=3"`
	IsActive      bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *Plan) Validate() error {
	return validator.New().Struct(p)
}

// PeriodEnd returns the end of one billing period that starts at start.
func (p *Plan) PeriodEnd(start time.Time) time.Time {
	n := p.IntervalCount
	if n <= 0 {
		n = 1
	}
	switch p.Interval {
	case PlanIntervalDay:
		return start.AddDate(0, 0, n)
	case PlanIntervalWeek:
		return start.AddDate(0, 0, 7*n)
	case PlanIntervalYear:
		return start.AddDate(n, 0, 0)
	default:
		return start.AddDate(0, n, 0)
	}
}
