package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// SubscriptionStatus is the local subscription state. Values mirror the processor's vocabulary.
type SubscriptionStatus string

const (
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionStatusPaused            SubscriptionStatus = "paused"
)

// IsValid reports whether s is one of the known states.
func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case SubscriptionStatusIncomplete, SubscriptionStatusIncompleteExpired, SubscriptionStatusTrialing,
		SubscriptionStatusActive, SubscriptionStatusPastDue, SubscriptionStatusCanceled,
		SubscriptionStatusUnpaid, SubscriptionStatusPaused:
		return true
	default:
		return false
	}
}

// IsTerminal is true for canceled subscriptions; nothing moves them to another state.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusCanceled
}

// IsEntitling reports whether the customer currently holds the subscription (active or in trial).
func (s SubscriptionStatus) IsEntitling() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// CanTransitionTo guards the subscription state machine.
func (s SubscriptionStatus) CanTransitionTo(next SubscriptionStatus) bool {
	if !next.IsValid() {
		return false
	}
	if s == next {
		return true
	}
	return !s.IsTerminal()
}

// Subscription mirrors a processor subscription and links it to a local customer and plan.
// RemoteUpdatedAt is the creation time of the newest processor event applied to the row.
type Subscription struct {
	ID                   uint               `gorm:"primaryKey" json:"id"`
	CustomerID           uint               `gorm:"not null;index" json:"customer_id" validate:"required"`
	PlanID               uint               `gorm:"not null;index" json:"plan_id" validate:"required"`
	StripeSubscriptionID string             `gorm:"type:varchar(191);not null;uniqueIndex:ux_subscriptions_stripe_subscription_id" json:"stripe_subscription_id" validate:"required,max=191"`
	Status               SubscriptionStatus `gorm:"type:varchar(32);not null;default:'incomplete';index" json:"status" validate:"required"`
	Quantity             int64              `gorm:"not null;default:1" json:"quantity" validate:"gte=0"`
	CancelAtPeriodEnd    bool               `gorm:"default:false" json:"cancel_at_period_end"`
	CanceledAt           *time.Time         `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	EndedAt              *time.Time         `gorm:"type:timestamp;default:null" json:"ended_at,omitempty"`
	TrialStart           *time.Time         `gorm:"type:timestamp;default:null" json:"trial_start,omitempty"`
	TrialEnd             *time.Time         `gorm:"type:timestamp;default:null" json:"trial_end,omitempty"`
	CurrentPeriodStart   *time.Time         `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time         `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	RemoteUpdatedAt      *time.Time         `gorm:"type:timestamp;default:null" json:"remote_updated_at,omitempty"`
	IsDeleted            bool               `gorm:"default:false;index" json:"is_deleted"`
	DeletedAt            *time.Time         `gorm:"type:timestamp;default:null" json:"deleted_at,omitempty"`
	CreatedAt            time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s *Subscription) Validate() error {
	return validator.New().Struct(s)
}

// ReflectsNewerThan reports whether the row already holds remote state newer than an event
// created at eventCreated. Events from the same second are applied.
func (s *Subscription) ReflectsNewerThan(eventCreated time.Time) bool {
	return s.RemoteUpdatedAt != nil && !eventCreated.IsZero() && eventCreated.Before(*s.RemoteUpdatedAt)
}

// MarkRemoteState advances RemoteUpdatedAt to eventCreated and reports whether it moved.
func (s *Subscription) MarkRemoteState(eventCreated time.Time) bool {
	if eventCreated.IsZero() || (s.RemoteUpdatedAt != nil && !eventCreated.After(*s.RemoteUpdatedAt)) {
		return false
	}
	t := eventCreated.UTC()
	s.RemoteUpdatedAt = &t
	return true
}

// InTrial reports whether the trial window covers now.
func (s *Subscription) InTrial(now time.Time) bool {
	if s.Status == SubscriptionStatusTrialing {
		return true
	}
	return s.TrialEnd != nil && now.Before(*s.TrialEnd)
}

// SetStatus applies next when the state machine allows it and reports whether it changed.
func (s *Subscription) SetStatus(next SubscriptionStatus) bool {
	if s.Status == next || !s.Status.CanTransitionTo(next) {
		return false
	}
	s.Status = next
	return true
}
