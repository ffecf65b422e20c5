package models

import "time"

type WebhookEventStatus string

const (
	WebhookEventStatusQueued     WebhookEventStatus = "queued"
	WebhookEventStatusProcessing WebhookEventStatus = "processing"
	WebhookEventStatusProcessed  WebhookEventStatus = "processed"
	WebhookEventStatusFailed     WebhookEventStatus = "failed"
	WebhookEventStatusRetrying   WebhookEventStatus = "retrying"
)

// CountsAsFailure reports whether entering this status records a failed attempt.
func (s WebhookEventStatus) CountsAsFailure() bool {
	return s == WebhookEventStatusFailed || s == WebhookEventStatusRetrying
}

// WebhookEvent is the idempotency ledger row for one processor event. The unique index on
// event_id is what makes a second delivery of the same event a no-op. Rows are never deleted.
type WebhookEvent struct {
	ID           uint               `gorm:"primaryKey" json:"id"`
	Provider     string             `gorm:"type:varchar(20);not null;default:'stripe';index" json:"provider"`
	EventID      string             `gorm:"type:varchar(191);not null;uniqueIndex:ux_webhook_events_event_id" json:"event_id"`
	EventType    string             `gorm:"type:varchar(100);not null;index" json:"event_type"`
	Status       WebhookEventStatus `gorm:"type:varchar(20);not null;default:'queued';index:idx_webhook_events_status_updated,priority:1" json:"status"`
	RawPayload   string             `gorm:"type:longtext;not null" json:"-"`
	ErrorMessage *string            `gorm:"type:text" json:"error_message,omitempty"`
	RetryCount   int                `gorm:"not null;default:0" json:"retry_count"`
	ProcessedAt  *time.Time         `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	CreatedAt    time.Time          `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time          `gorm:"autoUpdateTime;index:idx_webhook_events_status_updated,priority:2" json:"updated_at"`
}
