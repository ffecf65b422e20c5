package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/BillingSync/app/models"
	"gorm.io/gorm"
)

// Lookups return gorm.ErrRecordNotFound when no live row matches. Soft-deleted rows are
// filtered explicitly; only methods named IncludingDeleted return them.

// CustomerRepository defines the customer operations used by reconciliation
type CustomerRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Customer, error)
	GetByStripeID(ctx context.Context, stripeCustomerID string) (*models.Customer, error)
	Save(ctx context.Context, customer *models.Customer) error
}

// PlanRepository defines plan lookups
type PlanRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Plan, error)
	GetByStripePriceID(ctx context.Context, priceID string) (*models.Plan, error)
}

// SubscriptionRepository defines subscription operations
type SubscriptionRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Subscription, error)
	GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)
	GetByStripeIDIncludingDeleted(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)
	// CreateIfNotExists inserts atomically; created is false when the external id already exists
	// and sub is then loaded with the stored row.
	CreateIfNotExists(ctx context.Context, sub *models.Subscription) (bool, error)
	Save(ctx context.Context, sub *models.Subscription) error
	CountByCustomerAndStatus(ctx context.Context, customerID uint, statuses ...models.SubscriptionStatus) (int64, error)
}

// InvoiceRepository defines invoice operations
type InvoiceRepository interface {
	GetByStripeID(ctx context.Context, stripeInvoiceID string) (*models.Invoice, error)
	CreateIfNotExists(ctx context.Context, invoice *models.Invoice) (bool, error)
	Save(ctx context.Context, invoice *models.Invoice) error
}

// WebhookEventRepository defines idempotency ledger storage
type WebhookEventRepository interface {
	CreateIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, error)
	GetByEventID(ctx context.Context, eventID string) (*models.WebhookEvent, error)
	UpdateStatus(ctx context.Context, eventID string, status models.WebhookEventStatus, errMsg *string) error
	Claim(ctx context.Context, eventID string, from []models.WebhookEventStatus, staleProcessingBefore time.Time) (bool, error)
	ResetForReplay(ctx context.Context, eventID string) error
	ListByStatus(ctx context.Context, status models.WebhookEventStatus, limit int) ([]models.WebhookEvent, error)
	ListStale(ctx context.Context, statuses []models.WebhookEventStatus, updatedBefore time.Time, limit int) ([]models.WebhookEvent, error)
	CountByStatus(ctx context.Context) (map[models.WebhookEventStatus]int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Customer     CustomerRepository
	Plan         PlanRepository
	Subscription SubscriptionRepository
	Invoice      InvoiceRepository
	WebhookEvent WebhookEventRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Customer:     NewCustomerRepository(db),
		Plan:         NewPlanRepository(db),
		Subscription: NewSubscriptionRepository(db),
		Invoice:      NewInvoiceRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
	}
}
