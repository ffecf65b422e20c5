package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/BillingSync/app/models"
	"github.com/ManuelReschke/BillingSync/internal/pkg/database"
)

type subscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) GetByID(ctx context.Context, id uint) (*models.Subscription, error) {
	var s models.Subscription
	if err := database.Conn(ctx, r.db).Where("is_deleted = ?", false).First(&s, id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *subscriptionRepository) GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	var s models.Subscription
	err := database.Conn(ctx, r.db).
		Where("stripe_subscription_id = ? AND is_deleted = ?", stripeSubscriptionID, false).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *subscriptionRepository) GetByStripeIDIncludingDeleted(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	var s models.Subscription
	err := database.Conn(ctx, r.db).Where("stripe_subscription_id = ?", stripeSubscriptionID).First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *subscriptionRepository) CreateIfNotExists(ctx context.Context, sub *models.Subscription) (bool, error) {
	conn := database.Conn(ctx, r.db)
	tx := conn.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stripe_subscription_id"}},
		DoNothing: true,
	}).Create(sub)
	if tx.Error != nil {
		return false, tx.Error
	}
	if tx.RowsAffected > 0 {
		return true, nil
	}

	// Lost the race against another delivery; hand back the stored row.
	var stored models.Subscription
	if err := conn.Where("stripe_subscription_id = ?", sub.StripeSubscriptionID).First(&stored).Error; err != nil {
		return false, err
	}
	*sub = stored
	return false, nil
}

func (r *subscriptionRepository) Save(ctx context.Context, sub *models.Subscription) error {
	return database.Conn(ctx, r.db).Save(sub).Error
}

func (r *subscriptionRepository) CountByCustomerAndStatus(ctx context.Context, customerID uint, statuses ...models.SubscriptionStatus) (int64, error) {
	var count int64
	q := database.Conn(ctx, r.db).Model(&models.Subscription{}).
		Where("customer_id = ? AND is_deleted = ?", customerID, false)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	err := q.Count(&count).Error
	return count, err
}
