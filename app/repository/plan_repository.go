package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ManuelReschke/BillingSync/app/models"
	"github.com/ManuelReschke/BillingSync/internal/pkg/database"
)

type planRepository struct {
	db *gorm.DB
}

func NewPlanRepository(db *gorm.DB) PlanRepository {
	return &planRepository{db: db}
}

func (r *planRepository) GetByID(ctx context.Context, id uint) (*models.Plan, error) {
	var p models.Plan
	if err := database.Conn(ctx, r.db).First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByStripePriceID resolves the plan for a processor price. Inactive plans still resolve so
// legacy subscriptions keep reconciling.
func (r *planRepository) GetByStripePriceID(ctx context.Context, priceID string) (*models.Plan, error) {
	var p models.Plan
	if err := database.Conn(ctx, r.db).Where("stripe_price_id = ?", priceID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}
