package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ManuelReschke/BillingSync/app/models"
	"github.com/ManuelReschke/BillingSync/internal/pkg/database"
)

type customerRepository struct {
	db *gorm.DB
}

func NewCustomerRepository(db *gorm.DB) CustomerRepository {
	return &customerRepository{db: db}
}

func (r *customerRepository) GetByID(ctx context.Context, id uint) (*models.Customer, error) {
	var c models.Customer
	err := database.Conn(ctx, r.db).Where("is_deleted = ?", false).First(&c, id).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *customerRepository) GetByStripeID(ctx context.Context, stripeCustomerID string) (*models.Customer, error) {
	var c models.Customer
	err := database.Conn(ctx, r.db).
		Where("stripe_customer_id = ? AND is_deleted = ?", stripeCustomerID, false).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *customerRepository) Save(ctx context.Context, customer *models.Customer) error {
	return database.Conn(ctx, r.db).Save(customer).Error
}
