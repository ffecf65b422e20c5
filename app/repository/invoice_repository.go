package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/BillingSync/app/models"
	"github.com/ManuelReschke/BillingSync/internal/pkg/database"
)

type invoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) InvoiceRepository {
	return &invoiceRepository{db: db}
}

func (r *invoiceRepository) GetByStripeID(ctx context.Context, stripeInvoiceID string) (*models.Invoice, error) {
	var inv models.Invoice
	if err := database.Conn(ctx, r.db).Where("stripe_invoice_id = ?", stripeInvoiceID).First(&inv).Error; err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *invoiceRepository) CreateIfNotExists(ctx context.Context, invoice *models.Invoice) (bool, error) {
	conn := database.Conn(ctx, r.db)
	tx := conn.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stripe_invoice_id"}},
		DoNothing: true,
	}).Create(invoice)
	if tx.Error != nil {
		return false, tx.Error
	}
	if tx.RowsAffected > 0 {
		return true, nil
	}

	var stored models.Invoice
	if err := conn.Where("stripe_invoice_id = ?", invoice.StripeInvoiceID).First(&stored).Error; err != nil {
		return false, err
	}
	*invoice = stored
	return false, nil
}

func (r *invoiceRepository) Save(ctx context.Context, invoice *models.Invoice) error {
	return database.Conn(ctx, r.db).Save(invoice).Error
}
