// Package testutil holds fixtures shared by package tests. It is never imported by production code.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/BillingSync/app/models"
	"github.com/ManuelReschke/BillingSync/internal/pkg/database"
)

// NewTestDB opens a migrated SQLite database in a temp dir that lives for the test.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "billing.db")
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.AutoMigrate(db))
	return db
}

// SeedCustomer inserts a customer with the given processor id.
func SeedCustomer(t *testing.T, db *gorm.DB, stripeID, email string) *models.Customer {
	t.Helper()
	id := stripeID
	c := &models.Customer{Email: email, Name: "Test Customer", StripeCustomerID: &id}
	require.NoError(t, db.Create(c).Error)
	return c
}

// SeedPlan inserts an active monthly plan for the given price id.
func SeedPlan(t *testing.T, db *gorm.DB, priceID, name string) *models.Plan {
	t.Helper()
	p := &models.Plan{
		Name:          name,
		StripePriceID: priceID,
		Interval:      models.PlanIntervalMonth,
		IntervalCount: 1,
		AmountCents:   1500,
		Currency:      "usd",
		IsActive:      true,
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

// SeedSubscription inserts a subscription row in the given state.
func SeedSubscription(t *testing.T, db *gorm.DB, customer *models.Customer, plan *models.Plan, stripeID string, status models.SubscriptionStatus) *models.Subscription {
	t.Helper()
	s := &models.Subscription{
		CustomerID:           customer.ID,
		PlanID:               plan.ID,
		StripeSubscriptionID: stripeID,
		Status:               status,
		Quantity:             1,
	}
	require.NoError(t, db.Create(s).Error)
	return s
}
