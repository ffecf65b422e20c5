package webhook

import (
	"context"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/BillingSync/app/repository"
	"github.com/ManuelReschke/BillingSync/internal/pkg/testutil"
)

type fakeEnqueuer struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, eventID, eventType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, eventID)
	return nil
}

func (f *fakeEnqueuer) enqueued() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func newTestLedger(t *testing.T) (*Ledger, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t)
	return NewLedger(repository.NewWebhookEventRepository(db)), db
}

func invoiceObject(id string) map[string]interface{} {
	return map[string]interface{}{
		"id":         id,
		"object":     "invoice",
		"customer":   "cus_123",
		"amount_due": 1500,
		"currency":   "usd",
		"status":     "open",
	}
}

func eventPayload(t *testing.T, eventID, eventType string) []byte {
	t.Helper()
	return testutil.EventPayload(t, eventID, eventType, invoiceObject("in_1"))
}

func sign(payload []byte) string {
	return testutil.SignPayload(payload, testSecret, time.Now())
}
