package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/BillingSync/app/repository"
	"github.com/ManuelReschke/BillingSync/internal/pkg/cache"
	"github.com/ManuelReschke/BillingSync/internal/pkg/statistics"
	"github.com/ManuelReschke/BillingSync/internal/pkg/testutil"
	"github.com/ManuelReschke/BillingSync/internal/pkg/webhook"
)

type nopEnqueuer struct{}

func (nopEnqueuer) Enqueue(context.Context, string, string) error { return nil }

func newApp(t *testing.T, token string, rateLimit int) *fiber.App {
	t.Helper()
	mr := miniredis.RunT(t)
	cache.SetClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = cache.Close() })

	ledger := webhook.NewLedger(repository.NewWebhookEventRepository(testutil.NewTestDB(t)))
	app := fiber.New()
	InstallRouter(app, Dependencies{
		Receiver:       webhook.NewReceiver(ledger, nopEnqueuer{}, []string{"whsec_test"}, time.Minute),
		Ledger:         ledger,
		Enqueuer:       nopEnqueuer{},
		Stats:          statistics.NewService(ledger),
		AdminToken:     token,
		AdminRateLimit: rateLimit,
	})
	return app
}

func status(t *testing.T, app *fiber.App, method, path, token string) int {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestPublicRoutes(t *testing.T) {
	app := newApp(t, "secret", 0)

	assert.Equal(t, fiber.StatusOK, status(t, app, http.MethodGet, "/health", ""))
	// unsigned delivery reaches the controller and is rejected there
	assert.Equal(t, fiber.StatusBadRequest, status(t, app, http.MethodPost, "/webhooks/stripe", ""))
	assert.Equal(t, fiber.StatusNotFound, status(t, app, http.MethodPost, "/webhooks/other", ""))
}

func TestAdminRoutesRequireToken(t *testing.T) {
	app := newApp(t, "secret", 0)

	assert.Equal(t, fiber.StatusUnauthorized, status(t, app, http.MethodGet, "/admin/stats", ""))
	assert.Equal(t, fiber.StatusUnauthorized, status(t, app, http.MethodGet, "/admin/stats", "wrong"))
	assert.Equal(t, fiber.StatusOK, status(t, app, http.MethodGet, "/admin/stats", "secret"))
	assert.Equal(t, fiber.StatusOK, status(t, app, http.MethodGet, "/admin/webhooks/events", "secret"))
	assert.Equal(t, fiber.StatusNotFound, status(t, app, http.MethodPost, "/admin/webhooks/events/evt_x/replay", "secret"))
	assert.Equal(t, fiber.StatusUnauthorized, status(t, app, http.MethodGet, "/metrics", ""))
}

func TestAdminRoutesDisabledWithoutToken(t *testing.T) {
	app := newApp(t, "", 0)

	assert.Equal(t, fiber.StatusNotFound, status(t, app, http.MethodGet, "/admin/stats", ""))
	assert.Equal(t, fiber.StatusNotFound, status(t, app, http.MethodGet, "/metrics", ""))
	assert.Equal(t, fiber.StatusOK, status(t, app, http.MethodGet, "/health", ""))
}

func TestAdminRateLimit(t *testing.T) {
	app := newApp(t, "secret", 2)

	assert.Equal(t, fiber.StatusOK, status(t, app, http.MethodGet, "/admin/stats", "secret"))
	assert.Equal(t, fiber.StatusOK, status(t, app, http.MethodGet, "/admin/stats", "secret"))
	assert.Equal(t, fiber.StatusTooManyRequests, status(t, app, http.MethodGet, "/admin/stats", "secret"))
}
