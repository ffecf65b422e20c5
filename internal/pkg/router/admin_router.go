package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"github.com/ManuelReschke/BillingSync/app/controllers"
	"github.com/ManuelReschke/BillingSync/internal/pkg/constants"
	"github.com/ManuelReschke/BillingSync/internal/pkg/middleware"
)

const defaultAdminRateLimit = 60

// AdminRouter mounts the operator endpoints behind the admin token and a rate limiter.
type AdminRouter struct {
	deps Dependencies
}

func (a AdminRouter) InstallRouter(app *fiber.App) {
	auth := middleware.AdminTokenAuth(a.deps.AdminToken)
	limit := a.deps.AdminRateLimit
	if limit <= 0 {
		limit = defaultAdminRateLimit
	}

	admin := app.Group(constants.AdminRoute, auth, limiter.New(limiter.Config{
		Max:        limit,
		Expiration: time.Minute,
		Storage:    a.deps.AdminLimiterStorage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited"})
		},
	}))

	ac := controllers.NewAdminWebhookController(a.deps.Ledger, a.deps.Enqueuer, a.deps.Stats)
	admin.Get(constants.AdminEventsRoute, ac.HandleListEvents)
	admin.Post(constants.AdminReplayRoute, ac.HandleReplayEvent)
	admin.Get(constants.AdminStatsRoute, ac.HandleStats)

	// fiber metrics
	app.Get(constants.MetricsRoute, auth, monitor.New(monitor.Config{Title: "BillingSync"}))
}

func NewAdminRouter(deps Dependencies) *AdminRouter {
	return &AdminRouter{deps: deps}
}
