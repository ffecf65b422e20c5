package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/BillingSync/app/controllers"
	"github.com/ManuelReschke/BillingSync/internal/pkg/statistics"
	"github.com/ManuelReschke/BillingSync/internal/pkg/webhook"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the wired services the routes hand requests to.
type Dependencies struct {
	Receiver *webhook.Receiver
	Ledger   *webhook.Ledger
	Enqueuer webhook.Enqueuer
	Stats    *statistics.Service
	Counter  controllers.TrafficCounter

	// AdminToken guards /admin and /metrics. Both are not mounted when it is empty.
	AdminToken string
	// AdminLimiterStorage backs the admin rate limiter; nil keeps counters in memory.
	AdminLimiterStorage fiber.Storage
	AdminRateLimit      int
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	routers := []Router{NewHttpRouter(deps)}
	if deps.AdminToken == "" {
		log.Warn("[Router] ADMIN_API_TOKEN is empty, admin routes are disabled")
	} else {
		routers = append(routers, NewAdminRouter(deps))
	}
	setup(app, routers...)
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
