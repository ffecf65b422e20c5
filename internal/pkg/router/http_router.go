package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/BillingSync/app/controllers"
	"github.com/ManuelReschke/BillingSync/internal/pkg/constants"
)

// HttpRouter mounts the public surface: processor webhooks and liveness.
type HttpRouter struct {
	webhooks *controllers.WebhookController
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get(constants.HealthRoute, controllers.HandleHealth)

	// No session or CSRF here, deliveries are authenticated by their signature
	app.Post(constants.WebhookRoute, h.webhooks.HandleWebhook)
}

func NewHttpRouter(deps Dependencies) *HttpRouter {
	return &HttpRouter{webhooks: controllers.NewWebhookController(deps.Receiver, deps.Counter)}
}
