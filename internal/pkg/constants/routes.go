package constants

// Route constants
const (
	HealthRoute  = "/health"
	WebhookRoute = "/webhooks/:processor"
	AdminRoute   = "/admin"
	MetricsRoute = "/metrics"
	// Swagger UI lives under DocsRoute + DocsVersion
	DocsRoute   = "/docs/api/"
	DocsVersion = "v1"
)

// Admin routes, relative to AdminRoute
const (
	AdminEventsRoute = "/webhooks/events"
	AdminReplayRoute = "/webhooks/events/:eventId/replay"
	AdminStatsRoute  = "/stats"
)
