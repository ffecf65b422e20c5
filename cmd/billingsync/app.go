package main

import (
	"fmt"
	"os"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ManuelReschke/BillingSync/app/repository"
	"github.com/ManuelReschke/BillingSync/internal/pkg/billing"
	"github.com/ManuelReschke/BillingSync/internal/pkg/config"
	"github.com/ManuelReschke/BillingSync/internal/pkg/constants"
	"github.com/ManuelReschke/BillingSync/internal/pkg/database"
	"github.com/ManuelReschke/BillingSync/internal/pkg/jobqueue"
	"github.com/ManuelReschke/BillingSync/internal/pkg/mail"
	"github.com/ManuelReschke/BillingSync/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/BillingSync/internal/pkg/router"
	"github.com/ManuelReschke/BillingSync/internal/pkg/statistics"
	"github.com/ManuelReschke/BillingSync/internal/pkg/stripeclient"
	"github.com/ManuelReschke/BillingSync/internal/pkg/webhook"
)

// webhookBodyLimit is well above the largest Stripe event payload.
const webhookBodyLimit = 1 << 20

// Services holds the wired pipeline: ledger, receiver and the queues that process events.
type Services struct {
	Manager  *jobqueue.Manager
	Ledger   *webhook.Ledger
	Receiver *webhook.Receiver
	Enqueuer webhook.Enqueuer
	Stats    *statistics.Service

	// LimiterStorage backs the admin limiter; nil keeps it in memory.
	LimiterStorage fiber.Storage
}

// NewServices builds the pipeline on db and the Redis client. Nothing runs until Manager.Start.
func NewServices(cfg *config.Config, db *gorm.DB, rdb *redis.Client) (*Services, error) {
	factory := repository.NewFactory(db)
	repos := factory.GetRepositories()

	webhookQueue := jobqueue.NewQueue(rdb, webhook.QueueName, cfg.Webhooks.Workers, jobqueue.Options{
		RetryPolicy: cfg.WebhookRetryPolicy(),
	})
	notifyQueue := jobqueue.NewQueue(rdb, mail.QueueName, cfg.NotifyWorkers, jobqueue.Options{})

	renderer, err := mail.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("load email templates: %w", err)
	}
	mail.RegisterJobs(notifyQueue, renderer, mail.NewSMTPMailer(mail.SMTPConfigFromEnv()))

	api := stripeclient.New(stripeclient.Config{
		SecretKey:  cfg.Stripe.SecretKey,
		RateLimit:  cfg.Stripe.APIRate,
		Burst:      cfg.Stripe.APIBurst,
		MaxRetries: cfg.Stripe.APIMaxRetries,
	})
	reconciler := billing.NewReconciler(repos, mail.NewQueueNotifier(notifyQueue), api, billing.Config{
		GracePeriodDays: cfg.GracePeriodDays,
	})

	dispatcher := webhook.NewDispatcher()
	if err := billing.RegisterHandlers(dispatcher, reconciler); err != nil {
		return nil, fmt.Errorf("register handlers: %w", err)
	}
	log.Infof("[Server] Handling %d event types: %v", len(dispatcher.EventTypes()), dispatcher.EventTypes())

	ledger := webhook.NewLedger(repos.WebhookEvent)
	webhook.RegisterJobs(webhookQueue, webhook.NewProcessor(ledger, dispatcher, database.NewTransactor(factory.DB())))
	enqueuer := webhook.NewQueueEnqueuer(webhookQueue)

	manager := jobqueue.NewManager(webhookQueue, notifyQueue)
	manager.Every("requeue-stale-webhooks", cfg.Webhooks.StaleAfter/3, webhook.RequeueStale(ledger, enqueuer, cfg.Webhooks.StaleAfter))

	return &Services{
		Manager:  manager,
		Ledger:   ledger,
		Receiver: webhook.NewReceiver(ledger, enqueuer, cfg.Stripe.WebhookSecrets, cfg.Stripe.Tolerance),
		Enqueuer: enqueuer,
		Stats:    statistics.NewService(ledger, webhookQueue, notifyQueue),
	}, nil
}

// NewApplication creates the Fiber app with middleware, docs and routes.
func NewApplication(cfg *config.Config, svc *Services) *fiber.App {
	// Define possible base paths
	basePaths := []string{
		"./",     // Current directory
		"../../", // From cmd/billingsync to project root
	}
	basePath := ""
	for _, path := range basePaths {
		if _, err := os.Stat(path + "public/docs/v1/openapi.yml"); err == nil {
			basePath = path
			break
		}
	}

	app := fiber.New(fiber.Config{
		AppName:   "BillingSync",
		BodyLimit: webhookBodyLimit,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	if basePath != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: constants.DocsRoute,
			FilePath: basePath + "public/docs/v1/openapi.yml",
			Path:     constants.DocsVersion,
			Title:    "BillingSync API",
		}))
	} else {
		log.Warn("[Server] public/docs/v1/openapi.yml not found, API docs disabled")
	}

	router.InstallRouter(app, router.Dependencies{
		Receiver:            svc.Receiver,
		Ledger:              svc.Ledger,
		Enqueuer:            svc.Enqueuer,
		Stats:               svc.Stats,
		Counter:             counter.RedisCounter{},
		AdminToken:          cfg.AdminAPIToken,
		AdminLimiterStorage: svc.LimiterStorage,
	})

	return app
}
