package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/BillingSync/internal/pkg/cache"
	"github.com/ManuelReschke/BillingSync/internal/pkg/config"
	"github.com/ManuelReschke/BillingSync/internal/pkg/database"
	"github.com/ManuelReschke/BillingSync/internal/pkg/env"
	"github.com/ManuelReschke/BillingSync/internal/pkg/router"
)

const shutdownTimeout = 15 * time.Second

func main() {
	env.SetupEnvFile()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Config] %v", err)
	}

	database.SetupDatabase()
	cache.SetupCache()

	svc, err := NewServices(cfg, database.GetDB(), cache.GetClient())
	if err != nil {
		log.Fatalf("[Server] Wiring services failed: %v", err)
	}
	svc.LimiterStorage = router.NewLimiterStorage()

	app := NewApplication(cfg, svc)
	svc.Manager.Start()

	go func() {
		if err := app.Listen(cfg.ListenAddr()); err != nil {
			log.Errorf("[Server] Listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	// Stop taking deliveries before draining the workers
	log.Info("[Server] Shutting down")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Warnf("[Server] HTTP shutdown: %v", err)
	}
	svc.Manager.Stop()
	if err := cache.Close(); err != nil {
		log.Warnf("[Server] Closing Redis: %v", err)
	}
}
