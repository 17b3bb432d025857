package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/cadencepay/cadence/app/controllers"
	"github.com/cadencepay/cadence/internal/pkg/billing"
	"github.com/cadencepay/cadence/internal/pkg/cache"
	"github.com/cadencepay/cadence/internal/pkg/database"
	"github.com/cadencepay/cadence/internal/pkg/env"
	"github.com/cadencepay/cadence/internal/pkg/gateway"
	"github.com/cadencepay/cadence/internal/pkg/ledger"
	"github.com/cadencepay/cadence/internal/pkg/lock"
	"github.com/cadencepay/cadence/internal/pkg/router"
)

func main() {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	cfg, err := billing.LoadAccountConfigFromEnv()
	if err != nil {
		log.Fatalf("invalid gateway account configuration: %v", err)
	}

	store := ledger.NewGormStore(database.GetDB())
	gw := gateway.NewAdyenClientFromEnv()
	cycleLock := lock.New(cache.GetClient(), lock.SchedulerLockName, 15*time.Minute)
	scheduler := billing.NewScheduler(store, gw, cfg, cycleLock)
	engine := billing.NewEngine(store, cfg)
	consumer := billing.NewConsumer(store, engine)
	ingestor := billing.NewIngestor(store, cfg)

	consumer.Start()
	defer consumer.Stop()

	stopTicker := startSchedulerTicker(scheduler)
	defer stopTicker()

	app := NewApplication(ingestor, scheduler)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Info("shutting down")
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}

// NewApplication builds the Fiber app with all routes installed. Split out so
// handler tests can construct the same app around test doubles.
func NewApplication(ingestor *billing.Ingestor, scheduler *billing.Scheduler) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "cadence",
	})
	app.Use(recover.New(), logger.New())

	router.InstallRouter(app,
		router.NewHttpRouter(controllers.NewWebhookController(ingestor)),
		router.NewApiRouter(controllers.NewJobController(scheduler)),
	)
	return app
}

// startSchedulerTicker runs the billing cycle on a fixed interval when
// SCHEDULER_INTERVAL is set (a Go duration, e.g. "1h"). Unset or "0" means
// cycles are only driven externally through the job endpoint.
func startSchedulerTicker(scheduler *billing.Scheduler) func() {
	raw := env.GetEnv("SCHEDULER_INTERVAL", "")
	if raw == "" || raw == "0" {
		return func() {}
	}
	interval, err := time.ParseDuration(raw)
	if err != nil || interval <= 0 {
		log.Warnf("ignoring invalid SCHEDULER_INTERVAL %q", raw)
		return func() {}
	}

	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if _, err := scheduler.RunCycle(context.Background()); err != nil {
					if errors.Is(err, billing.ErrLockContended) {
						log.Debug("[Scheduler] cycle skipped, lock held elsewhere")
						continue
					}
					log.Errorf("[Scheduler] scheduled cycle failed: %v", err)
				}
			}
		}
	}()
	log.Infof("[Scheduler] internal ticker running every %s", interval)
	return func() {
		ticker.Stop()
		close(done)
	}
}
