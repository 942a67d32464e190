package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/ManuelReschke/CreditForge/app/controllers"
	"github.com/ManuelReschke/CreditForge/app/repository"
	"github.com/ManuelReschke/CreditForge/internal/pkg/billing"
	"github.com/ManuelReschke/CreditForge/internal/pkg/cache"
	"github.com/ManuelReschke/CreditForge/internal/pkg/config"
	"github.com/ManuelReschke/CreditForge/internal/pkg/database"
	"github.com/ManuelReschke/CreditForge/internal/pkg/env"
	"github.com/ManuelReschke/CreditForge/internal/pkg/generation"
	"github.com/ManuelReschke/CreditForge/internal/pkg/jobqueue"
	"github.com/ManuelReschke/CreditForge/internal/pkg/ledger"
	"github.com/ManuelReschke/CreditForge/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/CreditForge/internal/pkg/monitoring"
	"github.com/ManuelReschke/CreditForge/internal/pkg/payment"
	"github.com/ManuelReschke/CreditForge/internal/pkg/plans"
	"github.com/ManuelReschke/CreditForge/internal/pkg/router"
	"github.com/ManuelReschke/CreditForge/internal/pkg/storage"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	env.SetupEnvFile()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	setLogLevel(cfg.LogLevel)

	if err := monitoring.Init(cfg.SentryDSN, cfg.AppEnv, version); err != nil {
		log.Warnf("[Sentry] Init failed, error reporting disabled: %v", err)
	}
	defer monitoring.Flush(2 * time.Second)

	app, shutdown, err := NewApplication(cfg)
	if err != nil {
		log.Fatalf("Startup failed: %v", err)
	}

	go func() {
		if err := app.Listen(cfg.ListenAddr()); err != nil {
			log.Errorf("[Server] Listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("[Server] Shutting down...")

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Errorf("[Server] Shutdown failed: %v", err)
	}
	shutdown()
}

// NewApplication wires the stores, the billing and queue services and the
// HTTP routes. The returned func releases everything in reverse order.
func NewApplication(cfg *config.Config) (*fiber.App, func(), error) {
	db, err := database.SetupDatabase(cfg.MySQLDSN(), cfg.DBAutoMigrate || cfg.IsDev())
	if err != nil {
		return nil, nil, err
	}
	redisClient := cache.SetupCache(cache.Options{
		Host:     cfg.CacheHost,
		Port:     cfg.CachePort,
		Password: cfg.CachePassword,
		DB:       cfg.CacheDB,
	})

	catalog, err := loadCatalog(cfg.PlansFile)
	if err != nil {
		return nil, nil, err
	}

	var gateway payment.Gateway
	if g, err := payment.NewStripeGateway(cfg.StripeSecretKey); err == nil {
		gateway = g
	} else {
		log.Warnf("[Billing] Stripe gateway disabled: %v", err)
	}

	ledgerSvc := ledger.NewService(ledger.NewGormStore(db), catalog, ledger.WithGateway(gateway))
	reconciler := billing.NewReconciler(billing.NewRepository(db), ledgerSvc, catalog, gateway, billing.Config{
		WebhookSecret: cfg.StripeWebhookSecret,
		SuccessURL:    cfg.CheckoutSuccessURL,
		CancelURL:     cfg.CheckoutCancelURL,
	})

	codec, err := jobqueue.NewCodec(cfg.QueueCodec)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	broker, err := jobqueue.OpenBroker(ctx, jobqueue.BrokerOptions{
		Kind:              cfg.QueueBroker,
		Redis:             redisClient,
		RabbitURL:         cfg.RabbitMQURL,
		Codec:             codec,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("queue broker: %w", err)
	}

	var jobs jobqueue.JobStore = jobqueue.NewRedisJobStore(redisClient)
	var outcomes counter.Counter = counter.NewRedisCounter(redisClient)
	if cfg.QueueBroker == jobqueue.BrokerMemory {
		jobs = jobqueue.NewMemoryJobStore()
		outcomes = counter.NewMemoryCounter()
	}
	dispatcher := jobqueue.NewDispatcher(broker, codec, jobs, ledgerSvc)
	correlator := jobqueue.NewCorrelator(broker, codec, jobs, ledgerSvc, cfg.WorkerConcurrency).
		WithCounter(outcomes).
		WithRetry(cfg.RetryPolicy())
	manager := jobqueue.NewManager(broker, correlator)
	manager.Start()

	stopWorkers := func() {}
	if cfg.QueueBroker == jobqueue.BrokerMemory {
		stopWorkers, err = startInProcessWorkers(cfg, broker, codec)
		if err != nil {
			manager.Stop()
			return nil, nil, err
		}
	}

	users := repository.NewFactory(db).GetUserRepository()
	controller := controllers.NewAPIController(controllers.Dependencies{
		Users:      users,
		Ledger:     ledgerSvc,
		Billing:    reconciler,
		Dispatcher: dispatcher,
		Queues:     manager,
		Plans:      catalog,
	})

	app := fiber.New(fiber.Config{
		AppName:      "CreditForge " + version,
		BodyLimit:    4 * 1024 * 1024,
		ErrorHandler: errorHandler,
	})

	// ROUTER
	router.InstallRouter(app,
		router.NewHttpRouter(router.HttpOptions{
			AdminUser:     cfg.AdminUser,
			AdminPassword: cfg.AdminPassword,
			OpenAPIFile:   "./public/docs/v1/openapi.yml",
			AccessLog:     true,
		}),
		router.NewApiRouter(controller, users, router.ApiOptions{
			AdminUser:       cfg.AdminUser,
			AdminPassword:   cfg.AdminPassword,
			RateLimitMax:    cfg.RateLimitMax,
			RateLimitWindow: cfg.RateLimitWindow,
			LimiterStorage:  router.NewLimiterStorage(cfg.CachePassword),
		}),
	)

	shutdown := func() {
		stopWorkers()
		manager.Stop()
		if err := cache.Close(); err != nil {
			log.Warnf("[Cache] Close failed: %v", err)
		}
		if err := database.Close(); err != nil {
			log.Warnf("[Database] Close failed: %v", err)
		}
	}
	return app, shutdown, nil
}

func loadCatalog(path string) (*plans.Catalog, error) {
	catalog := plans.Default()
	if strings.TrimSpace(path) != "" {
		loaded, err := plans.Load(path)
		if err != nil {
			return nil, err
		}
		catalog = loaded
	}
	return catalog.WithPrices(os.Getenv), nil
}

// startInProcessWorkers runs one worker per service against the memory
// broker. Services without configured providers use the mock provider.
func startInProcessWorkers(cfg *config.Config, broker jobqueue.Broker, codec jobqueue.Codec) (func(), error) {
	lookup := func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		if strings.HasPrefix(key, "PROVIDERS_") {
			return generation.MockProviderName
		}
		return ""
	}

	artifacts := storage.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, service := range jobqueue.Services {
		service := service
		chain, err := generation.BuildChain(service, lookup, artifacts, cfg.ProviderTimeout)
		if err != nil {
			cancel()
			wg.Wait()
			return nil, err
		}
		worker := jobqueue.NewWorker(broker, codec, chain, cfg.WorkerConcurrency).WithRetry(cfg.RetryPolicy())
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorf("[Worker %s] Stopped: %v", service, err)
			}
		}()
	}
	log.Infof("[JobQueue] In-process workers started for %v", jobqueue.Services)

	return func() {
		cancel()
		wg.Wait()
	}, nil
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		log.Errorf("[Server] %s %s: %v", c.Method(), c.Path(), err)
		monitoring.Remember(c, err)
		return c.Status(code).JSON(fiber.Map{"error": "internal_server_error", "message": "internal error"})
	}
	slug := strings.ToLower(strings.ReplaceAll(utils.StatusMessage(code), " ", "_"))
	return c.Status(code).JSON(fiber.Map{"error": slug, "message": err.Error()})
}

func setLogLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		log.SetLevel(log.LevelTrace)
	case "debug":
		log.SetLevel(log.LevelDebug)
	case "warn":
		log.SetLevel(log.LevelWarn)
	case "error":
		log.SetLevel(log.LevelError)
	default:
		log.SetLevel(log.LevelInfo)
	}
}
