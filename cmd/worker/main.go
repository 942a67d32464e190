package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CreditForge/internal/pkg/cache"
	"github.com/ManuelReschke/CreditForge/internal/pkg/config"
	"github.com/ManuelReschke/CreditForge/internal/pkg/env"
	"github.com/ManuelReschke/CreditForge/internal/pkg/generation"
	"github.com/ManuelReschke/CreditForge/internal/pkg/jobqueue"
	"github.com/ManuelReschke/CreditForge/internal/pkg/monitoring"
	"github.com/ManuelReschke/CreditForge/internal/pkg/storage"
)

var version = "dev"

func main() {
	service := flag.String("service", "", "generation service to serve: copy, graphics, video or audio")
	concurrency := flag.Int("concurrency", 0, "parallel jobs (default WORKER_CONCURRENCY)")
	flag.Parse()

	env.SetupEnvFile()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	svc := strings.ToLower(strings.TrimSpace(*service))
	if !jobqueue.IsService(svc) {
		log.Fatalf("Unknown -service %q, expected one of %v", *service, jobqueue.Services)
	}
	if cfg.QueueBroker == jobqueue.BrokerMemory {
		log.Fatalf("QUEUE_BROKER=memory only works inside the API process")
	}
	if *concurrency <= 0 {
		*concurrency = cfg.WorkerConcurrency
	}

	if err := monitoring.Init(cfg.SentryDSN, cfg.AppEnv, version); err != nil {
		log.Warnf("[Sentry] Init failed, error reporting disabled: %v", err)
	}
	defer monitoring.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	artifacts, err := openArtifactStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Artifact storage unavailable: %v", err)
	}

	chain, err := generation.BuildChain(svc, os.Getenv, artifacts, cfg.ProviderTimeout)
	if err != nil {
		log.Fatalf("Provider chain: %v", err)
	}

	codec, err := jobqueue.NewCodec(cfg.QueueCodec)
	if err != nil {
		log.Fatalf("Queue codec: %v", err)
	}
	redisClient := cache.SetupCache(cache.Options{
		Host:     cfg.CacheHost,
		Port:     cfg.CachePort,
		Password: cfg.CachePassword,
		DB:       cfg.CacheDB,
	})
	defer cache.Close()

	broker, err := jobqueue.OpenBroker(ctx, jobqueue.BrokerOptions{
		Kind:              cfg.QueueBroker,
		Redis:             redisClient,
		RabbitURL:         cfg.RabbitMQURL,
		Codec:             codec,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
	})
	if err != nil {
		log.Fatalf("Queue broker: %v", err)
	}
	defer broker.Close()

	worker := jobqueue.NewWorker(broker, codec, chain, *concurrency).WithRetry(cfg.RetryPolicy())
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("[Worker %s] Stopped: %v", svc, err)
		return
	}
	log.Infof("[Worker %s] Stopped", svc)
}

// openArtifactStore uses S3 when configured and keeps artifacts in memory
// otherwise.
func openArtifactStore(ctx context.Context, cfg *config.Config) (storage.ArtifactStore, error) {
	s3cfg := cfg.Storage()
	if !s3cfg.IsEnabled() {
		log.Warn("[Storage] S3 not configured, binary artifacts are kept in memory")
		return storage.NewMemoryStore(), nil
	}
	store, err := storage.NewS3Store(ctx, s3cfg)
	if err != nil {
		return nil, err
	}
	return store, nil
}
