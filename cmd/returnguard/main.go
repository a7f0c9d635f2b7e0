// ReturnGuard - Return decisions before the box is packed.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/returnguard/internal/automation"
	"github.com/opensource-finance/returnguard/internal/bus"
	"github.com/opensource-finance/returnguard/internal/cache"
	"github.com/opensource-finance/returnguard/internal/config"
	"github.com/opensource-finance/returnguard/internal/domain"
	"github.com/opensource-finance/returnguard/internal/fraud"
	"github.com/opensource-finance/returnguard/internal/intake"
	"github.com/opensource-finance/returnguard/internal/logger"
	"github.com/opensource-finance/returnguard/internal/metrics"
	"github.com/opensource-finance/returnguard/internal/notify"
	"github.com/opensource-finance/returnguard/internal/queue"
	"github.com/opensource-finance/returnguard/internal/repository"
	"github.com/opensource-finance/returnguard/internal/resolution"
	"github.com/opensource-finance/returnguard/internal/rulestore"
	"github.com/opensource-finance/returnguard/internal/shipping"
	"github.com/opensource-finance/returnguard/internal/tracing"
	"github.com/opensource-finance/returnguard/internal/velocity"
	"github.com/opensource-finance/returnguard/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		logger.Errorw("returnguard_failed", "error", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.Init(cfg.Logging)
	defer logger.Sync()

	logger.Infow("returnguard_starting",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"queue_enabled", cfg.Queue.Enabled,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warnw("tracing_shutdown_failed", "error", err)
		}
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repo.Close()
	logger.Infow("repository_initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("init cache: %w", err)
	}
	defer cacheImpl.Close()

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("init event bus: %w", err)
	}
	defer busImpl.Close()

	queueClient, err := queue.NewClient(&cfg.Queue)
	if err != nil {
		return fmt.Errorf("init queue client: %w", err)
	}
	defer queueClient.Close()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics); err != nil {
				logger.Errorw("metrics_listener_failed", "error", err)
			}
		}()
	}

	evaluator, err := automation.NewEvaluator()
	if err != nil {
		return fmt.Errorf("init rule evaluator: %w", err)
	}
	store := rulestore.New(repo, cacheImpl, cfg.Engine.SnapshotTTL)
	engine := resolution.NewEngine(fraud.NewDetector(velocity.NewService(repo)), evaluator)

	consumer := &worker.Consumer{
		Repo:    repo,
		Labels:  shipping.New(cfg.Shipping),
		Mailer:  notify.NewMailer(cfg.Email),
		Metrics: m,
	}

	var dispatcher queue.Dispatcher
	var taskServer *worker.Service
	var inline *worker.Inline
	if queueClient.Enabled() {
		consumer.Followup = queueClient
		dispatcher = queueClient
		taskServer, err = worker.NewService(&cfg.Queue, consumer)
		if err != nil {
			return fmt.Errorf("init task server: %w", err)
		}
		go func() {
			if err := taskServer.Start(ctx); err != nil {
				logger.Errorw("task_server_failed", "error", err)
				cancel()
			}
		}()
	} else {
		inline = worker.NewInline(consumer)
		dispatcher = inline
	}

	svc := resolution.NewService(repo, store, engine, resolution.Deps{
		Bus:        busImpl,
		Dispatcher: dispatcher,
		Metrics:    m,
	})

	in := intake.NewWorker(busImpl, svc)
	if err := in.Start(cfg.Engine.Merchants); err != nil {
		return fmt.Errorf("start intake: %w", err)
	}

	logger.Infow("returnguard_ready",
		"merchants", len(cfg.Engine.Merchants),
		"topic", domain.TopicReturnSubmitted,
		"metrics_enabled", cfg.Metrics.Enabled,
	)

	<-ctx.Done()
	logger.Infow("returnguard_shutting_down")

	if err := in.Stop(); err != nil {
		logger.Errorw("intake_stop_failed", "error", err)
	}
	if inline != nil {
		inline.Wait()
	}
	if taskServer != nil {
		if err := taskServer.Stop(context.Background()); err != nil {
			logger.Errorw("task_server_stop_failed", "error", err)
		}
	}

	logger.Infow("returnguard_stopped")
	return nil
}
