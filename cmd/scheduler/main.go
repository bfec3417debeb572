package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	convrepo "funnel_builder_backend/internal/conversation/repository"
	convservice "funnel_builder_backend/internal/conversation/service"
	"funnel_builder_backend/internal/events"
	"funnel_builder_backend/internal/outbox"
	"funnel_builder_backend/internal/relay"
	"funnel_builder_backend/internal/scheduler"
	"funnel_builder_backend/internal/whop"
	"funnel_builder_backend/platform/config"
	"funnel_builder_backend/platform/db"
	"funnel_builder_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	eventBus := events.NewInMemoryBus(log)
	if closeRelay := initRelay(cfg, eventBus, log); closeRelay != nil {
		defer closeRelay()
	}

	outboxRepo := outbox.New(pool)

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize scheduler client", "error", err)
		panic("failed to initialize scheduler client: " + err.Error())
	}
	defer func() { _ = client.Close() }()
	dispatcher := scheduler.NewDMOutboxDispatcher(client, outboxRepo, cfg.GetOutboxPollInterval(), log)

	var messenger scheduler.DirectMessenger
	if wc := whop.NewClient(cfg, log); wc != nil {
		messenger = wc
	} else {
		log.Warn("whop messaging not configured; queued hand-off DMs will keep retrying")
	}
	delivery := scheduler.NewOutboxDelivery(outboxRepo, messenger, cfg.GetOutboxMaxAttempts(), log)

	worker, err := scheduler.NewWorker(cfg, delivery, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	// Idle sweeping only touches conversation rows; no funnel reads needed.
	conversations := convservice.New(convrepo.New(pool), nil, eventBus, log)
	sweeper := scheduler.NewIdleSweeper(conversations, log, cfg.GetIdleSweepInterval(), cfg.GetConversationIdleTimeout())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { dispatcher.Run(gctx); return nil })
	g.Go(func() error { sweeper.Run(gctx); return nil })
	g.Go(func() error { worker.Run(gctx); return nil })
	_ = g.Wait()

	eventBus.Wait()
	log.Info("scheduler stopped")
}

func initRelay(cfg config.AMQPConfig, bus events.Bus, log *logger.Logger) func() {
	if !cfg.IsAMQPEnabled() {
		return nil
	}
	pub, err := relay.Dial(cfg, log)
	if err != nil {
		log.Error("failed to connect event relay", "error", err)
		return nil
	}
	relay.New(pub, log).Register(bus)
	return func() { _ = pub.Close() }
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
