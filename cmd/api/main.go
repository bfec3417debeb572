package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"funnel_builder_backend/internal/adapters"
	"funnel_builder_backend/internal/adapters/storage"
	"funnel_builder_backend/internal/conversation"
	"funnel_builder_backend/internal/events"
	"funnel_builder_backend/internal/funnel"
	apphttp "funnel_builder_backend/internal/http"
	"funnel_builder_backend/internal/http/router"
	"funnel_builder_backend/internal/orchestrator"
	"funnel_builder_backend/internal/outbox"
	"funnel_builder_backend/internal/relay"
	"funnel_builder_backend/internal/resource"
	"funnel_builder_backend/internal/scheduler"
	"funnel_builder_backend/internal/transition"
	"funnel_builder_backend/internal/trigger"
	"funnel_builder_backend/internal/webhook"
	"funnel_builder_backend/internal/whop"
	"funnel_builder_backend/migrations"
	"funnel_builder_backend/platform/config"
	"funnel_builder_backend/platform/db"
	"funnel_builder_backend/platform/logger"
	"funnel_builder_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, migrations.FS, log)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

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
	log.Info("database connection established")

	eventBus := events.NewInMemoryBus(log)
	val := validator.New()

	storageSvc := initStorage(ctx, cfg, log)
	rdb := initRedis(ctx, cfg, log)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	if closeRelay := initRelay(cfg, eventBus, log); closeRelay != nil {
		defer closeRelay()
	}

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	resourceModule := resource.NewModule(pool, eventBus, val, log)
	funnelModule := funnel.NewModule(pool, storageSvc, cfg.GetFlowArchiveBucket(), eventBus, val, log)
	conversationModule := conversation.NewModule(pool, funnelModule.Service(), eventBus, val, log)

	// Trigger resolution reads funnels and memberships through narrow ports
	productResolver := adapters.NewResourceProductResolver(resourceModule.Service())
	resolver := trigger.NewResolver(funnelModule.Repository(), resourceModule.Service(), productResolver, log)
	funnelModule.SetPreviewer(resolver)

	// Wire DM → internal hand-off
	var messenger transition.DirectMessenger
	if client := whop.NewClient(cfg, log); client != nil {
		messenger = client
	} else {
		log.Warn("whop messaging not configured; hand-off DMs are skipped")
	}
	transitionEngine := transition.NewEngine(
		conversationModule.Repository(),
		funnelModule.Service(),
		messenger,
		eventBus,
		log,
		cfg.GetAppBaseURL(),
		cfg.GetHandoffMessageTemplate(),
		transition.WithOutbox(outbox.New(pool)),
	)
	conversationModule.SetTransitioner(adapters.NewConversationTransitioner(transitionEngine))

	engine := orchestrator.New(resolver, conversationModule.Service(), log)
	engine.Register(eventBus)
	conversationModule.SetEngine(engine)

	webhookModule := webhook.NewModule(pool, rdb, resourceModule.Service(), engine, cfg, val, log)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	checks := map[string]apphttp.HealthChecker{"postgres": pool}
	if rdb != nil {
		checks["redis"] = apphttp.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Checks:   checks,
		EventBus: eventBus,
		Modules: []apphttp.Module{
			resourceModule,
			funnelModule,
			conversationModule,
			webhookModule,
		},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
		eventBus.Wait()
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func initStorage(ctx context.Context, cfg *config.Config, log *logger.Logger) storage.StorageService {
	if !cfg.IsMinIOEnabled() {
		log.Warn("MinIO not configured; deployed flows are not archived")
		return nil
	}
	svc, err := storage.NewMinIOService(cfg)
	if err != nil {
		log.Error("failed to initialize storage service", "error", err)
		panic("failed to initialize storage service: " + err.Error())
	}
	bucket := cfg.GetFlowArchiveBucket()
	if err := withRetry(ctx, log, "ensure flow archive bucket", 5, 2*time.Second, func() error {
		return svc.EnsureBucketExists(ctx, bucket)
	}); err != nil {
		log.Error("failed to ensure storage bucket exists", "error", err, "bucket", bucket)
		panic("failed to ensure storage bucket exists: " + err.Error())
	}
	log.Info("storage service initialized", "flowArchiveBucket", bucket)
	return svc
}

func initRedis(ctx context.Context, cfg config.SchedulerConfig, log *logger.Logger) *redis.Client {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; webhook dedup falls back to postgres")
		return nil
	}
	client, err := scheduler.NewRedisClient(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to redis; webhook dedup falls back to postgres", "error", err)
		return nil
	}
	return client
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
	log.Info("event relay connected", "exchange", cfg.GetAMQPExchange())
	return func() { _ = pub.Close() }
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
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
