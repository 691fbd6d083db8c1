package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	receivingapp "github.com/erp/receiving/internal/application/receiving"
	"github.com/erp/receiving/internal/domain/receiving"
	"github.com/erp/receiving/internal/infrastructure/auth"
	"github.com/erp/receiving/internal/infrastructure/broadcast"
	"github.com/erp/receiving/internal/infrastructure/cache"
	"github.com/erp/receiving/internal/infrastructure/config"
	"github.com/erp/receiving/internal/infrastructure/event"
	"github.com/erp/receiving/internal/infrastructure/logger"
	"github.com/erp/receiving/internal/infrastructure/migration"
	"github.com/erp/receiving/internal/infrastructure/persistence"
	"github.com/erp/receiving/internal/infrastructure/scheduler"
	"github.com/erp/receiving/internal/infrastructure/storage"
	"github.com/erp/receiving/internal/infrastructure/telemetry"
	"github.com/erp/receiving/internal/interfaces/http/handler"
	"github.com/erp/receiving/internal/interfaces/http/middleware"
	"github.com/erp/receiving/internal/interfaces/http/router"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	logCfg := &logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  cfg.Log.Output,
		Service: cfg.App.Name,
		Version: version,
	}
	log, err := logger.New(logCfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	log.Info("Starting receiving service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry
	telCfg := telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
		MetricsEnabled:    cfg.Telemetry.MetricsEnabled,
		MetricsInterval:   cfg.Telemetry.MetricsInterval,
		LogsEnabled:       cfg.Telemetry.LogsEnabled,
	}
	logProvider, err := telemetry.NewLoggerProvider(ctx, telCfg, log)
	if err != nil {
		log.Fatal("Failed to initialize log export", zap.Error(err))
	}
	if logProvider.IsEnabled() {
		logCfg.Cores = []zapcore.Core{logProvider.Core()}
		if log, err = logger.New(logCfg); err != nil {
			panic("Failed to initialize logger: " + err.Error())
		}
	}
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telCfg, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telCfg, log)
	if err != nil {
		log.Fatal("Failed to initialize metrics", zap.Error(err))
	}
	meter := meterProvider.Meter("receiving")

	// Database
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh),
	)
	db, err := persistence.NewDatabase(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if err := migrateSchema(db, log); err != nil {
		log.Fatal("Failed to migrate schema", zap.Error(err))
	}
	log.Info("Database connected successfully", zap.String("driver", db.Driver))

	dbSystem := "postgresql"
	if db.Driver == "sqlite" {
		dbSystem = "sqlite"
	}
	dbInstrumentation, err := telemetry.NewGormInstrumentation(meter, telemetry.GormConfig{
		TraceEnabled:    cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		DBSystem:        dbSystem,
		LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
	}, log)
	if err != nil {
		log.Fatal("Failed to create database instrumentation", zap.Error(err))
	}
	if err := db.DB.Use(dbInstrumentation); err != nil {
		log.Fatal("Failed to register database instrumentation", zap.Error(err))
	}
	if sqlDB, err := db.DB.DB(); err == nil {
		dbInstrumentation.StartPoolStats(sqlDB)
	}
	defer dbInstrumentation.Stop()

	// Repositories
	sessionRepo := persistence.NewGormSessionRepository(db.DB)
	manifestRepo := persistence.NewGormManifestRepository(db.DB)
	scanRepo := persistence.NewGormScanRecordRepository(db.DB)
	snapshotRepo := persistence.NewGormSnapshotRepository(db.DB)

	metrics, err := telemetry.NewReceivingMetrics(meter,
		telemetry.WithSessionStats(sessionRepo, cfg.Telemetry.MetricsInterval),
		telemetry.WithMetricsLogger(log),
	)
	if err != nil {
		log.Fatal("Failed to create receiving metrics", zap.Error(err))
	}
	metrics.Start(ctx)
	defer metrics.Stop()

	// Redis is shared by the broadcaster and the cache stores
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Warn("Error closing Redis client", zap.Error(err))
			}
		}()
	}

	// Broadcast
	hub := broadcast.NewHub(
		broadcast.WithBufferSize(cfg.Receiving.SubscriberBuffer),
		broadcast.WithHubLogger(log),
		broadcast.WithSlowSubscriberHook(metrics.SlowSubscriber),
	)
	defer hub.Close()

	var broadcaster receiving.SyncBroadcaster = hub
	if cfg.Broadcast.Mode == "redis" {
		if redisClient == nil {
			log.Fatal("Redis broadcast mode requires redis.enabled")
		}
		rb := broadcast.NewRedisBroadcasterWithClient(redisClient, hub,
			broadcast.WithChannelPrefix(cfg.Broadcast.ChannelPrefix),
			broadcast.WithPublishQueueSize(cfg.Broadcast.PublishQueueSize),
			broadcast.WithPublishTimeout(cfg.Receiving.BroadcastTimeout),
			broadcast.WithBroadcasterLogger(log),
			broadcast.WithDropHook(metrics.BroadcastDropped),
		)
		if err := rb.Start(ctx); err != nil {
			log.Fatal("Failed to start Redis broadcaster", zap.Error(err))
		}
		defer func() {
			if err := rb.Close(); err != nil {
				log.Warn("Error closing Redis broadcaster", zap.Error(err))
			}
		}()
		broadcaster = rb
	}
	log.Info("Broadcaster ready", zap.String("mode", cfg.Broadcast.Mode))

	// Cache stores
	cacheOpts := []cache.FactoryOption{
		cache.WithLogger(log),
		cache.WithInMemoryFallback(cfg.App.Env != "production"),
	}
	if redisClient != nil {
		cacheOpts = append(cacheOpts, cache.WithRedisClient(redisClient))
	}
	stores, err := cache.NewFactory(cfg.Redis, cacheOpts...).Build(ctx)
	if err != nil {
		log.Fatal("Failed to build cache stores", zap.Error(err))
	}
	defer stores.Close()

	// Snapshot archive
	var archiver receivingapp.SnapshotArchiver = storage.NewNopArchive(log)
	if cfg.Storage.Enabled {
		s3Archive, err := storage.NewS3SnapshotArchive(&cfg.Storage, storage.WithLogger(log))
		if err != nil {
			log.Fatal("Failed to create snapshot archive", zap.Error(err))
		}
		if err := s3Archive.EnsureBucket(ctx); err != nil {
			log.Fatal("Snapshot archive bucket unavailable", zap.Error(err))
		}
		archiver = s3Archive
		log.Info("Snapshot archive enabled", zap.String("bucket", s3Archive.Bucket()))
	}

	// In-process event bus for post-completion work
	eventBus := event.NewInMemoryEventBus(log, event.WithAsyncDispatch())
	eventBus.Subscribe(event.NewIdempotentHandler(
		receivingapp.NewSessionCompletedHandler(stores.Snapshots, archiver, log),
		stores.Idempotency,
		log,
		event.WithKeyFunc(receivingapp.CompletionDedupKey),
		event.WithResultHook(func(ctx context.Context, eventType string, result event.HandleResult) {
			metrics.EventHandled(ctx, eventType, string(result))
		}),
	))
	if err := eventBus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}

	// Engine
	svc := receivingapp.NewService(receivingapp.ServiceDeps{
		Manifest:    manifestRepo,
		Manifests:   manifestRepo,
		Sessions:    sessionRepo,
		Scans:       scanRepo,
		Snapshots:   snapshotRepo,
		Stale:       sessionRepo,
		Broadcaster: broadcaster,
		EventBus:    eventBus,
		Cache:       stores.Snapshots,
		Metrics:     metrics,
		Timeouts: receivingapp.Timeouts{
			Store:       cfg.Receiving.StoreTimeout,
			Broadcast:   cfg.Receiving.BroadcastTimeout,
			Resubscribe: cfg.Receiving.ResubscribeDelay,
		},
		Logger: log,
	})
	defer svc.Close()

	// Background recovery of sessions stuck in COMPLETING
	sched := scheduler.NewScheduler(scheduler.DefaultSchedulerConfig(), log)
	if cfg.Receiving.RecoveryInterval > 0 {
		grace := cfg.Receiving.StaleCompletingAfter
		if err := sched.Register(scheduler.Task{
			Name:     "recover_stale_completions",
			Interval: cfg.Receiving.RecoveryInterval,
			Run: func(ctx context.Context) error {
				_, err := svc.RecoverStaleCompletions(ctx, grace)
				return err
			},
		}); err != nil {
			log.Fatal("Failed to register recovery task", zap.Error(err))
		}
	}
	if ttl := cfg.Receiving.IdleSessionTTL; ttl > 0 {
		if err := sched.Register(scheduler.Task{
			Name:     "evict_idle_sessions",
			Interval: ttl / 2,
			Run: func(ctx context.Context) error {
				svc.EvictIdleSessions(ctx, ttl)
				return nil
			},
		}); err != nil {
			log.Fatal("Failed to register eviction task", zap.Error(err))
		}
	}
	if err := sched.Start(ctx); err != nil {
		log.Fatal("Failed to start scheduler", zap.Error(err))
	}

	// HTTP
	actorCfg := middleware.ActorConfig{Header: cfg.Auth.ActorHeader, Logger: log}
	if cfg.Auth.Enabled {
		verifier, err := auth.NewTokenVerifier(cfg.Auth)
		if err != nil {
			log.Fatal("Failed to create token verifier", zap.Error(err))
		}
		actorCfg.Verifier = verifier
	}

	httpMetrics, err := middleware.HTTPMetrics(meter)
	if err != nil {
		log.Fatal("Failed to create HTTP metrics", zap.Error(err))
	}

	var redisHealth redis.UniversalClient
	if redisClient != nil {
		redisHealth = redisClient
	}
	engineDeps := router.EngineDeps{
		Receiving: handler.NewReceivingHandler(svc),
		Stream: handler.NewStreamHandler(svc,
			handler.WithHeartbeatInterval(cfg.Receiving.HeartbeatInterval),
			handler.WithAllowedOrigins(cfg.HTTP.CORSAllowOrigins),
			handler.WithStreamLogger(log),
		),
		Health: handler.NewHealthHandler(db.DB, redisHealth,
			handler.WithStats("database", func() (any, error) { return db.Stats() }),
			handler.WithStats("broadcast", func() (any, error) { return hub.Stats(), nil }),
			handler.WithStats("cached_sessions", func() (any, error) { return svc.CachedSessions(), nil }),
		),
		Actor:   actorCfg,
		HTTP:    cfg.HTTP,
		Logger:  log,
		Metrics: httpMetrics,
	}
	if tracerProvider.IsEnabled() {
		engineDeps.Tracing = cfg.Telemetry.ServiceName
	}
	engine, err := router.NewEngine(engineDeps)
	if err != nil {
		log.Fatal("Failed to build HTTP engine", zap.Error(err))
	}

	// WriteTimeout stays 0 for long-lived SSE and WebSocket streams unless configured
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Streams never finish on their own; dropping them lets Shutdown drain.
	srv.RegisterOnShutdown(func() { hub.DisconnectAll() })
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		log.Warn("Scheduler did not stop cleanly", zap.Error(err))
	}
	if err := eventBus.Stop(shutdownCtx); err != nil {
		log.Warn("Event bus did not drain", zap.Error(err))
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Warn("Meter provider shutdown failed", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Warn("Tracer provider shutdown failed", zap.Error(err))
	}

	log.Info("Server exited gracefully")
	_ = logger.Sync(log)
	if err := logProvider.Shutdown(context.Background()); err != nil {
		log.Warn("Logger provider shutdown failed", zap.Error(err))
	}
}

// migrateSchema applies the embedded migrations on postgres and
// auto-migrates sqlite databases.
func migrateSchema(db *persistence.Database, log *zap.Logger) error {
	if db.Driver == "sqlite" {
		return db.AutoMigrate()
	}
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	m, err := migration.New(sqlDB, "", log)
	if err != nil {
		return err
	}
	return m.Up()
}
