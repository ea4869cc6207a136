package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"autolead.app/crm/common/id"
	"autolead.app/crm/common/logger"
	"autolead.app/crm/common/otel"
	"autolead.app/crm/core/config"
	"autolead.app/crm/core/db"
	"autolead.app/crm/internal/functions"
	"autolead.app/crm/internal/http/handler"
	"autolead.app/crm/internal/http/middleware"
	httprouter "autolead.app/crm/internal/http/router"
	"autolead.app/crm/internal/onboarding"
	"autolead.app/crm/internal/queue"
	"autolead.app/crm/internal/service"
	"autolead.app/crm/internal/session"
	"autolead.app/crm/internal/store"
	"autolead.app/crm/internal/worker"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel, cfg.Env)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "crm starting", "env", cfg.Env, "service", cfg.OTel.ServiceName, "node_id", cfg.NodeID, "replica", cfg.Redis.EventConsumer)
	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Redis.EventStream)

	eventProducer := queue.NewRedisProducer(redisClient, cfg.Redis.EventStream, cfg.Redis.EventConsumer, slog.Default())
	defer eventProducer.Close()

	services := service.NewServices(
		store.NewStores(database.Conn()),
		service.NewTxRunner(database),
		functions.New(cfg.Functions),
		service.NewWorkOSProvider(cfg.WorkOS),
		eventProducer,
		cfg.Invites,
		cfg.Session.TTL,
	)

	registry := session.NewRegistry(services.Auth(), services.Profiles(), services.Organizations(), session.RegistryConfig{
		Size:           cfg.Session.RegistrySize,
		IdleTTL:        cfg.Session.IdleTTL,
		ResolveTimeout: cfg.Session.ResolveTimeout,
	})

	onboardingSvc := onboarding.NewService(
		store.NewProgressStore(redisClient, cfg.Redis.ProgressTTL),
		services.Organizations(),
		services.Profiles(),
	)

	// Each replica reads the whole stream through its own group so every
	// live controller sees every event.
	consumer, err := queue.NewRedisConsumer(ctx, redisClient, queue.ConsumerConfig{
		Stream:       cfg.Redis.EventStream,
		Group:        cfg.Redis.EventGroup + "." + cfg.Redis.EventConsumer,
		Consumer:     cfg.Redis.EventConsumer,
		DLQStream:    cfg.Redis.EventDLQStream,
		BatchSize:    32,
		Block:        5 * time.Second,
		MaxAttempts:  3,
		RequeueDelay: time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create session event consumer", "error", err)
		os.Exit(1)
	}
	if pruned, err := consumer.PruneGroups(ctx, cfg.Redis.EventGroup+".", 10*time.Minute); err != nil {
		slog.WarnContext(ctx, "failed to prune abandoned consumer groups", "error", err, "pruned", pruned)
	}

	eventWorker := worker.New(consumer, registry, worker.Config{
		MaxAttempts: 3,
		Origin:      cfg.Redis.EventConsumer,
	})
	workerCtx, stopWorker := context.WithCancel(ctx)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := eventWorker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.ErrorContext(ctx, "session event worker stopped", "error", err)
		}
	}()

	reclaimer := worker.NewReclaimer(consumer, eventWorker, worker.ReclaimerConfig{
		MinIdle:   time.Minute,
		Interval:  30 * time.Second,
		BatchSize: 50,
	})
	go reclaimer.Run(workerCtx)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, httprouter.Deps{
		Services:   services,
		Registry:   registry,
		Onboarding: onboardingSvc,
		DB:         database,
	})
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	stopWorker()
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		slog.WarnContext(shutdownCtx, "session event worker did not stop in time")
	}
	registry.Close()
	if err := consumer.DestroyGroup(shutdownCtx); err != nil {
		slog.WarnContext(shutdownCtx, "failed to remove session event group", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, deps httprouter.Deps) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.Metrics())

	httprouter.SetupRoutes(router, deps, httprouter.RouterConfig{
		Cookies: handler.CookieConfig{
			Secure: cfg.IsProduction(),
			MaxAge: int(cfg.Session.TTL / time.Second),
		},
		SignInPerSecond: cfg.RateLimit.SignInPerSecond,
		SignInBurst:     cfg.RateLimit.SignInBurst,
	})

	return router
}

const banner = `
  ____ ____  __  __
 / ___|  _ \|  \/  |
| |   | |_) | |\/| |
| |___|  _ <| |  | |
 \____|_| \_\_|  |_|
`
