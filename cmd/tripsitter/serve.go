package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/tripsitter/internal/api"
	"github.com/ashureev/tripsitter/internal/config"
	"github.com/ashureev/tripsitter/internal/events"
	"github.com/ashureev/tripsitter/internal/identity"
	"github.com/ashureev/tripsitter/internal/middleware"
	"github.com/ashureev/tripsitter/internal/orchestrator"
	"github.com/ashureev/tripsitter/internal/provider"
	"github.com/ashureev/tripsitter/internal/ratelimit"
	"github.com/ashureev/tripsitter/internal/scenario"
	"github.com/ashureev/tripsitter/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

func openStore(ctx context.Context, cfg *config.Config) (*store.SQLiteStore, error) {
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	if err := repo.Ping(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("database health check: %w", err)
	}
	return repo, nil
}

func newRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

//nolint:funlen // Startup wiring is intentionally sequential to keep dependency setup explicit.
func serve(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	repo, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	slog.Info("Database connected", "path", cfg.DBPath)

	catalog, err := scenario.Load()
	if err != nil {
		return fmt.Errorf("load scenario catalog: %w", err)
	}

	// Redis is optional; it backs the quota counters and fans trip events
	// out across instances when configured.
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = newRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		slog.Info("Redis connected", "addr", cfg.Redis.Addr)
	}

	var counters ratelimit.CounterStore = ratelimit.NewRepositoryCounters(repo)
	if cfg.Quota.Backend == "redis" {
		counters = ratelimit.NewRedisCounters(rdb)
	}
	limiter := ratelimit.New(counters, ratelimit.Quotas{
		AgentDaily:       cfg.Quota.AgentDaily,
		AgentGlobalDaily: cfg.Quota.AgentGlobalDaily,
		DemoDaily:        cfg.Quota.DemoDaily,
	})
	slog.Info("Quota limiter ready", "backend", cfg.Quota.Backend)

	var pubsubClient redis.UniversalClient
	if rdb != nil {
		pubsubClient = rdb
	}
	pubsub, err := events.NewPubSub(pubsubClient, slog.Default())
	if err != nil {
		return fmt.Errorf("initialize trip events: %w", err)
	}
	defer pubsub.Close()

	feed := events.NewFeed()
	go func() {
		if err := feed.Run(ctx, pubsub.Subscriber); err != nil {
			slog.Error("Trip feed stopped", "error", err)
		}
	}()

	providers := provider.NewRouterFromConfig(cfg.Providers)
	if configured := providers.Configured(); len(configured) == 0 {
		slog.Warn("No LLM providers configured, every phase will fall back to placeholder text")
	} else {
		slog.Info("LLM providers configured", "providers", configured)
	}

	orch := orchestrator.New(providers, limiter, repo, orchestrator.Config{
		MaxOutputTokens: cfg.Trip.MaxOutputTokens,
		RatingMaxTokens: cfg.Trip.RatingMaxTokens,
		PhaseTimeout:    cfg.Trip.PhaseTimeout,
	}, orchestrator.WithNotifier(events.NewNotifier(pubsub.Publisher)))

	handler := api.NewHandler(repo, catalog, orch, limiter, providers, feed, api.Options{
		DefaultModel:       cfg.Trip.DefaultModel,
		KeepaliveInterval:  cfg.SSE.KeepaliveInterval,
		MaxRequestBodySize: cfg.SSE.MaxRequestBodySize,
		AllowedOrigins:     cfg.CORSOrigins,
	})

	throttle := middleware.NewThrottle(cfg.Throttle.Requests, cfg.Throttle.Window)
	defer throttle.Stop()

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(identity.Middleware(repo))
	handler.RegisterRoutes(r, throttle.Handler)

	// Trip streams run for minutes; no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 2)

	if cfg.GRPCHealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
		if err != nil {
			return fmt.Errorf("listen gRPC health %s: %w", cfg.GRPCHealthAddr, err)
		}
		health := api.NewGRPCHealth(repo, 10*time.Second)
		go func() {
			if err := health.Serve(ctx, lis); err != nil {
				errCh <- fmt.Errorf("gRPC health server: %w", err)
			}
		}()
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("Server failed", "error", err)
		return err
	}
	stop()

	slog.Info("Shutting down gracefully...")
	handler.Connections().CloseAll("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}
