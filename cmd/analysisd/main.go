package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/chartdesk/analysis-core/internal/api"
	"github.com/chartdesk/analysis-core/internal/config"
	"github.com/chartdesk/analysis-core/internal/contextcache"
	"github.com/chartdesk/analysis-core/internal/enrich"
	"github.com/chartdesk/analysis-core/internal/orchestrator"
	"github.com/chartdesk/analysis-core/internal/provider"
	"github.com/chartdesk/analysis-core/internal/ratelimit"
	"github.com/chartdesk/analysis-core/internal/storage"
	"github.com/chartdesk/analysis-core/internal/telemetry"
	"github.com/chartdesk/analysis-core/internal/usage"
	"github.com/chartdesk/analysis-core/internal/workflow"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	loader := config.NewLoader(*configDir, logger)
	if err := loader.Load(); err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	cfg := loader.Config()

	// Connect to PostgreSQL
	dbPool, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(context.Background()); err != nil {
		logger.Warn("database not reachable (records will fail to persist)", "error", err)
	} else {
		logger.Info("database connected")
	}

	// Connect to Redis
	var rdb *redis.Client
	if len(cfg.Redis.Addresses) > 0 && cfg.Redis.Addresses[0] != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addresses[0],
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis not reachable (rate limits and usage counters disabled)", "error", err)
			rdb = nil
		} else {
			logger.Info("redis connected")
		}
	}

	metrics := telemetry.NewMetrics()

	// Build provider registry
	registry, err := provider.BuildFromConfig(loader.Providers())
	if err != nil {
		logger.Error("failed to build provider registry", "error", err)
		os.Exit(1)
	}

	guard := ratelimit.NewGuard(ratelimit.NewLimiter(rdb))
	guard.SetLimits(loader.Providers().Providers)

	loader.OnReload(func() {
		if err := registry.Reload(loader.Providers()); err != nil {
			logger.Error("provider registry reload failed", "error", err)
			return
		}
		guard.SetLimits(loader.Providers().Providers)
		logger.Info("provider registry reloaded")
	})

	accountant := usage.NewAccountant(rdb)
	orch := orchestrator.New(registry, cfg.Orchestrator, guard, accountant, metrics)

	// Storage, cache, workflow engine
	records := storage.NewCachedRecordStore(dbPool, rdb)
	builder := enrich.NewRecordBuilder(records)
	cache := contextcache.New(builder, cfg.Cache, metrics)
	defer cache.Close()

	primary := cfg.Orchestrator.PrimaryProvider
	if primary == "" && len(cfg.Orchestrator.FallbackOrder) > 0 {
		primary = cfg.Orchestrator.FallbackOrder[0]
	}
	engine := workflow.NewEngine(cache, orch, records, primary, metrics)

	handler := api.NewHandler(engine, cache, orch, records)

	// Router setup
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)

	r.Get("/chartdesk/v1/health", healthHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/v1/analysis/{step}", handler.RunStep)
	r.Get("/v1/analysis/{sessionID}/records", handler.ListRecords)
	r.Get("/v1/cache/stats", handler.CacheStats)
	r.Post("/v1/cache/{sessionID}/invalidate", handler.InvalidateCache)
	r.Get("/v1/providers/health", handler.ProviderHealth)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("analysisd starting", "addr", addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("analysisd stopped")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": version,
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type contextKey string

const requestIDKey contextKey = "request_id"

func generateRequestID() string {
	now := time.Now()
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("req_%d_%s", now.UnixMilli(), hex.EncodeToString(b))
}
