// Package main is the entry point for the gateway process: it loads
// configuration, wires the Store, KeyPool, Gate, upstream Client, dialect
// adapters, analytics aggregator, and Request Orchestrator together, then
// serves the HTTP surface spec §6 describes. Grounded on
// cmd/server/main.go's load-config / build-collaborators / serve /
// graceful-shutdown shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/nullbridge/llmgate/internal/adminauth"
	"github.com/nullbridge/llmgate/internal/analytics"
	"github.com/nullbridge/llmgate/internal/config"
	"github.com/nullbridge/llmgate/internal/gate"
	"github.com/nullbridge/llmgate/internal/keypool"
	"github.com/nullbridge/llmgate/internal/orchestrator"
	"github.com/nullbridge/llmgate/internal/store"
	"github.com/nullbridge/llmgate/internal/upstream"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	bootstrapLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfgManager, err := config.NewManager(*configPath, bootstrapLogger)
	if err != nil {
		bootstrapLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("starting gateway")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cfgManager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	st, err := openStore(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	loaded, err := st.LoadAllKeys(ctx)
	if err != nil {
		logger.Error("failed to load upstream keys", "error", err)
		os.Exit(1)
	}

	pool := keypool.New(keypool.Config{
		FailureThreshold:     cfg.KeyPool.FailureThreshold,
		BaseCooldown:         cfg.KeyPool.BaseCooldown,
		MaxCooldown:          cfg.KeyPool.MaxCooldown,
		RateLimitDefaultWait: cfg.KeyPool.RateLimitDefaultWait,
		AcquireTimeout:       cfg.KeyPool.AcquireTimeout,
		StuckTimeout:         cfg.KeyPool.StuckTimeout,
		SweepInterval:        cfg.KeyPool.SweepInterval,
	}, st, logger, loaded)
	defer pool.Close()

	g := gate.New(cfg.Gate.MaxConcurrentUpstream, cfg.KeyPool.AcquireTimeout, prometheus.DefaultRegisterer)

	client, err := upstream.New(upstream.Config{
		RequestTimeout:    cfg.Upstream.RequestTimeout,
		StreamIdleTimeout: cfg.Upstream.StreamIdleTimeout,
		RebuildThreshold:  cfg.Upstream.RebuildThreshold,
		ProxyURL:          cfg.Upstream.ProxyURL,
	})
	if err != nil {
		logger.Error("failed to build upstream client", "error", err)
		os.Exit(1)
	}

	var redisClient *goredis.Client
	if cfg.Analytics.RedisAddr != "" {
		redisClient = goredis.NewClient(&goredis.Options{Addr: cfg.Analytics.RedisAddr})
	}
	aggregator := analytics.New(st, analytics.Config{
		CacheTTL:              cfg.Analytics.CacheTTL,
		SuccessRateHourlyDays: cfg.Analytics.SuccessRateHourlyDays,
		RedisClient:           redisClient,
	})

	orch := orchestrator.New(orchestrator.Config{
		UpstreamBaseURL: cfg.Upstream.BaseURL,
		RequestTimeout:  cfg.Upstream.RequestTimeout,
	}, g, pool, client, st, logger).WithStats(aggregator)

	var adminMW *adminauth.Middleware
	if cfg.Admin.JWTPublicKey != "" {
		adminMW, err = adminauth.New(cfg.Admin.JWTPublicKey, logger)
		if err != nil {
			logger.Error("failed to build admin auth middleware", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("ADMIN_JWT_PUBLIC_KEY not set; administrative routes are unauthenticated")
	}

	deps := &serverDeps{
		orchestrator: orch,
		pool:         pool,
		store:        st,
		aggregator:   aggregator,
		adminAuth:    adminMW,
		logger:       logger,
	}
	mux := buildMux(deps)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := cfgManager.Close(); err != nil {
		logger.Warn("config manager close error", "error", err)
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	logger.Info("stopped")
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	switch cfg.Type {
	case "postgres":
		return store.OpenPostgres(ctx, store.PostgresConfig{DSN: cfg.PostgresDSN})
	case "sqlite", "":
		return store.OpenSQLite(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown database type %q", cfg.Type)
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var lvl slog.Level
	if cfg.Level == "" || lvl.UnmarshalText([]byte(cfg.Level)) != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
