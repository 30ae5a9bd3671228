package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/splax/rollout/internal/app/migrate"
	"github.com/splax/rollout/internal/events"
	httpx "github.com/splax/rollout/internal/http"
	"github.com/splax/rollout/internal/metrics"
	"github.com/splax/rollout/internal/repository"
	"github.com/splax/rollout/internal/repository/postgres"
	"github.com/splax/rollout/internal/service/flags"
	"github.com/splax/rollout/internal/service/history"
	"github.com/splax/rollout/internal/service/monitor"
	"github.com/splax/rollout/internal/service/rollback"
	"github.com/splax/rollout/internal/service/validate"
	"github.com/splax/rollout/internal/store"
	"github.com/splax/rollout/internal/ws"
	"github.com/splax/rollout/pkg/config"
	"github.com/splax/rollout/pkg/logger"
)

func main() {
	cfg := config.LoadControlPlane()
	log := logger.New("rolloutd", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var repo repository.HistoryRepository = repository.NewMemoryHistory()
	var dbHealth func(context.Context) error
	if dsn := strings.TrimSpace(cfg.DatabaseURL); dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		runner, err := migrate.New(pool, dsn, cfg.MigrationsDir, log)
		if err != nil {
			log.Error("failed to configure migrations", "error", err)
			os.Exit(1)
		}
		defer runner.Close()
		if err := runner.Ping(ctx); err != nil {
			log.Error("database ping failed", "error", err)
			os.Exit(1)
		}
		if err := runner.Ensure(ctx); err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		repo = postgres.New(pool)
		dbHealth = pool.Ping
	} else {
		log.Warn("DATABASE_URL unset, deployment history kept in memory")
	}

	kv, err := openFlagStore(cfg, log)
	if err != nil {
		log.Error("failed to open flag store", "error", err)
		os.Exit(1)
	}

	bus := events.NewBus()
	defer bus.Close()
	hub := ws.NewHub()
	defer hub.Close()
	bridge := ws.NewBridge(bus, hub, log)
	defer bridge.Close()

	source := metrics.NewSynthetic(time.Now().UnixNano())
	flagEngine := flags.NewEngine(kv, log)
	mon := monitor.New(source, bus, log, monitor.Config{
		Interval:             cfg.MonitorInterval,
		ErrorThreshold:       cfg.ErrorThreshold,
		PerformanceThreshold: cfg.PerformanceThreshold,
	})
	defer mon.Close()
	rb := rollback.New(nil, flagEngine, bus, log)
	validator := validate.New(source, log, validate.Config{
		SampleInterval:  cfg.ValidationSampleEvery,
		DefaultDuration: cfg.ValidationDuration,
	})
	tracker := history.New(repo, log)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, flagEngine, mon, rb, validator, tracker, hub, limiter, dbHealth)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("control plane starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("control plane stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

// openFlagStore selects the KV backend for feature flag persistence.
func openFlagStore(cfg config.ControlPlaneConfig, log *slog.Logger) (store.KV, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.FlagStoreBackend)) {
	case "", "memory":
		return store.NewMemory(), nil
	case "redis":
		return store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case "badger":
		return store.NewBadger(cfg.BadgerPath)
	default:
		log.Warn("unknown flag store backend, falling back to memory", "backend", cfg.FlagStoreBackend)
		return store.NewMemory(), nil
	}
}
