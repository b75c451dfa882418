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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/vyris/vyris-backend/internal/admission"
	"github.com/vyris/vyris-backend/internal/allocations"
	"github.com/vyris/vyris-backend/internal/cron"
	"github.com/vyris/vyris-backend/internal/drops"
	"github.com/vyris/vyris-backend/internal/receipts"
	"github.com/vyris/vyris-backend/internal/reforge"
	"github.com/vyris/vyris-backend/pkg/config"
	"github.com/vyris/vyris-backend/pkg/db"
	"github.com/vyris/vyris-backend/pkg/logger"
	"github.com/vyris/vyris-backend/pkg/metrics"
	"github.com/vyris/vyris-backend/pkg/migrate"
	"github.com/vyris/vyris-backend/pkg/outbox"
	"github.com/vyris/vyris-backend/pkg/redis"
)

const serviceKind = "cron-worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceKind})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = serviceKind

	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		logg.Debug(context.Background(), fmt.Sprintf(format, args...))
	})); err != nil {
		logg.Warn(context.Background(), "failed to set GOMAXPROCS: "+err.Error())
	}

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	service, err := buildService(cfg, logg, dbClient, redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	metricsServer := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return service.Run(gctx)
	})
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownGrace)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildService(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (*cron.Service, error) {
	entries, err := drops.Resolve(cfg.Drop)
	if err != nil {
		return nil, err
	}
	gate, err := admission.NewGate(redisClient, logg)
	if err != nil {
		return nil, err
	}
	ledger := receipts.NewRepository(dbClient.DB())
	mintMetrics := metrics.NewMintMetrics(prometheus.DefaultRegisterer)

	reconcile, err := cron.NewDropReconcileJob(cron.DropReconcileJobParams{
		Logger:     logg,
		Gate:       gate,
		Pool:       allocations.NewRepository(dbClient.DB()),
		Ledger:     ledger,
		Drops:      drops.Drops(entries),
		StaleAfter: cfg.Ledger.StaleAfter,
		AlertOnly:  cfg.Reconcile.AlertOnly,
		Metrics:    mintMetrics,
	})
	if err != nil {
		return nil, err
	}
	stalePending, err := cron.NewStalePendingJob(cron.StalePendingJobParams{
		Logger:     logg,
		Ledger:     ledger,
		StaleAfter: cfg.Ledger.StaleAfter,
		Metrics:    mintMetrics,
	})
	if err != nil {
		return nil, err
	}
	reforgeExpiry, err := cron.NewReforgeExpiryJob(cron.ReforgeExpiryJobParams{
		Logger:     logg,
		Repository: reforge.NewRepository(dbClient.DB()),
	})
	if err != nil {
		return nil, err
	}
	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outbox.NewRepository(dbClient.DB()),
		Retention:  cfg.Outbox.RetentionDays,
	})
	if err != nil {
		return nil, err
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(serviceKind, cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		return nil, err
	}

	registry := cron.NewRegistry()
	for _, s := range []cron.Schedule{
		{Job: reconcile},
		{Job: stalePending},
		{Job: reforgeExpiry, Every: cfg.Cron.ExpiryEvery},
		{Job: outboxRetention, Every: cfg.Cron.RetentionEvery},
	} {
		if err := registry.Add(s); err != nil {
			return nil, err
		}
	}

	return cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       lock,
		Metrics:    metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
}
