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
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/vyris/vyris-backend/api/routes"
	"github.com/vyris/vyris-backend/internal/admission"
	"github.com/vyris/vyris-backend/internal/allocations"
	"github.com/vyris/vyris-backend/internal/drops"
	"github.com/vyris/vyris-backend/internal/encounters"
	"github.com/vyris/vyris-backend/internal/memberships"
	"github.com/vyris/vyris-backend/internal/mint"
	"github.com/vyris/vyris-backend/internal/notifications"
	"github.com/vyris/vyris-backend/internal/passes"
	"github.com/vyris/vyris-backend/internal/receipts"
	"github.com/vyris/vyris-backend/internal/reforge"
	"github.com/vyris/vyris-backend/pkg/config"
	"github.com/vyris/vyris-backend/pkg/db"
	"github.com/vyris/vyris-backend/pkg/logger"
	"github.com/vyris/vyris-backend/pkg/metrics"
	"github.com/vyris/vyris-backend/pkg/migrate"
	"github.com/vyris/vyris-backend/pkg/outbox"
	"github.com/vyris/vyris-backend/pkg/pkpass"
	"github.com/vyris/vyris-backend/pkg/redis"
	"github.com/vyris/vyris-backend/pkg/tracing"
)

const serviceName = "api"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		logg.Debug(context.Background(), fmt.Sprintf(format, args...))
	})); err != nil {
		logg.Warn(context.Background(), "failed to set GOMAXPROCS: "+err.Error())
	}

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, serviceName)
	if err != nil {
		return fmt.Errorf("bootstrap tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logg.Error(context.Background(), "error flushing traces", err)
		}
	}()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()
	if cfg.Tracing.Enabled() {
		if err := dbClient.EnableTracing(); err != nil {
			return err
		}
	}

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("run dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mintMetrics := metrics.NewMintMetrics(registry)

	gate, err := admission.NewGate(redisClient, logg)
	if err != nil {
		return err
	}
	pool := allocations.NewRepository(dbClient.DB())
	ledger := receipts.NewRepository(dbClient.DB())
	membershipRepo := memberships.NewRepository(dbClient.DB())

	entries, err := drops.Resolve(cfg.Drop)
	if err != nil {
		return fmt.Errorf("resolve drops: %w", err)
	}
	provisioner, err := drops.NewProvisioner(pool, gate, logg)
	if err != nil {
		return err
	}
	if err := prepareDrops(ctx, cfg, logg, provisioner, entries); err != nil {
		return err
	}
	active := entries[0].Drop

	notifier, err := notifications.NewService(outbox.NewService(outbox.NewRepository(dbClient.DB()), logg))
	if err != nil {
		return err
	}

	mintService, err := mint.NewService(mint.ServiceParams{
		Tx:              dbClient,
		Gate:            gate,
		Ledger:          ledger,
		Pool:            pool,
		Memberships:     membershipRepo,
		Notifier:        notifier,
		Drop:            active,
		CommitTimeout:   cfg.Mint.CommitTimeout,
		MaxReceiptBytes: cfg.Mint.MaxReceiptBytes,
		StaleAfter:      cfg.Ledger.StaleAfter,
		Metrics:         mintMetrics,
		Logger:          logg,
	})
	if err != nil {
		return fmt.Errorf("create mint service: %w", err)
	}

	passService, err := passes.NewService(passes.ServiceParams{
		Tx:          dbClient,
		Memberships: membershipRepo,
		Encoder:     pkpass.NewEncoder(pkpass.Options{}),
		Logger:      logg,
	})
	if err != nil {
		return fmt.Errorf("create pass service: %w", err)
	}

	reforgeService, err := reforge.NewService(reforge.ServiceParams{
		Tx:       dbClient,
		Devices:  membershipRepo,
		Requests: reforge.NewRepository(dbClient.DB()),
		Notifier: notifier,
		BaseURL:  cfg.Reforge.BaseURL,
		TTL:      cfg.Reforge.TTL,
		Logger:   logg,
	})
	if err != nil {
		return fmt.Errorf("create reforge service: %w", err)
	}

	// Without a verification key the encounter route answers 500 instead of
	// accepting unverifiable tokens.
	var encounterService encounters.Service
	if cfg.Encounter.PublicKeyPEM == "" {
		logg.Warn(ctx, "encounter public key not configured; encounter verification disabled")
	} else {
		encounterService, err = encounters.NewService(encounters.ServiceParams{
			Tx:           dbClient,
			Memberships:  membershipRepo,
			Notifier:     notifier,
			PublicKeyPEM: cfg.Encounter.PublicKeyPEM,
			MaxAge:       cfg.Encounter.MaxAge,
			ClockSkew:    cfg.Encounter.ClockSkew,
			Logger:       logg,
		})
		if err != nil {
			return fmt.Errorf("create encounter service: %w", err)
		}
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, routes.Services{
			Mint:       mintService,
			Passes:     passService,
			Encounters: encounterService,
			Reforge:    reforgeService,
			Gate:       gate,
			Pool:       pool,
			DB:         dbClient,
			Redis:      redisClient,
			Metrics:    registry,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.App.RequestTimeout,
	}

	logCtx := logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
		"drop": active.String(),
	})
	logg.Info(logCtx, "starting api server")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownGrace)
		defer cancel()
		logg.Info(logCtx, "api server shutting down")
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// prepareDrops seeds every known drop when auto-seed is on. Otherwise it only
// makes sure already-seeded drops have a gate counter, so a flushed Redis does
// not read as sold out.
func prepareDrops(ctx context.Context, cfg *config.Config, logg *logger.Logger, p *drops.Provisioner, entries []drops.Entry) error {
	for _, entry := range entries {
		if cfg.FeatureFlags.AutoSeed {
			if _, err := p.Seed(ctx, entry); err != nil {
				return err
			}
			continue
		}
		status, err := p.Status(ctx, entry.Drop)
		if err != nil {
			return err
		}
		if status.Total == 0 {
			logg.Warn(logg.WithDrop(ctx, entry.Drop.Tier, entry.Drop.Year), "drop not seeded; run dropctl seed")
			continue
		}
		if _, err := p.EnsureGate(ctx, entry.Drop); err != nil {
			return err
		}
	}
	return nil
}
