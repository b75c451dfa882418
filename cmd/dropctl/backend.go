package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/vyris/vyris-backend/internal/admission"
	"github.com/vyris/vyris-backend/internal/allocations"
	"github.com/vyris/vyris-backend/internal/cron"
	"github.com/vyris/vyris-backend/internal/drops"
	"github.com/vyris/vyris-backend/internal/memberships"
	"github.com/vyris/vyris-backend/internal/receipts"
	"github.com/vyris/vyris-backend/pkg/config"
	"github.com/vyris/vyris-backend/pkg/db"
	"github.com/vyris/vyris-backend/pkg/logger"
	"github.com/vyris/vyris-backend/pkg/redis"
)

const serviceName = "dropctl"

// connectBackend opens Postgres and Redis from the regular service config.
// Logs go to stderr so JSON output on stdout stays parseable.
func connectBackend(ctx context.Context, opts *rootOptions, alertOnly bool) (*backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.Catalog != "" {
		cfg.Drop.CatalogPath = opts.Catalog
	}

	level := "warn"
	if opts.Verbose {
		level = "debug"
	}
	logg := logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(level),
		Output:      os.Stderr,
	})

	entries, err := drops.Resolve(cfg.Drop)
	if err != nil {
		return nil, err
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		_ = dbClient.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	closeAll := func() {
		_ = redisClient.Close()
		_ = dbClient.Close()
	}

	gate, err := admission.NewGate(redisClient, logg)
	if err != nil {
		closeAll()
		return nil, err
	}
	pool := allocations.NewRepository(dbClient.DB())
	prov, err := drops.NewProvisioner(pool, gate, logg)
	if err != nil {
		closeAll()
		return nil, err
	}
	rec, err := cron.NewDropReconcileJob(cron.DropReconcileJobParams{
		Logger:     logg,
		Gate:       gate,
		Pool:       pool,
		Ledger:     receipts.NewRepository(dbClient.DB()),
		Drops:      drops.Drops(entries),
		StaleAfter: cfg.Ledger.StaleAfter,
		AlertOnly:  alertOnly || cfg.Reconcile.AlertOnly,
	})
	if err != nil {
		closeAll()
		return nil, err
	}

	return &backend{
		Provisioner: prov,
		Reconciler:  rec,
		Memberships: memberships.NewRepository(dbClient.DB()),
		Entries:     entries,
		Close:       closeAll,
	}, nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
