package drops

import (
	"context"
	"errors"
	"fmt"

	"github.com/vyris/vyris-backend/internal/allocations"
	"github.com/vyris/vyris-backend/pkg/logger"
	"github.com/vyris/vyris-backend/pkg/types"
)

type pool interface {
	Seed(ctx context.Context, drop types.Drop, capacity int) (allocations.SeedResult, error)
	Unseed(ctx context.Context, drop types.Drop) (int64, error)
	Stats(ctx context.Context, drop types.Drop) (allocations.PoolStats, error)
}

type gate interface {
	Init(ctx context.Context, drop types.Drop, capacity int64) (bool, error)
	Remaining(ctx context.Context, drop types.Drop) (int64, error)
	Resync(ctx context.Context, drop types.Drop, observed, target int64) (bool, error)
}

// Status is the combined pool and gate view of a drop.
type Status struct {
	Drop      types.Drop `json:"drop"`
	Total     int64      `json:"total"`
	Claimed   int64      `json:"claimed"`
	Unclaimed int64      `json:"unclaimed"`
	Gate      int64      `json:"gate"`
}

// InSync reports whether the gate agrees with the durable pool.
func (s Status) InSync() bool { return s.Gate == s.Unclaimed }

// SeedReport describes what a Seed call changed.
type SeedReport struct {
	allocations.SeedResult
	GateCreated bool   `json:"gate_created"`
	Status      Status `json:"status"`
}

// Provisioner prepares drops for minting. It is used at API startup and by
// dropctl; it never touches a drop's claimed allocations.
type Provisioner struct {
	pool pool
	gate gate
	logg *logger.Logger
}

func NewProvisioner(p pool, g gate, logg *logger.Logger) (*Provisioner, error) {
	if p == nil {
		return nil, errors.New("allocation pool required")
	}
	if g == nil {
		return nil, errors.New("admission gate required")
	}
	return &Provisioner{pool: p, gate: g, logg: logg}, nil
}

// Seed fills the pool up to capacity and creates the gate counter from the
// pool's unclaimed count. An existing counter is left for the reconciler.
func (p *Provisioner) Seed(ctx context.Context, entry Entry) (SeedReport, error) {
	var report SeedReport
	res, err := p.pool.Seed(ctx, entry.Drop, entry.Capacity)
	if err != nil {
		return report, fmt.Errorf("seed %s: %w", entry.Drop, err)
	}
	report.SeedResult = res

	created, err := p.EnsureGate(ctx, entry.Drop)
	if err != nil {
		return report, err
	}
	report.GateCreated = created

	report.Status, err = p.Status(ctx, entry.Drop)
	if err != nil {
		return report, err
	}
	if p.logg != nil {
		logCtx := p.logg.WithDrop(ctx, entry.Drop.Tier, entry.Drop.Year)
		logCtx = p.logg.WithFields(logCtx, map[string]any{
			"inserted":     res.Inserted,
			"removed":      res.Removed,
			"gate_created": created,
			"gate":         report.Status.Gate,
			"unclaimed":    report.Status.Unclaimed,
		})
		p.logg.Info(logCtx, "drop.seeded")
	}
	return report, nil
}

// EnsureGate creates a missing gate counter from the pool's unclaimed count.
func (p *Provisioner) EnsureGate(ctx context.Context, drop types.Drop) (bool, error) {
	stats, err := p.pool.Stats(ctx, drop)
	if err != nil {
		return false, err
	}
	return p.gate.Init(ctx, drop, stats.Unclaimed())
}

// Unseed withdraws the unclaimed allocations and closes the gate so no new
// mint is admitted for the drop.
func (p *Provisioner) Unseed(ctx context.Context, drop types.Drop) (int64, error) {
	removed, err := p.pool.Unseed(ctx, drop)
	if err != nil {
		return 0, err
	}
	remaining, err := p.gate.Remaining(ctx, drop)
	if err != nil {
		return removed, err
	}
	if remaining > 0 {
		ok, err := p.gate.Resync(ctx, drop, remaining, 0)
		if err != nil {
			return removed, err
		}
		if !ok {
			return removed, fmt.Errorf("gate for %s changed while closing it; rerun unseed", drop)
		}
	}
	if p.logg != nil {
		logCtx := p.logg.WithField(p.logg.WithDrop(ctx, drop.Tier, drop.Year), "removed", removed)
		p.logg.Info(logCtx, "drop.unseeded")
	}
	return removed, nil
}

func (p *Provisioner) Status(ctx context.Context, drop types.Drop) (Status, error) {
	stats, err := p.pool.Stats(ctx, drop)
	if err != nil {
		return Status{}, err
	}
	remaining, err := p.gate.Remaining(ctx, drop)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Drop:      drop,
		Total:     stats.Total,
		Claimed:   stats.Claimed,
		Unclaimed: stats.Unclaimed(),
		Gate:      remaining,
	}, nil
}
