package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/vyris/vyris-backend/internal/allocations"
	"github.com/vyris/vyris-backend/pkg/logger"
	"github.com/vyris/vyris-backend/pkg/metrics"
	"github.com/vyris/vyris-backend/pkg/types"
)

const defaultStaleAfter = 5 * time.Minute

type gateCounter interface {
	Remaining(ctx context.Context, drop types.Drop) (int64, error)
	Resync(ctx context.Context, drop types.Drop, observed, target int64) (bool, error)
}

type poolStats interface {
	Stats(ctx context.Context, drop types.Drop) (allocations.PoolStats, error)
}

type inFlightCounter interface {
	CountPendingSince(ctx context.Context, since time.Time) (int64, error)
}

// DropReconcileJobParams configures the gate/pool consistency sweep.
type DropReconcileJobParams struct {
	Logger     *logger.Logger
	Gate       gateCounter
	Pool       poolStats
	Ledger     inFlightCounter
	Drops      []types.Drop
	StaleAfter time.Duration
	AlertOnly  bool
	Metrics    *metrics.MintMetrics
}

// ReconcileOutcome reports what the sweep did for one drop.
type ReconcileOutcome string

const (
	ReconcileConsistent ReconcileOutcome = "consistent"
	ReconcileInFlight   ReconcileOutcome = "in_flight"
	ReconcileAlerted    ReconcileOutcome = "alerted"
	ReconcileResynced   ReconcileOutcome = "resynced"
	ReconcileRaced      ReconcileOutcome = "raced"
)

// DropReport is the per-drop result of a reconcile pass.
type DropReport struct {
	Drop      types.Drop       `json:"drop"`
	Gate      int64            `json:"gate"`
	Unclaimed int64            `json:"unclaimed"`
	Claimed   int64            `json:"claimed"`
	InFlight  int64            `json:"in_flight"`
	Outcome   ReconcileOutcome `json:"outcome"`
}

// DropReconciler is the job plus a direct entry point for operator tooling.
type DropReconciler interface {
	Job
	Reconcile(ctx context.Context, drop types.Drop) (DropReport, error)
}

// NewDropReconcileJob constructs the drop reconciliation job.
func NewDropReconcileJob(params DropReconcileJobParams) (DropReconciler, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Gate == nil {
		return nil, fmt.Errorf("gate required")
	}
	if params.Pool == nil {
		return nil, fmt.Errorf("allocation pool required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("receipt ledger required")
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	return &dropReconcileJob{
		logg:       params.Logger,
		gate:       params.Gate,
		pool:       params.Pool,
		ledger:     params.Ledger,
		drops:      params.Drops,
		staleAfter: staleAfter,
		alertOnly:  params.AlertOnly,
		metrics:    params.Metrics,
		now:        time.Now,
	}, nil
}

type dropReconcileJob struct {
	logg       *logger.Logger
	gate       gateCounter
	pool       poolStats
	ledger     inFlightCounter
	drops      []types.Drop
	staleAfter time.Duration
	alertOnly  bool
	metrics    *metrics.MintMetrics
	now        func() time.Time
}

func (j *dropReconcileJob) Name() string { return "drop-reconcile" }

func (j *dropReconcileJob) Run(ctx context.Context) error {
	var errs error
	for _, drop := range j.drops {
		if _, err := j.Reconcile(ctx, drop); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reconcile %s: %w", drop, err))
		}
	}
	return errs
}

// Reconcile compares the gate with the unclaimed allocations of one drop. A
// divergent gate is rewritten only when no mint is in flight, and the rewrite
// is a compare-and-set against the value that was read.
func (j *dropReconcileJob) Reconcile(ctx context.Context, drop types.Drop) (DropReport, error) {
	report := DropReport{Drop: drop}
	ctx = j.logg.WithDrop(ctx, drop.Tier, drop.Year)

	gate, err := j.gate.Remaining(ctx, drop)
	if err != nil {
		return report, err
	}
	stats, err := j.pool.Stats(ctx, drop)
	if err != nil {
		return report, err
	}
	report.Gate = gate
	report.Claimed = stats.Claimed
	report.Unclaimed = stats.Unclaimed()

	drift := gate - report.Unclaimed
	j.metrics.SetGateRemaining(drop.Tier, drop.Year, gate)
	j.metrics.SetGateDrift(drop.Tier, drop.Year, drift)
	if drift == 0 {
		report.Outcome = ReconcileConsistent
		return report, nil
	}

	inFlight, err := j.ledger.CountPendingSince(ctx, j.now().UTC().Add(-j.staleAfter))
	if err != nil {
		return report, err
	}
	report.InFlight = inFlight

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"event":     "drop.gate_divergence",
		"gate":      gate,
		"unclaimed": report.Unclaimed,
		"claimed":   report.Claimed,
		"drift":     drift,
		"in_flight": inFlight,
	})

	switch {
	case inFlight > 0:
		// reservations between the gate decrement and the claim commit look
		// like drift; only a quiescent drop is comparable
		report.Outcome = ReconcileInFlight
		j.logg.Info(logCtx, "gate differs from pool while mints are in flight")
		return report, nil
	case j.alertOnly:
		report.Outcome = ReconcileAlerted
		j.logg.Warn(logCtx, "gate diverged from allocation pool")
		return report, nil
	}

	// a mint that reserved before the gate read can commit before the ledger
	// count; its claim then shows up here and the gate was already correct
	again, err := j.pool.Stats(ctx, drop)
	if err != nil {
		return report, err
	}
	if again.Claimed != stats.Claimed {
		report.Outcome = ReconcileRaced
		j.logg.Info(logCtx, "pool changed during reconcile; retrying next cycle")
		return report, nil
	}

	swapped, err := j.gate.Resync(ctx, drop, gate, report.Unclaimed)
	if err != nil {
		return report, err
	}
	if !swapped {
		report.Outcome = ReconcileRaced
		j.logg.Info(logCtx, "gate moved during reconcile; retrying next cycle")
		return report, nil
	}
	report.Outcome = ReconcileResynced
	report.Gate = report.Unclaimed
	j.metrics.IncGateResync(drop.Tier, drop.Year)
	j.metrics.SetGateRemaining(drop.Tier, drop.Year, report.Unclaimed)
	j.metrics.SetGateDrift(drop.Tier, drop.Year, 0)
	j.logg.Warn(logCtx, "gate resynced to allocation pool")
	return report, nil
}
