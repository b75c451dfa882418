package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/vyris/vyris-backend/pkg/db/models"
	"github.com/vyris/vyris-backend/pkg/logger"
	"github.com/vyris/vyris-backend/pkg/metrics"
)

const staleReportLimit = 100

type stalePendingLister interface {
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.ReceiptLedgerEntry, error)
}

// StalePendingJobParams configures the stuck-receipt alert.
type StalePendingJobParams struct {
	Logger     *logger.Logger
	Ledger     stalePendingLister
	StaleAfter time.Duration
	Metrics    *metrics.MintMetrics
}

// NewStalePendingJob reports receipt ledger entries stuck in PENDING. A
// stuck entry means a mint died between reserving and settling; a retry of the
// same receipt reclaims it.
func NewStalePendingJob(params StalePendingJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("receipt ledger required")
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	return &stalePendingJob{
		logg:       params.Logger,
		ledger:     params.Ledger,
		staleAfter: staleAfter,
		metrics:    params.Metrics,
		now:        time.Now,
	}, nil
}

type stalePendingJob struct {
	logg       *logger.Logger
	ledger     stalePendingLister
	staleAfter time.Duration
	metrics    *metrics.MintMetrics
	now        func() time.Time
}

func (j *stalePendingJob) Name() string { return "stale-pending-ledger" }

func (j *stalePendingJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.staleAfter)
	entries, err := j.ledger.ListStalePending(ctx, cutoff, staleReportLimit)
	if err != nil {
		return fmt.Errorf("stale pending ledger: %w", err)
	}
	j.metrics.SetStalePending(len(entries))
	if len(entries) == 0 {
		return nil
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID.String())
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"event":       "ledger.stale_pending",
		"count":       len(entries),
		"oldest":      entries[0].UpdatedAt,
		"entry_ids":   ids,
		"stale_after": j.staleAfter.String(),
	})
	j.logg.Warn(logCtx, "receipt ledger entries stuck in PENDING")
	return nil
}
