package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/vyris/vyris-backend/pkg/logger"
)

type reforgeExpirer interface {
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

type ReforgeExpiryJobParams struct {
	Logger     *logger.Logger
	Repository reforgeExpirer
}

func NewReforgeExpiryJob(params ReforgeExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("reforge repository required")
	}
	return &reforgeExpiryJob{logg: params.Logger, repo: params.Repository, now: time.Now}, nil
}

type reforgeExpiryJob struct {
	logg *logger.Logger
	repo reforgeExpirer
	now  func() time.Time
}

func (j *reforgeExpiryJob) Name() string { return "reforge-expiry" }

func (j *reforgeExpiryJob) Run(ctx context.Context) error {
	expired, err := j.repo.ExpireOverdue(ctx, j.now().UTC())
	if err != nil {
		return fmt.Errorf("reforge expiry: %w", err)
	}
	if expired > 0 {
		j.logg.Info(j.logg.WithField(ctx, "rows_expired", expired), "reforge requests expired")
	}
	return nil
}
