package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vyris/vyris-backend/pkg/logger"
	"github.com/vyris/vyris-backend/pkg/metrics"
)

const (
	defaultInterval   = time.Minute
	defaultJobTimeout = 2 * time.Minute
)

type ServiceParams struct {
	Logger     *logger.Logger
	Registry   *Registry
	Lock       Lock
	Metrics    *metrics.CronJobMetrics
	Interval   time.Duration
	JobTimeout time.Duration
}

// Service ticks every Interval. On each tick the instance that wins the lock
// runs the jobs that are due; the rest skip the tick. Due-ness is tracked per
// process, so after a lock handover a job may run once early.
type Service struct {
	logg       *logger.Logger
	schedules  []Schedule
	lock       Lock
	metrics    *metrics.CronJobMetrics
	interval   time.Duration
	jobTimeout time.Duration
	lastRun    map[string]time.Time
	now        func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Lock == nil {
		return nil, errors.New("lock required")
	}
	var schedules []Schedule
	if params.Registry != nil {
		schedules = params.Registry.Schedules()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	jobTimeout := params.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}
	return &Service{
		logg:       params.Logger,
		schedules:  schedules,
		lock:       params.Lock,
		metrics:    params.Metrics,
		interval:   interval,
		jobTimeout: jobTimeout,
		lastRun:    make(map[string]time.Time, len(schedules)),
		now:        time.Now,
	}, nil
}

// Run ticks until ctx is canceled and then returns ctx.Err(). The first tick
// fires immediately.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.tick(ctx); err != nil && ctx.Err() == nil {
			s.logg.Error(ctx, "cron tick failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) tick(ctx context.Context) error {
	due := s.due()
	if len(due) == 0 {
		return nil
	}

	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Debug(ctx, "cron lock held elsewhere; skipping tick")
		return nil
	}
	defer func() {
		if relErr := s.lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lock", relErr)
		}
	}()

	for _, sched := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.runJob(ctx, sched)
	}
	return nil
}

// due lists the schedules whose cadence has elapsed.
func (s *Service) due() []Schedule {
	now := s.now()
	var out []Schedule
	for _, sched := range s.schedules {
		last, ran := s.lastRun[sched.Job.Name()]
		if !ran || sched.Every == 0 || now.Sub(last) >= sched.Every {
			out = append(out, sched)
		}
	}
	return out
}

func (s *Service) runJob(ctx context.Context, sched Schedule) {
	name := sched.Job.Name()
	timeout := sched.Timeout
	if timeout <= 0 {
		timeout = s.jobTimeout
	}
	jobCtx, cancel := context.WithTimeout(s.logg.WithField(ctx, "job", name), timeout)
	defer cancel()

	start := s.now()
	s.lastRun[name] = start
	err := sched.Job.Run(jobCtx)
	elapsed := s.now().Sub(start)

	s.metrics.ObserveDuration(name, elapsed)
	logCtx := s.logg.WithField(jobCtx, "duration_ms", elapsed.Milliseconds())
	if err != nil {
		s.metrics.IncFailure(name)
		s.logg.Error(logCtx, "cron.job_failed", err)
		return
	}
	s.metrics.IncSuccess(name)
	s.metrics.SetLastSuccess(name, s.now())
	s.logg.Info(logCtx, "cron.job_completed")
}
