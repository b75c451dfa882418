package cron

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Job represents a scheduled task that runs inside the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Schedule binds a job to its cadence. A zero Every runs the job on every
// tick of the service; a zero Timeout uses the service default.
type Schedule struct {
	Job     Job
	Every   time.Duration
	Timeout time.Duration
}

// Registry holds the schedules in registration order. Job names are unique
// because they key metrics and the last-run bookkeeping.
type Registry struct {
	schedules []Schedule
	names     map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{names: map[string]struct{}{}}
}

// Register adds job with the given cadence.
func (r *Registry) Register(job Job, every time.Duration) error {
	return r.Add(Schedule{Job: job, Every: every})
}

func (r *Registry) Add(s Schedule) error {
	if s.Job == nil {
		return errors.New("job is required")
	}
	name := s.Job.Name()
	if name == "" {
		return errors.New("job name is required")
	}
	if _, dup := r.names[name]; dup {
		return fmt.Errorf("job %q already registered", name)
	}
	if s.Every < 0 || s.Timeout < 0 {
		return fmt.Errorf("job %q: negative cadence or timeout", name)
	}
	r.names[name] = struct{}{}
	r.schedules = append(r.schedules, s)
	return nil
}

// Schedules returns a copy of the registered schedules.
func (r *Registry) Schedules() []Schedule {
	return append([]Schedule(nil), r.schedules...)
}
