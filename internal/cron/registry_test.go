package cron

import (
	"context"
	"testing"
	"time"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryKeepsOrderAndCopies(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(&stubJob{name: "a"}, 0); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := registry.Register(&stubJob{name: "b"}, time.Hour); err != nil {
		t.Fatalf("register b: %v", err)
	}

	schedules := registry.Schedules()
	if len(schedules) != 2 || schedules[0].Job.Name() != "a" || schedules[1].Every != time.Hour {
		t.Fatalf("unexpected schedules %+v", schedules)
	}
	schedules[0].Job = nil
	if registry.Schedules()[0].Job == nil {
		t.Fatal("internal slice leaked")
	}
}

func TestRegistryRejectsInvalidSchedules(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(nil, 0); err == nil {
		t.Fatal("expected nil job error")
	}
	if err := registry.Register(&stubJob{}, 0); err == nil {
		t.Fatal("expected empty name error")
	}
	if err := registry.Register(&stubJob{name: "a"}, -time.Second); err == nil {
		t.Fatal("expected negative cadence error")
	}
	if err := registry.Register(&stubJob{name: "a"}, 0); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(&stubJob{name: "a"}, time.Minute); err == nil {
		t.Fatal("expected duplicate name error")
	}
}
