package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/vyris/vyris-backend/internal/allocations"
	"github.com/vyris/vyris-backend/pkg/config"
	"github.com/vyris/vyris-backend/pkg/types"
)

type stubDropGate struct {
	remaining int64
	err       error
	seen      types.Drop
}

func (s *stubDropGate) Remaining(_ context.Context, drop types.Drop) (int64, error) {
	s.seen = drop
	return s.remaining, s.err
}

type stubDropPool struct {
	stats allocations.PoolStats
	err   error
}

func (s *stubDropPool) Stats(context.Context, types.Drop) (allocations.PoolStats, error) {
	return s.stats, s.err
}

func serveDropStatus(gate DropGate, pool DropPool, path string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Get("/drops/{tier}/{year}", DropStatus(gate, pool, testLogger()))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestDropStatus(t *testing.T) {
	gate := &stubDropGate{remaining: 12}
	pool := &stubDropPool{stats: allocations.PoolStats{Total: 100, Claimed: 88}}

	rec := serveDropStatus(gate, pool, "/drops/Gold/2025")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	var body dropStatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Tier != "gold" || body.Year != 2025 || body.Capacity != 100 || body.Claimed != 88 || body.Remaining != 12 || body.SoldOut {
		t.Fatalf("unexpected body %+v", body)
	}
	if gate.seen.Tier != "gold" {
		t.Fatalf("tier should be normalized before reaching the gate, got %q", gate.seen.Tier)
	}
}

func TestDropStatusSoldOut(t *testing.T) {
	rec := serveDropStatus(&stubDropGate{}, &stubDropPool{stats: allocations.PoolStats{Total: 10, Claimed: 10}}, "/drops/gold/2025")
	var body dropStatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.SoldOut {
		t.Fatal("expected sold_out when the gate is exhausted")
	}
}

func TestDropStatusErrors(t *testing.T) {
	cases := []struct {
		name   string
		path   string
		gate   *stubDropGate
		pool   *stubDropPool
		status int
	}{
		{"bad year", "/drops/gold/nope", &stubDropGate{}, &stubDropPool{}, http.StatusUnprocessableEntity},
		{"bad tier", "/drops/go%20ld!/2025", &stubDropGate{}, &stubDropPool{}, http.StatusUnprocessableEntity},
		{"unseeded", "/drops/gold/2025", &stubDropGate{}, &stubDropPool{}, http.StatusNotFound},
		{"gate down", "/drops/gold/2025", &stubDropGate{err: errors.New("dial tcp: refused")}, &stubDropPool{stats: allocations.PoolStats{Total: 5}}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serveDropStatus(tc.gate, tc.pool, tc.path)
			if rec.Code != tc.status {
				t.Fatalf("expected %d got %d", tc.status, rec.Code)
			}
		})
	}
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}

	rec := httptest.NewRecorder()
	HealthReady(cfg, testLogger(), map[string]Pinger{"db": stubPinger{}, "redis": stubPinger{}})(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	HealthReady(cfg, testLogger(), map[string]Pinger{"db": stubPinger{}, "redis": stubPinger{err: errors.New("down")}})(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rec.Code)
	}
	if body := decodeError(t, rec); !body.Retryable {
		t.Fatal("readiness failures should be retryable")
	}
}

func TestHealthLive(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthLive(&config.Config{App: config.AppConfig{Env: "test"}})(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("X-Vyris-Env") != "test" {
		t.Fatalf("unexpected live response %d", rec.Code)
	}
}
