package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyris/vyris-backend/internal/allocations"
	"github.com/vyris/vyris-backend/internal/mint"
	"github.com/vyris/vyris-backend/pkg/config"
	pkgerrors "github.com/vyris/vyris-backend/pkg/errors"
	"github.com/vyris/vyris-backend/pkg/logger"
	"github.com/vyris/vyris-backend/pkg/metrics"
	"github.com/vyris/vyris-backend/pkg/types"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

type stubMint struct{}

func (stubMint) Mint(context.Context, mint.Input) (*mint.Result, error) {
	return nil, pkgerrors.New(pkgerrors.CodeSoldOut, "drop sold out")
}

type deadlineMint struct {
	hasDeadline bool
}

func (m *deadlineMint) Mint(ctx context.Context, _ mint.Input) (*mint.Result, error) {
	_, m.hasDeadline = ctx.Deadline()
	return nil, pkgerrors.New(pkgerrors.CodeSoldOut, "drop sold out")
}

type stubGate struct{}

func (stubGate) Remaining(context.Context, types.Drop) (int64, error) { return 3, nil }

type stubPool struct{}

func (stubPool) Stats(context.Context, types.Drop) (allocations.PoolStats, error) {
	return allocations.PoolStats{Total: 10, Claimed: 7}, nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := &config.Config{App: config.AppConfig{Env: "test", AllowedOrigins: []string{"https://vyris.app"}}}
	logg := logger.New(logger.Options{ServiceName: "routes-test", Output: io.Discard})

	reg := prometheus.NewRegistry()
	metrics.NewMintMetrics(reg).SetGateRemaining("gold", 2025, 3)

	return NewRouter(cfg, logg, Services{
		Mint:    stubMint{},
		Gate:    stubGate{},
		Pool:    stubPool{},
		DB:      stubPinger{},
		Redis:   stubPinger{},
		Metrics: reg,
	})
}

func TestRoutesHealth(t *testing.T) {
	router := newTestRouter(t)
	for _, path := range []string{"/health/live", "/health/ready"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.NotEmpty(t, rec.Header().Get("X-Request-Id"), path)
	}
}

func TestRoutesMintMapsSoldOut(t *testing.T) {
	router := newTestRouter(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/mint", strings.NewReader(`{"receipt_data":"r","user_id":"u"}`))
	req.Header.Set("Content-Type", "application/json")

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Contains(t, rec.Body.String(), `"SOLD_OUT"`)
}

func TestRoutesDropStatus(t *testing.T) {
	router := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/drops/gold/2025", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"remaining":3`)
}

func TestRoutesMetrics(t *testing.T) {
	router := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vyris_gate_remaining")
}

func TestRoutesUnwiredServiceFailsClosed(t *testing.T) {
	router := newTestRouter(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/encounters/verify", strings.NewReader(`{"token":"t"}`))
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRoutesUnknownPath(t *testing.T) {
	router := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoutesApplyRequestTimeout(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test", RequestTimeout: 5 * time.Second}}
	logg := logger.New(logger.Options{ServiceName: "routes-test", Output: io.Discard})
	m := &deadlineMint{}
	router := NewRouter(cfg, logg, Services{Mint: m, DB: stubPinger{}, Redis: stubPinger{}})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/mint", strings.NewReader(`{"receipt_data":"r","user_id":"u"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusGone, rec.Code)
	assert.True(t, m.hasDeadline, "handler context must carry the request deadline")
}
