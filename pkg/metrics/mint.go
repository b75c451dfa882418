package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Mint outcome labels.
const (
	OutcomeFulfilled = "fulfilled"
	OutcomeReplayed  = "replayed"
	OutcomeSoldOut   = "sold_out"
	OutcomeInvalid   = "invalid_receipt"
	OutcomeConflict  = "conflict"
	OutcomeRetryable = "retryable"
)

// Compensation steps that can fail after a gate reservation.
const (
	StepRelease    = "release"
	StepMarkFailed = "mark_failed"
)

// MintMetrics tracks mint outcomes and the health of the admission gate.
// A nil *MintMetrics is valid and records nothing.
type MintMetrics struct {
	outcomes             *prometheus.CounterVec
	duration             prometheus.Histogram
	compensations        prometheus.Counter
	compensationFailures *prometheus.CounterVec
	gateRemaining        *prometheus.GaugeVec
	gateDrift            *prometheus.GaugeVec
	gateResyncs          *prometheus.CounterVec
	stalePending         prometheus.Gauge
}

// NewMintMetrics registers the mint metrics on the provided registerer.
func NewMintMetrics(reg prometheus.Registerer) *MintMetrics {
	if reg == nil {
		return nil
	}
	m := &MintMetrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mint",
			Name:      "outcomes_total",
			Help:      "Mint attempts by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "mint",
			Name:      "duration_seconds",
			Help:      "Mint latency in seconds.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 15},
		}),
		compensations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mint",
			Name:      "compensations_total",
			Help:      "Gate reservations released after a failed durable claim.",
		}),
		compensationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mint",
			Name:      "compensation_failures_total",
			Help:      "Compensation steps that failed; the gate may be under-counted.",
		}, []string{"step"}),
		gateRemaining: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "remaining",
			Help:      "Remaining admission slots per drop as last observed.",
		}, []string{"tier", "year"}),
		gateDrift: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "drift",
			Help:      "Gate counter minus unclaimed allocations per drop.",
		}, []string{"tier", "year"}),
		gateResyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "resyncs_total",
			Help:      "Gate counters rewritten by the reconciliation sweep.",
		}, []string{"tier", "year"}),
		stalePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "stale_pending",
			Help:      "PENDING receipt ledger entries older than the stale window.",
		}),
	}
	reg.MustRegister(
		m.outcomes,
		m.duration,
		m.compensations,
		m.compensationFailures,
		m.gateRemaining,
		m.gateDrift,
		m.gateResyncs,
		m.stalePending,
	)
	return m
}

// ObserveMint records one mint attempt.
func (m *MintMetrics) ObserveMint(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
	m.duration.Observe(elapsed.Seconds())
}

// IncCompensation counts a completed gate release.
func (m *MintMetrics) IncCompensation() {
	if m == nil {
		return
	}
	m.compensations.Inc()
}

// IncCompensationFailure counts a failed compensation step.
func (m *MintMetrics) IncCompensationFailure(step string) {
	if m == nil {
		return
	}
	m.compensationFailures.WithLabelValues(normalizeLabel(step)).Inc()
}

// SetGateRemaining publishes the observed gate counter for a drop.
func (m *MintMetrics) SetGateRemaining(tier string, year int, remaining int64) {
	if m == nil {
		return
	}
	m.gateRemaining.WithLabelValues(normalizeLabel(tier), strconv.Itoa(year)).Set(float64(remaining))
}

// SetGateDrift publishes gate minus unclaimed for a drop; zero means consistent.
func (m *MintMetrics) SetGateDrift(tier string, year int, drift int64) {
	if m == nil {
		return
	}
	m.gateDrift.WithLabelValues(normalizeLabel(tier), strconv.Itoa(year)).Set(float64(drift))
}

// IncGateResync counts a reconciliation rewrite of a drop's gate counter.
func (m *MintMetrics) IncGateResync(tier string, year int) {
	if m == nil {
		return
	}
	m.gateResyncs.WithLabelValues(normalizeLabel(tier), strconv.Itoa(year)).Inc()
}

// SetStalePending publishes the number of stuck PENDING ledger entries.
func (m *MintMetrics) SetStalePending(n int) {
	if m == nil {
		return
	}
	m.stalePending.Set(float64(n))
}
