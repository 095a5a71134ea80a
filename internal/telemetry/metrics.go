// Package telemetry registers the orchestrator's prometheus metrics and
// aggregates per-run api:hit counters, grounded on the teacher's
// internal/metrics package and its circuit-breaker gauge/counter pair.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AddedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_added_total",
			Help: "Total number of items successfully added to a destination provider.",
		},
		[]string{"provider", "feature"},
	)

	RemovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_removed_total",
			Help: "Total number of items successfully removed from a destination provider.",
		},
		[]string{"provider", "feature"},
	)

	UnresolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_unresolved_total",
			Help: "Total number of items a destination provider could not confidently apply.",
		},
		[]string{"provider", "feature"},
	)

	APIHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_api_hits_total",
			Help: "Total number of outbound API calls made to a provider.",
		},
		[]string{"provider", "endpoint", "status"},
	)

	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_circuit_state",
			Help: "Per-provider circuit breaker state (0=closed, 1=half-open, 2=open).",
		},
		[]string{"provider"},
	)
)

// ApiMetrics aggregates api:hit events emitted during one run, keyed by
// provider/endpoint/feature/method/status, and optional provider-reported
// api:totals payloads (§4.L step 1). Safe for concurrent use since a run's
// pairs may be processed concurrently in a future revision.
type ApiMetrics struct {
	mu      sync.Mutex
	hits    map[hitKey]int
	totals  map[string]map[string]any
}

type hitKey struct {
	Provider, Endpoint, Feature, Method, Status string
}

// NewApiMetrics returns an empty aggregator.
func NewApiMetrics() *ApiMetrics {
	return &ApiMetrics{hits: map[hitKey]int{}, totals: map[string]map[string]any{}}
}

// RecordHit folds one api:hit event into the aggregator and into the
// orchestrator_api_hits_total prometheus counter.
func (m *ApiMetrics) RecordHit(provider, endpoint, feature, method, status string) {
	m.mu.Lock()
	m.hits[hitKey{provider, endpoint, feature, method, status}]++
	m.mu.Unlock()
	APIHitsTotal.WithLabelValues(provider, endpoint, status).Inc()
}

// MergeTotals records a provider-reported api:totals payload, overwriting
// any previous payload for that provider this run.
func (m *ApiMetrics) MergeTotals(provider string, payload map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals[provider] = payload
}

// Snapshot returns the run's api:hit counts and merged api:totals payloads,
// ready to attach to the run's stats:overview / api:totals event.
func (m *ApiMetrics) Snapshot() (hits map[string]int, totals map[string]map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hits = make(map[string]int, len(m.hits))
	for k, v := range m.hits {
		hits[k.Provider+"|"+k.Endpoint+"|"+k.Feature+"|"+k.Method+"|"+k.Status] = v
	}
	totals = make(map[string]map[string]any, len(m.totals))
	for k, v := range m.totals {
		totals[k] = v
	}
	return hits, totals
}

// RecordSyncOutcome folds one driver result's added/removed/unresolved
// tallies into the run-wide prometheus counters.
func RecordSyncOutcome(provider, feature string, added, removed, unresolved int) {
	if added > 0 {
		AddedTotal.WithLabelValues(provider, feature).Add(float64(added))
	}
	if removed > 0 {
		RemovedTotal.WithLabelValues(provider, feature).Add(float64(removed))
	}
	if unresolved > 0 {
		UnresolvedTotal.WithLabelValues(provider, feature).Add(float64(unresolved))
	}
}
