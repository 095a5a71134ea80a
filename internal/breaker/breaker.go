// Package breaker wraps a provider's Health probe in a circuit breaker so a
// persistently broken health endpoint degrades to a synthesized "down"
// status instead of being hammered every run, grounded on the teacher's
// internal/sync/circuit_breaker.go (there wrapping a Tautulli HTTP client;
// here wrapping any provider.Adapter's Health call).
package breaker

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/mediasync/orchestrator/internal/provider"
	"github.com/mediasync/orchestrator/internal/telemetry"
)

// Registry holds one circuit breaker per provider name, created lazily.
type Registry struct {
	breakers map[string]*gobreaker.CircuitBreaker[provider.Health]
}

// NewRegistry returns an empty breaker registry.
func NewRegistry() *Registry {
	return &Registry{breakers: map[string]*gobreaker.CircuitBreaker[provider.Health]{}}
}

func (r *Registry) get(name string) *gobreaker.CircuitBreaker[provider.Health] {
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[provider.Health](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			telemetry.CircuitState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})
	r.breakers[name] = cb
	return cb
}

// Health probes providerName's health through its breaker. A tripped
// breaker (open or too-many-requests) is reported as provider.HealthDown
// rather than propagating gobreaker's own sentinel error, since a down
// health endpoint and an open breaker mean the same thing to a driver run.
func (r *Registry) Health(ctx context.Context, providerName string, a provider.Adapter, cfg provider.Config) (provider.Health, error) {
	cb := r.get(providerName)
	h, err := cb.Execute(func() (provider.Health, error) {
		return a.Health(ctx, cfg)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return provider.Health{Status: provider.HealthDown}, nil
		}
		return provider.Health{Status: provider.HealthDown}, err
	}
	return h, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
