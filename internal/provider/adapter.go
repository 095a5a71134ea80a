// Package provider defines the adapter contract every media-library backend
// implements, plus an explicit, reflection-free registry for wiring them into
// a run. Unlike the module this orchestrator is descended from, adapters are
// compiled in and registered by name rather than discovered by scanning a
// package directory at import time.
package provider

import (
	"context"

	"github.com/mediasync/orchestrator/internal/idmap"
)

// Config is an adapter's provider-specific configuration blob, typically
// decoded from a koanf sub-tree. Adapters type-assert the keys they need.
type Config map[string]any

// BuildResult is the outcome of building a feature index: the reconciled
// items keyed by canonical key, plus an opaque checkpoint hint the adapter
// can use on the next call to resume from (e.g. a cursor or ETag). A nil
// checkpoint means "no incremental resume support".
type BuildResult struct {
	Items      map[string]idmap.Item
	Checkpoint *string
}

// ApplyResult is the outcome of an Add or Remove call. Succeeded and Failed
// partition the requested items; Unresolved holds items the adapter could not
// confidently match to a remote record (ambiguous title, no matching ID) and
// therefore neither added nor removed.
type ApplyResult struct {
	Succeeded  []idmap.Item
	Failed     []idmap.Item
	Unresolved []idmap.Item
}

// HealthStatus is the coarse-grained health an adapter reports for itself.
type HealthStatus string

const (
	HealthOK         HealthStatus = "ok"
	HealthDegraded   HealthStatus = "degraded"
	HealthAuthFailed HealthStatus = "auth_failed"
	HealthDown       HealthStatus = "down"
)

// Health is the outcome of a health probe, plus any per-endpoint rate-limit
// or status detail the adapter wants folded into synthesized api:hit events.
type Health struct {
	Status    HealthStatus
	Endpoints map[string]EndpointStatus
}

// EndpointStatus carries per-endpoint detail surfaced by Health, used by the
// pair runner to synthesize api:hit events and by the rate:low warning.
type EndpointStatus struct {
	StatusCode    int
	RateRemaining *int
	RateLimit     *int
}

// Adapter is the contract a media-library backend implements to participate
// in reconciliation. Every method must be safe to call concurrently with
// itself for different features.
type Adapter interface {
	// Name is the adapter's upper-cased registry key, e.g. "TRAKT".
	Name() string

	// Label is a human-readable display name.
	Label() string

	// Features reports which sync features (watchlist, ratings, history,
	// playlists) this adapter supports.
	Features() map[string]bool

	// Capabilities reports adapter-specific traits consumed by the planner
	// and applier: preferred ID kinds, whether ratings are supported,
	// whether removals are destructive, a preferred chunk size, and so on.
	Capabilities() map[string]any

	// IsConfigured reports whether cfg carries enough credentials/settings
	// for this adapter to be used at all; an unconfigured provider is
	// skipped by the snapshot builder and the pair runner before any
	// network call is attempted.
	IsConfigured(cfg Config) bool

	// Health probes the adapter's current reachability and auth state.
	// Called once per run per referenced provider, wrapped by the caller in
	// a circuit breaker.
	Health(ctx context.Context, cfg Config) (Health, error)

	// BuildIndex fetches the adapter's current state for feature and
	// normalizes it into canonical-keyed items.
	BuildIndex(ctx context.Context, cfg Config, feature string) (BuildResult, error)

	// Add applies additions for feature. When dryRun is true, no remote
	// mutation occurs; the adapter still reports which items it believes
	// would succeed.
	Add(ctx context.Context, cfg Config, items []idmap.Item, feature string, dryRun bool) (ApplyResult, error)

	// Remove applies removals for feature. When dryRun is true, no remote
	// mutation occurs.
	Remove(ctx context.Context, cfg Config, items []idmap.Item, feature string, dryRun bool) (ApplyResult, error)
}

// Capability keys recognized by the planner, applier, and driver.
const (
	CapPreferredIDOrder = "preferred_id_order" // []string
	CapRatingsSupported = "ratings_supported"  // bool
	CapChunkSize        = "chunk_size"         // int
	CapDestructive      = "destructive"        // bool
	CapIndexSemantics   = "index_semantics"    // string: "present" | "delta"
	CapObservedDeletes  = "observed_deletes"   // bool
	CapVerifyAfterWrite = "verify_after_write" // bool
)

// Bool reads a boolean capability from caps, defaulting to def when absent or
// of the wrong type.
func Bool(caps map[string]any, key string, def bool) bool {
	if caps == nil {
		return def
	}
	if v, ok := caps[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}
