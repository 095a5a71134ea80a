// Package driver runs one (source, destination, feature) reconciliation
// cycle, either one-way (make dst look like src) or two-way (converge both
// sides), composing the snapshot, planner, blocklist, phantom, mass-delete,
// and applier packages in the order a single sync pass needs them.
package driver

import (
	"time"

	"github.com/mediasync/orchestrator/internal/provider"
	"github.com/mediasync/orchestrator/internal/statestore"
)

// Logger is the narrow event-emission surface this package needs.
type Logger interface {
	Event(name string, fields map[string]any)
	Debug(event string, fields map[string]any)
	Info(msg string, fields map[string]any)
}

// FeatureConfig is one pair's per-feature override of the sync-level
// add/remove gates, plus filtering knobs not yet consulted by this package.
type FeatureConfig struct {
	Enable   bool
	Add      *bool
	Remove   *bool
	Types    []string
	FromDate string
}

// Flags carries every sync-level and runtime-tuning knob a driver run reads.
type Flags struct {
	DryRun                    bool
	AllowMassDelete           bool
	VerifyAfterWrite          bool
	IncludeObservedDeletes    bool
	DropGuard                 bool
	SuspectMinPrev            int
	SuspectShrinkRatio        float64
	ApplyChunkSize            int
	ApplyChunkSizeByProvider  map[string]int
	ApplyChunkPause           time.Duration
	Blackbox                  statestore.BlackboxConfig
	PhantomTTLDays            *int
	CrossFeatureUnresolved    bool
	PropagateTimestampUpdates bool
}

// Deps are the shared collaborators every driver call reads from; Health is
// keyed by upper-cased provider name and is expected to be collected once
// per run by the pair runner, not per pair.
type Deps struct {
	Registry *provider.Registry
	Configs  map[string]provider.Config
	Store    *statestore.Store
	Health   map[string]provider.Health
	Log      Logger
}
