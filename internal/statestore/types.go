// Package statestore persists the orchestrator's durable state: per-provider
// per-feature baselines and checkpoints, the tombstone map, the last-run
// summary, and a handful of small UI-facing files. Every write is atomic
// (temp file + rename); every read tolerates a missing file.
package statestore

import (
	"github.com/mediasync/orchestrator/internal/idmap"
)

// FeatureRecord is the last successfully reconciled index for a single
// (provider, feature) pair, plus the provider's monotonic progress hint.
type FeatureRecord struct {
	Baseline   Baseline `json:"baseline"`
	Checkpoint *string  `json:"checkpoint"`
}

// Baseline holds the reconciled items keyed by canonical key.
type Baseline struct {
	Items map[string]idmap.Item `json:"items"`
}

// NewFeatureRecord returns an empty record ready for first use.
func NewFeatureRecord() FeatureRecord {
	return FeatureRecord{Baseline: Baseline{Items: map[string]idmap.Item{}}}
}

// State is the full contents of state.json.
type State struct {
	Providers       map[string]map[string]FeatureRecord `json:"providers"`
	Wall            []idmap.Item                         `json:"wall"`
	LastSyncEpoch   *int64                                `json:"last_sync_epoch"`
}

// NewState returns the default, empty state document.
func NewState() State {
	return State{
		Providers: map[string]map[string]FeatureRecord{},
		Wall:      []idmap.Item{},
	}
}

// ProviderFeature returns the record for (provider, feature), or a new empty
// record when none is stored. It never modifies State.
func (s *State) ProviderFeature(provider, feature string) FeatureRecord {
	pf, ok := s.Providers[provider]
	if !ok {
		return NewFeatureRecord()
	}
	fr, ok := pf[feature]
	if !ok {
		return NewFeatureRecord()
	}
	return fr
}

// SetProviderFeature stores rec for (provider, feature).
func (s *State) SetProviderFeature(provider, feature string, rec FeatureRecord) {
	if s.Providers == nil {
		s.Providers = map[string]map[string]FeatureRecord{}
	}
	if s.Providers[provider] == nil {
		s.Providers[provider] = map[string]FeatureRecord{}
	}
	s.Providers[provider][feature] = rec
}

// Tombstones is the full contents of tombstones.json.
type Tombstones struct {
	Keys     map[string]int64 `json:"keys"`
	PrunedAt *int64           `json:"pruned_at"`
	TTLSec   *int64           `json:"ttl_sec"`
}

// NewTombstones returns the default, empty tombstone document.
func NewTombstones() Tombstones {
	return Tombstones{Keys: map[string]int64{}}
}

// LastSyncResult is the summary embedded in last_sync.json.
type LastSyncResult struct {
	Added      int `json:"added"`
	Removed    int `json:"removed"`
	Unresolved int `json:"unresolved"`
}

// LastSync is the full contents of last_sync.json.
type LastSync struct {
	StartedAt  int64          `json:"started_at"`
	FinishedAt int64          `json:"finished_at"`
	Result     LastSyncResult `json:"result"`
}
