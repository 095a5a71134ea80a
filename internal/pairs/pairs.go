// Package pairs runs a full reconciliation cycle across every configured
// sync pair: collecting provider health once, building each feature's
// snapshots once regardless of how many pairs reference it, dispatching
// each (pair, feature) to the one-way or two-way driver, and aggregating
// the run's totals. Grounded on the teacher's channel-sync loop shape
// (internal/sync/manager.go iterating configured channels once per poll),
// generalized from "one direction, one channel" to "either direction, many
// providers, many features".
package pairs

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mediasync/orchestrator/internal/blocklist"
	"github.com/mediasync/orchestrator/internal/breaker"
	"github.com/mediasync/orchestrator/internal/driver"
	"github.com/mediasync/orchestrator/internal/provider"
	"github.com/mediasync/orchestrator/internal/snapshot"
	"github.com/mediasync/orchestrator/internal/statestore"
	"github.com/mediasync/orchestrator/internal/telemetry"
)

// DefaultFeatures is the feature list a pair runs when it declares neither
// an explicit single feature nor a features map.
var DefaultFeatures = []string{"watchlist", "ratings", "history", "playlists"}

// DefaultRateLowThreshold is the per-provider minimum remaining-rate that
// triggers a rate:low warning, per §4.L step 8 / §6.3.
var DefaultRateLowThreshold = map[string]int{"TRAKT": 100, "SIMKL": 50, "PLEX": 0, "JELLYFIN": 0}

// PairSpec is one configured sync pair.
type PairSpec struct {
	Source, Target string
	TwoWay         bool
	Enabled        bool
	Feature        string // explicit single feature; "" or "multi" defers to Features/DefaultFeatures
	Features       map[string]driver.FeatureConfig
	Add, Remove    bool // sync-level add/remove gates
}

// featureList resolves which features this pair runs this cycle.
func (p PairSpec) featureList() []string {
	if p.Feature != "" && p.Feature != "multi" {
		return []string{p.Feature}
	}
	if len(p.Features) > 0 {
		out := make([]string, 0, len(p.Features))
		for f, fc := range p.Features {
			if fc.Enable {
				out = append(out, f)
			}
		}
		sort.Strings(out)
		return out
	}
	return DefaultFeatures
}

func (p PairSpec) featureConfig(feature string) driver.FeatureConfig {
	if fc, ok := p.Features[feature]; ok {
		return fc
	}
	return driver.FeatureConfig{Enable: true}
}

// RunConfig is everything one full cycle needs.
type RunConfig struct {
	Pairs            []PairSpec
	Registry         *provider.Registry
	Configs          map[string]provider.Config
	Store            *statestore.Store
	Breakers         *breaker.Registry
	Log              driver.Logger
	Flags            driver.Flags
	TombstoneTTLDays int
	RateLowThreshold map[string]int
}

// PairOutcome is one (pair, feature) dispatch's result.
type PairOutcome struct {
	Source, Target, Feature string
	Skipped                 string
	Added, Removed          int
	Unresolved              int
}

// RunResult is the aggregate outcome of one full cycle.
type RunResult struct {
	RunID      string
	Added      int
	Removed    int
	Unresolved int
	Outcomes   []PairOutcome
}

// Run executes steps 1-8 of a full reconciliation cycle.
func Run(ctx context.Context, cfg RunConfig) (RunResult, error) {
	runID := uuid.New().String()
	apiMetrics := telemetry.NewApiMetrics()

	ttlDays := cfg.TombstoneTTLDays
	if ttlDays <= 0 {
		ttlDays = 30
	}
	if err := pruneTombstones(cfg.Store, ttlDays); err != nil {
		return RunResult{}, err
	}

	health, err := collectHealth(ctx, cfg, apiMetrics)
	if err != nil {
		return RunResult{}, err
	}
	if cfg.Log != nil {
		cfg.Log.Event("run:start", map[string]any{"run_id": runID, "pairs": len(cfg.Pairs)})
	}

	state, err := cfg.Store.LoadState()
	if err != nil {
		return RunResult{}, err
	}

	snapshots, err := buildAllSnapshots(ctx, cfg, health)
	if err != nil {
		return RunResult{}, err
	}

	result := RunResult{RunID: runID}
	watchlistRan := false

	for _, pair := range cfg.Pairs {
		if !pair.Enabled {
			continue
		}
		srcU, dstU := strings.ToUpper(pair.Source), strings.ToUpper(pair.Target)
		if health[srcU].Status == provider.HealthAuthFailed || health[dstU].Status == provider.HealthAuthFailed {
			result.Outcomes = append(result.Outcomes, PairOutcome{Source: srcU, Target: dstU, Skipped: "auth_failed"})
			continue
		}

		for _, feature := range pair.featureList() {
			if feature == "watchlist" {
				watchlistRan = true
			}
			fc := pair.featureConfig(feature)
			if !fc.Enable {
				continue
			}

			deps := driver.Deps{Registry: cfg.Registry, Configs: cfg.Configs, Store: cfg.Store, Health: health, Log: cfg.Log}
			outcome := PairOutcome{Source: srcU, Target: dstU, Feature: feature}

			if !pair.TwoWay {
				srcSnap := snapshots[feature][srcU]
				dstSnap := snapshots[feature][dstU]
				prevSrc := state.ProviderFeature(srcU, feature)
				prevDst := state.ProviderFeature(dstU, feature)

				in := driver.OneWayInput{
					Src: srcU, Dst: dstU, Feature: feature, PairKey: statestore.PairKey(srcU, dstU),
					SrcItems: srcSnap.Items, DstItems: dstSnap.Items,
					PrevSrcItems: prevSrc.Baseline.Items, PrevDstItems: prevDst.Baseline.Items,
					SrcCheckpoint: srcSnap.Checkpoint, DstCheckpoint: dstSnap.Checkpoint,
					PrevSrcCheckpoint: prevSrc.Checkpoint, PrevDstCheckpoint: prevDst.Checkpoint,
					Ratings: feature == "ratings", FC: fc, PairAdd: pair.Add, PairRem: pair.Remove,
				}
				res, err := driver.RunOneWay(ctx, deps, cfg.Flags, in)
				if err != nil {
					return RunResult{}, err
				}
				outcome.Skipped = res.Skipped
				outcome.Added, outcome.Removed, outcome.Unresolved = res.ConfirmedAdd, res.ConfirmedRem, res.NewUnresolved
				if outcome.Skipped == "" {
					state.SetProviderFeature(dstU, feature, statestore.FeatureRecord{
						Baseline: statestore.Baseline{Items: res.NewBaseline}, Checkpoint: dstSnap.Checkpoint,
					})
				}
			} else {
				aSnap := snapshots[feature][srcU]
				bSnap := snapshots[feature][dstU]
				prevA := state.ProviderFeature(srcU, feature)
				prevB := state.ProviderFeature(dstU, feature)

				in := driver.TwoWayInput{
					A: srcU, B: dstU, Feature: feature, PairKey: statestore.PairKey(srcU, dstU),
					AItems: aSnap.Items, BItems: bSnap.Items,
					PrevAItems: prevA.Baseline.Items, PrevBItems: prevB.Baseline.Items,
					ACheckpoint: aSnap.Checkpoint, BCheckpoint: bSnap.Checkpoint,
					PrevACheckpoint: prevA.Checkpoint, PrevBCheckpoint: prevB.Checkpoint,
					Ratings: feature == "ratings", FC: fc, PairAdd: pair.Add, PairRem: pair.Remove,
				}
				res, err := driver.RunTwoWay(ctx, deps, cfg.Flags, in)
				if err != nil {
					return RunResult{}, err
				}
				outcome.Skipped = res.Skipped
				outcome.Added = res.ConfirmedAddToB + res.ConfirmedAddToA
				outcome.Removed = res.ConfirmedRemA + res.ConfirmedRemB
				if outcome.Skipped == "" {
					state.SetProviderFeature(srcU, feature, statestore.FeatureRecord{
						Baseline: statestore.Baseline{Items: res.NewBaselineA}, Checkpoint: aSnap.Checkpoint,
					})
					state.SetProviderFeature(dstU, feature, statestore.FeatureRecord{
						Baseline: statestore.Baseline{Items: res.NewBaselineB}, Checkpoint: bSnap.Checkpoint,
					})
				}
			}

			telemetry.RecordSyncOutcome(dstU, feature, outcome.Added, outcome.Removed, outcome.Unresolved)
			result.Added += outcome.Added
			result.Removed += outcome.Removed
			result.Unresolved += outcome.Unresolved
			result.Outcomes = append(result.Outcomes, outcome)
		}
	}

	if err := cfg.Store.SaveState(state); err != nil {
		return RunResult{}, err
	}

	if watchlistRan {
		if err := cfg.Store.ClearWatchlistHide(); err != nil {
			return RunResult{}, err
		}
		if _, err := blocklist.CascadeRemovals(cfg.Store, "watchlist", nil); err != nil {
			return RunResult{}, err
		}
	}

	now := time.Now()
	ls := statestore.LastSync{
		StartedAt: now.Unix(), FinishedAt: now.Unix(),
		Result: statestore.LastSyncResult{Added: result.Added, Removed: result.Removed, Unresolved: result.Unresolved},
	}
	if err := cfg.Store.SaveLastSync(ls); err != nil {
		return RunResult{}, err
	}

	cooldown := cfg.Flags.Blackbox.CooldownDays
	if cooldown <= 0 {
		cooldown = 30
	}
	if _, _, err := statestore.PruneBlackbox(cfg.Store.StateDir(), cooldown); err != nil {
		return RunResult{}, err
	}

	if cfg.Log != nil {
		hits, totals := apiMetrics.Snapshot()
		cfg.Log.Event("api:totals", map[string]any{"run_id": runID, "hits": len(hits), "totals": totals})
		cfg.Log.Event("stats:overview", map[string]any{
			"run_id": runID, "added": result.Added, "removed": result.Removed, "unresolved": result.Unresolved,
		})
		cfg.Log.Event("run:done", map[string]any{"run_id": runID})
	}

	return result, nil
}

func pruneTombstones(store *statestore.Store, ttlDays int) error {
	tb, err := store.LoadTombstones()
	if err != nil {
		return err
	}
	tb.Prune(time.Duration(ttlDays)*24*time.Hour, time.Now())
	return store.SaveTombstones(tb)
}

func collectHealth(ctx context.Context, cfg RunConfig, apiMetrics *telemetry.ApiMetrics) (map[string]provider.Health, error) {
	referenced := map[string]struct{}{}
	for _, p := range cfg.Pairs {
		if !p.Enabled {
			continue
		}
		referenced[strings.ToUpper(p.Source)] = struct{}{}
		referenced[strings.ToUpper(p.Target)] = struct{}{}
	}

	threshold := cfg.RateLowThreshold
	if threshold == nil {
		threshold = DefaultRateLowThreshold
	}

	health := map[string]provider.Health{}
	for name := range referenced {
		a, ok := cfg.Registry.Get(name)
		if !ok {
			continue
		}
		pcfg := cfg.Configs[name]
		if !a.IsConfigured(pcfg) {
			continue
		}
		var h provider.Health
		var err error
		if cfg.Breakers != nil {
			h, err = cfg.Breakers.Health(ctx, name, a, pcfg)
		} else {
			h, err = a.Health(ctx, pcfg)
		}
		if err != nil {
			h = provider.Health{Status: provider.HealthDown}
		}
		health[name] = h

		for endpoint, st := range h.Endpoints {
			status := "ok"
			if st.StatusCode >= 400 {
				status = "error"
			}
			apiMetrics.RecordHit(name, endpoint, "", "GET", status)
			if cfg.Log != nil && st.RateRemaining != nil {
				if min, ok := threshold[name]; ok && *st.RateRemaining < min {
					cfg.Log.Event("rate:low", map[string]any{
						"provider": name, "endpoint": endpoint, "remaining": *st.RateRemaining, "threshold": min,
					})
				}
			}
		}
		if cfg.Log != nil {
			cfg.Log.Event("health", map[string]any{"provider": name, "status": string(h.Status)})
		}
	}
	return health, nil
}

// buildAllSnapshots builds every feature's snapshots once across the union
// of providers any enabled pair references for that feature, regardless of
// how many pairs share it.
func buildAllSnapshots(ctx context.Context, cfg RunConfig, health map[string]provider.Health) (map[string]map[string]snapshot.Snapshot, error) {
	features := map[string]struct{}{}
	var pcfgs []snapshot.PairConfig
	for _, p := range cfg.Pairs {
		if !p.Enabled {
			continue
		}
		fs := map[string]bool{}
		for _, f := range p.featureList() {
			features[f] = struct{}{}
			fs[f] = true
		}
		pcfgs = append(pcfgs, snapshot.PairConfig{Source: p.Source, Target: p.Target, Enabled: true, Features: fs})
	}

	isConfigured := func(name string) bool {
		if h, ok := health[strings.ToUpper(name)]; ok && h.Status == provider.HealthAuthFailed {
			return false
		}
		a, ok := cfg.Registry.Get(name)
		if !ok {
			return false
		}
		return a.IsConfigured(cfg.Configs[strings.ToUpper(name)])
	}

	out := map[string]map[string]snapshot.Snapshot{}
	for feature := range features {
		out[feature] = snapshot.BuildSnapshotsForFeature(ctx, feature, cfg.Registry, cfg.Configs, pcfgs, nil, 0, isConfigured, nil)
	}
	return out, nil
}
