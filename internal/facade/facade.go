// Package facade is the orchestrator's stable entry point: it holds shared
// configuration and infrastructure, exposes Run for a full cycle and RunPair
// for an ad-hoc single-pair invocation, and owns the one post-cycle
// persistence step the pair runner itself does not do: the deduplicated
// watchlist "wall". It does not refresh per-feature snapshots after the
// cycle; the baselines in state are the ones the pair runner wrote. Grounded
// on the teacher's facade-less
// cmd/server wiring plus original_source/cw_platform/orchestrator/facade.py's
// Orchestrator.run, generalized from a Python dataclass with mutable
// run-scoped fields into a Go value receiver that takes its run-scoped
// options as an explicit argument instead of temporarily mutating shared
// state.
package facade

import (
	"context"
	"time"

	"github.com/mediasync/orchestrator/internal/breaker"
	"github.com/mediasync/orchestrator/internal/driver"
	"github.com/mediasync/orchestrator/internal/idmap"
	"github.com/mediasync/orchestrator/internal/pairs"
	"github.com/mediasync/orchestrator/internal/provider"
	"github.com/mediasync/orchestrator/internal/statestore"
)

// Config holds everything shared across every Run/RunPair invocation.
type Config struct {
	Pairs            []pairs.PairSpec
	Registry         *provider.Registry
	Configs          map[string]provider.Config
	Store            *statestore.Store
	Breakers         *breaker.Registry
	Log              driver.Logger
	Flags            driver.Flags
	TombstoneTTLDays int
	RateLowThreshold map[string]int
}

// RunOptions carries the knobs that vary per invocation rather than per
// process lifetime.
type RunOptions struct {
	DryRun         bool
	OnlyFeature    string
	WriteStateJSON bool
	Progress       func(event string, fields map[string]any)
}

// Summary is the result of one full cycle.
type Summary = pairs.RunResult

// progressLogger forwards every Event call to both the facade's configured
// Logger and a run-scoped progress callback, mirroring facade.py's
// temporary on_progress/emitter.cb swap without mutating shared state.
type progressLogger struct {
	base     driver.Logger
	progress func(event string, fields map[string]any)
}

func (p progressLogger) Event(name string, fields map[string]any) {
	if p.base != nil {
		p.base.Event(name, fields)
	}
	if p.progress != nil {
		p.progress(name, fields)
	}
}

func (p progressLogger) Debug(event string, fields map[string]any) {
	if p.base != nil {
		p.base.Debug(event, fields)
	}
}

func (p progressLogger) Info(msg string, fields map[string]any) {
	if p.base != nil {
		p.base.Info(msg, fields)
	}
}

// Run executes one full reconciliation cycle across every enabled pair,
// then, when opts.WriteStateJSON is set, rebuilds the watchlist wall and
// persists it.
func Run(ctx context.Context, cfg Config, opts RunOptions) (Summary, error) {
	runCfg := toPairsRunConfig(cfg, opts)

	result, err := pairs.Run(ctx, runCfg)
	if err != nil {
		return Summary{}, err
	}

	if opts.WriteStateJSON {
		if err := persistWall(cfg.Store); err != nil {
			return result, err
		}
	}
	return result, nil
}

// RunPair runs exactly one pair, ignoring every other pair in cfg.Pairs.
// Used for ad-hoc/CLI single-pair invocations.
func RunPair(ctx context.Context, cfg Config, pair pairs.PairSpec, opts RunOptions) (Summary, error) {
	single := cfg
	single.Pairs = []pairs.PairSpec{pair}
	if opts.OnlyFeature == "" {
		opts.OnlyFeature = pair.Feature
	}
	return Run(ctx, single, opts)
}

func toPairsRunConfig(cfg Config, opts RunOptions) pairs.RunConfig {
	flags := cfg.Flags
	if opts.DryRun {
		flags.DryRun = true
	}

	specs := cfg.Pairs
	if opts.OnlyFeature != "" {
		filtered := make([]pairs.PairSpec, 0, len(specs))
		for _, p := range specs {
			if p.Feature != "" && p.Feature != "multi" && p.Feature != opts.OnlyFeature {
				continue
			}
			if len(p.Features) > 0 {
				if fc, ok := p.Features[opts.OnlyFeature]; !ok || !fc.Enable {
					continue
				}
			}
			p.Feature = opts.OnlyFeature
			p.Features = nil
			filtered = append(filtered, p)
		}
		specs = filtered
	}

	log := cfg.Log
	if opts.Progress != nil {
		log = progressLogger{base: cfg.Log, progress: opts.Progress}
	}

	return pairs.RunConfig{
		Pairs:            specs,
		Registry:         cfg.Registry,
		Configs:          cfg.Configs,
		Store:            cfg.Store,
		Breakers:         cfg.Breakers,
		Log:              log,
		Flags:            flags,
		TombstoneTTLDays: cfg.TombstoneTTLDays,
		RateLowThreshold: cfg.RateLowThreshold,
	}
}

// persistWall rebuilds state.json's deduplicated watchlist wall from every
// provider's current watchlist baseline and stamps last_sync_epoch.
func persistWall(store *statestore.Store) error {
	state, err := store.LoadState()
	if err != nil {
		return err
	}

	seen := map[string]struct{}{}
	wall := make([]idmap.Item, 0)
	for _, features := range state.Providers {
		rec, ok := features["watchlist"]
		if !ok {
			continue
		}
		for _, item := range rec.Baseline.Items {
			key := idmap.CanonicalKey(item)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			wall = append(wall, item)
		}
	}
	state.Wall = wall
	now := time.Now().Unix()
	state.LastSyncEpoch = &now

	return store.SaveState(state)
}
