package facade

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mediasync/orchestrator/internal/driver"
	"github.com/mediasync/orchestrator/internal/idmap"
	"github.com/mediasync/orchestrator/internal/pairs"
	"github.com/mediasync/orchestrator/internal/provider"
	"github.com/mediasync/orchestrator/internal/statestore"
)

type fakeAdapter struct {
	name     string
	features map[string]bool
	items    map[string]idmap.Item
}

func newFakeAdapter(name string, items map[string]idmap.Item, features ...string) *fakeAdapter {
	fm := map[string]bool{}
	for _, f := range features {
		fm[f] = true
	}
	return &fakeAdapter{name: name, features: fm, items: items}
}

func (a *fakeAdapter) Name() string                      { return a.name }
func (a *fakeAdapter) Label() string                      { return a.name }
func (a *fakeAdapter) Features() map[string]bool          { return a.features }
func (a *fakeAdapter) Capabilities() map[string]any       { return map[string]any{} }
func (a *fakeAdapter) IsConfigured(provider.Config) bool  { return true }
func (a *fakeAdapter) Health(context.Context, provider.Config) (provider.Health, error) {
	return provider.Health{Status: provider.HealthOK}, nil
}
func (a *fakeAdapter) BuildIndex(context.Context, provider.Config, string) (provider.BuildResult, error) {
	return provider.BuildResult{Items: a.items}, nil
}
func (a *fakeAdapter) Add(ctx context.Context, cfg provider.Config, items []idmap.Item, feature string, dryRun bool) (provider.ApplyResult, error) {
	return provider.ApplyResult{Succeeded: items}, nil
}
func (a *fakeAdapter) Remove(ctx context.Context, cfg provider.Config, items []idmap.Item, feature string, dryRun bool) (provider.ApplyResult, error) {
	return provider.ApplyResult{Succeeded: items}, nil
}

func item(title string, year int, imdb string) idmap.Item {
	return idmap.Item{Type: idmap.TypeMovie, Title: title, Year: year, IDs: map[string]string{"imdb": imdb}}
}

func newTestConfig(t *testing.T, src, dst *fakeAdapter, spec pairs.PairSpec) Config {
	t.Helper()
	reg := provider.NewRegistry()
	reg.Register(src)
	reg.Register(dst)

	store, err := statestore.New(t.TempDir())
	require.NoError(t, err)

	return Config{
		Pairs:    []pairs.PairSpec{spec},
		Registry: reg,
		Configs:  map[string]provider.Config{"SRC": {}, "DST": {}},
		Store:    store,
		Flags:    driver.Flags{AllowMassDelete: true, ApplyChunkSize: 50, Blackbox: statestore.DefaultBlackboxConfig()},
	}
}

func TestRunPersistsWatchlistWall(t *testing.T) {
	src := newFakeAdapter("SRC", map[string]idmap.Item{
		idmap.CanonicalKey(item("A", 2001, "tt1")): item("A", 2001, "tt1"),
	}, "watchlist")
	dst := newFakeAdapter("DST", map[string]idmap.Item{}, "watchlist")

	cfg := newTestConfig(t, src, dst, pairs.PairSpec{
		Source: "SRC", Target: "DST", Enabled: true, Feature: "watchlist", Add: true, Remove: true,
	})

	var events []string
	res, err := Run(context.Background(), cfg, RunOptions{
		WriteStateJSON: true,
		Progress:       func(event string, fields map[string]any) { events = append(events, event) },
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Added)
	require.Contains(t, events, "run:start")
	require.Contains(t, events, "run:done")

	state, err := cfg.Store.LoadState()
	require.NoError(t, err)
	require.Len(t, state.Wall, 1)
	require.NotNil(t, state.LastSyncEpoch)
}

func TestRunPairRunsOnlyTheGivenPair(t *testing.T) {
	src := newFakeAdapter("SRC", map[string]idmap.Item{
		idmap.CanonicalKey(item("A", 2001, "tt1")): item("A", 2001, "tt1"),
	}, "watchlist", "ratings")
	dst := newFakeAdapter("DST", map[string]idmap.Item{}, "watchlist", "ratings")

	cfg := newTestConfig(t, src, dst, pairs.PairSpec{
		Source: "SRC", Target: "DST", Enabled: true, Feature: "multi",
		Features: map[string]driver.FeatureConfig{
			"watchlist": {Enable: true},
			"ratings":   {Enable: true},
		},
		Add: true, Remove: true,
	})

	res, err := RunPair(context.Background(), cfg, cfg.Pairs[0], RunOptions{OnlyFeature: "watchlist"})
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 1)
	require.Equal(t, "watchlist", res.Outcomes[0].Feature)
}
