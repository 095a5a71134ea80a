package pairs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mediasync/orchestrator/internal/driver"
	"github.com/mediasync/orchestrator/internal/idmap"
	"github.com/mediasync/orchestrator/internal/provider"
	"github.com/mediasync/orchestrator/internal/statestore"
)

type testLogger struct{ events []string }

func (l *testLogger) Event(name string, fields map[string]any) { l.events = append(l.events, name) }
func (l *testLogger) Debug(string, map[string]any)              {}
func (l *testLogger) Info(string, map[string]any)                {}

type fakeAdapter struct {
	name     string
	features map[string]bool
	items    map[string]idmap.Item
	health   provider.Health
}

func newFakeAdapter(name string, items map[string]idmap.Item, features ...string) *fakeAdapter {
	fm := map[string]bool{}
	for _, f := range features {
		fm[f] = true
	}
	return &fakeAdapter{name: name, features: fm, items: items, health: provider.Health{Status: provider.HealthOK}}
}

func (a *fakeAdapter) Name() string                { return a.name }
func (a *fakeAdapter) Label() string                { return a.name }
func (a *fakeAdapter) Features() map[string]bool    { return a.features }
func (a *fakeAdapter) Capabilities() map[string]any { return map[string]any{} }
func (a *fakeAdapter) IsConfigured(provider.Config) bool { return true }
func (a *fakeAdapter) Health(context.Context, provider.Config) (provider.Health, error) {
	return a.health, nil
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

func TestRunOneWayPairAddsItemsToEmptyDestination(t *testing.T) {
	src := newFakeAdapter("SRC", map[string]idmap.Item{
		idmap.CanonicalKey(item("A", 2001, "tt1")): item("A", 2001, "tt1"),
		idmap.CanonicalKey(item("B", 2002, "tt2")): item("B", 2002, "tt2"),
	}, "watchlist")
	dst := newFakeAdapter("DST", map[string]idmap.Item{}, "watchlist")

	reg := provider.NewRegistry()
	reg.Register(src)
	reg.Register(dst)

	store, err := statestore.New(t.TempDir())
	require.NoError(t, err)

	log := &testLogger{}
	cfg := RunConfig{
		Pairs: []PairSpec{{
			Source: "SRC", Target: "DST", Enabled: true, Feature: "watchlist", Add: true, Remove: true,
		}},
		Registry: reg,
		Configs:  map[string]provider.Config{"SRC": {}, "DST": {}},
		Store:    store,
		Log:      log,
		Flags:    driver.Flags{AllowMassDelete: true, ApplyChunkSize: 50, Blackbox: statestore.DefaultBlackboxConfig()},
	}

	res, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, 2, res.Added)
	require.Equal(t, 0, res.Removed)
	require.Len(t, res.Outcomes, 1)
	require.Equal(t, "watchlist", res.Outcomes[0].Feature)
	require.Contains(t, log.events, "run:start")
	require.Contains(t, log.events, "run:done")

	state, err := store.LoadState()
	require.NoError(t, err)
	require.Len(t, state.ProviderFeature("DST", "watchlist").Baseline.Items, 2)
}

func TestRunSkipsPairWithAuthFailedSide(t *testing.T) {
	src := newFakeAdapter("SRC", map[string]idmap.Item{}, "watchlist")
	src.health = provider.Health{Status: provider.HealthAuthFailed}
	dst := newFakeAdapter("DST", map[string]idmap.Item{}, "watchlist")

	reg := provider.NewRegistry()
	reg.Register(src)
	reg.Register(dst)

	store, err := statestore.New(t.TempDir())
	require.NoError(t, err)

	cfg := RunConfig{
		Pairs:    []PairSpec{{Source: "SRC", Target: "DST", Enabled: true, Feature: "watchlist", Add: true, Remove: true}},
		Registry: reg,
		Configs:  map[string]provider.Config{"SRC": {}, "DST": {}},
		Store:    store,
		Log:      &testLogger{},
		Flags:    driver.Flags{AllowMassDelete: true, ApplyChunkSize: 50, Blackbox: statestore.DefaultBlackboxConfig()},
	}

	res, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, 0, res.Added)
	require.Len(t, res.Outcomes, 1)
	require.Equal(t, "auth_failed", res.Outcomes[0].Skipped)
}
