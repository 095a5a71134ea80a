package driver

import (
	"context"
	"fmt"
	"testing"

	"github.com/mediasync/orchestrator/internal/idmap"
	"github.com/mediasync/orchestrator/internal/provider"
	"github.com/mediasync/orchestrator/internal/statestore"
)

// testLogger discards every event; driver tests assert on return values and
// on-disk state, not on log output.
type testLogger struct{}

func (testLogger) Event(string, map[string]any) {}
func (testLogger) Debug(string, map[string]any) {}
func (testLogger) Info(string, map[string]any)  {}

// stubAdapter is an in-memory provider adapter double. Add/Remove always
// succeed for every item handed to them unless failKeys marks a canonical
// key to fail or unresolveKeys marks it unresolved.
type stubAdapter struct {
	name         string
	features     map[string]bool
	caps         map[string]any
	failKeys     map[string]struct{}
	unresolveKeys map[string]struct{}
	configured   bool
	health       provider.Health
}

func newStubAdapter(name string, features ...string) *stubAdapter {
	fm := map[string]bool{}
	for _, f := range features {
		fm[f] = true
	}
	return &stubAdapter{
		name: name, features: fm, configured: true,
		health: provider.Health{Status: provider.HealthOK},
		caps:   map[string]any{},
	}
}

func (s *stubAdapter) Name() string               { return s.name }
func (s *stubAdapter) Label() string               { return s.name }
func (s *stubAdapter) Features() map[string]bool   { return s.features }
func (s *stubAdapter) Capabilities() map[string]any { return s.caps }
func (s *stubAdapter) IsConfigured(provider.Config) bool { return s.configured }
func (s *stubAdapter) Health(context.Context, provider.Config) (provider.Health, error) {
	return s.health, nil
}

func (s *stubAdapter) BuildIndex(context.Context, provider.Config, string) (provider.BuildResult, error) {
	return provider.BuildResult{}, nil
}

func (s *stubAdapter) Add(ctx context.Context, cfg provider.Config, items []idmap.Item, feature string, dryRun bool) (provider.ApplyResult, error) {
	return s.apply(items), nil
}

func (s *stubAdapter) Remove(ctx context.Context, cfg provider.Config, items []idmap.Item, feature string, dryRun bool) (provider.ApplyResult, error) {
	return s.apply(items), nil
}

func (s *stubAdapter) apply(items []idmap.Item) provider.ApplyResult {
	var res provider.ApplyResult
	for _, it := range items {
		k := idmap.CanonicalKey(it)
		if _, fail := s.failKeys[k]; fail {
			res.Failed = append(res.Failed, it)
			continue
		}
		if _, unresolved := s.unresolveKeys[k]; unresolved {
			res.Unresolved = append(res.Unresolved, it)
			continue
		}
		res.Succeeded = append(res.Succeeded, it)
	}
	return res
}

func movie(title string, year int, imdb string) idmap.Item {
	return idmap.Item{Type: idmap.TypeMovie, Title: title, Year: year, IDs: map[string]string{"imdb": imdb}}
}

func items(prefix string, n int) map[string]idmap.Item {
	out := make(map[string]idmap.Item, n)
	for i := 0; i < n; i++ {
		it := movie(fmt.Sprintf("%s-%d", prefix, i), 2000+i, fmt.Sprintf("tt%s%04d", prefix, i))
		out[idmap.CanonicalKey(it)] = it
	}
	return out
}

func newTestDeps(t *testing.T, adapters ...*stubAdapter) Deps {
	t.Helper()
	reg := provider.NewRegistry()
	configs := map[string]provider.Config{}
	health := map[string]provider.Health{}
	for _, a := range adapters {
		reg.Register(a)
		configs[a.Name()] = provider.Config{}
		health[a.Name()] = a.health
	}
	store, err := statestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("statestore.New: %v", err)
	}
	return Deps{Registry: reg, Configs: configs, Store: store, Health: health, Log: testLogger{}}
}

func defaultFlags() Flags {
	return Flags{
		AllowMassDelete:        true,
		ApplyChunkSize:         50,
		Blackbox:               statestore.DefaultBlackboxConfig(),
		CrossFeatureUnresolved: false,
	}
}
