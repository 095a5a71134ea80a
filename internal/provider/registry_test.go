package provider

import (
	"context"
	"testing"

	"github.com/mediasync/orchestrator/internal/idmap"
)

type stubAdapter struct {
	name     string
	features map[string]bool
}

func (s *stubAdapter) Name() string                { return s.name }
func (s *stubAdapter) Label() string                { return s.name }
func (s *stubAdapter) Features() map[string]bool    { return s.features }
func (s *stubAdapter) Capabilities() map[string]any { return nil }
func (s *stubAdapter) IsConfigured(cfg Config) bool { return true }
func (s *stubAdapter) Health(ctx context.Context, cfg Config) (Health, error) {
	return Health{Status: HealthOK}, nil
}
func (s *stubAdapter) BuildIndex(ctx context.Context, cfg Config, feature string) (BuildResult, error) {
	return BuildResult{Items: map[string]idmap.Item{}}, nil
}
func (s *stubAdapter) Add(ctx context.Context, cfg Config, items []idmap.Item, feature string, dryRun bool) (ApplyResult, error) {
	return ApplyResult{Succeeded: items}, nil
}
func (s *stubAdapter) Remove(ctx context.Context, cfg Config, items []idmap.Item, feature string, dryRun bool) (ApplyResult, error) {
	return ApplyResult{Succeeded: items}, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubAdapter{name: "trakt", features: map[string]bool{"watchlist": true}})

	a, ok := r.Get("TRAKT")
	if !ok {
		t.Fatalf("expected TRAKT to be registered")
	}
	if a.Name() != "trakt" {
		t.Fatalf("unexpected adapter returned: %+v", a)
	}
	if !r.SupportsFeature("trakt", "watchlist") {
		t.Fatalf("expected watchlist support")
	}
	if r.SupportsFeature("trakt", "ratings") {
		t.Fatalf("did not expect ratings support")
	}
	if r.SupportsFeature("missing", "watchlist") {
		t.Fatalf("unregistered provider must report no feature support")
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubAdapter{name: "trakt"})
	r.Register(&stubAdapter{name: "plex"})
	names := r.Names()
	if len(names) != 2 || names[0] != "PLEX" || names[1] != "TRAKT" {
		t.Fatalf("expected sorted upper-cased names, got %+v", names)
	}
}

func TestMustGetPanicsOnMissing(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for missing adapter")
		}
	}()
	NewRegistry().MustGet("nope")
}
