package blocklist

import (
	"testing"
	"time"

	"github.com/mediasync/orchestrator/internal/idmap"
	"github.com/mediasync/orchestrator/internal/statestore"
)

func newTestStore(t *testing.T) *statestore.Store {
	t.Helper()
	s, err := statestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestApplyBlocklistFiltersTombstoned(t *testing.T) {
	s := newTestStore(t)
	tb, err := s.LoadTombstones()
	if err != nil {
		t.Fatalf("LoadTombstones: %v", err)
	}
	tb.AddKeysForFeature("watchlist", map[string]struct{}{"imdb:tt1": {}}, "", time.Now())
	if err := s.SaveTombstones(tb); err != nil {
		t.Fatalf("SaveTombstones: %v", err)
	}

	items := []idmap.Item{
		{Type: idmap.TypeMovie, IDs: map[string]string{"imdb": "tt1"}},
		{Type: idmap.TypeMovie, IDs: map[string]string{"imdb": "tt2"}},
	}
	filtered, err := ApplyBlocklist(s, items, "TRAKT", "watchlist", "", true, nil)
	if err != nil {
		t.Fatalf("ApplyBlocklist: %v", err)
	}
	if len(filtered) != 1 || filtered[0].IDs["imdb"] != "tt2" {
		t.Fatalf("expected only tt2 to survive, got %+v", filtered)
	}
}

func TestApplyBlocklistFiltersUnresolvedAndBlackbox(t *testing.T) {
	s := newTestStore(t)
	if err := s.RecordUnresolved("TRAKT", "watchlist", []idmap.Item{
		{Type: idmap.TypeMovie, IDs: map[string]string{"imdb": "tt9"}},
	}, "ambiguous"); err != nil {
		t.Fatalf("RecordUnresolved: %v", err)
	}

	cfg := statestore.DefaultBlackboxConfig()
	now := time.Now()
	for i := 0; i < cfg.PromoteAfter; i++ {
		if _, err := s.IncFlap("TRAKT", "watchlist", "imdb:tt8", "timeout", "add", now); err != nil {
			t.Fatalf("IncFlap: %v", err)
		}
	}
	if _, _, err := s.MaybePromoteToBlackbox("TRAKT", "watchlist", "imdb:tt8", cfg, "", nil, now); err != nil {
		t.Fatalf("MaybePromoteToBlackbox: %v", err)
	}

	items := []idmap.Item{
		{Type: idmap.TypeMovie, IDs: map[string]string{"imdb": "tt9"}},
		{Type: idmap.TypeMovie, IDs: map[string]string{"imdb": "tt8"}},
		{Type: idmap.TypeMovie, IDs: map[string]string{"imdb": "tt7"}},
	}
	filtered, err := ApplyBlocklist(s, items, "TRAKT", "watchlist", "", true, nil)
	if err != nil {
		t.Fatalf("ApplyBlocklist: %v", err)
	}
	if len(filtered) != 1 || filtered[0].IDs["imdb"] != "tt7" {
		t.Fatalf("expected only tt7 to survive unresolved+blackbox filtering, got %+v", filtered)
	}
}

func TestCascadeRemovalsAddsTombstones(t *testing.T) {
	s := newTestStore(t)
	added, err := CascadeRemovals(s, "watchlist", []string{"imdb:tt1", "imdb:tt2"})
	if err != nil {
		t.Fatalf("CascadeRemovals: %v", err)
	}
	if added != 2 {
		t.Fatalf("expected 2 tombstones added, got %d", added)
	}
	tb, err := s.LoadTombstones()
	if err != nil {
		t.Fatalf("LoadTombstones: %v", err)
	}
	if len(tb.KeysForFeature("watchlist", "")) != 2 {
		t.Fatalf("expected 2 global tombstones, got %+v", tb.KeysForFeature("watchlist", ""))
	}
}

func TestCascadeRemovalsEmptyIsNoop(t *testing.T) {
	s := newTestStore(t)
	added, err := CascadeRemovals(s, "watchlist", nil)
	if err != nil {
		t.Fatalf("CascadeRemovals: %v", err)
	}
	if added != 0 {
		t.Fatalf("expected no-op for empty removed-keys list, got %d added", added)
	}
}

func TestBlockedKeysForDestinationUnion(t *testing.T) {
	s := newTestStore(t)
	tb, err := s.LoadTombstones()
	if err != nil {
		t.Fatalf("LoadTombstones: %v", err)
	}
	tb.AddKeysForFeature("watchlist", map[string]struct{}{"imdb:tt1": {}}, "PLEX-TRAKT", time.Now())
	if err := s.SaveTombstones(tb); err != nil {
		t.Fatalf("SaveTombstones: %v", err)
	}
	keys, err := BlockedKeysForDestination(s, "TRAKT", "watchlist", "PLEX-TRAKT", true)
	if err != nil {
		t.Fatalf("BlockedKeysForDestination: %v", err)
	}
	if _, ok := keys["imdb:tt1"]; !ok {
		t.Fatalf("expected pair-scoped tombstone present in union, got %+v", keys)
	}
}
