package statestore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mediasync/orchestrator/internal/idmap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	st := NewState()
	st.SetProviderFeature("trakt", "watchlist", FeatureRecord{
		Baseline: Baseline{Items: map[string]idmap.Item{"imdb:tt1": {Type: idmap.TypeMovie, Title: "X"}}},
	})
	if err := s.SaveState(st); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	got, err := s.LoadState()
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	rec := got.ProviderFeature("trakt", "watchlist")
	if _, ok := rec.Baseline.Items["imdb:tt1"]; !ok {
		t.Fatalf("expected round-tripped item, got %+v", rec)
	}
}

func TestLoadStateMissingReturnsDefault(t *testing.T) {
	s := newTestStore(t)
	st, err := s.LoadState()
	if err != nil {
		t.Fatalf("LoadState on missing file: %v", err)
	}
	if st.Providers == nil || len(st.Providers) != 0 {
		t.Fatalf("expected empty default state, got %+v", st)
	}
}

func TestTombstonesAddPruneFilter(t *testing.T) {
	tb := NewTombstones()
	now := time.Now()
	keys := map[string]struct{}{"imdb:tt1": {}, "imdb:tt2": {}}
	added := tb.AddKeysForFeature("watchlist", keys, "PLEX-TRAKT", now)
	if added != 4 {
		t.Fatalf("expected 4 tokens added (2 global + 2 pair), got %d", added)
	}
	added2 := tb.AddKeysForFeature("watchlist", keys, "PLEX-TRAKT", now)
	if added2 != 0 {
		t.Fatalf("expected no new tokens on second add, got %d", added2)
	}

	scoped := tb.KeysForFeature("watchlist", "PLEX-TRAKT")
	if _, ok := scoped["imdb:tt1"]; !ok {
		t.Fatalf("expected imdb:tt1 in scoped keys: %+v", scoped)
	}

	items := []idmap.Item{
		{Type: idmap.TypeMovie, IDs: map[string]string{"imdb": "tt1"}},
		{Type: idmap.TypeMovie, IDs: map[string]string{"imdb": "tt9"}},
	}
	filtered := FilterWith(tb, items, nil)
	if len(filtered) != 1 || filtered[0].IDs["imdb"] != "tt9" {
		t.Fatalf("expected only tt9 to survive filtering, got %+v", filtered)
	}

	tb.Prune(-1*time.Second, now.Add(time.Hour))
	if len(tb.Keys) != 0 {
		t.Fatalf("expected all tokens pruned, got %d remaining", len(tb.Keys))
	}
}

func TestPairKeyIsSorted(t *testing.T) {
	if PairKey("trakt", "plex") != PairKey("plex", "trakt") {
		t.Fatalf("PairKey must be symmetric regardless of argument order")
	}
	if got := PairKey("trakt", "plex"); got != "PLEX-TRAKT" {
		t.Fatalf("expected sorted upper-cased pair key, got %q", got)
	}
}

func TestRecordUnresolvedWritesBothFiles(t *testing.T) {
	s := newTestStore(t)
	items := []idmap.Item{{Type: idmap.TypeMovie, IDs: map[string]string{"imdb": "tt5"}}}
	if err := s.RecordUnresolved("trakt", "watchlist", items, "ambiguous"); err != nil {
		t.Fatalf("RecordUnresolved: %v", err)
	}
	keys, err := s.LoadUnresolvedKeys("trakt", "watchlist", false)
	if err != nil {
		t.Fatalf("LoadUnresolvedKeys: %v", err)
	}
	if _, ok := keys["imdb:tt5"]; !ok {
		t.Fatalf("expected key to be immediately visible via committed file, got %+v", keys)
	}
}

func TestLoadUnresolvedMapCrossFeatures(t *testing.T) {
	s := newTestStore(t)
	a := []idmap.Item{{Type: idmap.TypeMovie, IDs: map[string]string{"imdb": "tt1"}}}
	b := []idmap.Item{{Type: idmap.TypeShow, IDs: map[string]string{"imdb": "tt2"}}}
	if err := s.RecordUnresolved("trakt", "watchlist", a, "r1"); err != nil {
		t.Fatalf("RecordUnresolved watchlist: %v", err)
	}
	if err := s.RecordUnresolved("trakt", "ratings", b, "r2"); err != nil {
		t.Fatalf("RecordUnresolved ratings: %v", err)
	}
	m, err := s.LoadUnresolvedMap("trakt", "", true)
	if err != nil {
		t.Fatalf("LoadUnresolvedMap: %v", err)
	}
	if len(m) != 2 {
		t.Fatalf("expected union across features to have 2 keys, got %+v", m)
	}
}

func TestFlapCounterIncAndReset(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	n, err := s.IncFlap("trakt", "watchlist", "imdb:tt1", "timeout", "add", now)
	if err != nil {
		t.Fatalf("IncFlap: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected count 1, got %d", n)
	}
	n, err = s.IncFlap("trakt", "watchlist", "imdb:tt1", "timeout", "add", now)
	if err != nil {
		t.Fatalf("IncFlap: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected count 2, got %d", n)
	}
	if err := s.ResetFlap("trakt", "watchlist", "imdb:tt1", now); err != nil {
		t.Fatalf("ResetFlap: %v", err)
	}
	counters, err := s.LoadFlapCounters("trakt", "watchlist")
	if err != nil {
		t.Fatalf("LoadFlapCounters: %v", err)
	}
	if counters["imdb:tt1"].Consecutive != 0 {
		t.Fatalf("expected consecutive reset to 0, got %+v", counters["imdb:tt1"])
	}
}

func TestMaybePromoteToBlackboxAfterThreshold(t *testing.T) {
	s := newTestStore(t)
	cfg := DefaultBlackboxConfig()
	now := time.Now()
	for i := 0; i < cfg.PromoteAfter; i++ {
		if _, err := s.IncFlap("trakt", "watchlist", "imdb:tt1", "timeout", "add", now); err != nil {
			t.Fatalf("IncFlap: %v", err)
		}
	}
	promoted, reason, err := s.MaybePromoteToBlackbox("trakt", "watchlist", "imdb:tt1", cfg, "", nil, now)
	if err != nil {
		t.Fatalf("MaybePromoteToBlackbox: %v", err)
	}
	if !promoted {
		t.Fatalf("expected promotion after %d consecutive failures", cfg.PromoteAfter)
	}
	if reason == "" {
		t.Fatalf("expected non-empty promotion reason")
	}
	keys, err := s.LoadBlackboxKeys("trakt", "watchlist", cfg.PairScoped, "")
	if err != nil {
		t.Fatalf("LoadBlackboxKeys: %v", err)
	}
	if _, ok := keys["imdb:tt1"]; !ok {
		t.Fatalf("expected key present in global blackbox, got %+v", keys)
	}
}

func TestPruneBlackboxRemovesStaleEntries(t *testing.T) {
	s := newTestStore(t)
	cfg := DefaultBlackboxConfig()
	past := time.Now().Add(-60 * 24 * time.Hour)
	if err := s.promote("trakt", "watchlist", "imdb:tt1", "flapper", past.Unix(), ""); err != nil {
		t.Fatalf("promote: %v", err)
	}
	scanned, removed, err := PruneBlackbox(s.StateDir(), cfg.CooldownDays)
	if err != nil {
		t.Fatalf("PruneBlackbox: %v", err)
	}
	if scanned != 1 || removed != 1 {
		t.Fatalf("expected 1 scanned/1 removed, got scanned=%d removed=%d", scanned, removed)
	}
	keys, err := s.LoadBlackboxKeys("trakt", "watchlist", true, "")
	if err != nil {
		t.Fatalf("LoadBlackboxKeys: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected blackbox emptied after prune, got %+v", keys)
	}
}

func TestPhantomRecordAndPrune(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	if err := s.RecordPhantomRemovals("watchlist", "plex", "trakt", []string{"imdb:tt1"}, now); err != nil {
		t.Fatalf("RecordPhantomRemovals: %v", err)
	}
	pf, err := s.LoadPhantoms("watchlist", "plex", "trakt")
	if err != nil {
		t.Fatalf("LoadPhantoms: %v", err)
	}
	if _, ok := pf["imdb:tt1"]; !ok {
		t.Fatalf("expected phantom entry recorded, got %+v", pf)
	}
	if err := s.PrunePhantoms("watchlist", "plex", "trakt", -1*time.Second, now.Add(time.Hour)); err != nil {
		t.Fatalf("PrunePhantoms: %v", err)
	}
	pf, err = s.LoadPhantoms("watchlist", "plex", "trakt")
	if err != nil {
		t.Fatalf("LoadPhantoms after prune: %v", err)
	}
	if len(pf) != 0 {
		t.Fatalf("expected phantom entries pruned, got %+v", pf)
	}
}

func TestPhantomDirectionalNaming(t *testing.T) {
	s := newTestStore(t)
	forward := s.phantomPath("watchlist", "plex", "trakt")
	backward := s.phantomPath("watchlist", "trakt", "plex")
	if forward == backward {
		t.Fatalf("expected directional phantom file names to differ: %s vs %s", forward, backward)
	}
	if filepath.Base(forward) != "watchlist.plex-trakt.phantoms.json" {
		t.Fatalf("unexpected phantom file name: %s", filepath.Base(forward))
	}
}
