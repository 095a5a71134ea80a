package massdelete

import (
	"testing"

	"github.com/mediasync/orchestrator/internal/idmap"
)

type recordingLogger struct {
	events []string
}

func (r *recordingLogger) Event(name string, fields map[string]any) { r.events = append(r.events, name) }
func (r *recordingLogger) Debug(event string, fields map[string]any) { r.events = append(r.events, event) }

func items(n int) []idmap.Item {
	out := make([]idmap.Item, n)
	for i := range out {
		out[i] = idmap.Item{Type: idmap.TypeMovie, Title: "x"}
	}
	return out
}

func TestMaybeBlockAllowsUnderThreshold(t *testing.T) {
	got := MaybeBlock(items(5), 100, false, 0.10, "TRAKT", "watchlist", nil)
	if len(got) != 5 {
		t.Fatalf("expected removals under threshold to pass, got %d", len(got))
	}
}

func TestMaybeBlockBlocksOverThreshold(t *testing.T) {
	log := &recordingLogger{}
	got := MaybeBlock(items(50), 100, false, 0.10, "TRAKT", "watchlist", log)
	if got != nil {
		t.Fatalf("expected removal list blocked entirely, got %+v", got)
	}
	if len(log.events) != 2 {
		t.Fatalf("expected both event and debug emitted, got %+v", log.events)
	}
}

func TestMaybeBlockAllowMassDeleteBypasses(t *testing.T) {
	got := MaybeBlock(items(90), 100, true, 0.10, "TRAKT", "watchlist", nil)
	if len(got) != 90 {
		t.Fatalf("expected allow_mass_delete to bypass the guard, got %d", len(got))
	}
}

func TestMaybeBlockDefaultRatioFallback(t *testing.T) {
	// ratio <= 0 falls back to 10%; 11 removals against a 100 baseline exceeds it.
	got := MaybeBlock(items(11), 100, false, 0, "TRAKT", "watchlist", nil)
	if got != nil {
		t.Fatalf("expected default 10%% ratio to block 11/100 removals, got %+v", got)
	}
}

func TestMaybeBlockEmptyListPassesThrough(t *testing.T) {
	got := MaybeBlock(nil, 100, false, 0.10, "TRAKT", "watchlist", nil)
	if got != nil {
		t.Fatalf("expected nil input to remain nil, got %+v", got)
	}
}
