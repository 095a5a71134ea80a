// Package blocklist unions every reason an item should not be pushed to a
// destination again this cycle — global and pair-scoped tombstones,
// committed unresolved keys, and blackboxed keys — and filters a
// candidate item list against that union.
package blocklist

import (
	"time"

	"github.com/mediasync/orchestrator/internal/idmap"
	"github.com/mediasync/orchestrator/internal/statestore"
)

// Logger is the narrow event-emission surface this package needs.
type Logger interface {
	Debug(event string, fields map[string]any)
}

// breakdown is the four independent blocked-key sources, kept separate so
// callers can log per-source counts the way the original diagnostic output
// does.
type breakdown struct {
	globalTomb map[string]int64
	pairTomb   map[string]int64
	unresolved map[string]struct{}
	blackbox   map[string]struct{}
}

func loadBreakdown(store *statestore.Store, dst, feature, pairKey string, crossFeatureUnresolved bool) (breakdown, error) {
	tb, err := store.LoadTombstones()
	if err != nil {
		return breakdown{}, err
	}
	global := tb.KeysForFeature(feature, "")
	combined := tb.KeysForFeature(feature, pairKey)
	pairOnly := map[string]int64{}
	for k, ts := range combined {
		if _, ok := global[k]; !ok {
			pairOnly[k] = ts
		}
	}

	unresolved, err := store.LoadUnresolvedKeys(dst, feature, crossFeatureUnresolved)
	if err != nil {
		return breakdown{}, err
	}
	blackbox, err := store.LoadBlackboxKeys(dst, feature, true, pairKey)
	if err != nil {
		return breakdown{}, err
	}

	return breakdown{globalTomb: global, pairTomb: pairOnly, unresolved: unresolved, blackbox: blackbox}, nil
}

func (b breakdown) union() map[string]struct{} {
	out := make(map[string]struct{}, len(b.globalTomb)+len(b.pairTomb)+len(b.unresolved)+len(b.blackbox))
	for k := range b.globalTomb {
		out[k] = struct{}{}
	}
	for k := range b.pairTomb {
		out[k] = struct{}{}
	}
	for k := range b.unresolved {
		out[k] = struct{}{}
	}
	for k := range b.blackbox {
		out[k] = struct{}{}
	}
	return out
}

// BlockedKeysForDestination returns the union of every blocked key for
// (dst, feature, pairKey).
func BlockedKeysForDestination(store *statestore.Store, dst, feature, pairKey string, crossFeatureUnresolved bool) (map[string]struct{}, error) {
	b, err := loadBreakdown(store, dst, feature, pairKey, crossFeatureUnresolved)
	if err != nil {
		return nil, err
	}
	return b.union(), nil
}

// ApplyBlocklist filters items, dropping any whose canonical or alias key is
// tombstoned (globally or pair-scoped), unresolved, or blackboxed for dst.
func ApplyBlocklist(store *statestore.Store, items []idmap.Item, dst, feature, pairKey string, crossFeatureUnresolved bool, log Logger) ([]idmap.Item, error) {
	b, err := loadBreakdown(store, dst, feature, pairKey, crossFeatureUnresolved)
	if err != nil {
		return nil, err
	}
	block := b.union()

	if log != nil {
		log.Debug("blocked.counts", map[string]any{
			"feature":             feature,
			"dst":                 dst,
			"pair":                pairKey,
			"blocked_global_tomb": len(b.globalTomb),
			"blocked_pair_tomb":   len(b.pairTomb),
			"blocked_unresolved":  len(b.unresolved),
			"blocked_blackbox":    len(b.blackbox),
			"blocked_total":       len(block),
		})
	}

	tb, err := store.LoadTombstones()
	if err != nil {
		return nil, err
	}
	return statestore.FilterWith(tb, items, block), nil
}

// CascadeRemovals writes a tombstone for every key in removedKeys, scoped
// globally to feature, and saves the tombstone file. In this orchestrator
// the pair runner calls it at most once per run, with a nil removedKeys
// list, after clearing the watchlist-hide file when watchlist ran; with no
// keys it only loads and re-saves the tombstone file — see SPEC_FULL.md §13
// OQ4: the per-removal tombstone write already happens in the driver's
// removal step, so this call never duplicates it.
func CascadeRemovals(store *statestore.Store, feature string, removedKeys []string) (int, error) {
	tb, err := store.LoadTombstones()
	if err != nil {
		return 0, err
	}
	keys := make(map[string]struct{}, len(removedKeys))
	for _, k := range removedKeys {
		keys[k] = struct{}{}
	}
	added := tb.AddKeysForFeature(feature, keys, "", time.Now())
	if err := store.SaveTombstones(tb); err != nil {
		return 0, err
	}
	return added, nil
}
