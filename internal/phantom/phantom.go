// Package phantom suppresses a rapid re-add of an item that was just
// successfully pushed to a destination, the classic symptom of a round-trip
// bounce: a removal on the source provider takes a moment to show up in its
// own index, so the very next cycle sees it as "missing" and proposes adding
// it straight back.
package phantom

import (
	"time"

	"github.com/mediasync/orchestrator/internal/idmap"
	"github.com/mediasync/orchestrator/internal/statestore"
)

// Logger is the narrow event-emission surface this package needs.
type Logger interface {
	Debug(event string, fields map[string]any)
}

// Guard suppresses phantom re-adds for one feature in one src->dst
// direction. File naming under the guard is directional, never sorted,
// because a bounce on src->dst says nothing about dst->src. See
// SPEC_FULL.md §13 OQ5.
type Guard struct {
	store             *statestore.Store
	feature, src, dst string
	ttl               time.Duration
	enabled           bool
}

// NewGuard returns a Guard for (feature, src, dst). ttl of zero means
// last-success entries never expire on their own (they're still overwritten
// on every fresh success). When ttlDays is nil, TTL defaults to the
// blackbox cooldown period, matching the guard's role as a blackbox
// fast-path — see SPEC_FULL.md §13 OQ2.
func NewGuard(store *statestore.Store, feature, src, dst string, ttlDays *int, blackboxCooldownDays int, enabled bool) *Guard {
	days := blackboxCooldownDays
	if ttlDays != nil {
		days = *ttlDays
	}
	var ttl time.Duration
	if days > 0 {
		ttl = time.Duration(days) * 24 * time.Hour
	}
	return &Guard{store: store, feature: feature, src: src, dst: dst, ttl: ttl, enabled: enabled}
}

// FilterAdds removes from adds any item whose canonical key was either
// already recorded as a phantom bounce, or successfully applied in this
// direction within the guard's TTL window. Every blocked item is recorded
// back to the phantom file and promoted directly to the destination's
// blackbox with reason "phantom-replan". Returns the surviving adds and how
// many were blocked.
func (g *Guard) FilterAdds(adds []idmap.Item, pairKey string, log Logger) ([]idmap.Item, int, error) {
	if !g.enabled || len(adds) == 0 {
		return adds, 0, nil
	}

	now := time.Now()
	lastOk, err := g.store.LoadLastSuccess(g.feature, g.src, g.dst)
	if err != nil {
		return nil, 0, err
	}
	phantomFile, err := g.store.LoadPhantoms(g.feature, g.src, g.dst)
	if err != nil {
		return nil, 0, err
	}

	var cutoff int64
	if g.ttl > 0 {
		cutoff = now.Add(-g.ttl).Unix()
	}
	lastOkKeys := map[string]struct{}{}
	for k, ts := range lastOk {
		if g.ttl <= 0 || ts >= cutoff {
			lastOkKeys[k] = struct{}{}
		}
	}

	var keep, blocked []idmap.Item
	for _, it := range adds {
		k := idmap.CanonicalKey(it)
		_, inLastOk := lastOkKeys[k]
		_, inPhantomFile := phantomFile[k]
		if inLastOk || inPhantomFile {
			blocked = append(blocked, it)
		} else {
			keep = append(keep, it)
		}
	}
	if len(blocked) == 0 {
		return adds, 0, nil
	}

	blockedKeys := make([]string, 0, len(blocked))
	for _, it := range blocked {
		blockedKeys = append(blockedKeys, idmap.CanonicalKey(it))
	}
	if err := g.store.RecordPhantomRemovals(g.feature, g.src, g.dst, blockedKeys, now); err != nil {
		return nil, 0, err
	}
	for _, k := range blockedKeys {
		if err := g.store.PutBlackbox(g.dst, g.feature, k, "phantom-replan", pairKey); err != nil {
			return nil, 0, err
		}
	}

	if log != nil {
		log.Debug("blocked.counts", map[string]any{
			"feature":             "*",
			"dst":                 g.dst,
			"pair":                pairKey,
			"blocked_global_tomb": 0,
			"blocked_pair_tomb":   0,
			"blocked_unresolved":  0,
			"blocked_blackbox":    len(blocked),
			"blocked_total":       len(blocked),
		})
	}

	return keep, len(blocked), nil
}

// RecordSuccess timestamps every key in successfulKeys as successfully
// applied in this direction, feeding the next cycle's phantom check.
func (g *Guard) RecordSuccess(successfulKeys []string) error {
	if !g.enabled || len(successfulKeys) == 0 {
		return nil
	}
	return g.store.RecordLastSuccess(g.feature, g.src, g.dst, successfulKeys, time.Now())
}
