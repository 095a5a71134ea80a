package statestore

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mediasync/orchestrator/internal/idmap"
)

// PairKey returns the canonical, always-sorted pair key used for every
// tombstone token and blocklist lookup: the upper-cased provider names,
// sorted, joined by "-". Phantom/last-success file naming is deliberately
// directional instead and does not use this function — see SPEC_FULL.md §13.
func PairKey(a, b string) string {
	pair := []string{strings.ToUpper(a), strings.ToUpper(b)}
	sort.Strings(pair)
	return pair[0] + "-" + pair[1]
}

func globalToken(feature, key string) string { return feature + "|" + key }
func pairToken(feature, pairKey, key string) string {
	return fmt.Sprintf("%s:%s|%s", feature, pairKey, key)
}

// AddKeysForFeature writes a tombstone for every key in keys, scoped globally
// to feature and, if pairKey is non-empty, also scoped to feature:pairKey. An
// existing timestamp for a token is never overwritten. Returns the number of
// new tokens written.
func (tb *Tombstones) AddKeysForFeature(feature string, keys map[string]struct{}, pairKey string, now time.Time) int {
	if tb.Keys == nil {
		tb.Keys = map[string]int64{}
	}
	ts := now.Unix()
	added := 0
	for k := range keys {
		if setIfAbsent(tb.Keys, globalToken(feature, k), ts) {
			added++
		}
		if pairKey != "" {
			if setIfAbsent(tb.Keys, pairToken(feature, pairKey, k), ts) {
				added++
			}
		}
	}
	return added
}

func setIfAbsent(m map[string]int64, key string, val int64) bool {
	if _, ok := m[key]; ok {
		return false
	}
	m[key] = val
	return true
}

// KeysForFeature returns every tombstoned key (token prefix stripped) scoped
// to feature, and, if pairKey is non-empty, also pair-scoped to it.
func (tb *Tombstones) KeysForFeature(feature, pairKey string) map[string]int64 {
	out := map[string]int64{}
	gp := feature + "|"
	var pp string
	if pairKey != "" {
		pp = feature + ":" + pairKey + "|"
	}
	for token, ts := range tb.Keys {
		if strings.HasPrefix(token, gp) {
			out[strings.TrimPrefix(token, gp)] = ts
			continue
		}
		if pp != "" && strings.HasPrefix(token, pp) {
			out[strings.TrimPrefix(token, pp)] = ts
		}
	}
	return out
}

// Prune removes every tombstone entry older than olderThan and records the
// prune time.
func (tb *Tombstones) Prune(olderThan time.Duration, now time.Time) {
	cutoff := now.Add(-olderThan).Unix()
	for k, ts := range tb.Keys {
		if ts < cutoff {
			delete(tb.Keys, k)
		}
	}
	prunedAt := now.Unix()
	tb.PrunedAt = &prunedAt
}

// baseKeySet strips any "prefix|" from every stored token, yielding
// the raw set of blocked canonical/alias keys regardless of scope.
func (tb *Tombstones) baseKeySet() map[string]struct{} {
	out := map[string]struct{}{}
	for token := range tb.Keys {
		if idx := strings.Index(token, "|"); idx >= 0 {
			out[token[idx+1:]] = struct{}{}
		} else {
			out[token] = struct{}{}
		}
	}
	return out
}

// FilterWith drops every item from items whose canonical key, any alias key,
// or plain title/year fallback is present in the tombstone store or in
// extraBlock.
func FilterWith(tb Tombstones, items []idmap.Item, extraBlock map[string]struct{}) []idmap.Item {
	base := tb.baseKeySet()
	for k := range extraBlock {
		base[k] = struct{}{}
	}
	out := make([]idmap.Item, 0, len(items))
	for _, it := range items {
		if isBlocked(it, base) {
			continue
		}
		out = append(out, it)
	}
	return out
}

func isBlocked(it idmap.Item, block map[string]struct{}) bool {
	if _, ok := block[idmap.CanonicalKey(it)]; ok {
		return true
	}
	for k := range idmap.KeysForItem(it) {
		if _, ok := block[k]; ok {
			return true
		}
	}
	return false
}
