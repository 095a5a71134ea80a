package driver

import (
	"context"
	"strings"
	"time"

	"github.com/mediasync/orchestrator/internal/applier"
	"github.com/mediasync/orchestrator/internal/idmap"
	"github.com/mediasync/orchestrator/internal/phantom"
	"github.com/mediasync/orchestrator/internal/provider"
	"github.com/mediasync/orchestrator/internal/snapshot"
	"github.com/mediasync/orchestrator/internal/statestore"
)

// effectiveItems resolves the index a driver should plan against: the fresh
// build, unless the suspect-shrink guard is enabled and triggers, in which
// case the previous baseline is kept. Returns whether this cycle's build was
// judged suspect, so two-way's observed-deletion inference can suppress
// itself for that side.
func effectiveItems(flags Flags, caps map[string]any, prevItems, curItems map[string]idmap.Item, prevCheckpoint, curCheckpoint *string, providerName, feature string, log Logger) (map[string]idmap.Item, bool) {
	if !flags.DropGuard {
		return curItems, false
	}
	result, suspect, reason := snapshot.CoerceSuspectSnapshot(caps, prevItems, curItems, flags.SuspectMinPrev, flags.SuspectShrinkRatio, prevCheckpoint, curCheckpoint)
	if suspect && log != nil {
		log.Event("snapshot:suspect", map[string]any{"provider": providerName, "feature": feature, "reason": reason})
	}
	return result, suspect
}

// effectiveGates combines a pair's sync-level add/remove toggle with a
// feature-level override; a feature override of nil defers entirely to the
// pair-level toggle.
func effectiveGates(pairEnableAdd, pairEnableRemove bool, fc FeatureConfig) (addOK, removeOK bool) {
	addOK = pairEnableAdd
	if fc.Add != nil {
		addOK = addOK && *fc.Add
	}
	removeOK = pairEnableRemove
	if fc.Remove != nil {
		removeOK = removeOK && *fc.Remove
	}
	return addOK, removeOK
}

// canonicalKeys returns the canonical key of every item, in order.
func canonicalKeys(items []idmap.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, idmap.CanonicalKey(it))
	}
	return out
}

// canonicalKeySet is canonicalKeys as a set.
func canonicalKeySet(items []idmap.Item) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		out[idmap.CanonicalKey(it)] = struct{}{}
	}
	return out
}

// setDiff returns the keys present in a but not in b.
func setDiff(a, b map[string]struct{}) map[string]struct{} {
	out := map[string]struct{}{}
	for k := range a {
		if _, ok := b[k]; !ok {
			out[k] = struct{}{}
		}
	}
	return out
}

// itemsForKeys filters items to those whose canonical key is in keys.
func itemsForKeys(items []idmap.Item, keys []string) []idmap.Item {
	want := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}
	var out []idmap.Item
	for _, it := range items {
		if _, ok := want[idmap.CanonicalKey(it)]; ok {
			out = append(out, it)
		}
	}
	return out
}

// mergeBaseline applies a cycle's confirmed removals and adds on top of base,
// returning a new map; base itself is never mutated.
func mergeBaseline(base map[string]idmap.Item, removed, added []idmap.Item) map[string]idmap.Item {
	out := make(map[string]idmap.Item, len(base))
	for k, v := range base {
		out[k] = v
	}
	for _, it := range removed {
		delete(out, idmap.CanonicalKey(it))
	}
	for _, it := range added {
		out[idmap.CanonicalKey(it)] = idmap.Minimal(it)
	}
	return out
}

// tombstoneRemovedItems writes a tombstone for the canonical key and every
// alias token of each removed item, scoped globally to feature and, if
// pairKey is non-empty, also scoped to feature:pairKey.
func tombstoneRemovedItems(store *statestore.Store, feature, pairKey string, items []idmap.Item) error {
	if len(items) == 0 {
		return nil
	}
	tb, err := store.LoadTombstones()
	if err != nil {
		return err
	}
	keys := map[string]struct{}{}
	for _, it := range items {
		keys[idmap.CanonicalKey(it)] = struct{}{}
		for k := range idmap.KeysForItem(it) {
			keys[k] = struct{}{}
		}
	}
	tb.AddKeysForFeature(feature, keys, pairKey, time.Now())
	return store.SaveTombstones(tb)
}

// addCorrectionResult is the outcome of applyAddsWithCorrection.
type addCorrectionResult struct {
	Confirmed     []idmap.Item
	Effective     int
	NewUnresolved int
}

// applyAddsWithCorrection pushes adds onto dst via the applier, then
// reconciles the provider's own unresolved declaration against what was
// unresolved before the call: a newly-unresolved key without
// verify-after-write support zeroes the effective count for the whole call
// (strict pessimistic), per the applier's error-handling design. Every
// planned key not in the confirmed set is recorded as a flap attempt and
// re-queued as unresolved; every confirmed key resets its flap counter and
// feeds the phantom guard's last-success record for (src, dst).
func applyAddsWithCorrection(ctx context.Context, dep Deps, srcName, dstName, feature string, adds []idmap.Item, pairKey string, flags Flags) (addCorrectionResult, error) {
	if len(adds) == 0 {
		return addCorrectionResult{}, nil
	}
	dstU := strings.ToUpper(dstName)
	srcU := strings.ToUpper(srcName)
	adapterDst := dep.Registry.MustGet(dstU)
	cfg := dep.Configs[dstU]

	before, err := dep.Store.LoadUnresolvedKeys(dstU, feature, false)
	if err != nil {
		return addCorrectionResult{}, err
	}

	call := func(ctx context.Context, chunk []idmap.Item) (provider.ApplyResult, error) {
		return adapterDst.Add(ctx, cfg, chunk, feature, flags.DryRun)
	}
	chunkSize := applier.EffectiveChunkSize(flags.ApplyChunkSize, flags.ApplyChunkSizeByProvider, dstU)
	record := func(items []idmap.Item, hint string) error {
		return dep.Store.RecordUnresolved(dstU, feature, items, hint)
	}
	res, _ := applier.ApplyAdd(ctx, dstU, feature, adds, call, chunkSize, flags.ApplyChunkPause, dep.Log, record)

	after, err := dep.Store.LoadUnresolvedKeys(dstU, feature, false)
	if err != nil {
		return addCorrectionResult{}, err
	}
	newUnresolved := setDiff(after, before)

	verifySupported := provider.Bool(adapterDst.Capabilities(), provider.CapVerifyAfterWrite, false)

	var confirmed []idmap.Item
	switch {
	case flags.VerifyAfterWrite && verifySupported:
		for _, it := range res.Succeeded {
			if _, stillUnresolved := after[idmap.CanonicalKey(it)]; !stillUnresolved {
				confirmed = append(confirmed, it)
			}
		}
	case len(newUnresolved) > 0:
		confirmed = nil
		if dep.Log != nil {
			dep.Log.Event("apply:add:corrected", map[string]any{
				"dst": dstU, "feature": feature, "reported": len(res.Succeeded),
				"effective": 0, "new_unresolved": len(newUnresolved),
			})
		}
	default:
		confirmed = res.Succeeded
	}

	confirmedKeys := canonicalKeySet(confirmed)
	var failedKeys []string
	for _, it := range adds {
		k := idmap.CanonicalKey(it)
		if _, ok := confirmedKeys[k]; !ok {
			failedKeys = append(failedKeys, k)
		}
	}
	if len(failedKeys) > 0 {
		if _, _, err := dep.Store.RecordAttempts(dstU, feature, failedKeys, "apply_failed", "add", pairKey, flags.Blackbox, nil); err != nil {
			return addCorrectionResult{}, err
		}
		if err := dep.Store.RecordUnresolved(dstU, feature, itemsForKeys(adds, failedKeys), "apply:add:failed"); err != nil {
			return addCorrectionResult{}, err
		}
	}

	if len(confirmed) > 0 {
		confirmedKeyList := canonicalKeys(confirmed)
		if _, err := dep.Store.RecordSuccess(dstU, feature, confirmedKeyList); err != nil {
			return addCorrectionResult{}, err
		}
		guard := phantom.NewGuard(dep.Store, feature, srcU, dstU, flags.PhantomTTLDays, flags.Blackbox.CooldownDays, true)
		if err := guard.RecordSuccess(confirmedKeyList); err != nil {
			return addCorrectionResult{}, err
		}
	}

	return addCorrectionResult{Confirmed: confirmed, Effective: len(confirmed), NewUnresolved: len(newUnresolved)}, nil
}

// aliasIndex returns every canonical key and alias token reachable from
// items, for alias-aware presence checks against the opposing side.
func aliasIndex(items map[string]idmap.Item) map[string]struct{} {
	out := make(map[string]struct{}, len(items)*2)
	for k, it := range items {
		out[k] = struct{}{}
		for tok := range idmap.KeysForItem(it) {
			out[tok] = struct{}{}
		}
	}
	return out
}

// presentInAlias reports whether it is reachable in idx by its canonical key
// or any of its alias tokens.
func presentInAlias(idx map[string]struct{}, it idmap.Item) bool {
	if _, ok := idx[idmap.CanonicalKey(it)]; ok {
		return true
	}
	for tok := range idmap.KeysForItem(it) {
		if _, ok := idx[tok]; ok {
			return true
		}
	}
	return false
}

// missingKeys returns the canonical keys present in prev but absent from
// cur, empty when suspect (this cycle's build was judged unreliable and
// shouldn't be treated as evidence of real-world deletions).
func missingKeys(prev, cur map[string]idmap.Item, suspect bool) map[string]struct{} {
	out := map[string]struct{}{}
	if suspect {
		return out
	}
	for k := range prev {
		if _, ok := cur[k]; !ok {
			out[k] = struct{}{}
		}
	}
	return out
}

// recordObservedTombstones writes a global tombstone, expanded to alias
// tokens, for every canonical key in newlyObserved. The item used to find
// alias tokens is pulled from whichever previous baseline (A's or B's)
// still held it. No pair-scoped token is written; pair-scoped lookups still
// see these entries because KeysForFeature always includes global tokens.
func recordObservedTombstones(store *statestore.Store, feature string, newlyObserved map[string]struct{}, prevA, prevB map[string]idmap.Item) error {
	if len(newlyObserved) == 0 {
		return nil
	}
	tb, err := store.LoadTombstones()
	if err != nil {
		return err
	}
	keys := map[string]struct{}{}
	for k := range newlyObserved {
		keys[k] = struct{}{}
		it, ok := prevA[k]
		if !ok {
			it, ok = prevB[k]
		}
		if ok {
			for tok := range idmap.KeysForItem(it) {
				keys[tok] = struct{}{}
			}
		}
	}
	tb.AddKeysForFeature(feature, keys, "", time.Now())
	return store.SaveTombstones(tb)
}

// filterGenuine keeps only the items whose canonical key is in genuine
// (tombstoned or newly observed as deleted); during bootstrap every removal
// candidate is dropped outright.
func filterGenuine(items []idmap.Item, genuine map[string]struct{}, bootstrap bool) []idmap.Item {
	if bootstrap || len(items) == 0 {
		return nil
	}
	var out []idmap.Item
	for _, it := range items {
		if _, ok := genuine[idmap.CanonicalKey(it)]; ok {
			out = append(out, it)
		}
	}
	return out
}

// planNonRatings plans a two-way presence feature (watchlist, history,
// playlists): an item missing from the peer is either mirrored as a removal
// on its own side (when genuine marks it as a real deletion) or pushed to
// the peer as an add (otherwise). genuine is expected empty during
// bootstrap, which naturally routes every missing item to an add.
func planNonRatings(effA, effB map[string]idmap.Item, genuine map[string]struct{}) (addsToB, removeFromA, addsToA, removeFromB []idmap.Item) {
	aAliasIdx := aliasIndex(effA)
	bAliasIdx := aliasIndex(effB)

	for k, it := range effA {
		if presentInAlias(bAliasIdx, it) {
			continue
		}
		if _, ok := genuine[k]; ok {
			removeFromA = append(removeFromA, it)
		} else {
			addsToB = append(addsToB, it)
		}
	}
	for k, it := range effB {
		if presentInAlias(aAliasIdx, it) {
			continue
		}
		if _, ok := genuine[k]; ok {
			removeFromB = append(removeFromB, it)
		} else {
			addsToA = append(addsToA, it)
		}
	}
	return
}

// applyRemovalsWithTombstones pushes removes onto dst via the applier and,
// for every confirmed removal, writes tombstones (canonical + alias tokens)
// and records a phantom-removal timestamp in the (src, dst) direction so the
// very next plan doesn't immediately propose re-adding it to dst.
func applyRemovalsWithTombstones(ctx context.Context, dep Deps, srcName, dstName, feature string, removes []idmap.Item, pairKey string, flags Flags) (confirmed []idmap.Item, unresolvedCount int, err error) {
	if len(removes) == 0 {
		return nil, 0, nil
	}
	dstU := strings.ToUpper(dstName)
	srcU := strings.ToUpper(srcName)
	adapterDst := dep.Registry.MustGet(dstU)
	cfg := dep.Configs[dstU]

	call := func(ctx context.Context, chunk []idmap.Item) (provider.ApplyResult, error) {
		return adapterDst.Remove(ctx, cfg, chunk, feature, flags.DryRun)
	}
	chunkSize := applier.EffectiveChunkSize(flags.ApplyChunkSize, flags.ApplyChunkSizeByProvider, dstU)
	record := func(items []idmap.Item, hint string) error {
		return dep.Store.RecordUnresolved(dstU, feature, items, hint)
	}
	res, _ := applier.ApplyRemove(ctx, dstU, feature, removes, call, chunkSize, flags.ApplyChunkPause, dep.Log, record)

	if !flags.DryRun && len(res.Succeeded) > 0 {
		if err := tombstoneRemovedItems(dep.Store, feature, pairKey, res.Succeeded); err != nil {
			return nil, 0, err
		}
		if err := dep.Store.RecordPhantomRemovals(feature, srcU, dstU, canonicalKeys(res.Succeeded), time.Now()); err != nil {
			return nil, 0, err
		}
	}
	return res.Succeeded, len(res.Unresolved), nil
}
