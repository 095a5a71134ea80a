package driver

import (
	"context"
	"strings"

	"github.com/mediasync/orchestrator/internal/blocklist"
	"github.com/mediasync/orchestrator/internal/idmap"
	"github.com/mediasync/orchestrator/internal/massdelete"
	"github.com/mediasync/orchestrator/internal/phantom"
	"github.com/mediasync/orchestrator/internal/planner"
	"github.com/mediasync/orchestrator/internal/provider"
	"github.com/mediasync/orchestrator/internal/statestore"
)

// TwoWayInput is everything one (A, B, feature) two-way cycle needs. A and B
// are unordered in principle but the caller picks a consistent order so
// tombstone writes stay deterministic; PairKey must be statestore.PairKey(A,B).
type TwoWayInput struct {
	A, B, Feature, PairKey string
	AItems, BItems         map[string]idmap.Item
	PrevAItems, PrevBItems map[string]idmap.Item
	ACheckpoint, BCheckpoint,
	PrevACheckpoint, PrevBCheckpoint *string
	Ratings bool
	FC      FeatureConfig
	PairAdd bool
	PairRem bool
}

// TwoWayResult reports what a two-way cycle planned and confirmed in each
// direction, plus the resulting baselines for both sides.
type TwoWayResult struct {
	Skipped          string
	PlannedAddToB    int
	PlannedAddToA    int
	PlannedRemFromA  int
	PlannedRemFromB  int
	ConfirmedAddToB  int
	ConfirmedAddToA  int
	ConfirmedRemA    int
	ConfirmedRemB    int
	NewBaselineA     map[string]idmap.Item
	NewBaselineB     map[string]idmap.Item
}

// RunTwoWay converges A and B for one feature: it infers genuine deletions
// from tombstones and freshly observed disappearances, then either plans
// rating upserts/unrates or presence adds/removals, applying each direction
// through the same blocklist/mass-delete/phantom/applier pipeline one-way
// uses.
func RunTwoWay(ctx context.Context, dep Deps, flags Flags, in TwoWayInput) (TwoWayResult, error) {
	aU, bU := strings.ToUpper(in.A), strings.ToUpper(in.B)
	pairKey := in.PairKey
	if pairKey == "" {
		pairKey = statestore.PairKey(aU, bU)
	}

	adapterA := dep.Registry.MustGet(aU)
	adapterB := dep.Registry.MustGet(bU)

	if !adapterA.Features()[in.Feature] || !adapterB.Features()[in.Feature] {
		return TwoWayResult{Skipped: "feature_unsupported"}, nil
	}
	if in.Ratings {
		if !provider.Bool(adapterA.Capabilities(), provider.CapRatingsSupported, false) ||
			!provider.Bool(adapterB.Capabilities(), provider.CapRatingsSupported, false) {
			return TwoWayResult{Skipped: "ratings_unsupported"}, nil
		}
	}

	for _, name := range []string{aU, bU} {
		if h, ok := dep.Health[name]; ok && h.Status == provider.HealthAuthFailed {
			return TwoWayResult{Skipped: name + "_unhealthy:auth_failed"}, nil
		}
	}
	downA := dep.Health[aU].Status == provider.HealthDown
	downB := dep.Health[bU].Status == provider.HealthDown

	addOK, removeOK := effectiveGates(in.PairAdd, in.PairRem, in.FC)

	effA, suspectA := effectiveItems(flags, adapterA.Capabilities(), in.PrevAItems, in.AItems, in.PrevACheckpoint, in.ACheckpoint, aU, in.Feature, dep.Log)
	effB, suspectB := effectiveItems(flags, adapterB.Capabilities(), in.PrevBItems, in.BItems, in.PrevBCheckpoint, in.BCheckpoint, bU, in.Feature, dep.Log)

	result := TwoWayResult{NewBaselineA: effA, NewBaselineB: effB}

	tb, err := dep.Store.LoadTombstones()
	if err != nil {
		return TwoWayResult{}, err
	}
	tombKeys := tb.KeysForFeature(in.Feature, pairKey)

	bootstrap := len(in.PrevAItems) == 0 && len(in.PrevBItems) == 0 && len(tombKeys) == 0

	genuine := map[string]struct{}{}
	for k := range tombKeys {
		genuine[k] = struct{}{}
	}
	observedOK := flags.IncludeObservedDeletes && !downA && !downB &&
		provider.Bool(adapterA.Capabilities(), provider.CapObservedDeletes, true) &&
		provider.Bool(adapterB.Capabilities(), provider.CapObservedDeletes, true)
	if !bootstrap && observedOK {
		obsA := missingKeys(in.PrevAItems, effA, suspectA)
		obsB := missingKeys(in.PrevBItems, effB, suspectB)
		newly := map[string]struct{}{}
		for k := range obsA {
			if _, tombed := genuine[k]; !tombed {
				newly[k] = struct{}{}
			}
		}
		for k := range obsB {
			if _, tombed := genuine[k]; !tombed {
				newly[k] = struct{}{}
			}
		}
		if len(newly) > 0 {
			if err := recordObservedTombstones(dep.Store, in.Feature, newly, in.PrevAItems, in.PrevBItems); err != nil {
				return TwoWayResult{}, err
			}
			for k := range newly {
				genuine[k] = struct{}{}
			}
		}
	}

	var addsToB, addsToA, remFromA, remFromB []idmap.Item
	if in.Ratings {
		upsertsToB, unratesOnB := planner.DiffRatings(effA, effB, flags.PropagateTimestampUpdates)
		upsertsToA, unratesOnA := planner.DiffRatings(effB, effA, flags.PropagateTimestampUpdates)
		addsToB = upsertsToB
		addsToA = upsertsToA
		remFromA = filterGenuine(unratesOnA, genuine, bootstrap)
		remFromB = filterGenuine(unratesOnB, genuine, bootstrap)
	} else {
		addsToB, remFromA, addsToA, remFromB = planNonRatings(effA, effB, genuine)
		if bootstrap {
			remFromA, remFromB = nil, nil
		}
	}

	result.PlannedAddToB, result.PlannedAddToA = len(addsToB), len(addsToA)
	result.PlannedRemFromA, result.PlannedRemFromB = len(remFromA), len(remFromB)

	if !addOK {
		addsToB, addsToA = nil, nil
	}
	if !removeOK {
		remFromA, remFromB = nil, nil
	}
	if downA {
		addsToA, remFromA = nil, nil
	}
	if downB {
		addsToB, remFromB = nil, nil
	}

	if len(remFromA) > 0 {
		remFromA = massdelete.MaybeBlock(remFromA, len(effA), flags.AllowMassDelete, flags.SuspectShrinkRatio, aU, in.Feature, dep.Log)
	}
	if len(remFromB) > 0 {
		remFromB = massdelete.MaybeBlock(remFromB, len(effB), flags.AllowMassDelete, flags.SuspectShrinkRatio, bU, in.Feature, dep.Log)
	}

	addsToB, err = gateAndFilterAdds(dep, flags, addsToB, bU, aU, in.Feature, pairKey)
	if err != nil {
		return TwoWayResult{}, err
	}
	addsToA, err = gateAndFilterAdds(dep, flags, addsToA, aU, bU, in.Feature, pairKey)
	if err != nil {
		return TwoWayResult{}, err
	}

	var confirmedRemA, confirmedRemB, confirmedAddB, confirmedAddA []idmap.Item
	if flags.DryRun {
		confirmedRemA, confirmedRemB, confirmedAddB, confirmedAddA = remFromA, remFromB, addsToB, addsToA
	} else {
		if len(remFromA) > 0 {
			confirmedRemA, _, err = applyRemovalsWithTombstones(ctx, dep, bU, aU, in.Feature, remFromA, pairKey, flags)
			if err != nil {
				return TwoWayResult{}, err
			}
		}
		if len(remFromB) > 0 {
			confirmedRemB, _, err = applyRemovalsWithTombstones(ctx, dep, aU, bU, in.Feature, remFromB, pairKey, flags)
			if err != nil {
				return TwoWayResult{}, err
			}
		}
		if len(addsToB) > 0 {
			cr, err := applyAddsWithCorrection(ctx, dep, aU, bU, in.Feature, addsToB, pairKey, flags)
			if err != nil {
				return TwoWayResult{}, err
			}
			confirmedAddB = cr.Confirmed
		}
		if len(addsToA) > 0 {
			cr, err := applyAddsWithCorrection(ctx, dep, bU, aU, in.Feature, addsToA, pairKey, flags)
			if err != nil {
				return TwoWayResult{}, err
			}
			confirmedAddA = cr.Confirmed
		}
	}

	result.ConfirmedRemA = len(confirmedRemA)
	result.ConfirmedRemB = len(confirmedRemB)
	result.ConfirmedAddToB = len(confirmedAddB)
	result.ConfirmedAddToA = len(confirmedAddA)
	result.NewBaselineA = mergeBaseline(effA, confirmedRemA, confirmedAddA)
	result.NewBaselineB = mergeBaseline(effB, confirmedRemB, confirmedAddB)

	if dep.Log != nil {
		dep.Log.Event("twoway:done", map[string]any{
			"a": aU, "b": bU, "feature": in.Feature, "bootstrap": bootstrap,
			"confirmed_add_b": result.ConfirmedAddToB, "confirmed_add_a": result.ConfirmedAddToA,
			"confirmed_rem_a": result.ConfirmedRemA, "confirmed_rem_b": result.ConfirmedRemB,
		})
	}
	return result, nil
}

// gateAndFilterAdds runs the blocklist and phantom-bounce guard against a
// candidate add list bound for dst, sourced from src.
func gateAndFilterAdds(dep Deps, flags Flags, adds []idmap.Item, dst, src, feature, pairKey string) ([]idmap.Item, error) {
	if len(adds) == 0 {
		return adds, nil
	}
	filtered, err := blocklist.ApplyBlocklist(dep.Store, adds, dst, feature, pairKey, flags.CrossFeatureUnresolved, dep.Log)
	if err != nil {
		return nil, err
	}
	guard := phantom.NewGuard(dep.Store, feature, src, dst, flags.PhantomTTLDays, flags.Blackbox.CooldownDays, true)
	kept, _, err := guard.FilterAdds(filtered, pairKey, dep.Log)
	if err != nil {
		return nil, err
	}
	return kept, nil
}
