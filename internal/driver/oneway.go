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
)

// OneWayInput is everything one (src, dst, feature) one-way cycle needs.
// SrcItems/DstItems are the freshly built (not yet suspect-corrected)
// indexes; PrevSrcItems/PrevDstItems are last cycle's effective baselines.
type OneWayInput struct {
	Src, Dst, Feature, PairKey string
	SrcItems, DstItems         map[string]idmap.Item
	PrevSrcItems, PrevDstItems map[string]idmap.Item
	SrcCheckpoint, DstCheckpoint,
	PrevSrcCheckpoint, PrevDstCheckpoint *string
	Ratings  bool
	FC       FeatureConfig
	PairAdd  bool
	PairRem  bool
}

// OneWayResult reports what a one-way cycle planned and actually confirmed.
type OneWayResult struct {
	Skipped       string // non-empty names why the cycle did nothing
	PlannedAdd    int
	PlannedRemove int
	ConfirmedAdd  int
	ConfirmedRem  int
	NewUnresolved int
	NewBaseline   map[string]idmap.Item // dst's effective items after this cycle
}

// RunOneWay reconciles dst to look like src for one feature, gating on
// adapter health and feature/capability support, applying the suspect-shrink
// guard, diffing, filtering through the blocklist/mass-delete/phantom
// guards, and finally pushing removals then adds.
func RunOneWay(ctx context.Context, dep Deps, flags Flags, in OneWayInput) (OneWayResult, error) {
	srcU, dstU := strings.ToUpper(in.Src), strings.ToUpper(in.Dst)

	adapterSrc := dep.Registry.MustGet(srcU)
	adapterDst := dep.Registry.MustGet(dstU)

	if !adapterSrc.Features()[in.Feature] || !adapterDst.Features()[in.Feature] {
		return OneWayResult{Skipped: "feature_unsupported"}, nil
	}
	if in.Ratings && !provider.Bool(adapterDst.Capabilities(), provider.CapRatingsSupported, false) {
		return OneWayResult{Skipped: "ratings_unsupported"}, nil
	}

	if h, ok := dep.Health[srcU]; ok && (h.Status == provider.HealthAuthFailed || h.Status == provider.HealthDown) {
		return OneWayResult{Skipped: "src_unhealthy:" + string(h.Status)}, nil
	}
	if h, ok := dep.Health[dstU]; ok && h.Status == provider.HealthAuthFailed {
		return OneWayResult{Skipped: "dst_unhealthy:" + string(h.Status)}, nil
	}
	dstWritesSkipped := false
	if h, ok := dep.Health[dstU]; ok && h.Status == provider.HealthDown {
		dstWritesSkipped = true
	}

	addOK, removeOK := effectiveGates(in.PairAdd, in.PairRem, in.FC)

	srcEff, _ := effectiveItems(flags, adapterSrc.Capabilities(), in.PrevSrcItems, in.SrcItems, in.PrevSrcCheckpoint, in.SrcCheckpoint, srcU, in.Feature, dep.Log)
	dstEff, _ := effectiveItems(flags, adapterDst.Capabilities(), in.PrevDstItems, in.DstItems, in.PrevDstCheckpoint, in.DstCheckpoint, dstU, in.Feature, dep.Log)

	var adds, removes []idmap.Item
	if in.Ratings {
		adds, removes = planner.DiffRatings(srcEff, dstEff, flags.PropagateTimestampUpdates)
	} else {
		adds, removes = planner.Diff(srcEff, dstEff)
	}

	result := OneWayResult{PlannedAdd: len(adds), PlannedRemove: len(removes), NewBaseline: dstEff}

	if dstWritesSkipped {
		result.Skipped = "dst_down:writes_skipped"
		return result, nil
	}

	if !addOK {
		adds = nil
	}
	if !removeOK {
		removes = nil
	}

	if len(removes) > 0 {
		removes = massdelete.MaybeBlock(removes, len(dstEff), flags.AllowMassDelete, flags.SuspectShrinkRatio, dstU, in.Feature, dep.Log)
	}

	if len(adds) > 0 {
		filtered, err := blocklist.ApplyBlocklist(dep.Store, adds, dstU, in.Feature, in.PairKey, flags.CrossFeatureUnresolved, dep.Log)
		if err != nil {
			return OneWayResult{}, err
		}
		adds = filtered

		guard := phantom.NewGuard(dep.Store, in.Feature, srcU, dstU, flags.PhantomTTLDays, flags.Blackbox.CooldownDays, true)
		adds, _, err = guard.FilterAdds(adds, in.PairKey, dep.Log)
		if err != nil {
			return OneWayResult{}, err
		}
	}

	var confirmedRemoved []idmap.Item
	if len(removes) > 0 && !flags.DryRun {
		cr, _, err := applyRemovalsWithTombstones(ctx, dep, srcU, dstU, in.Feature, removes, in.PairKey, flags)
		if err != nil {
			return OneWayResult{}, err
		}
		confirmedRemoved = cr
	} else if flags.DryRun {
		confirmedRemoved = removes
	}

	var confirmedAdded []idmap.Item
	if len(adds) > 0 && !flags.DryRun {
		cr, err := applyAddsWithCorrection(ctx, dep, srcU, dstU, in.Feature, adds, in.PairKey, flags)
		if err != nil {
			return OneWayResult{}, err
		}
		confirmedAdded = cr.Confirmed
		result.NewUnresolved = cr.NewUnresolved
	} else if flags.DryRun {
		confirmedAdded = adds
	}

	result.ConfirmedAdd = len(confirmedAdded)
	result.ConfirmedRem = len(confirmedRemoved)
	result.NewBaseline = mergeBaseline(dstEff, confirmedRemoved, confirmedAdded)

	if dep.Log != nil {
		dep.Log.Event("oneway:done", map[string]any{
			"src": srcU, "dst": dstU, "feature": in.Feature,
			"planned_add": result.PlannedAdd, "planned_remove": result.PlannedRemove,
			"confirmed_add": result.ConfirmedAdd, "confirmed_remove": result.ConfirmedRem,
		})
	}
	return result, nil
}
