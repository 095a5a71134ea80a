package snapshot

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/mediasync/orchestrator/internal/idmap"
	"github.com/mediasync/orchestrator/internal/provider"
)

// PairConfig is the minimal view of a configured sync pair the snapshot
// builder needs to know which providers are actually in play for a feature.
type PairConfig struct {
	Source   string
	Target   string
	Enabled  bool
	Features map[string]bool
}

// AllowedProvidersForFeature returns the set of upper-cased provider names
// that appear as a source or target of an enabled pair with feature turned
// on. An empty result means "no restriction" to the caller only when no
// pairs are configured at all; callers that got pairs but an empty set
// should build nothing.
func AllowedProvidersForFeature(pairs []PairConfig, feature string) map[string]struct{} {
	allowed := map[string]struct{}{}
	for _, p := range pairs {
		if !p.Enabled {
			continue
		}
		if !p.Features[feature] {
			continue
		}
		if s := strings.ToUpper(strings.TrimSpace(p.Source)); s != "" {
			allowed[s] = struct{}{}
		}
		if t := strings.ToUpper(strings.TrimSpace(p.Target)); t != "" {
			allowed[t] = struct{}{}
		}
	}
	return allowed
}

// Logger is the narrow event-emission surface this package needs, satisfied
// by the obslog wrapper without creating an import cycle.
type Logger interface {
	Debug(event string, fields map[string]any)
	Info(msg string, fields map[string]any)
}

// Snapshot is one provider's reconciled feature index plus the checkpoint
// hint it reported, ready for the planner.
type Snapshot struct {
	Items      map[string]idmap.Item
	Checkpoint *string
	Degraded   bool
}

// BuildSnapshotsForFeature builds (or serves memoized) snapshots for feature
// across every configured, feature-enabled provider. isConfigured lets the
// caller defer to its own config validation instead of this package knowing
// about provider credentials.
func BuildSnapshotsForFeature(
	ctx context.Context,
	feature string,
	registry *provider.Registry,
	configs map[string]provider.Config,
	pairs []PairConfig,
	cache *Cache[Snapshot],
	ttl time.Duration,
	isConfigured func(name string) bool,
	log Logger,
) map[string]Snapshot {
	out := map[string]Snapshot{}
	allowed := AllowedProvidersForFeature(pairs, feature)

	for _, name := range registry.Names() {
		a, _ := registry.Get(name)
		if !a.Features()[feature] {
			continue
		}
		if len(allowed) > 0 {
			if _, ok := allowed[name]; !ok {
				continue
			}
		}
		if isConfigured != nil && !isConfigured(name) {
			continue
		}

		memoKey := name + "|" + feature
		if ttl > 0 && cache != nil {
			if snap, ok := cache.Get(memoKey); ok {
				out[name] = snap
				if log != nil {
					log.Debug("snapshot.memo", map[string]any{"provider": name, "feature": feature, "count": len(snap.Items)})
				}
				continue
			}
		}

		cfg := configs[name]
		degraded := false
		res, err := a.BuildIndex(ctx, cfg, feature)
		if err != nil {
			if log != nil {
				log.Info("snapshot build failed", map[string]any{"provider": name, "feature": feature, "error": err.Error()})
				log.Debug("provider.degraded", map[string]any{"provider": name, "feature": feature})
			}
			degraded = true
			res = provider.BuildResult{Items: map[string]idmap.Item{}}
		}
		if res.Items == nil {
			res.Items = map[string]idmap.Item{}
		}
		snap := Snapshot{Items: res.Items, Checkpoint: res.Checkpoint, Degraded: degraded}
		out[name] = snap

		if ttl > 0 && cache != nil {
			if degraded || len(snap.Items) == 0 {
				if log != nil {
					log.Debug("snapshot.no_cache_empty", map[string]any{"provider": name, "feature": feature, "degraded": degraded})
				}
			} else {
				cache.SetTTL(memoKey, snap, ttl)
			}
		}
		if log != nil {
			log.Debug("snapshot", map[string]any{"provider": name, "feature": feature, "count": len(snap.Items)})
		}
	}
	return out
}

// CoerceSuspectSnapshot implements the suspect-shrink guard: when a
// provider's index semantics are "present" (a full-state snapshot, not a
// delta feed) and the current build is both drastically smaller than the
// previous one and shows no checkpoint progress, the previous index is kept
// instead, so a transient provider outage can't masquerade as mass removal.
func CoerceSuspectSnapshot(
	capabilities map[string]any,
	prevItems, curItems map[string]idmap.Item,
	suspectMinPrev int,
	suspectShrinkRatio float64,
	prevCheckpoint, nowCheckpoint *string,
) (result map[string]idmap.Item, suspect bool, reason string) {
	semantics := "present"
	if capabilities != nil {
		if v, ok := capabilities[provider.CapIndexSemantics]; ok {
			if s, ok := v.(string); ok && s != "" {
				semantics = s
			}
		}
	}
	if strings.ToLower(semantics) != "present" {
		return cloneItems(curItems), false, "semantics:delta"
	}

	prevCount, curCount := len(prevItems), len(curItems)
	if prevCount < suspectMinPrev {
		return cloneItems(curItems), false, "baseline:tiny"
	}

	shrinkLimit := int(float64(prevCount) * suspectShrinkRatio)
	if shrinkLimit < 1 {
		shrinkLimit = 1
	}
	shrunk := curCount == 0 || curCount <= shrinkLimit
	if !shrunk {
		return cloneItems(curItems), false, "ok"
	}

	prevTs := parseCheckpointTs(prevCheckpoint)
	nowTs := parseCheckpointTs(nowCheckpoint)
	noProgress := (prevTs != nil && nowTs != nil && *nowTs <= *prevTs) ||
		(prevTs != nil && nowTs == nil) ||
		(prevCheckpoint != nil && nowCheckpoint != nil && *prevCheckpoint != "" && *prevCheckpoint == *nowCheckpoint)

	if noProgress {
		return cloneItems(prevItems), true, "suspect:no-progress+shrunk"
	}
	return cloneItems(curItems), false, "progressed"
}

func cloneItems(items map[string]idmap.Item) map[string]idmap.Item {
	out := make(map[string]idmap.Item, len(items))
	for k, v := range items {
		out[k] = v
	}
	return out
}

// parseCheckpointTs best-effort parses a checkpoint hint into a unix epoch,
// accepting either a bare integer or an RFC3339 timestamp.
func parseCheckpointTs(v *string) *int64 {
	if v == nil || *v == "" {
		return nil
	}
	s := strings.TrimSpace(*v)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &n
	}
	normalized := strings.Replace(s, " ", "T", 1)
	if !strings.HasSuffix(normalized, "Z") && !strings.Contains(normalized, "+") {
		normalized += "Z"
	}
	if t, err := time.Parse(time.RFC3339, normalized); err == nil {
		ts := t.Unix()
		return &ts
	}
	return nil
}
