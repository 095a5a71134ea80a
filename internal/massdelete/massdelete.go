// Package massdelete guards against applying a removal list so large,
// relative to the last known baseline, that it looks more like a provider
// outage or a bad snapshot than a genuine bulk unwatch/un-favorite.
package massdelete

import (
	"github.com/mediasync/orchestrator/internal/idmap"
)

// Logger is the narrow event-emission surface this package needs.
type Logger interface {
	Event(name string, fields map[string]any)
	Debug(event string, fields map[string]any)
}

const defaultSuspectRatio = 0.10

// MaybeBlock returns remList unchanged when allowMassDelete is set or the
// list is empty or within suspectRatio of baselineSize; otherwise it drops
// the entire removal list for this cycle and reports why. suspectRatio of
// zero or less falls back to 10%.
func MaybeBlock(remList []idmap.Item, baselineSize int, allowMassDelete bool, suspectRatio float64, dstName, feature string, log Logger) []idmap.Item {
	if allowMassDelete || len(remList) == 0 {
		return remList
	}

	ratio := suspectRatio
	if ratio <= 0 {
		ratio = defaultSuspectRatio
	}
	threshold := int(float64(baselineSize) * ratio)
	if threshold < 0 {
		threshold = 0
	}

	if len(remList) > threshold {
		if log != nil {
			fields := map[string]any{
				"dst": dstName, "feature": feature,
				"attempted": len(remList), "baseline": baselineSize, "threshold": threshold,
			}
			log.Event("mass_delete:blocked", fields)
			log.Debug("mass_delete.block", fields)
		}
		return nil
	}
	return remList
}
