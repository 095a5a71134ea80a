// Package applier pushes planned adds and removals to a destination
// adapter in fixed-size chunks, retrying each chunk with exponential
// backoff and counting only confirmed successes toward its result —
// never a count the adapter merely claims.
package applier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mediasync/orchestrator/internal/idmap"
	"github.com/mediasync/orchestrator/internal/provider"
)

// Logger is the narrow event-emission surface this package needs.
type Logger interface {
	Event(name string, fields map[string]any)
	Debug(event string, fields map[string]any)
}

// RecordUnresolvedFunc persists adapter-declared unresolved items for a
// later blocklist pass; callers thread through statestore.Store.RecordUnresolved.
type RecordUnresolvedFunc func(items []idmap.Item, hint string) error

// CallFunc invokes the adapter's Add or Remove for one chunk.
type CallFunc func(ctx context.Context, items []idmap.Item) (provider.ApplyResult, error)

// Result is the outcome of an ApplyAdd or ApplyRemove call. Succeeded/Failed/
// Unresolved are the aggregated item lists across every chunk, in the order
// the adapter returned them; Count and UnresolvedCount are always
// len(Succeeded)/len(Unresolved) and are kept as a convenience for callers
// that only need the tallies.
type Result struct {
	OK              bool
	Count           int
	UnresolvedCount int
	Succeeded       []idmap.Item
	Failed          []idmap.Item
	Unresolved      []idmap.Item
}

// EffectiveChunkSize resolves the chunk size to use for providerName: the
// per-provider override if present and positive (case-insensitive key
// match), else base.
func EffectiveChunkSize(base int, byProvider map[string]int, providerName string) int {
	if len(byProvider) == 0 {
		return base
	}
	key := strings.ToUpper(strings.TrimSpace(providerName))
	for k, v := range byProvider {
		if strings.ToUpper(k) == key && v > 0 {
			return v
		}
	}
	return base
}

// ApplyAdd pushes items to dst in chunks via call (expected to invoke the
// adapter's Add), emitting apply:add:start/progress/done events.
func ApplyAdd(ctx context.Context, dst, feature string, items []idmap.Item, call CallFunc, chunkSize int, chunkPause time.Duration, log Logger, recordUnresolved RecordUnresolvedFunc) (Result, error) {
	if log != nil {
		log.Event("apply:add:start", map[string]any{"dst": dst, "feature": feature, "count": len(items)})
	}
	res, err := applyChunked(ctx, "apply:add", dst, feature, items, call, chunkSize, chunkPause, log, recordUnresolved)
	if log != nil {
		log.Event("apply:add:done", map[string]any{"dst": dst, "feature": feature, "count": res.Count})
	}
	return res, err
}

// ApplyRemove pushes items to dst in chunks via call (expected to invoke the
// adapter's Remove), emitting apply:remove:start/progress/done events.
func ApplyRemove(ctx context.Context, dst, feature string, items []idmap.Item, call CallFunc, chunkSize int, chunkPause time.Duration, log Logger, recordUnresolved RecordUnresolvedFunc) (Result, error) {
	if log != nil {
		log.Event("apply:remove:start", map[string]any{"dst": dst, "feature": feature, "count": len(items)})
	}
	res, err := applyChunked(ctx, "apply:remove", dst, feature, items, call, chunkSize, chunkPause, log, recordUnresolved)
	if log != nil {
		log.Event("apply:remove:done", map[string]any{"dst": dst, "feature": feature, "count": res.Count})
	}
	return res, err
}

func applyChunked(ctx context.Context, tag, dst, feature string, items []idmap.Item, call CallFunc, chunkSize int, chunkPause time.Duration, log Logger, recordUnresolved RecordUnresolvedFunc) (Result, error) {
	total := len(items)
	if total == 0 {
		return Result{OK: true}, nil
	}

	if chunkSize <= 0 || total <= chunkSize {
		res, err := retryCall(ctx, call, items)
		if err != nil {
			return Result{OK: false}, fmt.Errorf("%s: %w", tag, err)
		}
		handleUnresolved(tag, dst, feature, res.Unresolved, log, recordUnresolved)
		return Result{
			OK: true, Count: len(res.Succeeded), UnresolvedCount: len(res.Unresolved),
			Succeeded: res.Succeeded, Failed: res.Failed, Unresolved: res.Unresolved,
		}, nil
	}

	done := 0
	var succeeded, failed, unresolved []idmap.Item
	anySucceeded := false

	for i := 0; i < total; i += chunkSize {
		end := i + chunkSize
		if end > total {
			end = total
		}
		chunk := items[i:end]

		res, err := retryCall(ctx, call, chunk)
		ok := err == nil
		if ok {
			anySucceeded = true
			succeeded = append(succeeded, res.Succeeded...)
			failed = append(failed, res.Failed...)
			unresolved = append(unresolved, res.Unresolved...)
			handleUnresolved(tag, dst, feature, res.Unresolved, log, recordUnresolved)
		} else {
			failed = append(failed, chunk...)
		}
		done += len(chunk)

		if log != nil {
			log.Event(tag+":progress", map[string]any{"dst": dst, "feature": feature, "done": done, "total": total, "ok": ok})
		}

		if ctx.Err() != nil {
			break
		}
		if chunkPause > 0 && end < total {
			select {
			case <-time.After(chunkPause):
			case <-ctx.Done():
			}
		}
	}

	result := Result{
		Count: len(succeeded), UnresolvedCount: len(unresolved),
		Succeeded: succeeded, Failed: failed, Unresolved: unresolved,
	}
	if !anySucceeded {
		return result, fmt.Errorf("%s: %w", tag, ErrAllAttemptsFailed)
	}
	result.OK = true
	return result, nil
}

func handleUnresolved(tag, dst, feature string, unresolved []idmap.Item, log Logger, recordUnresolved RecordUnresolvedFunc) {
	if len(unresolved) == 0 {
		return
	}
	if log != nil {
		log.Event("apply:unresolved", map[string]any{"provider": dst, "feature": feature, "count": len(unresolved)})
	}
	if recordUnresolved != nil {
		_ = recordUnresolved(unresolved, tag+":provider_unresolved")
	}
}

func retryCall(ctx context.Context, call CallFunc, items []idmap.Item) (provider.ApplyResult, error) {
	var res provider.ApplyResult
	err := withRetry(ctx, func() error {
		r, e := call(ctx, items)
		res = r
		return e
	})
	return res, err
}
