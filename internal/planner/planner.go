// Package planner computes the raw add/remove and upsert/unrate operation
// lists between two feature snapshots. It never touches state, tombstones, or
// provider adapters — it is pure set algebra over canonical keys plus a
// ratings-specific prefilter, ready for the blocklist and phantom guards to
// narrow further.
package planner

import (
	"strconv"
	"strings"
	"time"

	"github.com/mediasync/orchestrator/internal/idmap"
)

// Diff returns the items present in src but absent from dst ("add"), and the
// items present in dst but absent from src ("remove"), both indexed and
// returned as minimal items in source iteration order.
func Diff(src, dst map[string]idmap.Item) (add, remove []idmap.Item) {
	for k, v := range src {
		if _, ok := dst[k]; !ok {
			add = append(add, idmap.Minimal(v))
		}
	}
	for k, v := range dst {
		if _, ok := src[k]; !ok {
			remove = append(remove, idmap.Minimal(v))
		}
	}
	return add, remove
}

// DiffRatings returns the ratings that need upserting onto dst and the
// ratings that need clearing on dst, given src's ratings are authoritative.
// An upsert is emitted when dst lacks the key entirely, lacks a rating, or
// disagrees with src's rating; an unrate is emitted for every dst key rated
// but absent from src. When propagateTimestampUpdates is true, a rating that
// already agrees is still re-upserted when src's rated_at is strictly newer
// than dst's, letting a later re-rate at the same star value still push a
// fresh timestamp downstream.
func DiffRatings(src, dst map[string]idmap.Item, propagateTimestampUpdates bool) (upserts, unrates []idmap.Item) {
	for k, sv := range src {
		rs, ok := pickRating(sv)
		if !ok {
			continue
		}
		dv, hasDst := dst[k]
		if !hasDst {
			upserts = append(upserts, withRating(sv, rs))
			continue
		}
		rd, dstHasRating := pickRating(dv)
		if !dstHasRating || rd != rs {
			upserts = append(upserts, withRating(sv, rs))
			continue
		}
		if propagateTimestampUpdates {
			tsS, okS := tsEpoch(sv.RatedAt)
			tsD, okD := tsEpoch(dv.RatedAt)
			if okS && okD && tsS > tsD {
				upserts = append(upserts, withRating(sv, rs))
			}
		}
	}
	for k, dv := range dst {
		if _, ok := src[k]; ok {
			continue
		}
		if _, ok := pickRating(dv); ok {
			unrates = append(unrates, idmap.Minimal(dv))
		}
	}
	return upserts, unrates
}

func pickRating(it idmap.Item) (int, bool) {
	if !it.RatingSet {
		return 0, false
	}
	n := idmap.ClampRating(float64(it.Rating))
	if n == 0 {
		return 0, false
	}
	return n, true
}

func withRating(it idmap.Item, rating int) idmap.Item {
	out := idmap.Minimal(it)
	out.Rating = rating
	out.RatingSet = true
	return out
}

// tsEpoch best-effort parses a RatedAt value into a unix epoch, accepting
// either a bare integer (seconds, or milliseconds if 13+ digits) or an
// RFC3339 timestamp.
func tsEpoch(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if isAllDigits(s) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, false
		}
		if len(s) >= 13 {
			return n / 1000, true
		}
		return n, true
	}
	normalized := strings.Replace(s, "Z", "+00:00", 1)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05-07:00", "2006-01-02T15:04:05.999999999-07:00"} {
		if t, err := time.Parse(layout, normalized); err == nil {
			return t.UTC().Unix(), true
		}
	}
	return 0, false
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
