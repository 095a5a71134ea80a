package statestore

import (
	"fmt"
	"time"

	"github.com/mediasync/orchestrator/internal/atomicjson"
)

// Phantom file naming is deliberately directional ("{src}-{dst}", never
// sorted) unlike PairKey, because a phantom suppression on A->B tells us
// nothing about B->A: the guard exists to stop an item just removed from dst
// from bouncing straight back onto dst, which is a directional fact. See
// SPEC_FULL.md §13 OQ5.

// PhantomEntry records the last time a key was removed from the
// src->dst direction, so a rapid re-add can be suppressed as a bounce.
type PhantomEntry struct {
	RemovedAt int64 `json:"removed_at"`
}

// PhantomFile is the on-disk shape of a `{feature}.{src}-{dst}.phantoms.json`
// file.
type PhantomFile map[string]PhantomEntry

// LastSuccessFile is the on-disk shape of a
// `{feature}.{src}-{dst}.last_success.json` file: the epoch of the most
// recent successful apply in that direction, keyed by canonical key.
type LastSuccessFile map[string]int64

func (s *Store) phantomPath(feature, src, dst string) string {
	return s.statePath(fmt.Sprintf("%s.%s-%s.phantoms.json", feature, src, dst))
}

func (s *Store) lastSuccessPath(feature, src, dst string) string {
	return s.statePath(fmt.Sprintf("%s.%s-%s.last_success.json", feature, src, dst))
}

// LoadPhantoms returns the phantom-removal timestamps recorded for the
// src->dst direction of feature.
func (s *Store) LoadPhantoms(feature, src, dst string) (PhantomFile, error) {
	return atomicjson.ReadOrDefault(s.phantomPath(feature, src, dst), PhantomFile{})
}

// RecordPhantomRemovals timestamps every key in keys as just-removed in the
// src->dst direction, overwriting any prior timestamp.
func (s *Store) RecordPhantomRemovals(feature, src, dst string, keys []string, now time.Time) error {
	pf, err := s.LoadPhantoms(feature, src, dst)
	if err != nil {
		return err
	}
	ts := now.Unix()
	for _, k := range keys {
		pf[k] = PhantomEntry{RemovedAt: ts}
	}
	return atomicjson.WriteAtomic(s.phantomPath(feature, src, dst), pf)
}

// PrunePhantoms drops every phantom entry older than ttl.
func (s *Store) PrunePhantoms(feature, src, dst string, ttl time.Duration, now time.Time) error {
	pf, err := s.LoadPhantoms(feature, src, dst)
	if err != nil {
		return err
	}
	cutoff := now.Add(-ttl).Unix()
	changed := false
	for k, e := range pf {
		if e.RemovedAt < cutoff {
			delete(pf, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return atomicjson.WriteAtomic(s.phantomPath(feature, src, dst), pf)
}

// LoadLastSuccess returns the recorded last-success timestamps for the
// src->dst direction of feature.
func (s *Store) LoadLastSuccess(feature, src, dst string) (LastSuccessFile, error) {
	return atomicjson.ReadOrDefault(s.lastSuccessPath(feature, src, dst), LastSuccessFile{})
}

// RecordLastSuccess timestamps every key in keys as successfully applied in
// the src->dst direction.
func (s *Store) RecordLastSuccess(feature, src, dst string, keys []string, now time.Time) error {
	lf, err := s.LoadLastSuccess(feature, src, dst)
	if err != nil {
		return err
	}
	ts := now.Unix()
	for _, k := range keys {
		lf[k] = ts
	}
	return atomicjson.WriteAtomic(s.lastSuccessPath(feature, src, dst), lf)
}
