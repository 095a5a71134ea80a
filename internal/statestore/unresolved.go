package statestore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mediasync/orchestrator/internal/atomicjson"
	"github.com/mediasync/orchestrator/internal/idmap"
)

// UnresolvedHint annotates why a key could not be confirmed and when.
type UnresolvedHint struct {
	Reason string `json:"reason"`
	Ts     int64  `json:"ts"`
}

// UnresolvedFile is the on-disk shape of both the pending and committed
// unresolved files for a (target, feature) pair.
type UnresolvedFile struct {
	Keys  []string                   `json:"keys"`
	Items map[string]idmap.Item      `json:"items"`
	Hints map[string]UnresolvedHint  `json:"hints"`
}

func newUnresolvedFile() UnresolvedFile {
	return UnresolvedFile{Items: map[string]idmap.Item{}, Hints: map[string]UnresolvedHint{}}
}

func (f *UnresolvedFile) add(key string, item idmap.Item, hint string, now time.Time) {
	found := false
	for _, k := range f.Keys {
		if k == key {
			found = true
			break
		}
	}
	if !found {
		f.Keys = append(f.Keys, key)
	}
	if f.Items == nil {
		f.Items = map[string]idmap.Item{}
	}
	f.Items[key] = item
	if f.Hints == nil {
		f.Hints = map[string]UnresolvedHint{}
	}
	f.Hints[key] = UnresolvedHint{Reason: hint, Ts: now.Unix()}
}

func (s *Store) unresolvedPendingPath(dst, feature string) string {
	return s.statePath(fmt.Sprintf("%s_%s.unresolved.pending.json", dst, feature))
}

func (s *Store) unresolvedCommittedPath(dst, feature string) string {
	return s.statePath(fmt.Sprintf("%s_%s.unresolved.json", dst, feature))
}

// RecordUnresolved appends items to the pending unresolved file for
// (dst, feature) and, per SPEC_FULL.md §13 OQ6, commits the same write to the
// committed file in the same call so orchestrator-originated corrections are
// visible to the very next blocklist computation in this cycle.
func (s *Store) RecordUnresolved(dst, feature string, items []idmap.Item, hint string) error {
	now := time.Now()
	pendingPath := s.unresolvedPendingPath(dst, feature)
	pending, err := atomicjson.ReadOrDefault(pendingPath, newUnresolvedFile())
	if err != nil {
		return err
	}
	committedPath := s.unresolvedCommittedPath(dst, feature)
	committed, err := atomicjson.ReadOrDefault(committedPath, newUnresolvedFile())
	if err != nil {
		return err
	}
	for _, it := range items {
		key := idmap.CanonicalKey(it)
		pending.add(key, it, hint, now)
		committed.add(key, it, hint, now)
	}
	if err := atomicjson.WriteAtomic(pendingPath, pending); err != nil {
		return err
	}
	return atomicjson.WriteAtomic(committedPath, committed)
}

// CommitUnresolved merges the pending file for (dst, feature) into the committed file.
// Exposed for an external writer (e.g. a future provider adapter) that wrote
// only to the pending file and now wants those keys to count toward
// blocklists; the orchestrator's own RecordUnresolved does not need it.
func (s *Store) CommitUnresolved(dst, feature string) error {
	pendingPath := s.unresolvedPendingPath(dst, feature)
	pending, err := atomicjson.ReadOrDefault(pendingPath, newUnresolvedFile())
	if err != nil {
		return err
	}
	committedPath := s.unresolvedCommittedPath(dst, feature)
	committed, err := atomicjson.ReadOrDefault(committedPath, newUnresolvedFile())
	if err != nil {
		return err
	}
	now := time.Now()
	for _, key := range pending.Keys {
		committed.add(key, pending.Items[key], pending.Hints[key].Reason, now)
	}
	return atomicjson.WriteAtomic(committedPath, committed)
}

// LoadUnresolvedKeys returns the committed unresolved key set for dst. When
// feature is empty or crossFeatures is true, it unions every committed file
// for dst across all features.
func (s *Store) LoadUnresolvedKeys(dst, feature string, crossFeatures bool) (map[string]struct{}, error) {
	m, err := s.LoadUnresolvedMap(dst, feature, crossFeatures)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out, nil
}

// LoadUnresolvedMap returns the committed unresolved entries for dst, keyed by
// canonical key, unioned across features when crossFeatures is true.
func (s *Store) LoadUnresolvedMap(dst, feature string, crossFeatures bool) (map[string]UnresolvedHint, error) {
	out := map[string]UnresolvedHint{}
	if !crossFeatures && feature != "" {
		f, err := atomicjson.ReadOrDefault(s.unresolvedCommittedPath(dst, feature), newUnresolvedFile())
		if err != nil {
			return nil, err
		}
		for _, k := range f.Keys {
			out[k] = f.Hints[k]
		}
		return out, nil
	}

	prefix := dst + "_"
	suffix := ".unresolved.json"
	entries, err := os.ReadDir(s.StateDir())
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		f, err := atomicjson.ReadOrDefault(filepath.Join(s.StateDir(), name), newUnresolvedFile())
		if err != nil {
			continue
		}
		for _, k := range f.Keys {
			out[k] = f.Hints[k]
		}
	}
	return out, nil
}
