package statestore

import (
	"os"
	"path/filepath"

	"github.com/mediasync/orchestrator/internal/atomicjson"
)

// Store resolves the well-known file paths under a base directory and loads
// and saves the documents at them, atomically.
type Store struct {
	BasePath string
}

// New returns a Store rooted at basePath, creating the directory if absent.
func New(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &Store{BasePath: basePath}, nil
}

func (s *Store) path(name string) string { return filepath.Join(s.BasePath, name) }

// StateDir is the directory holding per-provider/pair cache files
// (unresolved, blackbox, flap counters, phantoms, last-success).
func (s *Store) StateDir() string { return filepath.Join(s.BasePath, ".cw_state") }

func (s *Store) statePath(name string) string { return filepath.Join(s.StateDir(), name) }

func (s *Store) StatePath() string          { return s.path("state.json") }
func (s *Store) TombstonesPath() string      { return s.path("tombstones.json") }
func (s *Store) LastSyncPath() string        { return s.path("last_sync.json") }
func (s *Store) WatchlistHidePath() string   { return s.path("watchlist_hide.json") }
func (s *Store) RatingsChangesPath() string  { return s.path("ratings_changes.json") }

// LoadState reads state.json, returning the empty default if absent.
func (s *Store) LoadState() (State, error) {
	return atomicjson.ReadOrDefault(s.StatePath(), NewState())
}

// SaveState writes state.json atomically.
func (s *Store) SaveState(st State) error {
	return atomicjson.WriteAtomic(s.StatePath(), st)
}

// LoadTombstones reads tombstones.json, returning the empty default if absent.
func (s *Store) LoadTombstones() (Tombstones, error) {
	tb, err := atomicjson.ReadOrDefault(s.TombstonesPath(), NewTombstones())
	if err != nil {
		return tb, err
	}
	if tb.Keys == nil {
		tb.Keys = map[string]int64{}
	}
	return tb, nil
}

// SaveTombstones writes tombstones.json atomically.
func (s *Store) SaveTombstones(tb Tombstones) error {
	return atomicjson.WriteAtomic(s.TombstonesPath(), tb)
}

// SaveLastSync writes last_sync.json atomically. Failures here are expected
// to be logged and swallowed by the caller per the error-handling design.
func (s *Store) SaveLastSync(ls LastSync) error {
	return atomicjson.WriteAtomic(s.LastSyncPath(), ls)
}

// ClearWatchlistHide truncates the watchlist-hide list to empty. Best-effort:
// a failure to write is tolerated by writing "[]" is attempted but any error
// is returned for the caller to log, never panicked on.
func (s *Store) ClearWatchlistHide() error {
	return atomicjson.WriteAtomic(s.WatchlistHidePath(), []any{})
}

// SaveRatingsChanges writes an arbitrary ratings-change audit record,
// best-effort (the caller is expected to swallow errors from this call).
func (s *Store) SaveRatingsChanges(v any) error {
	return atomicjson.WriteAtomic(s.RatingsChangesPath(), v)
}
