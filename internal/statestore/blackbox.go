package statestore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mediasync/orchestrator/internal/atomicjson"
)

// BlackboxConfig governs promotion of persistently failing keys into the
// blackbox, where they stop being retried until the cooldown elapses.
type BlackboxConfig struct {
	Enabled        bool
	PromoteAfter   int
	UnresolvedDays int
	PairScoped     bool
	CooldownDays   int
	BlockAdds      bool
	BlockRemoves   bool
}

// DefaultBlackboxConfig mirrors the defaults in SPEC_FULL.md §3.
func DefaultBlackboxConfig() BlackboxConfig {
	return BlackboxConfig{
		Enabled: true, PromoteAfter: 3, UnresolvedDays: 0,
		PairScoped: true, CooldownDays: 30, BlockAdds: true, BlockRemoves: true,
	}
}

// FlapCounter tracks a key's consecutive-failure streak for one target/feature.
type FlapCounter struct {
	Consecutive   int    `json:"consecutive"`
	LastReason    string `json:"last_reason"`
	LastOp        string `json:"last_op"`
	LastAttemptTs int64  `json:"last_attempt_ts"`
	LastSuccessTs int64  `json:"last_success_ts"`
}

// FlapFile is the on-disk shape of a `{target}_{feature}.flap.json` file.
type FlapFile map[string]FlapCounter

// BlackboxEntry records why and when a key was promoted to the blackbox.
type BlackboxEntry struct {
	Reason string `json:"reason"`
	Since  int64  `json:"since"`
}

// BlackboxFile is the on-disk shape of a blackbox.json file.
type BlackboxFile map[string]BlackboxEntry

func (s *Store) flapPath(dst, feature string) string {
	return s.statePath(fmt.Sprintf("%s_%s.flap.json", dst, feature))
}

func (s *Store) blackboxPath(dst, feature, pair string) string {
	if pair == "" {
		return s.statePath(fmt.Sprintf("%s_%s.blackbox.json", dst, feature))
	}
	return s.statePath(fmt.Sprintf("%s_%s.%s.blackbox.json", dst, feature, pair))
}

// LoadFlapCounters returns the flap counters for (dst, feature).
func (s *Store) LoadFlapCounters(dst, feature string) (FlapFile, error) {
	return atomicjson.ReadOrDefault(s.flapPath(dst, feature), FlapFile{})
}

// IncFlap increments the consecutive-failure counter for key and returns the
// new count.
func (s *Store) IncFlap(dst, feature, key, reason, op string, now time.Time) (int, error) {
	counters, err := s.LoadFlapCounters(dst, feature)
	if err != nil {
		return 0, err
	}
	c := counters[key]
	c.Consecutive++
	c.LastReason = reason
	c.LastOp = op
	c.LastAttemptTs = now.Unix()
	counters[key] = c
	if err := atomicjson.WriteAtomic(s.flapPath(dst, feature), counters); err != nil {
		return 0, err
	}
	return c.Consecutive, nil
}

// ResetFlap clears key's consecutive-failure streak, recording a success.
func (s *Store) ResetFlap(dst, feature, key string, now time.Time) error {
	counters, err := s.LoadFlapCounters(dst, feature)
	if err != nil {
		return err
	}
	c := counters[key]
	c.Consecutive = 0
	c.LastReason = "ok"
	c.LastSuccessTs = now.Unix()
	counters[key] = c
	return atomicjson.WriteAtomic(s.flapPath(dst, feature), counters)
}

// LoadBlackboxKeys unions the global and (if pairScoped and pair is set)
// pair-scoped blackbox key sets for (dst, feature).
func (s *Store) LoadBlackboxKeys(dst, feature string, pairScoped bool, pair string) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	global, err := atomicjson.ReadOrDefault(s.blackboxPath(dst, feature, ""), BlackboxFile{})
	if err != nil {
		return nil, err
	}
	for k := range global {
		out[k] = struct{}{}
	}
	if pairScoped && pair != "" {
		scoped, err := atomicjson.ReadOrDefault(s.blackboxPath(dst, feature, pair), BlackboxFile{})
		if err != nil {
			return nil, err
		}
		for k := range scoped {
			out[k] = struct{}{}
		}
	}
	return out, nil
}

func (s *Store) promote(dst, feature, key, reason string, since int64, pair string) error {
	path := s.blackboxPath(dst, feature, pair)
	bb, err := atomicjson.ReadOrDefault(path, BlackboxFile{})
	if err != nil {
		return err
	}
	if _, exists := bb[key]; exists {
		return nil
	}
	bb[key] = BlackboxEntry{Reason: reason, Since: since}
	return atomicjson.WriteAtomic(path, bb)
}

// PutBlackbox unconditionally promotes key to the blackbox with reason,
// bypassing the flap-counter threshold entirely. Used by the phantom guard,
// which treats a single rapid re-add bounce as sufficient evidence on its
// own — no accumulated streak required.
func (s *Store) PutBlackbox(dst, feature, key, reason, pair string) error {
	return s.promote(dst, feature, key, reason, time.Now().Unix(), pair)
}

// MaybePromoteToBlackbox checks whether key should be promoted: either its
// consecutive-failure streak reached cfg.PromoteAfter, or its unresolved age
// (from unresolvedMap) reached cfg.UnresolvedDays. Returns whether it was
// promoted and why.
func (s *Store) MaybePromoteToBlackbox(dst, feature, key string, cfg BlackboxConfig, pair string, unresolvedMap map[string]UnresolvedHint, now time.Time) (bool, string, error) {
	if !cfg.Enabled {
		return false, "", nil
	}
	counters, err := s.LoadFlapCounters(dst, feature)
	if err != nil {
		return false, "", err
	}
	c := counters[key]
	if cfg.PromoteAfter > 0 && c.Consecutive >= cfg.PromoteAfter {
		reason := fmt.Sprintf("flapper:consecutive>=%d", cfg.PromoteAfter)
		if err := s.promote(dst, feature, key, reason, now.Unix(), pair); err != nil {
			return false, "", err
		}
		return true, reason, nil
	}
	if cfg.UnresolvedDays > 0 && unresolvedMap != nil {
		if hint, ok := unresolvedMap[key]; ok {
			ageDays := float64(now.Unix()-hint.Ts) / 86400
			if ageDays >= float64(cfg.UnresolvedDays) {
				reason := fmt.Sprintf("unresolved_age>=%dd", cfg.UnresolvedDays)
				if err := s.promote(dst, feature, key, reason, now.Unix(), pair); err != nil {
					return false, "", err
				}
				return true, reason, nil
			}
		}
	}
	return false, "", nil
}

// RecordAttempts increments the flap counter and evaluates promotion for every
// key in keys, returning the attempted count and the number promoted.
func (s *Store) RecordAttempts(dst, feature string, keys []string, reason, op, pair string, cfg BlackboxConfig, unresolvedMap map[string]UnresolvedHint) (int, int, error) {
	now := time.Now()
	promoted := 0
	for _, key := range keys {
		if _, err := s.IncFlap(dst, feature, key, reason, op, now); err != nil {
			return 0, 0, err
		}
		ok, _, err := s.MaybePromoteToBlackbox(dst, feature, key, cfg, pair, unresolvedMap, now)
		if err != nil {
			return 0, 0, err
		}
		if ok {
			promoted++
		}
	}
	return len(keys), promoted, nil
}

// RecordSuccess resets the flap counter for every key in keys.
func (s *Store) RecordSuccess(dst, feature string, keys []string) (int, error) {
	now := time.Now()
	for _, key := range keys {
		if err := s.ResetFlap(dst, feature, key, now); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

// PruneBlackbox scans every `*.blackbox.json` file under stateDir and removes
// entries older than cooldownDays, returning how many files were scanned and
// how many entries were removed in total.
func PruneBlackbox(stateDir string, cooldownDays int) (int, int, error) {
	entries, err := os.ReadDir(stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	cutoff := time.Now().Add(-time.Duration(cooldownDays) * 24 * time.Hour).Unix()
	scanned, removed := 0, 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".blackbox.json") {
			continue
		}
		path := filepath.Join(stateDir, name)
		bb, err := atomicjson.ReadOrDefault(path, BlackboxFile{})
		if err != nil {
			continue
		}
		scanned++
		changed := false
		for k, entry := range bb {
			if entry.Since < cutoff {
				delete(bb, k)
				removed++
				changed = true
			}
		}
		if changed {
			_ = atomicjson.WriteAtomic(path, bb)
		}
	}
	return scanned, removed, nil
}
