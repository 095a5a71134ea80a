// Package config loads the orchestrator's layered configuration: struct
// defaults, an optional YAML file, then environment variables, each layer
// overriding the last, grounded on the teacher's internal/config/koanf.go
// (same koanf.v2 + yaml/env/structs provider stack), adapted from the
// teacher's Tautulli/Plex/Jellyfin/Emby media-server schema to this
// repo's provider/pair/runtime schema.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/mediasync/orchestrator/internal/driver"
	"github.com/mediasync/orchestrator/internal/pairs"
	"github.com/mediasync/orchestrator/internal/provider"
	"github.com/mediasync/orchestrator/internal/statestore"
)

// DefaultConfigPaths lists the paths searched, in priority order, for a
// config file when ConfigPathEnvVar is unset.
var DefaultConfigPaths = []string{
	"orchestrator.yaml",
	"orchestrator.yml",
	"/etc/orchestrator/orchestrator.yaml",
}

// ConfigPathEnvVar overrides DefaultConfigPaths with an explicit file.
const ConfigPathEnvVar = "ORCHESTRATOR_CONFIG_PATH"

// FeatureConfig is one pair's per-feature override, loaded from YAML/env and
// translated into driver.FeatureConfig at use time.
type FeatureConfig struct {
	Enable   bool     `koanf:"enable"`
	Add      *bool    `koanf:"add"`
	Remove   *bool    `koanf:"remove"`
	Types    []string `koanf:"types"`
	FromDate string   `koanf:"from_date"`
}

// PairConfig is one configured sync pair.
type PairConfig struct {
	Source   string                   `koanf:"source" validate:"required"`
	Target   string                   `koanf:"target" validate:"required,nefield=Source"`
	TwoWay   bool                     `koanf:"two_way"`
	Enabled  bool                     `koanf:"enabled"`
	Feature  string                   `koanf:"feature"`
	Features map[string]FeatureConfig `koanf:"features"`
	Add      bool                     `koanf:"add"`
	Remove   bool                     `koanf:"remove"`
}

// BlackboxConfig mirrors statestore.BlackboxConfig for layered loading.
type BlackboxConfig struct {
	Enabled        bool `koanf:"enabled"`
	PromoteAfter   int  `koanf:"promote_after" validate:"gte=0"`
	UnresolvedDays int  `koanf:"unresolved_days" validate:"gte=0"`
	PairScoped     bool `koanf:"pair_scoped"`
	CooldownDays   int  `koanf:"cooldown_days" validate:"gte=0"`
	BlockAdds      bool `koanf:"block_adds"`
	BlockRemoves   bool `koanf:"block_removes"`
}

// RuntimeConfig is the sync-level knobs threaded into every driver call.
type RuntimeConfig struct {
	DryRun                    bool              `koanf:"dry_run"`
	AllowMassDelete           bool              `koanf:"allow_mass_delete"`
	VerifyAfterWrite          bool              `koanf:"verify_after_write"`
	IncludeObservedDeletes    bool              `koanf:"include_observed_deletes"`
	DropGuard                 bool              `koanf:"drop_guard"`
	SuspectMinPrev            int               `koanf:"suspect_min_prev" validate:"gte=0"`
	SuspectShrinkRatio        float64           `koanf:"suspect_shrink_ratio" validate:"gte=0,lte=1"`
	ApplyChunkSize            int               `koanf:"apply_chunk_size" validate:"gt=0"`
	ApplyChunkSizeByProvider  map[string]int    `koanf:"apply_chunk_size_by_provider"`
	ApplyChunkPauseMS         int               `koanf:"apply_chunk_pause_ms" validate:"gte=0"`
	TombstoneTTLDays          int               `koanf:"tombstone_ttl_days" validate:"gte=0"`
	CrossFeatureUnresolved    bool              `koanf:"cross_feature_unresolved"`
	PropagateTimestampUpdates bool              `koanf:"propagate_timestamp_updates"`
	Blackbox                  BlackboxConfig    `koanf:"blackbox"`
	RateLowThreshold          map[string]int    `koanf:"rate_low_threshold"`
}

// LoggingConfig selects obslog's level/format/output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// Config is the full layered configuration document.
type Config struct {
	StateDir  string                   `koanf:"state_dir" validate:"required"`
	Providers map[string]provider.Config `koanf:"providers"`
	Pairs     []PairConfig             `koanf:"pairs" validate:"dive"`
	Runtime   RuntimeConfig            `koanf:"runtime"`
	Logging   LoggingConfig            `koanf:"logging"`
}

func defaultConfig() *Config {
	return &Config{
		StateDir:  "./state",
		Providers: map[string]provider.Config{},
		Runtime: RuntimeConfig{
			AllowMassDelete:    false,
			SuspectMinPrev:     20,
			SuspectShrinkRatio: 0.10,
			ApplyChunkSize:     50,
			ApplyChunkPauseMS:  250,
			TombstoneTTLDays:   30,
			Blackbox: BlackboxConfig{
				Enabled: true, PromoteAfter: 3, PairScoped: true,
				CooldownDays: 30, BlockAdds: true, BlockRemoves: true,
			},
			RateLowThreshold: map[string]int{"TRAKT": 100, "SIMKL": 50, "PLEX": 0, "JELLYFIN": 0},
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

var validate = validator.New()

// Validate runs struct-tag validation over the whole document.
func (c *Config) Validate() error {
	return validate.Struct(c)
}

// Load applies, in order: struct defaults, an optional YAML file (found via
// ConfigPathEnvVar or DefaultConfigPaths), then environment variables —
// each layer overriding the previous, exactly as the teacher's
// LoadWithKoanf does.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("ORC_", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc turns ORC_STATE_DIR / ORC_RUNTIME__APPLY_CHUNK_SIZE into
// koanf paths (state_dir / runtime.apply_chunk_size); a double underscore
// is the nesting delimiter since single underscores are common inside
// snake_case field names themselves.
func envTransformFunc(key string) string {
	trimmed := strings.TrimPrefix(key, "ORC_")
	lower := strings.ToLower(trimmed)
	return strings.ReplaceAll(lower, "__", ".")
}

// ToDriverFlags translates the runtime section into driver.Flags.
func (c *Config) ToDriverFlags() driver.Flags {
	r := c.Runtime
	return driver.Flags{
		DryRun:                    r.DryRun,
		AllowMassDelete:           r.AllowMassDelete,
		VerifyAfterWrite:          r.VerifyAfterWrite,
		IncludeObservedDeletes:    r.IncludeObservedDeletes,
		DropGuard:                 r.DropGuard,
		SuspectMinPrev:            r.SuspectMinPrev,
		SuspectShrinkRatio:        r.SuspectShrinkRatio,
		ApplyChunkSize:            r.ApplyChunkSize,
		ApplyChunkSizeByProvider:  r.ApplyChunkSizeByProvider,
		ApplyChunkPause:           time.Duration(r.ApplyChunkPauseMS) * time.Millisecond,
		Blackbox:                  r.Blackbox.toStatestore(),
		CrossFeatureUnresolved:    r.CrossFeatureUnresolved,
		PropagateTimestampUpdates: r.PropagateTimestampUpdates,
	}
}

func (b BlackboxConfig) toStatestore() statestore.BlackboxConfig {
	return statestore.BlackboxConfig{
		Enabled: b.Enabled, PromoteAfter: b.PromoteAfter, UnresolvedDays: b.UnresolvedDays,
		PairScoped: b.PairScoped, CooldownDays: b.CooldownDays,
		BlockAdds: b.BlockAdds, BlockRemoves: b.BlockRemoves,
	}
}

// ToPairSpecs translates every configured pair into a pairs.PairSpec.
func (c *Config) ToPairSpecs() []pairs.PairSpec {
	out := make([]pairs.PairSpec, 0, len(c.Pairs))
	for _, p := range c.Pairs {
		var features map[string]driver.FeatureConfig
		if len(p.Features) > 0 {
			features = make(map[string]driver.FeatureConfig, len(p.Features))
			for name, fc := range p.Features {
				features[name] = driver.FeatureConfig{
					Enable: fc.Enable, Add: fc.Add, Remove: fc.Remove,
					Types: fc.Types, FromDate: fc.FromDate,
				}
			}
		}
		out = append(out, pairs.PairSpec{
			Source: p.Source, Target: p.Target, TwoWay: p.TwoWay, Enabled: p.Enabled,
			Feature: p.Feature, Features: features, Add: p.Add, Remove: p.Remove,
		})
	}
	return out
}
