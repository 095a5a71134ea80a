package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsThenFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
state_dir: /var/lib/orchestrator
pairs:
  - source: TRAKT
    target: SIMKL
    enabled: true
    feature: watchlist
    add: true
    remove: true
runtime:
  apply_chunk_size: 25
`), 0o600))

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("ORC_RUNTIME__APPLY_CHUNK_SIZE", "10")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/var/lib/orchestrator", cfg.StateDir)
	require.Len(t, cfg.Pairs, 1)
	require.Equal(t, "TRAKT", cfg.Pairs[0].Source)
	require.Equal(t, 10, cfg.Runtime.ApplyChunkSize, "env var should override the file value")
	require.True(t, cfg.Runtime.Blackbox.Enabled, "defaults should still apply where file/env are silent")
}

func TestValidateRejectsMissingStateDir(t *testing.T) {
	cfg := defaultConfig()
	cfg.StateDir = ""
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsSamePairSourceAndTarget(t *testing.T) {
	cfg := defaultConfig()
	cfg.Pairs = []PairConfig{{Source: "TRAKT", Target: "TRAKT", Enabled: true}}
	require.Error(t, cfg.Validate())
}

func TestToPairSpecsTranslatesFeatures(t *testing.T) {
	remove := false
	cfg := defaultConfig()
	cfg.Pairs = []PairConfig{{
		Source: "TRAKT", Target: "SIMKL", Enabled: true, Feature: "multi",
		Features: map[string]FeatureConfig{
			"watchlist": {Enable: true, Remove: &remove},
		},
	}}

	specs := cfg.ToPairSpecs()
	require.Len(t, specs, 1)
	fc, ok := specs[0].Features["watchlist"]
	require.True(t, ok)
	require.True(t, fc.Enable)
	require.NotNil(t, fc.Remove)
	require.False(t, *fc.Remove)
}

func TestToDriverFlagsTranslatesChunkPause(t *testing.T) {
	cfg := defaultConfig()
	cfg.Runtime.ApplyChunkPauseMS = 500
	flags := cfg.ToDriverFlags()
	require.Equal(t, int64(500_000_000), flags.ApplyChunkPause.Nanoseconds())
}
