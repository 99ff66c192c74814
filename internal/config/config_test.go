package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644))
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.StateDir)
	assert.Equal(t, "auto", cfg.Embedding.Provider)
	assert.Equal(t, 10000, cfg.Memory.SoftCap)
	assert.Equal(t, 7, cfg.Memory.WindowDays)
	assert.InDelta(t, 0.5, cfg.Semantic.MatchWeight, 0.001)
	assert.True(t, cfg.Sync.HybridEnabled)
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
embedding:
  provider: keyword
semantic:
  match_weight: 0.8
memory:
  soft_cap: 500
  window_days: 3
learning:
  seed_synthetic: true
`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "keyword", cfg.Embedding.Provider)
	assert.InDelta(t, 0.8, cfg.Semantic.MatchWeight, 0.001)
	assert.Equal(t, 500, cfg.Memory.SoftCap)
	assert.Equal(t, 3, cfg.Memory.WindowDays)
	assert.True(t, cfg.Learning.SeedSynthetic)

	// absent sections keep their defaults
	assert.Equal(t, "registry.json", cfg.Registry.CachePath)
	assert.Equal(t, 500, cfg.Sync.RealtimeTimeoutMs)
}

func TestLoadMalformedFileFails(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "embedding: [not a map")

	_, err := Load(dir)
	require.Error(t, err)
}

func TestLoadNormalizesOutOfRangeValues(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
semantic:
  match_weight: 1.7
memory:
  soft_cap: -5
embedding:
  timeout_ms: 60000
`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, cfg.Semantic.MatchWeight, 0.001)
	assert.Equal(t, 10000, cfg.Memory.SoftCap)
	assert.Equal(t, 5000, cfg.Embedding.TimeoutMs)
}

func TestEnvOverridesEmbeddingProvider(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "embedding:\n  provider: local\n")

	t.Setenv(EnvEmbeddingProvider, "keyword")
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "keyword", cfg.Embedding.Provider)

	t.Setenv(EnvEmbeddingProvider, "carrier-pigeon")
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Embedding.Provider, "invalid override is ignored")
}

func TestStatePaths(t *testing.T) {
	cfg := Default()
	cfg.StateDir = "/var/lib/maestro"
	assert.Equal(t, filepath.Join("/var/lib/maestro", "patterns.db"), cfg.ArchiveDBPath())
	assert.Equal(t, filepath.Join("/var/lib/maestro", "registry.json"), cfg.RegistryCachePath())
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "embedding:\n  provider: keyword\n")

	reloaded := make(chan *Config, 1)
	w, err := Watch(dir, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Close()

	// give the watcher a moment to arm before the write
	time.Sleep(50 * time.Millisecond)
	writeConfig(t, dir, "embedding:\n  provider: local\n")

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "local", cfg.Embedding.Provider)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was never observed")
	}
}

func TestWatchIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()

	reloaded := make(chan *Config, 1)
	w, err := Watch(dir, func(cfg *Config) { reloaded <- cfg })
	require.NoError(t, err)
	defer w.Close()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	select {
	case <-reloaded:
		t.Fatal("unrelated file must not trigger a reload")
	case <-time.After(300 * time.Millisecond):
	}
}
