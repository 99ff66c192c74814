// Package config loads and watches the maestro configuration file.
//
// Configuration lives at <state>/config.yaml where <state> defaults to
// ~/.maestro. A missing file means defaults; a malformed file is an error.
// The only authoritative environment input is MAESTRO_EMBEDDING_PROVIDER,
// which overrides the embedding provider selection.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"maestro/internal/logging"
)

// EnvEmbeddingProvider overrides embedding.provider when set to one of
// auto|local|cloud|keyword.
const EnvEmbeddingProvider = "MAESTRO_EMBEDDING_PROVIDER"

// Config holds all maestro configuration.
type Config struct {
	Embedding EmbeddingConfig `yaml:"embedding"`
	Semantic  SemanticConfig  `yaml:"semantic"`
	Learning  LearningConfig  `yaml:"learning"`
	Memory    MemoryConfig    `yaml:"memory"`
	Registry  RegistryConfig  `yaml:"registry"`
	Sync      SyncConfig      `yaml:"sync"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Logging   LoggingConfig   `yaml:"logging"`

	// Resolved at load time, not serialized.
	StateDir string `yaml:"-"`
}

// EmbeddingConfig selects and tunes the embedding provider chain.
type EmbeddingConfig struct {
	Provider      string `yaml:"provider"` // auto, local, cloud, keyword
	LocalEndpoint string `yaml:"local_endpoint"`
	LocalModel    string `yaml:"local_model"`
	CloudAPIKey   string `yaml:"cloud_api_key"`
	CloudModel    string `yaml:"cloud_model"`
	TimeoutMs     int    `yaml:"timeout_ms"` // per provider call, capped at 5000
	DiskCacheTTL  string `yaml:"disk_cache_ttl"`
}

// SemanticConfig tunes the objective analyzer.
type SemanticConfig struct {
	// MatchWeight blends semantic similarity into pattern matching, 0..1.
	MatchWeight float64 `yaml:"match_weight"`
}

// LearningConfig governs cross-project learning and persistence.
type LearningConfig struct {
	ScopeLevel     string  `yaml:"scope_level"`     // user, project, org, global
	Sensitivity    string  `yaml:"sensitivity"`     // public, internal, confidential, restricted
	CanShare       bool    `yaml:"can_share"`
	ValueThreshold float64 `yaml:"value_threshold"` // memory-bridge persistence gate
	SeedSynthetic  bool    `yaml:"seed_synthetic"`  // bootstrap with synthetic patterns
}

// MemoryConfig tunes the pattern memory.
type MemoryConfig struct {
	SoftCap     int    `yaml:"soft_cap"`     // lazy eviction trigger
	WindowDays  int    `yaml:"window_days"`  // rolling aggregate horizon
	ArchivePath string `yaml:"archive_path"` // sqlite archive, relative to state dir
}

// RegistryConfig tunes the agent registry cache.
type RegistryConfig struct {
	CachePath  string `yaml:"cache_path"` // relative to state dir
	DebounceMs int    `yaml:"debounce_ms"`
}

// SyncConfig classifies feedback updates.
type SyncConfig struct {
	HybridEnabled     bool `yaml:"hybrid_enabled"`
	RealtimeTimeoutMs int  `yaml:"realtime_timeout_ms"`
	AsyncBatchSeconds int  `yaml:"async_batch_seconds"`
}

// KnowledgeConfig points at the external graph store.
type KnowledgeConfig struct {
	Endpoint         string `yaml:"endpoint"` // empty disables persistence
	SearchTimeoutMs  int    `yaml:"search_timeout_ms"`
	PersistTimeoutMs int    `yaml:"persist_timeout_ms"`
}

// LoggingConfig mirrors internal/logging's view of the file.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Provider:      "auto",
			LocalEndpoint: "http://localhost:11434",
			LocalModel:    "embeddinggemma",
			CloudModel:    "gemini-embedding-001",
			TimeoutMs:     5000,
			DiskCacheTTL:  "24h",
		},
		Semantic: SemanticConfig{MatchWeight: 0.5},
		Learning: LearningConfig{
			ScopeLevel:     "user",
			Sensitivity:    "internal",
			CanShare:       false,
			ValueThreshold: 0.6,
			SeedSynthetic:  false,
		},
		Memory: MemoryConfig{
			SoftCap:     10000,
			WindowDays:  7,
			ArchivePath: "patterns.db",
		},
		Registry: RegistryConfig{
			CachePath:  "registry.json",
			DebounceMs: 2000,
		},
		Sync: SyncConfig{
			HybridEnabled:     true,
			RealtimeTimeoutMs: 500,
			AsyncBatchSeconds: 30,
		},
		Knowledge: KnowledgeConfig{
			SearchTimeoutMs:  2000,
			PersistTimeoutMs: 5000,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// DefaultStateDir resolves ~/.maestro, falling back to the working
// directory when the home dir cannot be determined.
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".maestro"
	}
	return filepath.Join(home, ".maestro")
}

// Load reads <stateDir>/config.yaml, applying defaults for absent fields
// and the embedding-provider env override.
func Load(stateDir string) (*Config, error) {
	if stateDir == "" {
		stateDir = DefaultStateDir()
	}
	cfg := Default()
	cfg.StateDir = stateDir

	path := filepath.Join(stateDir, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverride(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.StateDir = stateDir
	cfg.normalize()
	applyEnvOverride(cfg)
	return cfg, nil
}

func applyEnvOverride(cfg *Config) {
	switch v := os.Getenv(EnvEmbeddingProvider); v {
	case "auto", "local", "cloud", "keyword":
		cfg.Embedding.Provider = v
	case "":
	default:
		logging.Get(logging.CategoryBoot).Warn("ignoring invalid %s=%q", EnvEmbeddingProvider, v)
	}
}

// normalize clamps values the rest of the system assumes are in range.
func (c *Config) normalize() {
	if c.Semantic.MatchWeight < 0 {
		c.Semantic.MatchWeight = 0
	}
	if c.Semantic.MatchWeight > 1 {
		c.Semantic.MatchWeight = 1
	}
	if c.Learning.ValueThreshold <= 0 {
		c.Learning.ValueThreshold = 0.6
	}
	if c.Memory.SoftCap <= 0 {
		c.Memory.SoftCap = 10000
	}
	if c.Memory.WindowDays <= 0 {
		c.Memory.WindowDays = 7
	}
	if c.Embedding.TimeoutMs <= 0 || c.Embedding.TimeoutMs > 5000 {
		c.Embedding.TimeoutMs = 5000
	}
	if c.Sync.RealtimeTimeoutMs <= 0 {
		c.Sync.RealtimeTimeoutMs = 500
	}
	if c.Sync.AsyncBatchSeconds <= 0 {
		c.Sync.AsyncBatchSeconds = 30
	}
	if c.Knowledge.SearchTimeoutMs <= 0 {
		c.Knowledge.SearchTimeoutMs = 2000
	}
	if c.Knowledge.PersistTimeoutMs <= 0 {
		c.Knowledge.PersistTimeoutMs = 5000
	}
}

// ArchiveDBPath returns the absolute path of the pattern archive.
func (c *Config) ArchiveDBPath() string {
	return filepath.Join(c.StateDir, c.Memory.ArchivePath)
}

// RegistryCachePath returns the absolute path of the registry cache file.
func (c *Config) RegistryCachePath() string {
	return filepath.Join(c.StateDir, c.Registry.CachePath)
}

// Watcher re-loads the config file when it changes on disk.
type Watcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// Watch starts a filesystem watcher on the config file. onChange receives
// the freshly loaded config; load errors are logged and skipped. Changes
// also refresh the logging config.
func Watch(stateDir string, onChange func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(stateDir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", stateDir, err)
	}

	w := &Watcher{watcher: fw, done: make(chan struct{})}
	go w.run(stateDir, onChange)
	return w, nil
}

func (w *Watcher) run(stateDir string, onChange func(*Config)) {
	boot := logging.Get(logging.CategoryBoot)
	var lastReload time.Time
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != "config.yaml" {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			// Editors fire bursts of events; coalesce within 200ms.
			if time.Since(lastReload) < 200*time.Millisecond {
				continue
			}
			lastReload = time.Now()

			cfg, err := Load(stateDir)
			if err != nil {
				boot.Warn("config reload failed: %v", err)
				continue
			}
			if err := logging.ReloadConfig(); err != nil {
				boot.Warn("logging config reload failed: %v", err)
			}
			boot.Info("config reloaded from %s", ev.Name)
			if onChange != nil {
				onChange(cfg)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			boot.Warn("config watcher error: %v", err)
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() {
	w.once.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}
