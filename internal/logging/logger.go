// Package logging provides config-driven categorized file-based logging
// for maestro. Logs are written to <state>/logs/ with one file per
// category per day. Logging is controlled by the logging section of
// <state>/config.yaml; when debug_mode is false nothing is written.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot        Category = "boot"        // Startup and shutdown
	CategorySemantic    Category = "semantic"    // Objective analysis
	CategoryRegistry    Category = "registry"    // Agent registry and persistence
	CategoryMemory      Category = "memory"      // Pattern memory and KD-tree
	CategoryTemporal    Category = "temporal"    // Decay filtering
	CategoryBayesian    Category = "bayesian"    // Confidence engine
	CategoryConflict    Category = "conflict"    // Conflict graph and detection
	CategoryPlanner     Category = "planner"     // Plan assembly
	CategoryCoordinator Category = "coordinator" // Result synthesis
	CategoryFeedback    Category = "feedback"    // Learning loop and queue
	CategorySafety      Category = "safety"      // Safety validation
	CategoryEmbedding   Category = "embedding"   // Embedding providers and cache
	CategoryKnowledge   Category = "knowledge"   // External knowledge store
	CategoryBus         Category = "bus"         // Event bus
	CategoryMCP         Category = "mcp"         // Tool surface / wire protocol
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// loggingConfig mirrors config.LoggingConfig to avoid a circular import.
type loggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

type configFile struct {
	Logging loggingConfig `yaml:"logging"`
}

// Logger writes to a single category file. A Logger with a nil inner
// logger is a no-op.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	stateDir  string
	cfg       loggingConfig
	cfgMu     sync.RWMutex
	logLevel  int
)

// Initialize sets up the logging directory and loads config. Call once at
// startup with the maestro state directory.
func Initialize(state string) error {
	if state == "" {
		return fmt.Errorf("state directory required")
	}
	stateDir = state
	logsDir = filepath.Join(stateDir, "logs")

	if err := loadConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "[logging] warning: could not load config: %v\n", err)
		cfg.DebugMode = false
	}

	if !cfg.DebugMode {
		return nil // silent no-op in production mode
	}
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== maestro logging initialized ===")
	boot.Info("state dir: %s", stateDir)
	boot.Info("log level: %s", cfg.Level)
	return nil
}

func loadConfig() error {
	cfgMu.Lock()
	defer cfgMu.Unlock()

	path := filepath.Join(stateDir, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.DebugMode = false
			return nil
		}
		return err
	}

	var cf configFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	cfg = cf.Logging

	switch cfg.Level {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	return nil
}

// ReloadConfig re-reads the logging config from disk. Called by the config
// watcher when the file changes.
func ReloadConfig() error {
	return loadConfig()
}

// IsDebugMode reports whether debug logging is enabled.
func IsDebugMode() bool {
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	return cfg.DebugMode
}

func isCategoryEnabled(category Category) bool {
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	if !cfg.DebugMode {
		return false
	}
	if cfg.Categories == nil {
		return true
	}
	enabled, exists := cfg.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) the logger for a category. Returns a no-op
// logger when debug mode or the category is disabled.
func Get(category Category) *Logger {
	if !isCategoryEnabled(category) || logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	date := time.Now().Format("2006-01-02")
	path := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] warning: could not open %s: %v\n", path, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	l.logger.Printf("[DEBUG] %s", fmt.Sprintf(format, args...))
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	l.logger.Printf("[INFO] %s", fmt.Sprintf(format, args...))
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	l.logger.Printf("[WARN] %s", fmt.Sprintf(format, args...))
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Printf("[ERROR] %s", fmt.Sprintf(format, args...))
}

// CloseAll closes all open log files. Call at shutdown.
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS
// =============================================================================

// Planner logs to the planner category.
func Planner(format string, args ...interface{}) { Get(CategoryPlanner).Info(format, args...) }

// PlannerDebug logs debug to the planner category.
func PlannerDebug(format string, args ...interface{}) { Get(CategoryPlanner).Debug(format, args...) }

// Memory logs to the memory category.
func Memory(format string, args ...interface{}) { Get(CategoryMemory).Info(format, args...) }

// MemoryDebug logs debug to the memory category.
func MemoryDebug(format string, args ...interface{}) { Get(CategoryMemory).Debug(format, args...) }

// Registry logs to the registry category.
func Registry(format string, args ...interface{}) { Get(CategoryRegistry).Info(format, args...) }

// RegistryDebug logs debug to the registry category.
func RegistryDebug(format string, args ...interface{}) { Get(CategoryRegistry).Debug(format, args...) }

// Feedback logs to the feedback category.
func Feedback(format string, args ...interface{}) { Get(CategoryFeedback).Info(format, args...) }

// FeedbackDebug logs debug to the feedback category.
func FeedbackDebug(format string, args ...interface{}) { Get(CategoryFeedback).Debug(format, args...) }

// Embedding logs to the embedding category.
func Embedding(format string, args ...interface{}) { Get(CategoryEmbedding).Info(format, args...) }

// EmbeddingDebug logs debug to the embedding category.
func EmbeddingDebug(format string, args ...interface{}) { Get(CategoryEmbedding).Debug(format, args...) }

// Coordinator logs to the coordinator category.
func Coordinator(format string, args ...interface{}) { Get(CategoryCoordinator).Info(format, args...) }

// CoordinatorDebug logs debug to the coordinator category.
func CoordinatorDebug(format string, args ...interface{}) {
	Get(CategoryCoordinator).Debug(format, args...)
}

// MCP logs to the mcp category.
func MCP(format string, args ...interface{}) { Get(CategoryMCP).Info(format, args...) }

// MCPDebug logs debug to the mcp category.
func MCPDebug(format string, args ...interface{}) { Get(CategoryMCP).Debug(format, args...) }

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer measures operation duration for performance logging.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if the duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
