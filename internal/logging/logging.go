// Package logging provides categorized structured logging for concord,
// built on zap. Each subsystem logs under its own named category; categories
// can be silenced individually through config. Before Initialize is called
// every category logger is a nop, so packages may log unconditionally.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a logging subsystem.
type Category string

const (
	CategoryEngine     Category = "engine"
	CategoryBus        Category = "bus"
	CategoryReplay     Category = "replay"
	CategoryBudget     Category = "budget"
	CategoryScheduler  Category = "scheduler"
	CategoryGovernance Category = "governance"
	CategoryEpistemic  Category = "epistemic"
	CategoryRights     Category = "rights"
	CategoryAtlas      Category = "atlas"
	CategoryScope      Category = "scope"
	CategoryHeartbeat  Category = "heartbeat"
	CategoryAutogen    Category = "autogen"
	CategoryStability  Category = "stability"
	CategoryChat       Category = "chat"
	CategoryFederation Category = "federation"
	CategoryTimeline   Category = "timeline"
	CategoryPersist    Category = "persist"
	CategoryLLM        Category = "llm"
	CategoryEmbedding  Category = "embedding"
)

// Config controls logger construction.
type Config struct {
	// Level: "debug", "info", "warn", "error". Default "info".
	Level string `yaml:"level" json:"level"`
	// JSONFormat emits JSON lines instead of console output.
	JSONFormat bool `yaml:"json_format" json:"json_format"`
	// Categories toggles individual categories. Empty means all enabled.
	Categories map[string]bool `yaml:"categories" json:"categories"`
	// DebugMode short-circuits everything off when false and Level is empty.
	DebugMode bool `yaml:"debug_mode" json:"debug_mode"`
}

var (
	mu      sync.RWMutex
	root    = zap.NewNop()
	enabled map[string]bool
)

// Initialize builds the root logger from config. Safe to call more than once;
// the last call wins. An error from zap leaves the previous logger in place.
func Initialize(cfg Config) error {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return err
		}
	}

	zcfg := zap.NewProductionConfig()
	if !cfg.JSONFormat {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build(zap.AddCallerSkip(0))
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	root = logger
	enabled = nil
	if len(cfg.Categories) > 0 {
		enabled = make(map[string]bool, len(cfg.Categories))
		for k, v := range cfg.Categories {
			enabled[k] = v
		}
	}
	return nil
}

// SetLogger replaces the root logger directly. Tests use this with zaptest.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		l = zap.NewNop()
	}
	root = l
	enabled = nil
}

// Get returns the named logger for a category. Disabled categories get a nop.
func Get(cat Category) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if enabled != nil {
		if on, ok := enabled[string(cat)]; ok && !on {
			return zap.NewNop()
		}
	}
	return root.Named(string(cat))
}

// Sugar returns the sugared form of a category logger.
func Sugar(cat Category) *zap.SugaredLogger {
	return Get(cat).Sugar()
}

// Sync flushes buffered log entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}
