// Package config holds all concord configuration, loaded from YAML with
// environment overrides for the collaborator endpoints and persistence path.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"concord/internal/logging"
)

// Config holds all concord configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Bus       BusConfig       `yaml:"bus"`
	Budget    BudgetConfig    `yaml:"budget"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Autogen   AutogenConfig   `yaml:"autogen"`
	Persist   PersistConfig   `yaml:"persist"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   logging.Config  `yaml:"logging"`
}

// BusConfig sizes the cognition bus ring.
type BusConfig struct {
	Capacity int `yaml:"capacity"` // max retained events; oldest evicted past this
}

// BudgetConfig shapes the per-actor rate windows.
type BudgetConfig struct {
	Window   time.Duration  `yaml:"window"`    // sliding window length
	MaxUnits float64        `yaml:"max_units"` // budget per window
	Costs    map[string]int `yaml:"costs"`     // domain -> cost overrides
}

// SchedulerConfig shapes aging and lifetime enforcement.
type SchedulerConfig struct {
	AgingIncrement          int           `yaml:"aging_increment"`
	AgingInterval           time.Duration `yaml:"aging_interval"`
	StarvationThreshold     time.Duration `yaml:"starvation_threshold"`
	StarvationBoostPriority int           `yaml:"starvation_boost_priority"`
	MaxBackground           int           `yaml:"max_background"`
	MaxThreadLifetime       time.Duration `yaml:"max_thread_lifetime"`
}

// HeartbeatConfig sets the three lane tick intervals.
type HeartbeatConfig struct {
	LocalInterval       time.Duration `yaml:"local_interval"`
	GlobalInterval      time.Duration `yaml:"global_interval"`
	MarketplaceInterval time.Duration `yaml:"marketplace_interval"`
}

// AutogenConfig shapes the generation pipeline.
type AutogenConfig struct {
	Variant       string `yaml:"variant"`         // "", "dream", "synth", "evolution"
	MaxCoreDTUs   int    `yaml:"max_core_dtus"`   // retrieval pack ceiling
	MinCoreDTUs   int    `yaml:"min_core_dtus"`   // retrieval pack floor
	RecentHashCap int    `yaml:"recent_hash_cap"` // novelty ring size
}

// PersistConfig points at the snapshot store. Empty path disables persistence.
type PersistConfig struct {
	Path string `yaml:"path"`
}

// LLMConfig configures the optional shaping client.
type LLMConfig struct {
	Provider string        `yaml:"provider"` // "" disables, "ollama"
	Endpoint string        `yaml:"endpoint"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
}

// EmbeddingConfig configures the optional embedding engine.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // "" disables, "ollama", "hash"
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Name:    "concord",
		Version: "0.1.0",
		Bus:     BusConfig{Capacity: 100_000},
		Budget: BudgetConfig{
			Window:   60 * time.Second,
			MaxUnits: 1000,
		},
		Scheduler: SchedulerConfig{
			AgingIncrement:          1,
			AgingInterval:           30 * time.Second,
			StarvationThreshold:     2 * time.Minute,
			StarvationBoostPriority: 9,
			MaxBackground:           5,
			MaxThreadLifetime:       5 * time.Minute,
		},
		Heartbeat: HeartbeatConfig{
			LocalInterval:       15 * time.Second,
			GlobalInterval:      30 * time.Second,
			MarketplaceInterval: 60 * time.Second,
		},
		Autogen: AutogenConfig{
			MaxCoreDTUs:   30,
			MinCoreDTUs:   10,
			RecentHashCap: 500,
		},
		LLM: LLMConfig{
			Provider: "",
			Endpoint: "http://localhost:11434",
			Model:    "llama3.1",
			Timeout:  60 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Provider: "",
			Endpoint: "http://localhost:11434",
			Model:    "embeddinggemma",
		},
		Metrics: MetricsConfig{Addr: ":9415"},
		Logging: logging.Config{Level: "info"},
	}
}

// Load reads a YAML config file over the defaults. An empty or missing path
// returns the defaults with only the environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		cfg.applyEnv()
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv layers endpoint overrides from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("CONCORD_LLM_ENDPOINT"); v != "" {
		c.LLM.Endpoint = v
	}
	if v := os.Getenv("CONCORD_EMBEDDING_ENDPOINT"); v != "" {
		c.Embedding.Endpoint = v
	}
	if v := os.Getenv("CONCORD_PERSIST_PATH"); v != "" {
		c.Persist.Path = v
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Bus.Capacity <= 0 {
		return fmt.Errorf("bus.capacity must be positive, got %d", c.Bus.Capacity)
	}
	if c.Budget.Window <= 0 {
		return fmt.Errorf("budget.window must be positive, got %s", c.Budget.Window)
	}
	if c.Budget.MaxUnits <= 0 {
		return fmt.Errorf("budget.max_units must be positive, got %f", c.Budget.MaxUnits)
	}
	if c.Scheduler.MaxBackground < 0 {
		return fmt.Errorf("scheduler.max_background must not be negative")
	}
	if c.Autogen.MinCoreDTUs > c.Autogen.MaxCoreDTUs {
		return fmt.Errorf("autogen.min_core_dtus exceeds max_core_dtus")
	}
	return nil
}
