// Package config loads warden configuration from .warden/config.yaml with
// environment overrides. Defaults are safe: the gate fails closed whether or
// not a config file exists.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds all warden configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Semantic reduction authority
	Reducer ReducerConfig `yaml:"reducer"`

	// Grounding adapter
	Grounding GroundingConfig `yaml:"grounding"`

	// Capability proposal flow
	Proposal ProposalConfig `yaml:"proposal"`

	// LLM generation client
	LLM LLMConfig `yaml:"llm"`

	// Audit journal
	Journal JournalConfig `yaml:"journal"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ReducerConfig configures the external reduction client.
type ReducerConfig struct {
	Enabled  bool   `yaml:"enabled" env:"WARDEN_REDUCER_ENABLED"`
	Endpoint string `yaml:"endpoint" env:"WARDEN_REDUCER_ENDPOINT"`
	Timeout  string `yaml:"timeout" env:"WARDEN_REDUCER_TIMEOUT"`
}

// GroundingConfig configures the grounding adapter. The legacy path runs a
// local Mangle policy instead of requiring the authority's grounding result.
type GroundingConfig struct {
	LegacyEnabled    bool   `yaml:"legacy_enabled" env:"WARDEN_GROUNDING_LEGACY"`
	LegacyPolicyPath string `yaml:"legacy_policy_path" env:"WARDEN_GROUNDING_POLICY_PATH"`
}

// ProposalConfig configures the capability proposal flow.
type ProposalConfig struct {
	MaxRefineIterations int     `yaml:"max_refine_iterations" env:"WARDEN_PROPOSAL_MAX_REFINE"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold" env:"WARDEN_PROPOSAL_CONFIDENCE"`
	RingCapacity        int     `yaml:"ring_capacity" env:"WARDEN_PROPOSAL_RING_CAPACITY"`
	HistoryTTL          string  `yaml:"history_ttl" env:"WARDEN_PROPOSAL_HISTORY_TTL"`
	DebounceWindow      string  `yaml:"debounce_window" env:"WARDEN_PROPOSAL_DEBOUNCE"`
	GateRetries         uint64  `yaml:"gate_retries" env:"WARDEN_PROPOSAL_GATE_RETRIES"`
	AdvisoryOverride    bool    `yaml:"advisory_override" env:"WARDEN_PROPOSAL_ADVISORY"`

	Budgets BudgetsConfig `yaml:"budgets"`
}

// BudgetsConfig holds the per-stage generation budgets. These are federated
// from the conversational surface: specification generation gets its own
// limits.
type BudgetsConfig struct {
	Abstract StageBudgetConfig `yaml:"abstract"`
	Detailed StageBudgetConfig `yaml:"detailed"`
	Refine   StageBudgetConfig `yaml:"refine"`
}

// StageBudgetConfig caps one generation stage.
type StageBudgetConfig struct {
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	Timeout     string  `yaml:"timeout"`
}

// LLMConfig configures the candidate generation client.
type LLMConfig struct {
	Provider string `yaml:"provider" env:"WARDEN_LLM_PROVIDER"` // gemini, openai
	APIKey   string `yaml:"api_key" env:"WARDEN_LLM_API_KEY"`
	Model    string `yaml:"model" env:"WARDEN_LLM_MODEL"`
	BaseURL  string `yaml:"base_url" env:"WARDEN_LLM_BASE_URL"`
	Timeout  string `yaml:"timeout" env:"WARDEN_LLM_TIMEOUT"`
}

// JournalConfig configures the SQLite audit journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled" env:"WARDEN_JOURNAL_ENABLED"`
	Path    string `yaml:"path" env:"WARDEN_JOURNAL_PATH"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"WARDEN_LOG_LEVEL"` // debug, info, warn, error
	Format string `yaml:"format"`                       // json, text
	File   string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "warden",
		Version: "0.3.0",

		Reducer: ReducerConfig{
			Enabled:  false,
			Endpoint: "http://localhost:8090/reduce",
			Timeout:  "10s",
		},

		Grounding: GroundingConfig{
			LegacyEnabled:    false,
			LegacyPolicyPath: "",
		},

		Proposal: ProposalConfig{
			MaxRefineIterations: 3,
			ConfidenceThreshold: 0.75,
			RingCapacity:        50,
			HistoryTTL:          "30m",
			DebounceWindow:      "30s",
			GateRetries:         2,
			AdvisoryOverride:    false,
			Budgets: BudgetsConfig{
				Abstract: StageBudgetConfig{MaxTokens: 1024, Temperature: 0.7, Timeout: "45s"},
				Detailed: StageBudgetConfig{MaxTokens: 2048, Temperature: 0.4, Timeout: "60s"},
				Refine:   StageBudgetConfig{MaxTokens: 2048, Temperature: 0.2, Timeout: "60s"},
			},
		},

		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.5-flash",
			Timeout:  "120s",
		},

		Journal: JournalConfig{
			Enabled: false,
			Path:    "data/warden.db",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "warden.log",
		},
	}
}

// DefaultPath is where Load looks when no path is given.
const DefaultPath = ".warden/config.yaml"

// Load loads configuration from a YAML file, then applies WARDEN_*
// environment overrides. A missing file yields defaults plus overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies WARDEN_* environment variables on top of the
// file values, plus provider API key fallbacks.
func (c *Config) applyEnvOverrides() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env overrides: %w", err)
	}

	// Provider keys, checked in priority order when no explicit key is set.
	if c.LLM.APIKey == "" {
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			c.LLM.APIKey = key
			if c.LLM.Provider == "" {
				c.LLM.Provider = "gemini"
			}
		}
	}
	if c.LLM.APIKey == "" {
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			c.LLM.APIKey = key
			c.LLM.Provider = "openai"
		}
	}
	return nil
}

// GetReducerTimeout returns the reduction round-trip timeout as a duration.
func (c *Config) GetReducerTimeout() time.Duration {
	d, err := time.ParseDuration(c.Reducer.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetHistoryTTL returns the proposal history TTL as a duration.
func (c *Config) GetHistoryTTL() time.Duration {
	d, err := time.ParseDuration(c.Proposal.HistoryTTL)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// GetDebounceWindow returns the proposal debounce window as a duration.
func (c *Config) GetDebounceWindow() time.Duration {
	d, err := time.ParseDuration(c.Proposal.DebounceWindow)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// StageTimeout parses a stage budget timeout, with a fallback.
func (b StageBudgetConfig) StageTimeout(fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(b.Timeout)
	if err != nil {
		return fallback
	}
	return d
}
