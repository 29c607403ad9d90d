// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger       LoggerConfig       `mapstructure:"logger" yaml:"logger"`
	Browser      BrowserConfig      `mapstructure:"browser" yaml:"browser"`
	Explorer     ExplorerConfig     `mapstructure:"explorer" yaml:"explorer"`
	Selector     SelectorConfig     `mapstructure:"selector" yaml:"selector"`
	Decision     DecisionConfig     `mapstructure:"decision" yaml:"decision"`
	LLM          LLMConfig          `mapstructure:"llm" yaml:"llm"`
	Archive      ArchiveConfig      `mapstructure:"archive" yaml:"archive"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
}

// LoggerConfig controls the zap logger construction.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"` // "console" or "json"
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig maps log levels to terminal colors for the console encoder.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the headless browser session.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	ViewportWidth     int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	StabilityTimeout  time.Duration `mapstructure:"stability_timeout" yaml:"stability_timeout"`
	StabilityQuiet    time.Duration `mapstructure:"stability_quiet" yaml:"stability_quiet"`
	Args              []string      `mapstructure:"args" yaml:"args"`
}

// ExplorerConfig tunes the exploration loop and its budget.
type ExplorerConfig struct {
	Strategy            string        `mapstructure:"strategy" yaml:"strategy"` // coverage_guided | breadth_first | depth_first | random
	BeamWidth           int           `mapstructure:"beam_width" yaml:"beam_width"`
	MaxDepth            int           `mapstructure:"max_depth" yaml:"max_depth"`
	MaxTotalSteps       int           `mapstructure:"max_total_steps" yaml:"max_total_steps"`
	MaxUniqueStates     int           `mapstructure:"max_unique_states" yaml:"max_unique_states"`
	StagnationThreshold int           `mapstructure:"stagnation_threshold" yaml:"stagnation_threshold"`
	IncludeSubdomains   bool          `mapstructure:"include_subdomains" yaml:"include_subdomains"`
	ActionTimeout       time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
}

// SelectorConfig tunes the multi-factor action scorer.
type SelectorConfig struct {
	DecayRate      float64 `mapstructure:"decay_rate" yaml:"decay_rate"`
	MaxRetries     int     `mapstructure:"max_retries" yaml:"max_retries"`
	NoveltyWeight  float64 `mapstructure:"novelty_weight" yaml:"novelty_weight"`
	BusinessWeight float64 `mapstructure:"business_weight" yaml:"business_weight"`
	RiskWeight     float64 `mapstructure:"risk_weight" yaml:"risk_weight"`
	BranchWeight   float64 `mapstructure:"branch_weight" yaml:"branch_weight"`
}

// DecisionConfig tunes the heuristic gate and the LLM escalation path.
type DecisionConfig struct {
	DominanceRatio      float64 `mapstructure:"dominance_ratio" yaml:"dominance_ratio"`
	ConfidenceThreshold int     `mapstructure:"confidence_threshold" yaml:"confidence_threshold"`
	TopK                int     `mapstructure:"top_k" yaml:"top_k"`
	HistoryWindow       int     `mapstructure:"history_window" yaml:"history_window"`
}

// LLMConfig defines the configuration for the LLM transport.
type LLMConfig struct {
	Provider          string            `mapstructure:"provider" yaml:"provider"`
	Model             string            `mapstructure:"model" yaml:"model"`
	FastModel         string            `mapstructure:"fast_model" yaml:"fast_model"` // cheaper model for routine decisions; falls back to Model
	APIKey            string            `mapstructure:"api_key" yaml:"api_key"`
	Endpoint          string            `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout        time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	MaxElapsed        time.Duration     `mapstructure:"max_elapsed" yaml:"max_elapsed"`
	MaxRetries        int               `mapstructure:"max_retries" yaml:"max_retries"`
	RequestsPerSecond float64           `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Temperature       float64           `mapstructure:"temperature" yaml:"temperature"`
	TopP              float32           `mapstructure:"top_p" yaml:"top_p"`
	TopK              int               `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens         int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	SafetyFilters     map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// ArchiveConfig controls persistence of the exploration graph at run end.
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
}

// OrchestratorConfig controls how many exploration sessions run concurrently.
type OrchestratorConfig struct {
	Sessions int `mapstructure:"sessions" yaml:"sessions"`
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults only.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "wayfarer")
	v.SetDefault("logger.log_file", "wayfarer.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport_width", 1366)
	v.SetDefault("browser.viewport_height", 900)
	v.SetDefault("browser.navigation_timeout", "45s")
	v.SetDefault("browser.stability_timeout", "10s")
	v.SetDefault("browser.stability_quiet", "500ms")

	// -- Explorer --
	v.SetDefault("explorer.strategy", "coverage_guided")
	v.SetDefault("explorer.beam_width", 5)
	v.SetDefault("explorer.max_depth", 8)
	v.SetDefault("explorer.max_total_steps", 100)
	v.SetDefault("explorer.max_unique_states", 200)
	v.SetDefault("explorer.stagnation_threshold", 10)
	v.SetDefault("explorer.include_subdomains", true)
	v.SetDefault("explorer.action_timeout", "30s")

	// -- Selector --
	v.SetDefault("selector.decay_rate", 0.5)
	v.SetDefault("selector.max_retries", 3)
	v.SetDefault("selector.novelty_weight", 0.35)
	v.SetDefault("selector.business_weight", 0.30)
	v.SetDefault("selector.risk_weight", 0.15)
	v.SetDefault("selector.branch_weight", 0.20)

	// -- Decision --
	v.SetDefault("decision.dominance_ratio", 2.0)
	v.SetDefault("decision.confidence_threshold", 70)
	v.SetDefault("decision.top_k", 5)
	v.SetDefault("decision.history_window", 10)

	// -- LLM --
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "gemini-2.5-pro")
	v.SetDefault("llm.fast_model", "gemini-2.5-flash")
	v.SetDefault("llm.api_timeout", "30s")
	v.SetDefault("llm.max_elapsed", "2m")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.requests_per_second", 1.0)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 4096)

	// -- Archive --
	v.SetDefault("archive.enabled", false)

	// -- Orchestrator --
	v.SetDefault("orchestrator.sessions", 1)
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("llm.api_key", "WAYFARER_LLM_API_KEY")
	v.BindEnv("archive.dsn", "WAYFARER_ARCHIVE_DSN")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Unmarshal can miss env-only bindings when the key never appears in a file.
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("WAYFARER_LLM_API_KEY")
	}
	if cfg.Archive.Enabled && cfg.Archive.DSN == "" {
		cfg.Archive.DSN = os.Getenv("WAYFARER_ARCHIVE_DSN")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.Explorer.Strategy {
	case "coverage_guided", "breadth_first", "depth_first", "random":
	default:
		return fmt.Errorf("explorer.strategy %q is not one of coverage_guided, breadth_first, depth_first, random", c.Explorer.Strategy)
	}
	if c.Explorer.BeamWidth <= 0 {
		return fmt.Errorf("explorer.beam_width must be a positive integer")
	}
	if c.Explorer.MaxDepth <= 0 {
		return fmt.Errorf("explorer.max_depth must be a positive integer")
	}
	if c.Selector.DecayRate <= 0 || c.Selector.DecayRate > 1 {
		return fmt.Errorf("selector.decay_rate must be in (0, 1]")
	}
	if c.Decision.DominanceRatio < 1 {
		return fmt.Errorf("decision.dominance_ratio must be >= 1")
	}
	if c.Archive.Enabled && c.Archive.DSN == "" {
		return fmt.Errorf("archive.dsn is required when archive.enabled is true")
	}
	if c.Orchestrator.Sessions <= 0 {
		return fmt.Errorf("orchestrator.sessions must be a positive integer")
	}
	return nil
}
