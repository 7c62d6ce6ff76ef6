// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration. It is populated once at
// startup and threaded, immutable, through every constructor; nothing reads
// ambient global state after initialization.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Agent     AgentConfig     `mapstructure:"agent" yaml:"agent"`
	Cascade   CascadeConfig   `mapstructure:"cascade" yaml:"cascade"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Reasoner  ReasonerConfig  `mapstructure:"reasoner" yaml:"reasoner"`
	Budget    BudgetConfig    `mapstructure:"budget" yaml:"budget"`
	Admission AdmissionConfig `mapstructure:"admission" yaml:"admission"`
	Playbooks PlaybookConfig  `mapstructure:"playbooks" yaml:"playbooks"`
	Wallet    WalletConfig    `mapstructure:"wallet" yaml:"wallet"`
	Monitor   MonitorConfig   `mapstructure:"monitor" yaml:"monitor"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Identity  IdentityConfig  `mapstructure:"identity" yaml:"identity"`
}

// LoggerConfig holds all the configuration for the zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// AgentConfig tunes the session state machine.
type AgentConfig struct {
	// MaxSteps is the global safety limit; exceeding it forces the session
	// into NEEDS_MANUAL_REVIEW regardless of state.
	MaxSteps int `mapstructure:"max_steps" yaml:"max_steps"`
	// StuckThresholds maps a state name to the number of unproductive
	// attempts tolerated in that state before escalating to guidance. The
	// "DEFAULT" key applies to states without an explicit entry.
	StuckThresholds map[string]int `mapstructure:"stuck_thresholds" yaml:"stuck_thresholds"`
	// StepTimeout bounds every browser-driver call.
	StepTimeout time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	// GuidanceTimeout bounds the wait for a human command in GUIDANCE_NEEDED.
	GuidanceTimeout time.Duration `mapstructure:"guidance_timeout" yaml:"guidance_timeout"`
	// BatchFill enables the single-call multi-action form fill in FILL_REGISTER.
	BatchFill bool `mapstructure:"batch_fill" yaml:"batch_fill"`
	// DuplicateScreenshotLimit is the run of identical screenshot hashes that
	// counts as a stuck signal.
	DuplicateScreenshotLimit int `mapstructure:"duplicate_screenshot_limit" yaml:"duplicate_screenshot_limit"`
}

// StuckThreshold resolves the stuck threshold for a state name.
func (a AgentConfig) StuckThreshold(state string) int {
	if v, ok := a.StuckThresholds[state]; ok {
		return v
	}
	if v, ok := a.StuckThresholds["DEFAULT"]; ok {
		return v
	}
	return 15
}

// CascadeConfig holds the decision-cascade routing thresholds.
type CascadeConfig struct {
	// DirectThreshold: DOM scores at or above it act without any reasoning
	// call. Scores exactly at the threshold resolve to the cheaper tier.
	DirectThreshold int `mapstructure:"direct_threshold" yaml:"direct_threshold"`
	// AssistedThreshold: scores at or above it (but below direct) submit the
	// narrowed candidate set to the text tier.
	AssistedThreshold int `mapstructure:"assisted_threshold" yaml:"assisted_threshold"`
	// DOMInspection can be disabled wholesale for debugging.
	DOMInspection bool `mapstructure:"dom_inspection" yaml:"dom_inspection"`
}

// BrowserConfig holds settings for the headless browser driver.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	ViewportWidth     int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	ScreenshotQuality int           `mapstructure:"screenshot_quality" yaml:"screenshot_quality"`
}

// ReasonerProvider names a supported reasoning backend.
type ReasonerProvider string

const (
	ProviderGemini ReasonerProvider = "gemini"
	ProviderOllama ReasonerProvider = "ollama"
	ProviderMock   ReasonerProvider = "mock"
)

// ReasonerConfig configures the reasoning gateway.
type ReasonerConfig struct {
	Provider    ReasonerProvider `mapstructure:"provider" yaml:"provider"`
	TextModel   string           `mapstructure:"text_model" yaml:"text_model"`
	VisionModel string           `mapstructure:"vision_model" yaml:"vision_model"`
	APIKey      string           `mapstructure:"api_key" yaml:"-"`
	Endpoint    string           `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration    `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float64          `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int              `mapstructure:"max_tokens" yaml:"max_tokens"`
	// RatePerSecond is the shared request rate across all sessions; it is the
	// only reasoning state shared between investigations.
	RatePerSecond float64       `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	MaxRetryTime  time.Duration `mapstructure:"max_retry_time" yaml:"max_retry_time"`
}

// BudgetConfig bounds per-investigation spend.
type BudgetConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// CeilingUSD is the per-investigation cost ceiling. Zero means unlimited.
	CeilingUSD float64 `mapstructure:"ceiling_usd" yaml:"ceiling_usd"`
}

// AdmissionConfig bounds process-wide concurrency.
type AdmissionConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent" yaml:"max_concurrent"`
}

// PlaybookConfig locates declarative playbook definitions.
type PlaybookConfig struct {
	Dir     string `mapstructure:"dir" yaml:"dir"`
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
}

// WalletConfig configures the extraction engine.
type WalletConfig struct {
	// AllowlistPath optionally overrides the built-in token-network table.
	AllowlistPath string `mapstructure:"allowlist_path" yaml:"allowlist_path"`
}

// MonitorConfig configures the monitoring/guidance HTTP boundary.
type MonitorConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// StoreConfig configures result persistence.
type StoreConfig struct {
	Path    string `mapstructure:"path" yaml:"path"`
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
}

// IdentityConfig configures the synthetic identity provider.
type IdentityConfig struct {
	Locale      string `mapstructure:"locale" yaml:"locale"`
	ProbeDomain string `mapstructure:"probe_domain" yaml:"probe_domain"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "lurehound")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Agent --
	v.SetDefault("agent.max_steps", 80)
	v.SetDefault("agent.stuck_thresholds", map[string]int{
		"FIND_REGISTER":   8,
		"FILL_REGISTER":   12,
		"SUBMIT_REGISTER": 10,
		"EXTRACT_WALLETS": 20,
		"DEFAULT":         15,
	})
	v.SetDefault("agent.step_timeout", "25s")
	v.SetDefault("agent.guidance_timeout", "5m")
	v.SetDefault("agent.batch_fill", true)
	v.SetDefault("agent.duplicate_screenshot_limit", 5)

	// -- Cascade --
	v.SetDefault("cascade.direct_threshold", 75)
	v.SetDefault("cascade.assisted_threshold", 40)
	v.SetDefault("cascade.dom_inspection", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", true)
	v.SetDefault("browser.navigation_timeout", "45s")
	v.SetDefault("browser.post_load_wait", "2s")
	v.SetDefault("browser.viewport_width", 1366)
	v.SetDefault("browser.viewport_height", 900)
	v.SetDefault("browser.screenshot_quality", 55)

	// -- Reasoner --
	v.SetDefault("reasoner.provider", "gemini")
	v.SetDefault("reasoner.text_model", "gemini-2.5-flash")
	v.SetDefault("reasoner.vision_model", "gemini-2.5-pro")
	v.SetDefault("reasoner.api_timeout", "60s")
	v.SetDefault("reasoner.temperature", 0.2)
	v.SetDefault("reasoner.max_tokens", 2048)
	v.SetDefault("reasoner.rate_per_second", 1.0)
	v.SetDefault("reasoner.max_retry_time", "2m")

	// -- Budget --
	v.SetDefault("budget.enabled", true)
	v.SetDefault("budget.ceiling_usd", 1.00)

	// -- Admission --
	v.SetDefault("admission.max_concurrent", 4)

	// -- Playbooks --
	v.SetDefault("playbooks.dir", "playbooks")
	v.SetDefault("playbooks.enabled", true)

	// -- Monitor --
	v.SetDefault("monitor.enabled", false)
	v.SetDefault("monitor.listen_addr", "127.0.0.1:8877")

	// -- Store --
	v.SetDefault("store.enabled", true)
	v.SetDefault("store.path", "lurehound.db")

	// -- Identity --
	v.SetDefault("identity.locale", "en_US")
	v.SetDefault("identity.probe_domain", "lh-probe.net")
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Unreachable with defaults, but fail loudly rather than run half-configured.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data.
	if err := v.BindEnv("reasoner.api_key", "LUREHOUND_REASONER_API_KEY"); err != nil {
		return nil, fmt.Errorf("binding reasoner api key env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be a positive integer")
	}
	if c.Admission.MaxConcurrent <= 0 {
		return fmt.Errorf("admission.max_concurrent must be a positive integer")
	}
	if c.Cascade.AssistedThreshold < 0 || c.Cascade.DirectThreshold > 100 {
		return fmt.Errorf("cascade thresholds must lie within [0, 100]")
	}
	if c.Cascade.AssistedThreshold > c.Cascade.DirectThreshold {
		return fmt.Errorf("cascade.assisted_threshold (%d) must not exceed cascade.direct_threshold (%d)",
			c.Cascade.AssistedThreshold, c.Cascade.DirectThreshold)
	}
	if c.Budget.Enabled && c.Budget.CeilingUSD < 0 {
		return fmt.Errorf("budget.ceiling_usd must not be negative")
	}
	switch c.Reasoner.Provider {
	case ProviderGemini, ProviderOllama, ProviderMock:
	default:
		return fmt.Errorf("unknown reasoner provider %q (supported: gemini, ollama, mock)", c.Reasoner.Provider)
	}
	return nil
}
