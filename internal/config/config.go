// Package config loads the optional lootforge.yaml runtime file and the
// environment overrides layered on top of it. Provider settings resolved
// here sit above manifest provider blocks and below nothing: environment
// beats file beats manifest beats adapter default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all lootforge runtime configuration.
type Config struct {
	// Per-provider overrides, keyed by provider name.
	Providers map[string]ProviderConfig `yaml:"providers"`

	// Perceptual eval adapters (clip, lpips, ssim).
	Adapters AdaptersConfig `yaml:"adapters"`

	// VLM candidate gate.
	VlmGate VlmGateConfig `yaml:"vlm_gate"`

	// HTTP service settings.
	Service ServiceConfig `yaml:"service"`

	// Safety ceilings.
	Limits LimitsConfig `yaml:"limits"`

	// Logging.
	Logging LoggingConfig `yaml:"logging"`
}

// ProviderConfig overrides one provider's settings. Zero values mean
// "not set here": the registry falls through to the manifest provider
// block and finally the adapter defaults. MaxRetries and MinDelayMs are
// pointers so an explicit zero survives the fallthrough.
type ProviderConfig struct {
	APIKey             string `yaml:"api_key"`
	Endpoint           string `yaml:"endpoint"`
	Model              string `yaml:"model"`
	TimeoutMs          int    `yaml:"timeout_ms"`
	MaxRetries         *int   `yaml:"max_retries"`
	MinDelayMs         *int   `yaml:"min_delay_ms"`
	DefaultConcurrency int    `yaml:"default_concurrency"`
}

// AdaptersConfig configures the perceptual eval adapters.
type AdaptersConfig struct {
	Clip  AdapterConfig `yaml:"clip"`
	Lpips AdapterConfig `yaml:"lpips"`
	Ssim  AdapterConfig `yaml:"ssim"`
}

// AdapterConfig configures one eval adapter. An enabled adapter runs in
// command mode when Cmd is set, HTTP mode when URL is set, and reports
// itself unconfigured otherwise.
type AdapterConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Cmd       string `yaml:"cmd"`
	URL       string `yaml:"url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// VlmGateConfig configures how vlmGate rubrics are executed.
type VlmGateConfig struct {
	Mode      string `yaml:"mode"` // gemini, command, http, off; empty = auto
	Cmd       string `yaml:"cmd"`
	URL       string `yaml:"url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// ServiceConfig configures the lootforge serve HTTP listener.
type ServiceConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Out  string `yaml:"out"`
}

// LimitsConfig holds safety ceilings.
type LimitsConfig struct {
	// Largest decoded provider image accepted, in bytes.
	MaxImageBytes int64 `yaml:"max_image_bytes"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ValidProviders lists all supported image providers.
var ValidProviders = []string{"openai", "nano", "local"}

// DefaultConfig returns the default configuration. Provider blocks start
// empty on purpose: a default here would shadow manifest provider blocks
// in the precedence chain.
func DefaultConfig() *Config {
	return &Config{
		Providers: map[string]ProviderConfig{},

		Adapters: AdaptersConfig{},

		VlmGate: VlmGateConfig{},

		Service: ServiceConfig{
			Host: "127.0.0.1",
			Port: 8787,
		},

		Limits: LimitsConfig{
			MaxImageBytes: 24 << 20,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultPath returns the default lootforge.yaml location.
func DefaultPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "lootforge.yaml"
	}
	return filepath.Join(cwd, "lootforge.yaml")
}

// Load loads configuration from a YAML file and applies environment
// overrides. A missing file is not an error; defaults plus environment
// are returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
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

// Validate validates the configuration.
func (c *Config) Validate() error {
	for name := range c.Providers {
		if !isValidProvider(name) {
			return fmt.Errorf("invalid provider %q in config (valid: %v)", name, ValidProviders)
		}
	}
	if c.Service.Port < 0 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid service port: %d", c.Service.Port)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}
	switch c.VlmGate.Mode {
	case "", "gemini", "command", "http", "off":
	default:
		return fmt.Errorf("invalid vlm_gate mode: %s (valid: gemini, command, http, off)", c.VlmGate.Mode)
	}
	return nil
}

func isValidProvider(name string) bool {
	for _, p := range ValidProviders {
		if name == p {
			return true
		}
	}
	return false
}

// Provider returns the override block for a provider name. Absent
// providers come back as a zero block.
func (c *Config) Provider(name string) ProviderConfig {
	return c.Providers[name]
}

// Timeout returns the adapter timeout as a duration.
func (a AdapterConfig) Timeout() time.Duration {
	if a.TimeoutMs > 0 {
		return time.Duration(a.TimeoutMs) * time.Millisecond
	}
	return 20 * time.Second
}

// Timeout returns the VLM gate timeout as a duration.
func (v VlmGateConfig) Timeout() time.Duration {
	if v.TimeoutMs > 0 {
		return time.Duration(v.TimeoutMs) * time.Millisecond
	}
	return 30 * time.Second
}
