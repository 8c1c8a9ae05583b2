package provider

import (
	"time"

	"lootforge/internal/config"
	"lootforge/internal/manifest"
)

const defaultMaxImageBytes = 24 << 20

// Settings is the fully resolved runtime configuration of one adapter.
// Resolution layers, strongest first: environment (folded into the
// config layer by config.Load), lootforge.yaml, the manifest provider
// block, and the adapter's own defaults.
type Settings struct {
	APIKey        string
	Endpoint      string
	Model         string
	Timeout       time.Duration
	MaxRetries    int
	MinDelayMs    int
	Concurrency   int
	MaxImageBytes int64
}

// adapterDefaults is the weakest resolution layer.
type adapterDefaults struct {
	Endpoint   string
	Model      string
	TimeoutMs  int
	MaxRetries int
}

func resolveSettings(defs adapterDefaults, caps Capabilities, mset *manifest.ProviderSettings, pcfg config.ProviderConfig, limits config.LimitsConfig) Settings {
	s := Settings{
		APIKey:        pcfg.APIKey,
		Endpoint:      defs.Endpoint,
		Model:         defs.Model,
		Timeout:       time.Duration(defs.TimeoutMs) * time.Millisecond,
		MaxRetries:    defs.MaxRetries,
		MinDelayMs:    caps.MinDelayMs,
		Concurrency:   caps.DefaultConcurrency,
		MaxImageBytes: limits.MaxImageBytes,
	}
	if mset != nil {
		if mset.Endpoint != "" {
			s.Endpoint = mset.Endpoint
		}
		if mset.Model != "" {
			s.Model = mset.Model
		}
		if mset.TimeoutMs > 0 {
			s.Timeout = time.Duration(mset.TimeoutMs) * time.Millisecond
		}
		if mset.MaxRetries != nil {
			s.MaxRetries = *mset.MaxRetries
		}
		if mset.MinDelayMs != nil {
			s.MinDelayMs = *mset.MinDelayMs
		}
		if mset.DefaultConcurrency > 0 {
			s.Concurrency = mset.DefaultConcurrency
		}
	}
	if pcfg.Endpoint != "" {
		s.Endpoint = pcfg.Endpoint
	}
	if pcfg.Model != "" {
		s.Model = pcfg.Model
	}
	if pcfg.TimeoutMs > 0 {
		s.Timeout = time.Duration(pcfg.TimeoutMs) * time.Millisecond
	}
	if pcfg.MaxRetries != nil {
		s.MaxRetries = *pcfg.MaxRetries
	}
	if pcfg.MinDelayMs != nil {
		s.MinDelayMs = *pcfg.MinDelayMs
	}
	if pcfg.DefaultConcurrency > 0 {
		s.Concurrency = pcfg.DefaultConcurrency
	}
	if s.Concurrency < 1 {
		s.Concurrency = 1
	}
	if s.MaxImageBytes <= 0 {
		s.MaxImageBytes = defaultMaxImageBytes
	}
	return s
}
