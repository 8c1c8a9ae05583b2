package config

import (
	"os"
	"strconv"
	"strings"
)

// applyEnvOverrides applies environment variable overrides. Recognized
// variables:
//
//	OPENAI_API_KEY, GEMINI_API_KEY
//	LOOTFORGE_<PROVIDER>_{ENDPOINT,TIMEOUT_MS,MAX_RETRIES,MIN_DELAY_MS,DEFAULT_CONCURRENCY}
//	LOOTFORGE_ENABLE_{CLIP,LPIPS,SSIM}_ADAPTER and LOOTFORGE_{CLIP,LPIPS,SSIM}_{CMD,URL,TIMEOUT_MS}
//	LOOTFORGE_VLM_GATE_{MODE,CMD,URL,TIMEOUT_MS}
//	LOOTFORGE_SERVICE_{HOST,PORT,OUT}
//	LOOTFORGE_MAX_IMAGE_BYTES
func (c *Config) applyEnvOverrides() {
	// API keys. The nano provider runs on Gemini image models, so it
	// takes the Gemini key.
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		p := c.Providers["openai"]
		p.APIKey = key
		c.Providers["openai"] = p
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		p := c.Providers["nano"]
		p.APIKey = key
		c.Providers["nano"] = p
	}

	for _, name := range ValidProviders {
		prefix := "LOOTFORGE_" + strings.ToUpper(name) + "_"
		p := c.Providers[name]
		if v := os.Getenv(prefix + "ENDPOINT"); v != "" {
			p.Endpoint = v
		}
		if n, ok := envInt(prefix + "TIMEOUT_MS"); ok && n > 0 {
			p.TimeoutMs = n
		}
		if n, ok := envInt(prefix + "MAX_RETRIES"); ok && n >= 0 {
			p.MaxRetries = intPtr(n)
		}
		if n, ok := envInt(prefix + "MIN_DELAY_MS"); ok && n >= 0 {
			p.MinDelayMs = intPtr(n)
		}
		if n, ok := envInt(prefix + "DEFAULT_CONCURRENCY"); ok && n > 0 {
			p.DefaultConcurrency = n
		}
		c.Providers[name] = p
	}

	applyAdapterEnv(&c.Adapters.Clip, "CLIP")
	applyAdapterEnv(&c.Adapters.Lpips, "LPIPS")
	applyAdapterEnv(&c.Adapters.Ssim, "SSIM")

	if v := os.Getenv("LOOTFORGE_VLM_GATE_MODE"); v != "" {
		c.VlmGate.Mode = v
	}
	if v := os.Getenv("LOOTFORGE_VLM_GATE_CMD"); v != "" {
		c.VlmGate.Cmd = v
	}
	if v := os.Getenv("LOOTFORGE_VLM_GATE_URL"); v != "" {
		c.VlmGate.URL = v
	}
	if n, ok := envInt("LOOTFORGE_VLM_GATE_TIMEOUT_MS"); ok && n > 0 {
		c.VlmGate.TimeoutMs = n
	}

	if v := os.Getenv("LOOTFORGE_SERVICE_HOST"); v != "" {
		c.Service.Host = v
	}
	if n, ok := envInt("LOOTFORGE_SERVICE_PORT"); ok && n > 0 {
		c.Service.Port = n
	}
	if v := os.Getenv("LOOTFORGE_SERVICE_OUT"); v != "" {
		c.Service.Out = v
	}

	if v := os.Getenv("LOOTFORGE_MAX_IMAGE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.Limits.MaxImageBytes = n
		}
	}
}

func applyAdapterEnv(a *AdapterConfig, name string) {
	if v := os.Getenv("LOOTFORGE_ENABLE_" + name + "_ADAPTER"); v != "" {
		a.Enabled = envTruthy(v)
	}
	if v := os.Getenv("LOOTFORGE_" + name + "_CMD"); v != "" {
		a.Cmd = v
	}
	if v := os.Getenv("LOOTFORGE_" + name + "_URL"); v != "" {
		a.URL = v
	}
	if n, ok := envInt("LOOTFORGE_" + name + "_TIMEOUT_MS"); ok && n > 0 {
		a.TimeoutMs = n
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func intPtr(n int) *int {
	return &n
}
