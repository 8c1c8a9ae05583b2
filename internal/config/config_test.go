package config

import (
	"os"
	"path/filepath"
	"testing"
)

func clearLootforgeEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		"OPENAI_API_KEY", "GEMINI_API_KEY",
		"LOOTFORGE_SERVICE_HOST", "LOOTFORGE_SERVICE_PORT", "LOOTFORGE_SERVICE_OUT",
		"LOOTFORGE_MAX_IMAGE_BYTES",
		"LOOTFORGE_VLM_GATE_MODE", "LOOTFORGE_VLM_GATE_CMD", "LOOTFORGE_VLM_GATE_URL", "LOOTFORGE_VLM_GATE_TIMEOUT_MS",
	}
	for _, name := range []string{"OPENAI", "NANO", "LOCAL"} {
		for _, suffix := range []string{"ENDPOINT", "TIMEOUT_MS", "MAX_RETRIES", "MIN_DELAY_MS", "DEFAULT_CONCURRENCY"} {
			vars = append(vars, "LOOTFORGE_"+name+"_"+suffix)
		}
	}
	for _, name := range []string{"CLIP", "LPIPS", "SSIM"} {
		vars = append(vars, "LOOTFORGE_ENABLE_"+name+"_ADAPTER")
		for _, suffix := range []string{"CMD", "URL", "TIMEOUT_MS"} {
			vars = append(vars, "LOOTFORGE_"+name+"_"+suffix)
		}
	}
	for _, v := range vars {
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Service.Host != "127.0.0.1" {
		t.Errorf("expected Host=127.0.0.1, got %s", cfg.Service.Host)
	}
	if cfg.Service.Port != 8787 {
		t.Errorf("expected Port=8787, got %d", cfg.Service.Port)
	}
	if cfg.Limits.MaxImageBytes != 24<<20 {
		t.Errorf("expected MaxImageBytes=%d, got %d", 24<<20, cfg.Limits.MaxImageBytes)
	}
	if len(cfg.Providers) != 0 {
		t.Errorf("expected empty provider blocks, got %v", cfg.Providers)
	}
	if cfg.Adapters.Clip.Enabled || cfg.Adapters.Lpips.Enabled || cfg.Adapters.Ssim.Enabled {
		t.Error("expected all adapters disabled by default")
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	clearLootforgeEnv(t)

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "lootforge.yaml")

	cfg := DefaultConfig()
	cfg.Providers["openai"] = ProviderConfig{Model: "gpt-image-1", TimeoutMs: 90000}
	cfg.Adapters.Ssim = AdapterConfig{Enabled: true, Cmd: "ssim-score"}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Providers["openai"].Model != "gpt-image-1" {
		t.Errorf("expected Model=gpt-image-1, got %s", loaded.Providers["openai"].Model)
	}
	if loaded.Providers["openai"].TimeoutMs != 90000 {
		t.Errorf("expected TimeoutMs=90000, got %d", loaded.Providers["openai"].TimeoutMs)
	}
	if !loaded.Adapters.Ssim.Enabled || loaded.Adapters.Ssim.Cmd != "ssim-score" {
		t.Errorf("ssim adapter = %+v", loaded.Adapters.Ssim)
	}
}

func TestConfig_LoadMissingFileReturnsDefaults(t *testing.T) {
	clearLootforgeEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Service.Port != 8787 {
		t.Errorf("expected default port, got %d", cfg.Service.Port)
	}
}

func TestConfig_LoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lootforge.yaml")
	if err := os.WriteFile(path, []byte("providers: [not a map"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}

	cfg.Providers["dalle"] = ProviderConfig{}
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for unknown provider")
	}
	delete(cfg.Providers, "dalle")

	cfg.Service.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for out-of-range port")
	}
	cfg.Service.Port = 8787

	cfg.VlmGate.Mode = "telepathy"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for unknown vlm_gate mode")
	}
}

func TestAdapterTimeout(t *testing.T) {
	a := AdapterConfig{}
	if a.Timeout().Seconds() != 20 {
		t.Errorf("default timeout = %v, want 20s", a.Timeout())
	}
	a.TimeoutMs = 1500
	if a.Timeout().Milliseconds() != 1500 {
		t.Errorf("timeout = %v, want 1.5s", a.Timeout())
	}
}
