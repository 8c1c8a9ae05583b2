package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lootforge/internal/contract"
)

func sampleManifest() *Manifest {
	return &Manifest{
		PackId:          "dungeon-pack",
		Version:         "1.0",
		DefaultProvider: "openai",
		Providers: map[string]ProviderSettings{
			"openai": {Model: "gpt-image-1", TimeoutMs: 120000},
		},
		StyleKits: map[string]StyleKit{
			"retro": {
				StylePreset: "pixel-art-16bit",
				StyleRules:  []string{"no gradients", "hard outlines"},
			},
		},
		Targets: []Target{
			{
				Id:   "hero-idle",
				Kind: "sprite",
				Out:  "sprites/hero-idle.png",
				PromptSpec: contract.PromptSpec{
					Primary: "a knight standing at rest",
					Style:   "16-bit pixel art",
				},
				Acceptance: contract.AcceptanceSpec{Size: "64x64", Alpha: true},
			},
		},
	}
}

func TestLoadAndSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")

	want := sampleManifest()
	if err := Save(path, want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, raw, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(raw) == 0 {
		t.Error("Load returned empty raw bytes")
	}
	if got.PackId != want.PackId {
		t.Errorf("PackId = %q, want %q", got.PackId, want.PackId)
	}
	if got.DefaultProvider != want.DefaultProvider {
		t.Errorf("DefaultProvider = %q, want %q", got.DefaultProvider, want.DefaultProvider)
	}
	if len(got.Targets) != 1 {
		t.Fatalf("Targets count = %d, want 1", len(got.Targets))
	}
	if got.Targets[0].PromptSpec.Primary != "a knight standing at rest" {
		t.Errorf("PromptSpec.Primary = %q", got.Targets[0].PromptSpec.Primary)
	}
	if got.StyleKits["retro"].StylePreset != "pixel-art-16bit" {
		t.Errorf("StyleKits[retro].StylePreset = %q", got.StyleKits["retro"].StylePreset)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err == nil {
		t.Fatal("expected error for missing manifest")
	}
}

func TestLoadMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	_, _, err := Load(path)
	if err == nil {
		t.Fatal("expected error for malformed manifest")
	}
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestValidateSchema(t *testing.T) {
	t.Run("valid manifest passes", func(t *testing.T) {
		diags := ValidateSchema(mustMarshal(t, sampleManifest()))
		if len(diags) != 0 {
			t.Errorf("expected no diagnostics, got %v", diags)
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		diags := ValidateSchema([]byte("{oops"))
		if len(diags) != 1 {
			t.Fatalf("expected 1 diagnostic, got %d", len(diags))
		}
		if diags[0].Path != "$" || diags[0].Code != "json" {
			t.Errorf("diagnostic = %+v", diags[0])
		}
	})

	t.Run("missing packId", func(t *testing.T) {
		m := sampleManifest()
		m.PackId = ""
		raw := mustMarshal(t, m)
		// PackId has no omitempty, so blank it at the JSON level too.
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			t.Fatal(err)
		}
		delete(doc, "packId")
		diags := ValidateSchema(mustMarshal(t, doc))
		if len(diags) == 0 {
			t.Fatal("expected diagnostics for missing packId")
		}
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		var doc map[string]any
		if err := json.Unmarshal(mustMarshal(t, sampleManifest()), &doc); err != nil {
			t.Fatal(err)
		}
		doc["packID"] = "typo-cased-duplicate"
		diags := ValidateSchema(mustMarshal(t, doc))
		if len(diags) == 0 {
			t.Fatal("expected diagnostics for unknown field")
		}
	})

	t.Run("bad target kind", func(t *testing.T) {
		m := sampleManifest()
		m.Targets[0].Kind = "decal"
		diags := ValidateSchema(mustMarshal(t, m))
		if len(diags) == 0 {
			t.Fatal("expected diagnostics for unknown kind")
		}
		found := false
		for _, d := range diags {
			if strings.HasPrefix(d.Path, "$.targets[0]") {
				found = true
			}
		}
		if !found {
			t.Errorf("expected a diagnostic under $.targets[0], got %v", diags)
		}
	})

	t.Run("missing promptSpec", func(t *testing.T) {
		var doc map[string]any
		if err := json.Unmarshal(mustMarshal(t, sampleManifest()), &doc); err != nil {
			t.Fatal(err)
		}
		target := doc["targets"].([]any)[0].(map[string]any)
		delete(target, "promptSpec")
		diags := ValidateSchema(mustMarshal(t, doc))
		if len(diags) == 0 {
			t.Fatal("expected diagnostics for missing promptSpec")
		}
	})

	t.Run("bad acceptance size pattern", func(t *testing.T) {
		m := sampleManifest()
		m.Targets[0].Acceptance.Size = "64 by 64"
		diags := ValidateSchema(mustMarshal(t, m))
		if len(diags) == 0 {
			t.Fatal("expected diagnostics for malformed size")
		}
	})

	t.Run("spritesheet requires animations", func(t *testing.T) {
		m := sampleManifest()
		m.Targets[0].Kind = "spritesheet"
		m.Targets[0].Spritesheet = &SpritesheetSpec{FrameSize: "32x32"}
		diags := ValidateSchema(mustMarshal(t, m))
		if len(diags) == 0 {
			t.Fatal("expected diagnostics for missing animations")
		}
	})
}
