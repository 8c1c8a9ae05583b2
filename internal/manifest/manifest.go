// Package manifest models the authored pack manifest: pack identity,
// provider defaults, style-kits, consistency-groups, evaluation-profiles,
// atlas groups, and the target list. The manifest is author-owned; the
// planner turns it into the normalized targets index.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"

	"lootforge/internal/contract"
)

// ProviderSettings is the manifest-level provider block. Environment
// overrides beat these values; adapter defaults fill the rest.
type ProviderSettings struct {
	Endpoint           string `json:"endpoint,omitempty"`
	Model              string `json:"model,omitempty"`
	TimeoutMs          int    `json:"timeoutMs,omitempty"`
	MaxRetries         *int   `json:"maxRetries,omitempty"`
	MinDelayMs         *int   `json:"minDelayMs,omitempty"`
	DefaultConcurrency int    `json:"defaultConcurrency,omitempty"`
}

// StyleKit bundles shared style rules, reference images, and a palette.
type StyleKit struct {
	StylePreset string   `json:"stylePreset,omitempty"` // e.g. "pixel-art-16bit"
	StyleRules  []string `json:"styleRules,omitempty"`
	RefImages   []string `json:"refImages,omitempty"`
	PalettePath string   `json:"palettePath,omitempty"`
}

// ConsistencyGroup ties targets to a shared visual identity.
type ConsistencyGroup struct {
	StyleKit             string   `json:"styleKit,omitempty"`
	IdentityPrompt       string   `json:"identityPrompt,omitempty"`
	Constraints          []string `json:"constraints,omitempty"`
	OutlierWarnThreshold float64  `json:"outlierWarnThreshold,omitempty"`
}

// EvaluationProfile bundles hard-gate thresholds and score weights.
type EvaluationProfile struct {
	TextureBudgetKB int                `json:"textureBudgetKB,omitempty"`
	Weights         map[string]float64 `json:"weights,omitempty"`
	SheetDriftWarn  float64            `json:"sheetDriftWarn,omitempty"`
	SheetDriftError float64            `json:"sheetDriftError,omitempty"`
}

// AtlasGroup configures one atlas page set.
type AtlasGroup struct {
	MaxWidth  int `json:"maxWidth,omitempty"`
	MaxHeight int `json:"maxHeight,omitempty"`
	Padding   int `json:"padding,omitempty"`
}

// SpritesheetSpec is the authored spritesheet declaration: a frame size
// plus the animation table. The planner expands it into one sheet target
// and N frame targets.
type SpritesheetSpec struct {
	FrameSize  string                    `json:"frameSize"`
	Animations []contract.SheetAnimation `json:"animations"`
}

// RegenRef points a target at a prior selection-lock entry.
type RegenRef struct {
	LockPath string `json:"lockPath"`
	TargetId string `json:"targetId,omitempty"` // defaults to the target's own id
}

// Target is one authored asset declaration.
type Target struct {
	Id                 string                      `json:"id"`
	Kind               string                      `json:"kind"`
	Out                string                      `json:"out"`
	Provider           string                      `json:"provider,omitempty"`
	Model              string                      `json:"model,omitempty"`
	StyleKit           string                      `json:"styleKit,omitempty"`
	ConsistencyGroup   string                      `json:"consistencyGroup,omitempty"`
	EvaluationProfile  string                      `json:"evaluationProfile,omitempty"`
	AtlasGroup         string                      `json:"atlasGroup,omitempty"`
	Acceptance         contract.AcceptanceSpec     `json:"acceptance,omitempty"`
	RuntimeSpec        *contract.RuntimeSpec       `json:"runtimeSpec,omitempty"`
	PromptSpec         contract.PromptSpec         `json:"promptSpec"`
	GenerationPolicy   *contract.GenerationPolicy  `json:"generationPolicy,omitempty"`
	PostProcess        *contract.PostProcessPolicy `json:"postProcess,omitempty"`
	Palette            *contract.PalettePolicy     `json:"palette,omitempty"`
	Tileable           *contract.TileablePolicy    `json:"tileable,omitempty"`
	EditSpec           *contract.EditSpec          `json:"editSpec,omitempty"`
	Spritesheet        *SpritesheetSpec            `json:"spritesheet,omitempty"`
	RegenerationSource *RegenRef                   `json:"regenerationSource,omitempty"`
}

// Manifest is the authored pack document.
type Manifest struct {
	PackId             string                       `json:"packId"`
	Version            string                       `json:"version,omitempty"`
	DefaultProvider    string                       `json:"defaultProvider,omitempty"`
	Providers          map[string]ProviderSettings  `json:"providers,omitempty"`
	StyleKits          map[string]StyleKit          `json:"styleKits,omitempty"`
	ConsistencyGroups  map[string]ConsistencyGroup  `json:"consistencyGroups,omitempty"`
	EvaluationProfiles map[string]EvaluationProfile `json:"evaluationProfiles,omitempty"`
	AtlasGroups        map[string]AtlasGroup        `json:"atlasGroups,omitempty"`
	Targets            []Target                     `json:"targets"`
}

// Load reads and parses a manifest file. The raw bytes are returned so
// the planner can hash them. Structural schema validation is a separate
// step (ValidateSchema); Load only requires well-formed JSON.
func Load(path string) (*Manifest, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, data, nil
}

// Save writes a manifest with stable formatting. Used by init scaffolding
// and tests.
func Save(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
