// Package init scaffolds a fresh lootforge workspace: a starter
// manifest small enough to read in one sitting plus the directory
// skeleton the stages write into. Importers alias it (forgeinit).
package init

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"lootforge/internal/contract"
	"lootforge/internal/manifest"
	"lootforge/internal/paths"
)

// Options shapes one init invocation.
type Options struct {
	PackId string // defaults to "starter-pack"
	Force  bool   // overwrite an existing manifest
}

// Result reports what init created.
type Result struct {
	ManifestPath string   `json:"manifestPath"`
	Dirs         []string `json:"dirs"`
}

// Scaffolder creates workspaces under one output root.
type Scaffolder struct {
	layout paths.Layout
	logger *zap.Logger
}

// New builds a scaffolder. A nil logger is replaced with a no-op.
func New(layout paths.Layout, logger *zap.Logger) *Scaffolder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scaffolder{layout: layout, logger: logger}
}

// Run writes the starter manifest and creates the stage directories.
// An existing manifest is never overwritten unless Force is set; the
// directories are created either way since MkdirAll is idempotent.
func (s *Scaffolder) Run(_ context.Context, opts Options) (*Result, error) {
	manifestPath := s.layout.Manifest()
	if !opts.Force {
		if _, err := os.Stat(manifestPath); err == nil {
			return nil, fmt.Errorf("manifest already exists at %s (re-run with --force to overwrite)", manifestPath)
		}
	}

	dirs := []string{
		s.layout.RawDir(),
		s.layout.ProcessedImagesDir(),
		filepath.Dir(s.layout.TargetsIndex()),
		filepath.Dir(s.layout.AcceptanceReport()),
		filepath.Dir(s.layout.Provenance()),
		filepath.Dir(s.layout.SelectionLock()),
		filepath.Dir(s.layout.Review()),
	}
	created := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
		created = append(created, s.layout.Rel(dir))
	}

	packId := opts.PackId
	if packId == "" {
		packId = "starter-pack"
	}
	if err := os.MkdirAll(filepath.Dir(manifestPath), 0755); err != nil {
		return nil, fmt.Errorf("create manifest directory: %w", err)
	}
	if err := manifest.Save(manifestPath, starterManifest(packId)); err != nil {
		return nil, err
	}

	s.logger.Info("workspace scaffolded",
		zap.String("manifest", s.layout.Rel(manifestPath)),
		zap.String("packId", packId))
	return &Result{ManifestPath: s.layout.Rel(manifestPath), Dirs: created}, nil
}

// starterManifest is a two-target pack that exercises the common knobs:
// a transparent sprite and a tileable ground tile sharing one style kit
// and one evaluation profile. It must plan cleanly as written.
func starterManifest(packId string) *manifest.Manifest {
	return &manifest.Manifest{
		PackId:          packId,
		Version:         "1.0.0",
		DefaultProvider: "openai",
		StyleKits: map[string]manifest.StyleKit{
			"pixel16": {
				StylePreset: "pixel-art-16bit",
				StyleRules: []string{
					"1px dark outline",
					"readable silhouette at gameplay zoom",
				},
			},
		},
		EvaluationProfiles: map[string]manifest.EvaluationProfile{
			"default": {
				TextureBudgetKB: 2048,
				SheetDriftWarn:  0.25,
				SheetDriftError: 0.5,
			},
		},
		Targets: []manifest.Target{
			{
				Id:                "hero",
				Kind:              "sprite",
				Out:               "sprites/hero.png",
				StyleKit:          "pixel16",
				EvaluationProfile: "default",
				Acceptance:        contract.AcceptanceSpec{Size: "64x64", Alpha: true},
				PromptSpec: contract.PromptSpec{
					Primary: "heroic knight in idle stance",
					Subject: "armored knight with sword and shield",
				},
				GenerationPolicy: &contract.GenerationPolicy{
					OutputFormat: "png",
					Background:   "transparent",
				},
			},
			{
				Id:                "grass-tile",
				Kind:              "tile",
				Out:               "tiles/grass.png",
				StyleKit:          "pixel16",
				EvaluationProfile: "default",
				Acceptance:        contract.AcceptanceSpec{Size: "32x32"},
				PromptSpec: contract.PromptSpec{
					Primary: "grassy ground tile, top-down view",
				},
				GenerationPolicy: &contract.GenerationPolicy{
					OutputFormat: "png",
					Background:   "opaque",
				},
				Tileable: &contract.TileablePolicy{Tileable: true},
			},
		},
	}
}
