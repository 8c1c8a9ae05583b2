package process

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"lootforge/internal/contract"
	"lootforge/internal/imaging"
	"lootforge/internal/paths"
)

func hashHex(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// spriteTarget builds a schema-valid planned sprite.
func spriteTarget(id, out, size string) contract.PlannedTarget {
	return contract.PlannedTarget{
		Id:         id,
		Kind:       "sprite",
		Out:        out,
		Provider:   "openai",
		Acceptance: contract.AcceptanceSpec{Size: size, Alpha: true},
		PromptSpec: contract.PromptSpec{Primary: "a " + id},
		GenerationPolicy: contract.GenerationPolicy{
			Background:   "transparent",
			OutputFormat: "png",
		},
		InputHash: hashHex(id),
		JobId:     hashHex(id)[:16],
	}
}

func writeIndex(t *testing.T, layout paths.Layout, targets ...contract.PlannedTarget) {
	t.Helper()
	idx := contract.TargetsIndex{
		ContractVersion: contract.ContractVersion,
		PackId:          "testpack",
		ManifestHash:    hashHex("manifest"),
		DefaultProvider: "openai",
		Targets:         targets,
	}
	if err := contract.WriteFile(contract.KindTargetsIndex, layout.TargetsIndex(), idx); err != nil {
		t.Fatalf("write targets index: %v", err)
	}
}

// writeRaw stores a w x h raw candidate under the raw directory. One
// corner pixel is transparent so alpha survives encoding.
func writeRaw(t *testing.T, layout paths.Layout, rel string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 40, G: 90, B: 180, A: 255})
		}
	}
	img.SetNRGBA(0, 0, color.NRGBA{})
	data, err := imaging.EncodePNG(img)
	if err != nil {
		t.Fatalf("EncodePNG: %v", err)
	}
	abs, err := layout.RawOutput(rel)
	if err != nil {
		t.Fatalf("RawOutput(%q): %v", rel, err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestRunProcessesTarget(t *testing.T) {
	layout := paths.NewLayout(t.TempDir())
	writeIndex(t, layout, spriteTarget("hero", "sprites/hero.png", "8x8"))
	writeRaw(t, layout, "sprites/hero.png", 8, 8)

	report, err := New(layout, nil).Run(context.Background(), Options{RunId: "deadbeef00c0ffee"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Summary.Passed != 1 || report.Summary.Failed != 0 {
		t.Fatalf("summary = %+v, want 1 passed", report.Summary)
	}
	if report.RunId != "deadbeef00c0ffee" {
		t.Errorf("runId = %q", report.RunId)
	}

	entry := report.Targets[0]
	if entry.Path != "assets/imagegen/processed/images/sprites/hero.png" {
		t.Errorf("path = %q", entry.Path)
	}
	if entry.Width != 8 || entry.Height != 8 || !entry.HasAlpha {
		t.Errorf("metrics = %+v", entry)
	}
	abs, _ := layout.ProcessedOutput("sprites/hero.png")
	if _, err := os.Stat(abs); err != nil {
		t.Errorf("processed output not written: %v", err)
	}

	// The report on disk must round-trip through schema validation.
	fromDisk, err := contract.ReadAcceptanceReport(layout.AcceptanceReport())
	if err != nil {
		t.Fatalf("ReadAcceptanceReport: %v", err)
	}
	if len(fromDisk.Targets) != 1 || !fromDisk.Targets[0].Passed {
		t.Errorf("report on disk = %+v", fromDisk)
	}
}

func TestRunMissingRawFailsTarget(t *testing.T) {
	layout := paths.NewLayout(t.TempDir())
	writeIndex(t, layout, spriteTarget("hero", "sprites/hero.png", "8x8"))

	report, err := New(layout, nil).Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run without strict should not fail: %v", err)
	}
	if report.Summary.Failed != 1 {
		t.Fatalf("summary = %+v, want 1 failed", report.Summary)
	}
	entry := report.Targets[0]
	if entry.Passed {
		t.Error("target without raw output must fail")
	}
	if len(entry.Issues) == 0 || entry.Issues[0].Code != "raw_output_missing" {
		t.Errorf("issues = %+v, want raw_output_missing", entry.Issues)
	}
}

func TestRunStrictReturnsStrictError(t *testing.T) {
	layout := paths.NewLayout(t.TempDir())
	writeIndex(t, layout, spriteTarget("hero", "sprites/hero.png", "8x8"))

	_, err := New(layout, nil).Run(context.Background(), Options{Strict: true})
	var se *StrictError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StrictError", err)
	}
	if se.Failed != 1 {
		t.Errorf("failed = %d, want 1", se.Failed)
	}
	// Strict mode still writes the report before failing.
	if _, err := contract.ReadAcceptanceReport(layout.AcceptanceReport()); err != nil {
		t.Errorf("report must be written before the strict error: %v", err)
	}
}

func TestRunEscapingOutPathRejected(t *testing.T) {
	layout := paths.NewLayout(t.TempDir())
	bad := spriteTarget("evil", "../outside.png", "8x8")
	writeIndex(t, layout, bad)

	report, err := New(layout, nil).Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	entry := report.Targets[0]
	if entry.Passed || entry.Issues[0].Code != "invalid_target_out_path" {
		t.Errorf("entry = %+v, want invalid_target_out_path", entry)
	}
}

func TestCatalogSortedAndFiltered(t *testing.T) {
	layout := paths.NewLayout(t.TempDir())

	zeta := spriteTarget("zeta", "zeta.png", "8x8")
	zeta.RuntimeSpec = &contract.RuntimeSpec{Anchor: "bottom-center"}
	alpha := spriteTarget("alpha", "alpha.png", "8x8")
	alpha.AtlasGroup = "ui"
	hidden := spriteTarget("hidden", "hidden.png", "8x8")
	hidden.CatalogDisabled = true

	writeIndex(t, layout, zeta, alpha, hidden)
	for _, rel := range []string{"zeta.png", "alpha.png", "hidden.png"} {
		writeRaw(t, layout, rel, 8, 8)
	}

	if _, err := New(layout, nil).Run(context.Background(), Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	cat, err := ReadCatalog(layout.Catalog())
	if err != nil {
		t.Fatalf("ReadCatalog: %v", err)
	}
	if cat.PackId != "testpack" {
		t.Errorf("packId = %q", cat.PackId)
	}
	if len(cat.Assets) != 2 {
		t.Fatalf("assets = %d, want 2 (catalog-disabled target excluded)", len(cat.Assets))
	}
	if cat.Assets[0].Id != "alpha" || cat.Assets[1].Id != "zeta" {
		t.Errorf("catalog order = %q, %q; want alpha, zeta", cat.Assets[0].Id, cat.Assets[1].Id)
	}
	if cat.Assets[0].AtlasGroup != "ui" {
		t.Errorf("atlasGroup = %q", cat.Assets[0].AtlasGroup)
	}
	if cat.Assets[1].Anchor != "bottom-center" {
		t.Errorf("anchor = %q", cat.Assets[1].Anchor)
	}
}

func TestRunIdFallsBackToProvenance(t *testing.T) {
	layout := paths.NewLayout(t.TempDir())
	writeIndex(t, layout, spriteTarget("hero", "hero.png", "8x8"))
	writeRaw(t, layout, "hero.png", 8, 8)

	prov := contract.ProvenanceRun{
		ContractVersion: contract.ContractVersion,
		RunId:           hashHex("run")[:16],
		InputHash:       hashHex("index"),
		TargetsIndex:    "jobs/targets-index.json",
		StartedAt:       "2026-01-02T03:04:05Z",
		FinishedAt:      "2026-01-02T03:04:06Z",
		Results:         []contract.JobResult{},
		Failures:        []contract.JobFailure{},
	}
	if err := contract.WriteFile(contract.KindProvenanceRun, layout.Provenance(), prov); err != nil {
		t.Fatalf("write provenance: %v", err)
	}

	report, err := New(layout, nil).Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.RunId != prov.RunId {
		t.Errorf("runId = %q, want %q from provenance", report.RunId, prov.RunId)
	}
}

func TestSummarizeCountsWarnedOncePerTarget(t *testing.T) {
	targets := []contract.TargetAcceptance{
		{Passed: true, Issues: []contract.AcceptanceIssue{
			{Level: "warning", Code: "a"},
			{Level: "warning", Code: "b"},
		}},
		{Passed: false, Issues: []contract.AcceptanceIssue{{Level: "error", Code: "c"}}},
		{Passed: true},
	}
	s := summarize(targets)
	if s.Passed != 2 || s.Failed != 1 || s.Warned != 1 {
		t.Errorf("summary = %+v, want 2/1/1", s)
	}
}
