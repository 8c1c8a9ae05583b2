package process

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"os"
	"testing"

	"lootforge/internal/contract"
	"lootforge/internal/imaging"
	"lootforge/internal/paths"
)

func decodeProcessed(t *testing.T, layout paths.Layout, rel string) *image.NRGBA {
	t.Helper()
	abs, err := layout.ProcessedOutput(rel)
	if err != nil {
		t.Fatalf("ProcessedOutput(%q): %v", rel, err)
	}
	img, _, err := imaging.DecodeFile(abs)
	if err != nil {
		t.Fatalf("DecodeFile(%q): %v", rel, err)
	}
	return img
}

func TestChainResizeToAcceptance(t *testing.T) {
	layout := paths.NewLayout(t.TempDir())
	target := spriteTarget("hero", "hero.png", "8x8")
	target.PostProcess = &contract.PostProcessPolicy{Resize: "8x8", Algorithm: "nearest"}
	writeIndex(t, layout, target)
	writeRaw(t, layout, "hero.png", 16, 16)

	report, err := New(layout, nil).Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Targets[0].Passed {
		t.Fatalf("resized target should pass: %+v", report.Targets[0].Issues)
	}
	img := decodeProcessed(t, layout, "hero.png")
	if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 8 {
		t.Errorf("processed size = %dx%d, want 8x8", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestChainResizeSingleEdgeKeepsAspect(t *testing.T) {
	layout := paths.NewLayout(t.TempDir())
	target := spriteTarget("banner", "banner.png", "")
	target.Acceptance.Alpha = false
	target.PostProcess = &contract.PostProcessPolicy{Resize: "8"}
	writeIndex(t, layout, target)
	writeRaw(t, layout, "banner.png", 16, 8)

	if _, err := New(layout, nil).Run(context.Background(), Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	img := decodeProcessed(t, layout, "banner.png")
	if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 4 {
		t.Errorf("processed size = %dx%d, want 8x4", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestChainTrimThenPad(t *testing.T) {
	layout := paths.NewLayout(t.TempDir())

	// 8x8 canvas, opaque content only in the centered 2x2 block.
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := 3; y < 5; y++ {
		for x := 3; x < 5; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 255, A: 255})
		}
	}
	data, err := imaging.EncodePNG(img)
	if err != nil {
		t.Fatalf("EncodePNG: %v", err)
	}
	abs, _ := layout.RawOutput("gem.png")
	if err := writeFile(abs, data); err != nil {
		t.Fatalf("writeFile: %v", err)
	}

	target := spriteTarget("gem", "gem.png", "4x4")
	target.PostProcess = &contract.PostProcessPolicy{Trim: true, Pad: 1}
	writeIndex(t, layout, target)

	report, err := New(layout, nil).Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Targets[0].Passed {
		t.Fatalf("trimmed+padded target should hit 4x4: %+v", report.Targets[0].Issues)
	}
	out := decodeProcessed(t, layout, "gem.png")
	if out.Bounds().Dx() != 4 || out.Bounds().Dy() != 4 {
		t.Errorf("processed size = %dx%d, want 4x4 (2x2 content + 1px pad)", out.Bounds().Dx(), out.Bounds().Dy())
	}
}

func TestChainEmitRawKeepsOriginalBytes(t *testing.T) {
	layout := paths.NewLayout(t.TempDir())
	target := spriteTarget("hero", "sprites/hero.png", "8x8")
	target.PostProcess = &contract.PostProcessPolicy{EmitRaw: true, Resize: "8x8"}
	writeIndex(t, layout, target)
	writeRaw(t, layout, "sprites/hero.png", 16, 16)

	if _, err := New(layout, nil).Run(context.Background(), Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rawAbs, _ := layout.RawOutput("sprites/hero.png")
	original, err := os.ReadFile(rawAbs)
	if err != nil {
		t.Fatalf("read raw: %v", err)
	}
	copyAbs, _ := layout.ProcessedOutput("sprites/hero.raw.png")
	emitted, err := os.ReadFile(copyAbs)
	if err != nil {
		t.Fatalf("read emitted raw copy: %v", err)
	}
	if !bytes.Equal(original, emitted) {
		t.Error("emit-raw copy must be byte-identical to the raw output")
	}
}

func TestChainVariantsAndAuxMaps(t *testing.T) {
	layout := paths.NewLayout(t.TempDir())
	target := spriteTarget("hero", "hero.png", "8x8")
	target.PostProcess = &contract.PostProcessPolicy{
		ResizeVariants: []contract.ResizeVariant{{Suffix: "@2x", Size: "16x16"}},
		EmitVariants:   []string{"pixel"},
		AuxiliaryMaps:  []string{"normal"},
	}
	writeIndex(t, layout, target)
	writeRaw(t, layout, "hero.png", 8, 8)

	report, err := New(layout, nil).Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Targets[0].Passed {
		t.Fatalf("issues = %+v", report.Targets[0].Issues)
	}

	for _, rel := range []string{"hero@2x.png", "hero.pixel.png", "hero.normal.png"} {
		abs, _ := layout.ProcessedOutput(rel)
		if _, err := os.Stat(abs); err != nil {
			t.Errorf("variant %s not written: %v", rel, err)
		}
	}
	scaled := decodeProcessed(t, layout, "hero@2x.png")
	if scaled.Bounds().Dx() != 16 {
		t.Errorf("@2x width = %d, want 16", scaled.Bounds().Dx())
	}
}

func TestChainWebpFallsBackToPNG(t *testing.T) {
	layout := paths.NewLayout(t.TempDir())
	target := spriteTarget("hero", "hero.webp", "8x8")
	target.GenerationPolicy.OutputFormat = "webp"
	writeIndex(t, layout, target)
	writeRaw(t, layout, "hero.webp", 8, 8)

	report, err := New(layout, nil).Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	entry := report.Targets[0]
	if !entry.Passed {
		t.Fatalf("webp fallback must not fail the target: %+v", entry.Issues)
	}
	found := false
	for _, issue := range entry.Issues {
		if issue.Level == "warning" && issue.Code == "process_warning" {
			found = true
		}
	}
	if !found {
		t.Errorf("issues = %+v, want a process_warning about webp", entry.Issues)
	}
	// The bytes on disk are png regardless of the declared extension.
	if img := decodeProcessed(t, layout, "hero.webp"); img.Bounds().Dx() != 8 {
		t.Errorf("fallback image width = %d", img.Bounds().Dx())
	}
}

func TestChainUnknownEmitVariantWarns(t *testing.T) {
	layout := paths.NewLayout(t.TempDir())
	target := spriteTarget("hero", "hero.png", "8x8")
	target.PostProcess = &contract.PostProcessPolicy{EmitVariants: []string{"holographic"}}
	writeIndex(t, layout, target)
	writeRaw(t, layout, "hero.png", 8, 8)

	report, err := New(layout, nil).Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	entry := report.Targets[0]
	if !entry.Passed {
		t.Fatalf("unknown variant must only warn: %+v", entry.Issues)
	}
	if len(entry.Issues) == 0 || entry.Issues[0].Level != "warning" {
		t.Errorf("issues = %+v, want warning", entry.Issues)
	}
}

func TestVariantPathHelpers(t *testing.T) {
	if got := variantPath("/out/sprites/hero.webp", ".normal"); got != "/out/sprites/hero.normal.png" {
		t.Errorf("variantPath = %q", got)
	}
	if got := suffixPath("/out/sprites/hero.webp", "@2x"); got != "/out/sprites/hero@2x.webp" {
		t.Errorf("suffixPath = %q", got)
	}
}

func TestResolveResizeRejectsGarbage(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	if _, _, err := resolveResize("big", img); err == nil {
		t.Error("resolveResize(\"big\") should fail")
	}
	if _, _, err := resolveResize("-3", img); err == nil {
		t.Error("resolveResize(\"-3\") should fail")
	}
}
