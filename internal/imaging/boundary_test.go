package imaging

import (
	"image"
	"image/color"
	"testing"
)

func TestMeasureBoundaryCrispSprite(t *testing.T) {
	img := spriteOnCanvas(16, 16, image.Rect(4, 4, 12, 12), red)
	m := MeasureBoundary(img)
	if m.HaloRisk != 0 {
		t.Errorf("HaloRisk = %v, want 0 for hard edges", m.HaloRisk)
	}
	if m.StrayNoise != 0 {
		t.Errorf("StrayNoise = %v, want 0 for a single blob", m.StrayNoise)
	}
	if m.EdgeSharpness != 1 {
		t.Errorf("EdgeSharpness = %v, want 1 for 0-to-255 steps", m.EdgeSharpness)
	}
}

func TestMeasureBoundaryDetectsHalo(t *testing.T) {
	img := spriteOnCanvas(16, 16, image.Rect(6, 6, 10, 10), red)
	// Whitish fringe around the sprite.
	for x := 5; x < 11; x++ {
		img.SetNRGBA(x, 5, color.NRGBA{R: 240, G: 240, B: 240, A: 120})
	}
	m := MeasureBoundary(img)
	if m.HaloRisk != 1 {
		t.Errorf("HaloRisk = %v, want 1 (every semi pixel is whitish)", m.HaloRisk)
	}
	if m.EdgeSharpness >= 1 {
		t.Errorf("EdgeSharpness = %v, should drop below 1 with a feathered fringe", m.EdgeSharpness)
	}
}

func TestMeasureBoundaryDetectsStrayNoise(t *testing.T) {
	img := spriteOnCanvas(64, 64, image.Rect(8, 8, 56, 56), blue)
	// One isolated speck far from the body.
	img.SetNRGBA(62, 2, red)
	m := MeasureBoundary(img)
	if m.StrayNoise <= 0 {
		t.Error("expected stray noise from the isolated speck")
	}
	if m.StrayNoise > 0.01 {
		t.Errorf("StrayNoise = %v, one speck should stay tiny", m.StrayNoise)
	}
}

func TestMeasureBoundaryOpaqueImage(t *testing.T) {
	m := MeasureBoundary(solid(8, 8, green))
	if m.HaloRisk != 0 || m.StrayNoise != 0 || m.EdgeSharpness != 1 {
		t.Errorf("opaque image metrics = %+v", m)
	}
}
