package imaging

import (
	"image"
	"testing"
)

// hardSeam builds an image whose left half and right half clash, the
// worst case for horizontal wrapping.
func hardSeam(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				img.SetNRGBA(x, y, white)
			} else {
				img.SetNRGBA(x, y, red)
			}
		}
	}
	return img
}

func TestSeamScoreSolidIsPerfect(t *testing.T) {
	if s := SeamScore(solid(8, 8, green)); s != 1 {
		t.Errorf("SeamScore = %v, want 1", s)
	}
}

func TestSeamScoreDetectsSeam(t *testing.T) {
	if s := SeamScore(hardSeam(16, 16)); s > 0.9 {
		t.Errorf("SeamScore = %v, expected a visible seam penalty", s)
	}
}

func TestSeamHealImprovesScore(t *testing.T) {
	img := hardSeam(32, 32)
	before := SeamScore(img)
	healed := SeamHeal(img, 0)
	after := SeamScore(healed)
	if after <= before {
		t.Errorf("SeamHeal did not improve seam score: before=%v after=%v", before, after)
	}
	if healed.Bounds() != img.Bounds() {
		t.Error("SeamHeal must preserve dimensions")
	}
}

func TestSeamHealDoesNotAliasInput(t *testing.T) {
	img := hardSeam(16, 16)
	want := img.NRGBAAt(0, 0)
	_ = SeamHeal(img, 4)
	if img.NRGBAAt(0, 0) != want {
		t.Error("SeamHeal mutated its input")
	}
}

func TestWrapGridSeamScore(t *testing.T) {
	score, err := WrapGridSeamScore(solid(16, 16, blue), 4, 4)
	if err != nil {
		t.Fatalf("WrapGridSeamScore failed: %v", err)
	}
	if score != 1 {
		t.Errorf("score = %v, want 1", score)
	}

	if _, err := WrapGridSeamScore(solid(10, 10, blue), 3, 2); err == nil {
		t.Error("expected error for non-dividing grid")
	}
	if _, err := WrapGridSeamScore(solid(10, 10, blue), 0, 2); err == nil {
		t.Error("expected error for zero cols")
	}
}
