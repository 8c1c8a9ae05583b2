package imaging

import (
	"fmt"
	"image"
)

// SeamHeal cross-fades the wrap edges so the image tiles cleanly. Band
// is the fade width in pixels; zero or negative picks an eighth of the
// short side. At the exact wrap boundary opposite pixels converge to the
// same value, removing the hard seam.
func SeamHeal(img *image.NRGBA, band int) *image.NRGBA {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if band <= 0 {
		band = min(w, h) / 8
	}
	if band < 1 {
		band = 1
	}
	if band > w/2 {
		band = w / 2
	}
	dst := Clone(img)

	// Horizontal wrap: blend left and right bands toward each other.
	for x := 0; x < band && x < w-1-x; x++ {
		t := float64(band-x) / float64(2*band)
		for y := 0; y < h; y++ {
			blendPixel(dst, img, x, y, w-1-x, y, t)
			blendPixel(dst, img, w-1-x, y, x, y, t)
		}
	}
	// Vertical wrap: blend top and bottom bands.
	vband := band
	if vband > h/2 {
		vband = h / 2
	}
	base := Clone(dst)
	for y := 0; y < vband && y < h-1-y; y++ {
		t := float64(vband-y) / float64(2*vband)
		for x := 0; x < w; x++ {
			blendPixel(dst, base, x, y, x, h-1-y, t)
			blendPixel(dst, base, x, h-1-y, x, y, t)
		}
	}
	return dst
}

func blendPixel(dst, src *image.NRGBA, x, y, ox, oy int, t float64) {
	off := y*dst.Stride + x*4
	ooff := oy*src.Stride + ox*4
	for c := 0; c < 4; c++ {
		v := float64(src.Pix[off+c])*(1-t) + float64(src.Pix[ooff+c])*t
		dst.Pix[off+c] = uint8(v + 0.5)
	}
}

// SeamScore measures wrap-tiling quality in [0,1]; 1 means the opposite
// edges match exactly. Both the horizontal and vertical wrap seams
// contribute equally.
func SeamScore(img *image.NRGBA) float64 {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if w < 2 || h < 2 {
		return 1
	}
	var sum, count int64
	for y := 0; y < h; y++ {
		sum += pixelDiff(img, 0, y, w-1, y)
		count += 4
	}
	for x := 0; x < w; x++ {
		sum += pixelDiff(img, x, 0, x, h-1)
		count += 4
	}
	return 1 - float64(sum)/float64(count)/255
}

func pixelDiff(img *image.NRGBA, x0, y0, x1, y1 int) int64 {
	a := y0*img.Stride + x0*4
	b := y1*img.Stride + x1*4
	var d int64
	for c := 0; c < 4; c++ {
		v := int64(img.Pix[a+c]) - int64(img.Pix[b+c])
		if v < 0 {
			v = -v
		}
		d += v
	}
	return d
}

// WrapGridSeamScore splits the image into a cols-by-rows grid and
// averages the per-cell wrap seam scores. Dimensions must divide evenly.
func WrapGridSeamScore(img *image.NRGBA, cols, rows int) (float64, error) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if cols < 1 || rows < 1 {
		return 0, fmt.Errorf("wrap grid needs at least 1x1, got %dx%d", cols, rows)
	}
	if w%cols != 0 || h%rows != 0 {
		return 0, fmt.Errorf("image %dx%d does not divide into a %dx%d grid", w, h, cols, rows)
	}
	cellW, cellH := w/cols, h/rows
	var total float64
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			cell := crop(img, image.Rect(c*cellW, r*cellH, (c+1)*cellW, (r+1)*cellH))
			total += SeamScore(cell)
		}
	}
	return total / float64(cols*rows), nil
}
