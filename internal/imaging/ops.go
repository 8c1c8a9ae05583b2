package imaging

import (
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"
)

// Resize algorithms. Lanczos3-grade quality maps to CatmullRom, the best
// scaler x/image ships.
const (
	AlgorithmNearest  = "nearest"
	AlgorithmLanczos3 = "lanczos3"
)

// Resize scales to an exact size with the named algorithm. Unknown
// algorithm names fall back to lanczos3-grade.
func Resize(img *image.NRGBA, width, height int, algorithm string) *image.NRGBA {
	if width <= 0 || height <= 0 {
		return Clone(img)
	}
	if img.Bounds().Dx() == width && img.Bounds().Dy() == height {
		return Clone(img)
	}
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	var scaler xdraw.Scaler
	switch algorithm {
	case AlgorithmNearest:
		scaler = xdraw.NearestNeighbor
	default:
		scaler = xdraw.CatmullRom
	}
	scaler.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Over, nil)
	return dst
}

// Trim crops to the bounding box of pixels with alpha > 0. A fully
// transparent image is returned unchanged. The second return is the crop
// rectangle in source coordinates.
func Trim(img *image.NRGBA) (*image.NRGBA, image.Rectangle) {
	bounds := img.Bounds()
	minX, minY := bounds.Max.X, bounds.Max.Y
	maxX, maxY := bounds.Min.X-1, bounds.Min.Y-1
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if img.NRGBAAt(x, y).A > 0 {
				if x < minX {
					minX = x
				}
				if x > maxX {
					maxX = x
				}
				if y < minY {
					minY = y
				}
				if y > maxY {
					maxY = y
				}
			}
		}
	}
	if maxX < minX {
		return Clone(img), bounds
	}
	rect := image.Rect(minX, minY, maxX+1, maxY+1)
	return crop(img, rect), rect
}

func crop(img *image.NRGBA, rect image.Rectangle) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	for y := 0; y < rect.Dy(); y++ {
		srcOff := (rect.Min.Y+y-img.Bounds().Min.Y)*img.Stride + (rect.Min.X-img.Bounds().Min.X)*4
		dstOff := y * dst.Stride
		copy(dst.Pix[dstOff:dstOff+rect.Dx()*4], img.Pix[srcOff:srcOff+rect.Dx()*4])
	}
	return dst
}

// Pad adds a transparent border of the given width on every side.
func Pad(img *image.NRGBA, px int) *image.NRGBA {
	if px <= 0 {
		return Clone(img)
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, w+2*px, h+2*px))
	for y := 0; y < h; y++ {
		srcOff := y * img.Stride
		dstOff := (y+px)*dst.Stride + px*4
		copy(dst.Pix[dstOff:dstOff+w*4], img.Pix[srcOff:srcOff+w*4])
	}
	return dst
}

// SmartCrop crops to the target aspect ratio around the content centroid.
// Transparent images weight the centroid by alpha; opaque images weight
// by local gradient so the crop follows detail. The result still needs a
// Resize to hit exact dimensions.
func SmartCrop(img *image.NRGBA, targetW, targetH int) *image.NRGBA {
	if targetW <= 0 || targetH <= 0 {
		return Clone(img)
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()

	// Largest window with the target aspect that fits.
	cropW, cropH := w, h
	if w*targetH > h*targetW {
		cropW = h * targetW / targetH
	} else {
		cropH = w * targetH / targetW
	}
	if cropW <= 0 || cropH <= 0 || (cropW == w && cropH == h) {
		return Clone(img)
	}

	cx, cy := contentCentroid(img)
	x0 := clamp(cx-cropW/2, 0, w-cropW)
	y0 := clamp(cy-cropH/2, 0, h-cropH)
	return crop(img, image.Rect(x0, y0, x0+cropW, y0+cropH))
}

func contentCentroid(img *image.NRGBA) (int, int) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	var sumX, sumY, total int64

	if hasTransparentPixels(img) {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				a := int64(img.Pix[y*img.Stride+x*4+3])
				sumX += a * int64(x)
				sumY += a * int64(y)
				total += a
			}
		}
	} else {
		lum := luminance(img)
		for y := 1; y < h-1; y++ {
			for x := 1; x < w-1; x++ {
				gx := int64(lum[y*w+x+1]) - int64(lum[y*w+x-1])
				gy := int64(lum[(y+1)*w+x]) - int64(lum[(y-1)*w+x])
				g := abs64(gx) + abs64(gy)
				sumX += g * int64(x)
				sumY += g * int64(y)
				total += g
			}
		}
	}
	if total == 0 {
		return w / 2, h / 2
	}
	return int(sumX / total), int(sumY / total)
}

// DetectPixelScale returns the largest scale factor k in [2,16] dividing
// both dimensions for which at least 90% of k-by-k blocks hold a single
// color, or 1 when the image does not look like upscaled pixel art.
func DetectPixelScale(img *image.NRGBA) int {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	for k := 16; k >= 2; k-- {
		if w%k != 0 || h%k != 0 {
			continue
		}
		total := (w / k) * (h / k)
		if total == 0 {
			continue
		}
		uniform := 0
		for by := 0; by < h; by += k {
			for bx := 0; bx < w; bx += k {
				if blockUniform(img, bx, by, k) {
					uniform++
				}
			}
		}
		if uniform*10 >= total*9 {
			return k
		}
	}
	return 1
}

func blockUniform(img *image.NRGBA, bx, by, k int) bool {
	first := img.NRGBAAt(bx, by)
	for y := by; y < by+k; y++ {
		for x := bx; x < bx+k; x++ {
			if img.NRGBAAt(x, y) != first {
				return false
			}
		}
	}
	return true
}

// PixelPerfect snaps upscaled pixel art to its grid: every k-by-k block
// becomes its dominant color, where k comes from DetectPixelScale. Images
// without a detectable grid are returned unchanged.
func PixelPerfect(img *image.NRGBA) *image.NRGBA {
	k := DetectPixelScale(img)
	if k < 2 {
		return Clone(img)
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	for by := 0; by < h; by += k {
		for bx := 0; bx < w; bx += k {
			c := dominantColor(img, bx, by, k)
			for y := by; y < by+k; y++ {
				for x := bx; x < bx+k; x++ {
					dst.SetNRGBA(x, y, c)
				}
			}
		}
	}
	return dst
}

func dominantColor(img *image.NRGBA, bx, by, k int) color.NRGBA {
	counts := make(map[color.NRGBA]int, k*k)
	for y := by; y < by+k; y++ {
		for x := bx; x < bx+k; x++ {
			counts[img.NRGBAAt(x, y)]++
		}
	}
	var best color.NRGBA
	bestCount := -1
	for c, n := range counts {
		if n > bestCount || (n == bestCount && colorLess(c, best)) {
			best = c
			bestCount = n
		}
	}
	return best
}

func colorLess(a, b color.NRGBA) bool {
	if a.R != b.R {
		return a.R < b.R
	}
	if a.G != b.G {
		return a.G < b.G
	}
	if a.B != b.B {
		return a.B < b.B
	}
	return a.A < b.A
}

// Outline draws a solid outline of the given color and thickness on
// transparent pixels within the given Chebyshev distance of opaque ones.
// Existing pixels are never overwritten.
func Outline(img *image.NRGBA, outlineColor color.NRGBA, thickness int) *image.NRGBA {
	if thickness <= 0 {
		thickness = 1
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	dst := Clone(img)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if img.NRGBAAt(x, y).A > 0 {
				continue
			}
			if nearOpaque(img, x, y, thickness) {
				dst.SetNRGBA(x, y, outlineColor)
			}
		}
	}
	return dst
}

func nearOpaque(img *image.NRGBA, x, y, dist int) bool {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	for dy := -dist; dy <= dist; dy++ {
		for dx := -dist; dx <= dist; dx++ {
			nx, ny := x+dx, y+dy
			if nx < 0 || ny < 0 || nx >= w || ny >= h {
				continue
			}
			if img.NRGBAAt(nx, ny).A > 0 {
				return true
			}
		}
	}
	return false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
