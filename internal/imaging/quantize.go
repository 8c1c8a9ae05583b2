package imaging

import (
	"fmt"
	"image"
	"image/color"
	"sort"
)

// CountOpaqueColors returns the number of distinct RGB values among
// pixels with alpha > 0.
func CountOpaqueColors(img *image.NRGBA) int {
	seen := make(map[uint32]struct{})
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			p := row[x*4 : x*4+4]
			if p[3] == 0 {
				continue
			}
			seen[uint32(p[0])<<16|uint32(p[1])<<8|uint32(p[2])] = struct{}{}
		}
	}
	return len(seen)
}

// Quantize maps opaque pixels onto a palette. With explicit colors the
// palette is used as-is; otherwise a median-cut palette of at most
// maxColors is derived from the image. Alpha values pass through.
func Quantize(img *image.NRGBA, colors []string, maxColors int) (*image.NRGBA, error) {
	var palette []color.NRGBA
	if len(colors) > 0 {
		for _, s := range colors {
			c, err := ParseHexColor(s)
			if err != nil {
				return nil, err
			}
			palette = append(palette, c)
		}
	} else {
		if maxColors <= 0 {
			return nil, fmt.Errorf("quantize needs palette colors or a positive maxColors")
		}
		palette = MedianCutPalette(img, maxColors)
		if len(palette) == 0 {
			return Clone(img), nil
		}
	}
	return applyPalette(img, palette), nil
}

func applyPalette(img *image.NRGBA, palette []color.NRGBA) *image.NRGBA {
	dst := Clone(img)
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := y*dst.Stride + x*4
			if dst.Pix[off+3] == 0 {
				continue
			}
			c := nearestPaletteColor(palette, dst.Pix[off], dst.Pix[off+1], dst.Pix[off+2])
			dst.Pix[off] = c.R
			dst.Pix[off+1] = c.G
			dst.Pix[off+2] = c.B
		}
	}
	return dst
}

func nearestPaletteColor(palette []color.NRGBA, r, g, b uint8) color.NRGBA {
	best := palette[0]
	bestDist := int64(1) << 62
	for _, c := range palette {
		dr := int64(c.R) - int64(r)
		dg := int64(c.G) - int64(g)
		db := int64(c.B) - int64(b)
		d := dr*dr + dg*dg + db*db
		if d < bestDist {
			best = c
			bestDist = d
		}
	}
	return best
}

// MedianCutPalette derives a palette of at most maxColors from the
// opaque pixels. Splits are ordered by box population and cut on the
// widest channel at the median, so the result is deterministic.
func MedianCutPalette(img *image.NRGBA, maxColors int) []color.NRGBA {
	var pixels []color.NRGBA
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.NRGBAAt(x, y)
			if c.A > 0 {
				pixels = append(pixels, color.NRGBA{R: c.R, G: c.G, B: c.B, A: 255})
			}
		}
	}
	if len(pixels) == 0 {
		return nil
	}

	boxes := [][]color.NRGBA{pixels}
	for len(boxes) < maxColors {
		// Split the most populous box that still spans a range.
		idx := -1
		for i, box := range boxes {
			if len(box) < 2 || boxChannelRange(box) == 0 {
				continue
			}
			if idx == -1 || len(box) > len(boxes[idx]) {
				idx = i
			}
		}
		if idx == -1 {
			break
		}
		a, b := splitBox(boxes[idx])
		boxes[idx] = a
		boxes = append(boxes, b)
	}

	palette := make([]color.NRGBA, 0, len(boxes))
	for _, box := range boxes {
		palette = append(palette, boxAverage(box))
	}
	sort.Slice(palette, func(i, j int) bool { return colorLess(palette[i], palette[j]) })
	return palette
}

func boxChannelRange(box []color.NRGBA) int {
	_, spread := widestChannel(box)
	return spread
}

func widestChannel(box []color.NRGBA) (channel, spread int) {
	minR, maxR := 255, 0
	minG, maxG := 255, 0
	minB, maxB := 255, 0
	for _, c := range box {
		minR, maxR = minMax(minR, maxR, int(c.R))
		minG, maxG = minMax(minG, maxG, int(c.G))
		minB, maxB = minMax(minB, maxB, int(c.B))
	}
	rRange, gRange, bRange := maxR-minR, maxG-minG, maxB-minB
	switch {
	case rRange >= gRange && rRange >= bRange:
		return 0, rRange
	case gRange >= bRange:
		return 1, gRange
	default:
		return 2, bRange
	}
}

func minMax(lo, hi, v int) (int, int) {
	if v < lo {
		lo = v
	}
	if v > hi {
		hi = v
	}
	return lo, hi
}

func splitBox(box []color.NRGBA) ([]color.NRGBA, []color.NRGBA) {
	channel, _ := widestChannel(box)
	sorted := make([]color.NRGBA, len(box))
	copy(sorted, box)
	sort.SliceStable(sorted, func(i, j int) bool {
		vi, vj := channelValue(sorted[i], channel), channelValue(sorted[j], channel)
		if vi != vj {
			return vi < vj
		}
		return colorLess(sorted[i], sorted[j])
	})
	mid := len(sorted) / 2
	return sorted[:mid], sorted[mid:]
}

func channelValue(c color.NRGBA, channel int) int {
	switch channel {
	case 0:
		return int(c.R)
	case 1:
		return int(c.G)
	default:
		return int(c.B)
	}
}

func boxAverage(box []color.NRGBA) color.NRGBA {
	var r, g, b int64
	for _, c := range box {
		r += int64(c.R)
		g += int64(c.G)
		b += int64(c.B)
	}
	n := int64(len(box))
	return color.NRGBA{R: uint8(r / n), G: uint8(g / n), B: uint8(b / n), A: 255}
}

// PaletteReport is what acceptance checking needs to know about palette
// conformance.
type PaletteReport struct {
	DistinctColors  int
	OffPaletteRatio float64
	Compliant       bool
}

// CheckPalette measures palette conformance. With explicit colors,
// compliance means every opaque pixel sits exactly on the palette; with
// only maxColors set, compliance means the distinct color count fits.
func CheckPalette(img *image.NRGBA, colors []string, maxColors int) (PaletteReport, error) {
	report := PaletteReport{DistinctColors: CountOpaqueColors(img)}

	if len(colors) > 0 {
		allowed := make(map[uint32]struct{}, len(colors))
		for _, s := range colors {
			c, err := ParseHexColor(s)
			if err != nil {
				return PaletteReport{}, err
			}
			allowed[uint32(c.R)<<16|uint32(c.G)<<8|uint32(c.B)] = struct{}{}
		}
		var opaque, off int
		w, h := img.Bounds().Dx(), img.Bounds().Dy()
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := img.NRGBAAt(x, y)
				if c.A == 0 {
					continue
				}
				opaque++
				key := uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
				if _, ok := allowed[key]; !ok {
					off++
				}
			}
		}
		if opaque > 0 {
			report.OffPaletteRatio = float64(off) / float64(opaque)
		}
		report.Compliant = off == 0
		if maxColors > 0 && report.DistinctColors > maxColors {
			report.Compliant = false
		}
		return report, nil
	}

	if maxColors > 0 {
		report.Compliant = report.DistinctColors <= maxColors
		return report, nil
	}

	report.Compliant = true
	return report, nil
}
