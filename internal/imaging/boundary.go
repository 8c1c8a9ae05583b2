package imaging

import "image"

// BoundaryMetrics estimates sprite edge quality. All three values live
// in [0,1].
//
//	HaloRisk: share of semi-transparent pixels that are near-white, the
//	  classic fringe left by background removal.
//	StrayNoise: share of opaque pixels in tiny connected components far
//	  smaller than the main silhouette.
//	EdgeSharpness: mean alpha step across the silhouette boundary; crisp
//	  pixel art approaches 1, soft feathering drops toward 0.
type BoundaryMetrics struct {
	HaloRisk      float64
	StrayNoise    float64
	EdgeSharpness float64
}

// MeasureBoundary computes BoundaryMetrics. Images without any
// transparency yield zero metrics with EdgeSharpness 1.
func MeasureBoundary(img *image.NRGBA) BoundaryMetrics {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()

	var semi, halo int
	var opaque int
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.NRGBAAt(x, y)
			switch {
			case c.A == 0:
			case c.A == 255:
				opaque++
			default:
				semi++
				if c.R > 200 && c.G > 200 && c.B > 200 {
					halo++
				}
			}
		}
	}

	m := BoundaryMetrics{EdgeSharpness: 1}
	if semi == 0 && opaque == w*h {
		return m
	}
	if semi > 0 {
		m.HaloRisk = float64(halo) / float64(semi)
	}
	m.StrayNoise = strayNoiseRatio(img, opaque+semi)
	m.EdgeSharpness = edgeSharpness(img)
	return m
}

// Silhouette summarizes a frame's visible shape: the fraction of pixels
// with meaningful alpha and their centroid in unit coordinates. Empty
// frames report a centered centroid.
type Silhouette struct {
	Area float64
	CX   float64
	CY   float64
}

// MeasureSilhouette computes the Silhouette, treating pixels with alpha
// below 8 as background.
func MeasureSilhouette(img *image.NRGBA) Silhouette {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	var count, sumX, sumY int
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if img.NRGBAAt(x, y).A >= 8 {
				count++
				sumX += x
				sumY += y
			}
		}
	}
	s := Silhouette{CX: 0.5, CY: 0.5}
	if w > 0 && h > 0 {
		s.Area = float64(count) / float64(w*h)
	}
	if count > 0 {
		s.CX = (float64(sumX)/float64(count) + 0.5) / float64(w)
		s.CY = (float64(sumY)/float64(count) + 0.5) / float64(h)
	}
	return s
}

// strayNoiseRatio flood-fills visible pixels (alpha > 0) and reports the
// share living in components under 0.5% of the visible area.
func strayNoiseRatio(img *image.NRGBA, visible int) float64 {
	if visible == 0 {
		return 0
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	labels := make([]int32, w*h)
	var sizes []int
	next := int32(1)

	var stack []int
	for start := 0; start < w*h; start++ {
		if labels[start] != 0 || img.Pix[pixOffset(img, start%w, start/w)+3] == 0 {
			continue
		}
		labels[start] = next
		stack = append(stack[:0], start)
		size := 0
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			size++
			px, py := p%w, p/w
			for _, d := range [8][2]int{{-1, -1}, {0, -1}, {1, -1}, {-1, 0}, {1, 0}, {-1, 1}, {0, 1}, {1, 1}} {
				nx, ny := px+d[0], py+d[1]
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				np := ny*w + nx
				if labels[np] != 0 || img.Pix[pixOffset(img, nx, ny)+3] == 0 {
					continue
				}
				labels[np] = next
				stack = append(stack, np)
			}
		}
		sizes = append(sizes, size)
		next++
	}

	threshold := visible / 200
	if threshold < 1 {
		threshold = 1
	}
	stray := 0
	for _, size := range sizes {
		if size <= threshold && len(sizes) > 1 {
			stray += size
		}
	}
	return float64(stray) / float64(visible)
}

func pixOffset(img *image.NRGBA, x, y int) int {
	return y*img.Stride + x*4
}

// edgeSharpness averages the normalized alpha step at silhouette
// boundaries (pixels where alpha > 0 meets alpha lower than itself).
func edgeSharpness(img *image.NRGBA) float64 {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	var sum float64
	var count int
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := int(img.Pix[pixOffset(img, x, y)+3])
			if a == 0 {
				continue
			}
			for _, d := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
				nx, ny := x+d[0], y+d[1]
				var na int
				if nx >= 0 && ny >= 0 && nx < w && ny < h {
					na = int(img.Pix[pixOffset(img, nx, ny)+3])
				}
				if na < a {
					sum += float64(a-na) / 255
					count++
				}
			}
		}
	}
	if count == 0 {
		return 1
	}
	return sum / float64(count)
}
