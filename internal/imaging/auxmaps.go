package imaging

import (
	"fmt"
	"image"
	"image/color"
	"math"
)

// Auxiliary map names accepted by postProcess.auxiliaryMaps.
const (
	AuxNormal   = "normal"
	AuxSpecular = "specular"
	AuxAO       = "ao"
)

// AuxMap derives one auxiliary map from the processed buffer.
func AuxMap(img *image.NRGBA, kind string) (*image.NRGBA, error) {
	switch kind {
	case AuxNormal:
		return NormalMap(img), nil
	case AuxSpecular:
		return SpecularMap(img), nil
	case AuxAO:
		return AmbientOcclusionMap(img), nil
	default:
		return nil, fmt.Errorf("unknown auxiliary map kind: %s", kind)
	}
}

// luminance returns the Rec. 601 luma of every pixel as a flat row-major
// byte slice.
func luminance(img *image.NRGBA) []uint8 {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	out := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			r := int(row[x*4])
			g := int(row[x*4+1])
			b := int(row[x*4+2])
			out[y*w+x] = uint8((299*r + 587*g + 114*b) / 1000)
		}
	}
	return out
}

func lumAt(lum []uint8, w, h, x, y int) int {
	x = clamp(x, 0, w-1)
	y = clamp(y, 0, h-1)
	return int(lum[y*w+x])
}

// NormalMap treats luminance as a height field and encodes the Sobel
// surface normal per pixel. Flat areas map to the canonical (128,128,255).
func NormalMap(img *image.NRGBA) *image.NRGBA {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	lum := luminance(img)
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	const strength = 2.0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gx := float64(lumAt(lum, w, h, x+1, y-1)+2*lumAt(lum, w, h, x+1, y)+lumAt(lum, w, h, x+1, y+1)-
				lumAt(lum, w, h, x-1, y-1)-2*lumAt(lum, w, h, x-1, y)-lumAt(lum, w, h, x-1, y+1)) / 255
			gy := float64(lumAt(lum, w, h, x-1, y+1)+2*lumAt(lum, w, h, x, y+1)+lumAt(lum, w, h, x+1, y+1)-
				lumAt(lum, w, h, x-1, y-1)-2*lumAt(lum, w, h, x, y-1)-lumAt(lum, w, h, x+1, y-1)) / 255

			nx, ny, nz := -gx*strength, -gy*strength, 1.0
			inv := 1 / math.Sqrt(nx*nx+ny*ny+nz*nz)
			dst.SetNRGBA(x, y, color.NRGBA{
				R: uint8((nx*inv*0.5 + 0.5) * 255),
				G: uint8((ny*inv*0.5 + 0.5) * 255),
				B: uint8((nz*inv*0.5 + 0.5) * 255),
				A: img.NRGBAAt(x, y).A,
			})
		}
	}
	return dst
}

// SpecularMap maps luminance through a gamma curve: bright surfaces read
// as shiny, dark ones as matte.
func SpecularMap(img *image.NRGBA) *image.NRGBA {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	lum := luminance(img)
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(math.Pow(float64(lum[y*w+x])/255, 1.8) * 255)
			dst.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: img.NRGBAAt(x, y).A})
		}
	}
	return dst
}

// AmbientOcclusionMap darkens pixels whose neighborhood is brighter than
// they are, a cheap creviced-surface estimate over a 5x5 window.
func AmbientOcclusionMap(img *image.NRGBA) *image.NRGBA {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	lum := luminance(img)
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	const radius = 2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum, count int
			for dy := -radius; dy <= radius; dy++ {
				for dx := -radius; dx <= radius; dx++ {
					sum += lumAt(lum, w, h, x+dx, y+dy)
					count++
				}
			}
			mean := sum / count
			occlusion := mean - int(lum[y*w+x])
			if occlusion < 0 {
				occlusion = 0
			}
			v := uint8(255 - clamp(occlusion*2, 0, 255))
			dst.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: img.NRGBAAt(x, y).A})
		}
	}
	return dst
}
