// Package imaging is the native transform library behind the process
// stage: decode/encode, resize, trim, pad, outline, palette quantization,
// tileable seam work, auxiliary map derivation, sheet composition, and the
// acceptance metrics. Everything operates on NRGBA buffers and is
// deterministic for identical inputs.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"os"
	"strconv"
	"strings"

	"golang.org/x/image/webp"
)

// Decoded image formats.
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
	FormatWebP = "webp"
)

// Info summarizes one decoded image file.
type Info struct {
	Width                int
	Height               int
	Bytes                int64
	Format               string
	HasAlpha             bool
	HasTransparentPixels bool
}

// Decode parses PNG, JPEG, or WebP bytes into an NRGBA buffer. The
// returned format is one of the Format constants.
func Decode(data []byte) (*image.NRGBA, string, error) {
	img, format, err := decodeAny(data)
	if err != nil {
		return nil, "", err
	}
	return ToNRGBA(img), format, nil
}

// DecodeFile decodes an image file from disk.
func DecodeFile(path string) (*image.NRGBA, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read image %s: %w", path, err)
	}
	img, format, err := Decode(data)
	if err != nil {
		return nil, "", fmt.Errorf("decode image %s: %w", path, err)
	}
	return img, format, nil
}

func decodeAny(data []byte) (image.Image, string, error) {
	// image.Decode handles png/jpeg via the stdlib decoders; webp has no
	// magic registration in older trees, so sniff it explicitly first.
	if len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")) {
		img, err := webp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, "", fmt.Errorf("decode webp: %w", err)
		}
		return img, FormatWebP, nil
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	switch format {
	case "png":
		return img, FormatPNG, nil
	case "jpeg":
		return img, FormatJPEG, nil
	default:
		return nil, "", fmt.Errorf("unsupported image format: %s", format)
	}
}

// Inspect decodes image bytes and reports the facts acceptance checks
// and candidate scoring need.
func Inspect(data []byte) (Info, error) {
	img, format, err := decodeAny(data)
	if err != nil {
		return Info{}, err
	}
	bounds := img.Bounds()
	info := Info{
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		Bytes:    int64(len(data)),
		Format:   format,
		HasAlpha: hasAlphaChannel(img),
	}
	if info.HasAlpha {
		info.HasTransparentPixels = hasTransparentPixels(ToNRGBA(img))
	}
	return info, nil
}

// InspectFile decodes an image file and reports its facts.
func InspectFile(path string) (Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, fmt.Errorf("read image %s: %w", path, err)
	}
	info, err := Inspect(data)
	if err != nil {
		return Info{}, fmt.Errorf("inspect image %s: %w", path, err)
	}
	return info, nil
}

// hasAlphaChannel reports whether the decoded representation carries an
// alpha channel. The stdlib png decoder yields *image.RGBA only for
// truecolor files without alpha, so RGBA deliberately maps to false.
func hasAlphaChannel(img image.Image) bool {
	switch t := img.(type) {
	case *image.NRGBA, *image.NRGBA64, *image.NYCbCrA:
		return true
	case *image.Paletted:
		for _, c := range t.Palette {
			if _, _, _, a := c.RGBA(); a < 0xffff {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func hasTransparentPixels(img *image.NRGBA) bool {
	for y := img.Bounds().Min.Y; y < img.Bounds().Max.Y; y++ {
		row := img.Pix[(y-img.Bounds().Min.Y)*img.Stride:]
		for x := 0; x < img.Bounds().Dx(); x++ {
			if row[x*4+3] < 255 {
				return true
			}
		}
	}
	return false
}

// ToNRGBA converts any image to a zero-origin NRGBA buffer, copying even
// when the input already is one so callers can mutate freely.
func ToNRGBA(img image.Image) *image.NRGBA {
	bounds := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
	return dst
}

// Clone copies an NRGBA buffer.
func Clone(img *image.NRGBA) *image.NRGBA {
	dst := image.NewNRGBA(img.Bounds())
	copy(dst.Pix, img.Pix)
	return dst
}

// EncodePNG encodes to PNG bytes.
func EncodePNG(img *image.NRGBA) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeJPEG encodes to JPEG bytes. Alpha is composited over black.
func EncodeJPEG(img *image.NRGBA, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = 90
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Encode encodes for a declared output format. Go has no webp encoder, so
// webp outputs are re-encoded as PNG and the returned warning says so.
func Encode(img *image.NRGBA, format string) (data []byte, warning string, err error) {
	switch format {
	case "", FormatPNG:
		data, err = EncodePNG(img)
		return data, "", err
	case FormatJPEG:
		data, err = EncodeJPEG(img, 90)
		return data, "", err
	case FormatWebP:
		data, err = EncodePNG(img)
		return data, "webp encoding unavailable, wrote png bytes instead", err
	default:
		return nil, "", fmt.Errorf("unsupported output format: %s", format)
	}
}

// ParseHexColor parses #rrggbb into an NRGBA color.
func ParseHexColor(s string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(s, "#")
	if len(hex) != 6 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: expected #rrggbb", s)
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(strings.ToLower(hex), "%02x%02x%02x", &r, &g, &b); err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: expected #rrggbb", s)
	}
	return color.NRGBA{R: r, G: g, B: b, A: 255}, nil
}

// ParseSize parses a "WxH" literal.
func ParseSize(s string) (w, h int, err error) {
	ws, hs, ok := strings.Cut(s, "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid size %q: expected WxH", s)
	}
	w, werr := strconv.Atoi(ws)
	h, herr := strconv.Atoi(hs)
	if werr != nil || herr != nil || w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("invalid size %q: expected WxH", s)
	}
	return w, h, nil
}
