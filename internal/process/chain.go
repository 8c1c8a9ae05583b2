package process

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"lootforge/internal/contract"
	"lootforge/internal/imaging"
)

// chainOutput is everything the op chain produced for one target: the
// final buffer, the encoded bytes at the canonical processed path, and
// the warnings the chain wants surfaced as acceptance issues.
type chainOutput struct {
	img      *image.NRGBA
	encoded  []byte
	relPath  string
	warnings []string
	sidecars []string // extra files written next to the main output
}

// applyChain runs the fixed op order over one raw image:
// emit-raw, trim, pad, smart-crop, resize, pixel-perfect, outline,
// seam-heal, palette quantization, encode, emit-variants, resize
// variants, auxiliary maps. Ops the target does not declare are
// skipped; order never changes.
func (p *Processor) applyChain(t contract.PlannedTarget, raw []byte) (*chainOutput, error) {
	img, _, err := imaging.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode raw output: %w", err)
	}

	outAbs, err := p.layout.ProcessedOutput(t.Out)
	if err != nil {
		return nil, fmt.Errorf("processed path for %q: %w", t.Out, err)
	}
	out := &chainOutput{relPath: p.layout.Rel(outAbs)}
	pp := t.PostProcess
	if pp == nil {
		pp = &contract.PostProcessPolicy{}
	}

	if pp.EmitRaw {
		rawCopy := suffixPath(outAbs, ".raw")
		if err := writeFile(rawCopy, raw); err != nil {
			return nil, err
		}
		out.sidecars = append(out.sidecars, p.layout.Rel(rawCopy))
	}

	if pp.Trim {
		img, _ = imaging.Trim(img)
	}
	if pp.Pad > 0 {
		img = imaging.Pad(img, pp.Pad)
	}
	if pp.SmartCrop {
		if w, h, ok := targetDims(t); ok {
			img = imaging.SmartCrop(img, w, h)
		} else {
			out.warnings = append(out.warnings, "smart-crop skipped: target declares no acceptance size")
		}
	}
	if pp.Resize != "" {
		w, h, err := resolveResize(pp.Resize, img)
		if err != nil {
			return nil, err
		}
		img = imaging.Resize(img, w, h, pp.Algorithm)
	}
	if pp.PixelPerfect {
		img = imaging.PixelPerfect(img)
	}
	if pp.Outline != nil {
		c, thickness, err := outlineParams(pp.Outline)
		if err != nil {
			return nil, err
		}
		img = imaging.Outline(img, c, thickness)
	}
	if t.Tileable != nil && t.Tileable.SeamHeal {
		img = imaging.SeamHeal(img, 0)
	}
	if t.Palette != nil && (len(t.Palette.Colors) > 0 || t.Palette.MaxColors > 0) {
		img, err = imaging.Quantize(img, t.Palette.Colors, t.Palette.MaxColors)
		if err != nil {
			return nil, fmt.Errorf("quantize: %w", err)
		}
	}

	data, warning, err := imaging.Encode(img, t.GenerationPolicy.OutputFormat)
	if err != nil {
		return nil, err
	}
	if warning != "" {
		out.warnings = append(out.warnings, warning)
	}
	if err := writeFile(outAbs, data); err != nil {
		return nil, err
	}
	out.img = img
	out.encoded = data

	if err := p.emitVariants(pp, img, outAbs, out); err != nil {
		return nil, err
	}
	if err := p.resizeVariants(t, pp, img, outAbs, out); err != nil {
		return nil, err
	}
	if err := p.auxiliaryMaps(pp, img, outAbs, out); err != nil {
		return nil, err
	}
	return out, nil
}

// emitVariants writes the declared extra renditions of the main buffer:
// pixel (pixel-perfect downscale) and style-ref (small reference
// thumbnail for style-kit prompts).
func (p *Processor) emitVariants(pp *contract.PostProcessPolicy, img *image.NRGBA, outAbs string, out *chainOutput) error {
	for _, v := range pp.EmitVariants {
		var variant *image.NRGBA
		var suffix string
		switch v {
		case "pixel":
			variant = imaging.PixelPerfect(img)
			suffix = ".pixel"
		case "style-ref":
			variant = thumbnail(img, styleRefEdge)
			suffix = ".styleref"
		default:
			out.warnings = append(out.warnings, fmt.Sprintf("unknown emit variant %q skipped", v))
			continue
		}
		data, err := imaging.EncodePNG(variant)
		if err != nil {
			return fmt.Errorf("encode %s variant: %w", v, err)
		}
		path := variantPath(outAbs, suffix)
		if err := writeFile(path, data); err != nil {
			return err
		}
		out.sidecars = append(out.sidecars, p.layout.Rel(path))
	}
	return nil
}

// styleRefEdge is the longest edge of a style-ref thumbnail.
const styleRefEdge = 128

// resizeVariants emits scaled copies in the target's own format, named
// by the variant suffix: hero.png + {"@2x","128x128"} -> hero@2x.png.
func (p *Processor) resizeVariants(t contract.PlannedTarget, pp *contract.PostProcessPolicy, img *image.NRGBA, outAbs string, out *chainOutput) error {
	for _, rv := range pp.ResizeVariants {
		w, h, err := imaging.ParseSize(rv.Size)
		if err != nil {
			return fmt.Errorf("resize variant %q: %w", rv.Suffix, err)
		}
		variant := imaging.Resize(img, w, h, pp.Algorithm)
		data, _, err := imaging.Encode(variant, t.GenerationPolicy.OutputFormat)
		if err != nil {
			return fmt.Errorf("encode resize variant %q: %w", rv.Suffix, err)
		}
		path := suffixPath(outAbs, rv.Suffix)
		if err := writeFile(path, data); err != nil {
			return err
		}
		out.sidecars = append(out.sidecars, p.layout.Rel(path))
	}
	return nil
}

// auxiliaryMaps derives normal/specular/ao maps from the main buffer,
// after every other op so the maps match the shipped pixels.
func (p *Processor) auxiliaryMaps(pp *contract.PostProcessPolicy, img *image.NRGBA, outAbs string, out *chainOutput) error {
	for _, kind := range pp.AuxiliaryMaps {
		m, err := imaging.AuxMap(img, kind)
		if err != nil {
			out.warnings = append(out.warnings, fmt.Sprintf("auxiliary map %q skipped: %v", kind, err))
			continue
		}
		data, err := imaging.EncodePNG(m)
		if err != nil {
			return fmt.Errorf("encode %s map: %w", kind, err)
		}
		path := variantPath(outAbs, "."+kind)
		if err := writeFile(path, data); err != nil {
			return err
		}
		out.sidecars = append(out.sidecars, p.layout.Rel(path))
	}
	return nil
}

func targetDims(t contract.PlannedTarget) (int, int, bool) {
	if t.Acceptance.Size == "" {
		return 0, 0, false
	}
	w, h, err := imaging.ParseSize(t.Acceptance.Size)
	if err != nil {
		return 0, 0, false
	}
	return w, h, true
}

// resolveResize accepts a WxH literal or a single numeric edge. A single
// edge scales the longest side to that length preserving aspect ratio.
func resolveResize(literal string, img *image.NRGBA) (int, int, error) {
	if w, h, err := imaging.ParseSize(literal); err == nil {
		return w, h, nil
	}
	edge, err := strconv.Atoi(literal)
	if err != nil || edge <= 0 {
		return 0, 0, fmt.Errorf("invalid resize %q: expected WxH or a positive edge length", literal)
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if w >= h {
		return edge, max(1, h*edge/w), nil
	}
	return max(1, w*edge/h), edge, nil
}

func outlineParams(spec *contract.OutlineSpec) (color.NRGBA, int, error) {
	c := color.NRGBA{A: 255} // default black
	if spec.Color != "" {
		parsed, err := imaging.ParseHexColor(spec.Color)
		if err != nil {
			return color.NRGBA{}, 0, fmt.Errorf("outline: %w", err)
		}
		c = parsed
	}
	thickness := spec.Thickness
	if thickness < 1 {
		thickness = 1
	}
	return c, thickness, nil
}

// thumbnail scales the longest edge down to edge, never up.
func thumbnail(img *image.NRGBA, edge int) *image.NRGBA {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if w <= edge && h <= edge {
		return imaging.Clone(img)
	}
	if w >= h {
		return imaging.Resize(img, edge, max(1, h*edge/w), "lanczos3")
	}
	return imaging.Resize(img, max(1, w*edge/h), edge, "lanczos3")
}

// variantPath inserts a suffix before the extension and forces .png for
// derived files: sprites/hero.png + ".normal" -> sprites/hero.normal.png.
func variantPath(abs, suffix string) string {
	ext := filepath.Ext(abs)
	return strings.TrimSuffix(abs, ext) + suffix + ".png"
}

// suffixPath inserts a suffix before the extension, keeping it:
// sprites/hero.png + "@2x" -> sprites/hero@2x.png.
func suffixPath(abs, suffix string) string {
	ext := filepath.Ext(abs)
	return strings.TrimSuffix(abs, ext) + suffix + ext
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
