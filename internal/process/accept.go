package process

import (
	"lootforge/internal/contract"
	"lootforge/internal/imaging"
)

// Quality thresholds for the soft checks. Seam scores live in [0,1]
// where 1 is a perfect wrap; boundary ratios live in [0,1] where 0 is
// clean.
const (
	seamWarnBelow  = 0.9
	haloWarnAbove  = 0.25
	strayWarnAbove = 0.03
)

// checkAcceptance runs the hard checks over the final encoded output
// and records metrics plus issues on acc. Warnings carried out of the
// op chain are recorded first so the report reads in pipeline order.
func (p *Processor) checkAcceptance(t contract.PlannedTarget, out *chainOutput, acc *contract.TargetAcceptance) {
	for _, w := range out.warnings {
		warnIssue(acc, "process_warning", "%s", w)
	}

	info, err := imaging.Inspect(out.encoded)
	if err != nil {
		errorIssue(acc, "processed_output_unreadable", "inspect processed output: %v", err)
		return
	}
	acc.Width = info.Width
	acc.Height = info.Height
	acc.Bytes = info.Bytes
	acc.HasAlpha = info.HasAlpha
	acc.HasTransparentPixels = info.HasTransparentPixels

	if want := t.Acceptance.Size; want != "" {
		w, h, err := imaging.ParseSize(want)
		if err == nil && (info.Width != w || info.Height != h) {
			errorIssue(acc, "size_mismatch", "processed size %dx%d does not match acceptance %s", info.Width, info.Height, want)
		}
	}

	if alphaRequired(t) {
		switch {
		case info.HasTransparentPixels:
		case info.HasAlpha:
			errorIssue(acc, "alpha_missing", "alpha channel present but every pixel is opaque")
		default:
			errorIssue(acc, "alpha_missing", "output has no alpha channel")
		}
	}

	if kb := t.Acceptance.MaxFileSizeKB; kb > 0 {
		limit := int64(kb) * 1024
		if info.Bytes > limit {
			errorIssue(acc, "file_too_large", "%d bytes exceeds the %d KB budget", info.Bytes, kb)
		}
	}

	p.checkPalette(t, out, acc)
	p.checkSeams(t, out, acc)
	p.checkBoundary(t, out, acc)
}

func alphaRequired(t contract.PlannedTarget) bool {
	if t.Acceptance.Alpha {
		return true
	}
	return t.RuntimeSpec != nil && t.RuntimeSpec.AlphaRequired
}

// checkPalette records palette compliance. Violations are errors only
// when the palette is strict; otherwise quantization already pulled the
// image as close as the policy allows and the drift is informational.
func (p *Processor) checkPalette(t contract.PlannedTarget, out *chainOutput, acc *contract.TargetAcceptance) {
	pal := t.Palette
	if pal == nil || (len(pal.Colors) == 0 && pal.MaxColors == 0) {
		return
	}
	report, err := imaging.CheckPalette(out.img, pal.Colors, pal.MaxColors)
	if err != nil {
		warnIssue(acc, "palette_check_failed", "%v", err)
		return
	}
	acc.Palette = &contract.PaletteCompliance{
		Compliant:       report.Compliant,
		DistinctColors:  report.DistinctColors,
		MaxAllowed:      pal.MaxColors,
		OffPaletteRatio: report.OffPaletteRatio,
	}
	if report.Compliant {
		return
	}
	if pal.Strict {
		errorIssue(acc, "palette_noncompliant",
			"%d distinct colors, %.1f%% off palette", report.DistinctColors, report.OffPaletteRatio*100)
	} else {
		warnIssue(acc, "palette_noncompliant",
			"%d distinct colors, %.1f%% off palette", report.DistinctColors, report.OffPaletteRatio*100)
	}
}

func (p *Processor) checkSeams(t contract.PlannedTarget, out *chainOutput, acc *contract.TargetAcceptance) {
	tl := t.Tileable
	if tl == nil || (!tl.Tileable && !tl.SeamHeal && tl.WrapGrid == nil) {
		return
	}
	score := imaging.SeamScore(out.img)
	acc.SeamScore = &score
	if score < seamWarnBelow {
		warnIssue(acc, "seam_poor", "wrap seam score %.3f below %.2f", score, seamWarnBelow)
	}
	if g := tl.WrapGrid; g != nil {
		gridScore, err := imaging.WrapGridSeamScore(out.img, g.Cols, g.Rows)
		if err != nil {
			warnIssue(acc, "wrap_grid_check_failed", "%v", err)
			return
		}
		acc.WrapGridSeamScore = &gridScore
		if gridScore < seamWarnBelow {
			warnIssue(acc, "wrap_grid_seam_poor", "grid seam score %.3f below %.2f", gridScore, seamWarnBelow)
		}
	}
}

// checkBoundary measures sprite edge quality for kinds that ship
// transparency. Opaque kinds (tiles, backgrounds) skip it.
func (p *Processor) checkBoundary(t contract.PlannedTarget, out *chainOutput, acc *contract.TargetAcceptance) {
	if t.Kind != "sprite" && t.Kind != "effect" {
		return
	}
	if !acc.HasAlpha {
		return
	}
	m := imaging.MeasureBoundary(out.img)
	acc.Boundary = &contract.BoundaryQuality{
		HaloRisk:      m.HaloRisk,
		StrayNoise:    m.StrayNoise,
		EdgeSharpness: m.EdgeSharpness,
	}
	if m.HaloRisk > haloWarnAbove {
		warnIssue(acc, "halo_risk", "%.1f%% of semi-transparent pixels are near-white", m.HaloRisk*100)
	}
	if m.StrayNoise > strayWarnAbove {
		warnIssue(acc, "stray_noise", "%.1f%% of visible pixels sit in stray fragments", m.StrayNoise*100)
	}
}
