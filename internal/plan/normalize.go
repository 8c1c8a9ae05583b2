package plan

import (
	"os"
	"path"
	"strconv"
	"strings"

	"lootforge/internal/contract"
	"lootforge/internal/imaging"
	"lootforge/internal/manifest"
	"lootforge/internal/paths"
)

// normalizeTarget resolves every defaultable field of one authored
// target. Problems are recorded in rep; the returned target is always
// usable for further checks even when errors were found.
func (p *Planner) normalizeTarget(m *manifest.Manifest, t *manifest.Target, rep *Report) *contract.PlannedTarget {
	pt := &contract.PlannedTarget{
		Id:                t.Id,
		Kind:              t.Kind,
		Out:               paths.Normalize(t.Out),
		Provider:          t.Provider,
		Model:             t.Model,
		StyleKit:          t.StyleKit,
		ConsistencyGroup:  t.ConsistencyGroup,
		EvaluationProfile: t.EvaluationProfile,
		AtlasGroup:        t.AtlasGroup,
		Acceptance:        t.Acceptance,
		PromptSpec:        t.PromptSpec,
	}
	if t.RuntimeSpec != nil {
		rs := *t.RuntimeSpec
		pt.RuntimeSpec = &rs
	}
	if t.GenerationPolicy != nil {
		pt.GenerationPolicy = *t.GenerationPolicy
		pt.GenerationPolicy.FallbackProviders = append([]string(nil), t.GenerationPolicy.FallbackProviders...)
	}
	if t.Palette != nil {
		pal := *t.Palette
		pal.Colors = append([]string(nil), t.Palette.Colors...)
		pt.Palette = &pal
	}
	if t.Tileable != nil {
		tl := *t.Tileable
		if t.Tileable.WrapGrid != nil {
			wg := *t.Tileable.WrapGrid
			tl.WrapGrid = &wg
		}
		pt.Tileable = &tl
	}
	if t.EditSpec != nil {
		es := *t.EditSpec
		es.Inputs = append([]contract.EditInput(nil), t.EditSpec.Inputs...)
		pt.EditSpec = &es
	}

	group := p.resolveGroup(m, t, pt, rep)
	kit := p.resolveKit(m, pt, rep)
	p.resolveReferences(m, t, pt, rep)

	p.injectConstraints(pt, kit, group)
	p.resolveBackgroundAndFormat(pt, rep)
	p.resolvePostProcess(pt, t, kit, rep)
	p.resolvePalette(pt, kit, rep)
	p.checkSizeLiterals(pt, rep)
	p.checkWrapGrid(pt, rep)
	p.checkEditSpec(pt, rep)
	p.resolveRegenSource(t, pt, rep)

	if pt.GenerationPolicy.CandidateCount < 1 {
		pt.GenerationPolicy.CandidateCount = 1
	}
	return pt
}

func (p *Planner) resolveGroup(m *manifest.Manifest, t *manifest.Target, pt *contract.PlannedTarget, rep *Report) *manifest.ConsistencyGroup {
	if t.ConsistencyGroup == "" {
		return nil
	}
	g, ok := m.ConsistencyGroups[t.ConsistencyGroup]
	if !ok {
		rep.errorf(t.Id, "consistency_group_unknown", "consistency group %q is not declared", t.ConsistencyGroup)
		return nil
	}
	if pt.StyleKit == "" {
		pt.StyleKit = g.StyleKit
	} else if g.StyleKit != "" && g.StyleKit != pt.StyleKit {
		rep.errorf(t.Id, "consistency_group_stylekit_mismatch",
			"target uses style kit %q but its consistency group %q requires %q", pt.StyleKit, t.ConsistencyGroup, g.StyleKit)
	}
	return &g
}

func (p *Planner) resolveKit(m *manifest.Manifest, pt *contract.PlannedTarget, rep *Report) *manifest.StyleKit {
	if pt.StyleKit == "" {
		return nil
	}
	k, ok := m.StyleKits[pt.StyleKit]
	if !ok {
		rep.errorf(pt.Id, "style_kit_unknown", "style kit %q is not declared", pt.StyleKit)
		return nil
	}
	p.checkKitAssets(pt.Id, pt.StyleKit, &k, rep)
	return &k
}

func (p *Planner) resolveReferences(m *manifest.Manifest, t *manifest.Target, pt *contract.PlannedTarget, rep *Report) {
	if t.EvaluationProfile != "" {
		if _, ok := m.EvaluationProfiles[t.EvaluationProfile]; !ok {
			rep.errorf(t.Id, "evaluation_profile_unknown", "evaluation profile %q is not declared", t.EvaluationProfile)
		}
	}
	if t.AtlasGroup != "" {
		if _, ok := m.AtlasGroups[t.AtlasGroup]; !ok {
			rep.errorf(t.Id, "atlas_group_unknown", "atlas group %q is not declared", t.AtlasGroup)
		}
	}
}

// checkKitAssets warns once per kit about referenced files that do not
// exist under the output root.
func (p *Planner) checkKitAssets(targetId, kitName string, kit *manifest.StyleKit, rep *Report) {
	if p.kitChecked[kitName] {
		return
	}
	p.kitChecked[kitName] = true
	for _, ref := range kit.RefImages {
		if !p.assetExists(ref) {
			rep.warnf(targetId, "asset_missing", "style kit %q reference image %q does not exist", kitName, ref)
		}
	}
	if kit.PalettePath != "" && !p.assetExists(kit.PalettePath) {
		rep.warnf(targetId, "asset_missing", "style kit %q palette %q does not exist", kitName, kit.PalettePath)
	}
}

func (p *Planner) assetExists(rel string) bool {
	abs, err := paths.ResolveUnderRoot(p.outRoot, rel)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

// injectConstraints appends style-kit rules and consistency-group
// clauses to the prompt constraints. Order is fixed: authored, kit
// rules, group identity, group constraints.
func (p *Planner) injectConstraints(pt *contract.PlannedTarget, kit *manifest.StyleKit, group *manifest.ConsistencyGroup) {
	constraints := append([]string(nil), pt.PromptSpec.Constraints...)
	if kit != nil {
		constraints = append(constraints, kit.StyleRules...)
	}
	if group != nil {
		if group.IdentityPrompt != "" {
			constraints = append(constraints, group.IdentityPrompt)
		}
		constraints = append(constraints, group.Constraints...)
	}
	pt.PromptSpec.Constraints = dedupeStrings(constraints)
}

// alphaRequested reports whether the author asked for alpha explicitly,
// independent of the background setting.
func alphaRequested(pt *contract.PlannedTarget) bool {
	if pt.Acceptance.Alpha {
		return true
	}
	return pt.RuntimeSpec != nil && pt.RuntimeSpec.AlphaRequired
}

func (p *Planner) resolveBackgroundAndFormat(pt *contract.PlannedTarget, rep *Report) {
	switch pt.GenerationPolicy.Background {
	case "":
		if alphaRequested(pt) {
			pt.GenerationPolicy.Background = "transparent"
		} else {
			pt.GenerationPolicy.Background = "opaque"
		}
	case "transparent":
	default:
		if alphaRequested(pt) {
			rep.warnf(pt.Id, "alpha_background_mismatch",
				"target requires alpha but generationPolicy.background is %q", pt.GenerationPolicy.Background)
		}
	}

	if pt.GenerationPolicy.OutputFormat == "" {
		pt.GenerationPolicy.OutputFormat = formatFromExt(pt.Out)
	}
	alphaImplied := alphaRequested(pt) || pt.GenerationPolicy.Background == "transparent"
	format := pt.GenerationPolicy.OutputFormat
	if alphaImplied && format != "png" && format != "webp" {
		rep.errorf(pt.Id, "alpha_requires_png_or_webp",
			"target requires alpha but output format is %q", format)
	}
}

func formatFromExt(out string) string {
	switch strings.ToLower(path.Ext(out)) {
	case ".webp":
		return "webp"
	case ".jpg", ".jpeg":
		return "jpeg"
	default:
		return "png"
	}
}

// resolvePostProcess materializes the post-process policy with a final
// algorithm so downstream stages never re-derive it. Unknown algorithms
// degrade to lanczos3 with a warning.
func (p *Planner) resolvePostProcess(pt *contract.PlannedTarget, t *manifest.Target, kit *manifest.StyleKit, rep *Report) {
	var pp contract.PostProcessPolicy
	if t.PostProcess != nil {
		pp = *t.PostProcess
		pp.ResizeVariants = append([]contract.ResizeVariant(nil), t.PostProcess.ResizeVariants...)
		pp.EmitVariants = append([]string(nil), t.PostProcess.EmitVariants...)
		pp.AuxiliaryMaps = append([]string(nil), t.PostProcess.AuxiliaryMaps...)
		if t.PostProcess.Outline != nil {
			ol := *t.PostProcess.Outline
			pp.Outline = &ol
		}
	}

	switch pp.Algorithm {
	case "", "nearest", "lanczos3":
	default:
		rep.warnf(pt.Id, "algorithm_unknown", "algorithm %q is not recognized, falling back to lanczos3", pp.Algorithm)
		pp.Algorithm = ""
	}
	if pp.Algorithm == "" {
		if kit != nil && kit.StylePreset == "pixel-art-16bit" {
			pp.Algorithm = "nearest"
		} else {
			pp.Algorithm = "lanczos3"
		}
	}
	pt.PostProcess = &pp
}

func (p *Planner) resolvePalette(pt *contract.PlannedTarget, kit *manifest.StyleKit, rep *Report) {
	kitPalette := kit != nil && kit.PalettePath != ""
	if pt.Palette == nil && kitPalette {
		pt.Palette = &contract.PalettePolicy{}
	}
	if pt.Palette != nil && len(pt.Palette.Colors) == 0 && kitPalette {
		colors, err := p.loadPalette(kit.PalettePath)
		if err != nil {
			rep.warnf(pt.Id, "palette_file_invalid", "style kit palette %q: %v", kit.PalettePath, err)
		} else {
			pt.Palette.Colors = append([]string(nil), colors...)
		}
	}
	if pt.Palette != nil && pt.Palette.Strict && len(pt.Palette.Colors) == 0 {
		rep.errorf(pt.Id, "palette_strict_requires_colors",
			"strict palette enforcement needs an explicit color list or a loadable style-kit palette")
	}
}

func (p *Planner) loadPalette(rel string) ([]string, error) {
	if colors, ok := p.paletteColors[rel]; ok {
		return colors, nil
	}
	if err, ok := p.paletteErrs[rel]; ok {
		return nil, err
	}
	abs, err := paths.ResolveUnderRoot(p.outRoot, rel)
	if err == nil {
		var colors []string
		colors, err = manifest.LoadPaletteFile(abs)
		if err == nil {
			p.paletteColors[rel] = colors
			return colors, nil
		}
	}
	p.paletteErrs[rel] = err
	return nil, err
}

func (p *Planner) checkSizeLiterals(pt *contract.PlannedTarget, rep *Report) {
	check := func(label, s string) {
		if s != "" && !validSizeLiteral(s) {
			rep.errorf(pt.Id, "invalid_size_literal", "%s %q is not WxH", label, s)
		}
	}
	check("acceptance.size", pt.Acceptance.Size)
	check("generationPolicy.size", pt.GenerationPolicy.Size)
	if pt.RuntimeSpec != nil {
		check("runtimeSpec.previewSize", pt.RuntimeSpec.PreviewSize)
	}
	if pt.PostProcess != nil {
		if r := pt.PostProcess.Resize; r != "" && !validResizeLiteral(r) {
			rep.errorf(pt.Id, "invalid_resize_literal", "postProcess.resize %q is neither WxH nor a single edge", r)
		}
		for _, v := range pt.PostProcess.ResizeVariants {
			if v.Suffix == "" || !validSizeLiteral(v.Size) {
				rep.errorf(pt.Id, "invalid_resize_variant", "resize variant %q/%q needs a suffix and a WxH size", v.Suffix, v.Size)
			}
		}
	}
}

func validSizeLiteral(s string) bool {
	_, _, err := imaging.ParseSize(s)
	return err == nil
}

// validResizeLiteral accepts WxH or a single numeric edge length.
func validResizeLiteral(s string) bool {
	if validSizeLiteral(s) {
		return true
	}
	n, err := strconv.Atoi(s)
	return err == nil && n > 0
}

func (p *Planner) checkWrapGrid(pt *contract.PlannedTarget, rep *Report) {
	if pt.Tileable == nil || pt.Tileable.WrapGrid == nil || pt.Acceptance.Size == "" {
		return
	}
	w, h, err := imaging.ParseSize(pt.Acceptance.Size)
	if err != nil {
		return
	}
	g := pt.Tileable.WrapGrid
	if g.Cols <= 0 || g.Rows <= 0 || w%g.Cols != 0 || h%g.Rows != 0 {
		rep.errorf(pt.Id, "wrap_grid_indivisible",
			"wrap grid %dx%d does not divide target size %s evenly", g.Cols, g.Rows, pt.Acceptance.Size)
	}
}

func (p *Planner) checkEditSpec(pt *contract.PlannedTarget, rep *Report) {
	if pt.GenerationPolicy.GenerationMode != "edit-first" {
		return
	}
	if pt.EditSpec == nil || len(pt.EditSpec.Inputs) == 0 {
		rep.errorf(pt.Id, "edit_first_missing_inputs", "edit-first generation needs editSpec inputs")
		return
	}
	for _, in := range pt.EditSpec.Inputs {
		if _, err := paths.ResolveUnderRoot(p.outRoot, in.Path); err != nil {
			rep.warnf(pt.Id, "edit_input_unsafe_path",
				"edit input %q resolves outside the output root and will fail at generation", in.Path)
			continue
		}
		if !p.assetExists(in.Path) {
			rep.warnf(pt.Id, "asset_missing", "edit input %q does not exist", in.Path)
		}
	}
}

// resolveRegenSource reads the referenced selection lock and pins the
// locked output onto the planned target. A missing or unreadable lock
// drops the reference with a warning; an unsafe lock path is fatal.
func (p *Planner) resolveRegenSource(t *manifest.Target, pt *contract.PlannedTarget, rep *Report) {
	if t.RegenerationSource == nil {
		return
	}
	lockRel := t.RegenerationSource.LockPath
	abs, err := paths.ResolveUnderRoot(p.outRoot, lockRel)
	if err != nil {
		rep.errorf(t.Id, "regenerate_unsafe_locked_path", "lock path %q: %v", lockRel, err)
		return
	}
	lock, err := contract.ReadSelectionLock(abs)
	if err != nil {
		rep.warnf(t.Id, "regenerate_lock_missing", "selection lock %q: %v", lockRel, err)
		return
	}
	wantId := t.RegenerationSource.TargetId
	if wantId == "" {
		wantId = t.Id
	}
	for _, entry := range lock.Targets {
		if entry.TargetId == wantId {
			pt.RegenerationSource = &contract.RegenerationSource{
				LockPath:               paths.Normalize(lockRel),
				LockSelectedOutputPath: entry.SelectedOutputPath,
				LockApproved:           entry.Approved,
			}
			return
		}
	}
	rep.warnf(t.Id, "regenerate_lock_target_missing", "selection lock %q has no entry for target %q", lockRel, wantId)
}

func dedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
