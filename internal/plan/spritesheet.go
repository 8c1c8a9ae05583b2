package plan

import (
	"fmt"
	"path"
	"strings"

	"lootforge/internal/contract"
	"lootforge/internal/manifest"
)

// expandSpritesheet turns one authored spritesheet target into a sheet
// PlannedTarget plus one frame PlannedTarget per animation frame. The
// sheet is never generated (the process stage composes it from frames);
// frames are never cataloged on their own.
func (p *Planner) expandSpritesheet(t *manifest.Target, pt *contract.PlannedTarget, rep *Report) []contract.PlannedTarget {
	spec := t.Spritesheet
	if spec == nil {
		rep.errorf(pt.Id, "spritesheet_missing_spec", "kind spritesheet needs a spritesheet block")
		return []contract.PlannedTarget{*pt}
	}
	if !validSizeLiteral(spec.FrameSize) {
		rep.errorf(pt.Id, "invalid_size_literal", "spritesheet.frameSize %q is not WxH", spec.FrameSize)
		return []contract.PlannedTarget{*pt}
	}
	if len(spec.Animations) == 0 {
		rep.errorf(pt.Id, "spritesheet_no_animations", "spritesheet declares no animations")
		return []contract.PlannedTarget{*pt}
	}

	sheet := *pt
	sheet.GenerationDisabled = true
	sheet.Spritesheet = &contract.SpritesheetMeta{
		IsSheet:    true,
		SheetId:    pt.Id,
		FrameSize:  spec.FrameSize,
		Animations: spec.Animations,
	}

	out := []contract.PlannedTarget{sheet}
	seen := make(map[string]bool, len(spec.Animations))
	for _, anim := range spec.Animations {
		if anim.Name == "" || anim.Frames <= 0 {
			rep.errorf(pt.Id, "spritesheet_invalid_animation",
				"animation %q needs a name and a positive frame count", anim.Name)
			continue
		}
		if seen[anim.Name] {
			rep.errorf(pt.Id, "spritesheet_duplicate_animation", "animation %q declared twice", anim.Name)
			continue
		}
		seen[anim.Name] = true
		for i := 0; i < anim.Frames; i++ {
			out = append(out, frameTarget(pt, spec, anim, i))
		}
	}
	return out
}

// frameTarget derives the planned target for one animation frame. Frame
// ids and out paths extend the sheet's so they stay unique and sort in
// animation-then-frame order.
func frameTarget(sheet *contract.PlannedTarget, spec *manifest.SpritesheetSpec, anim contract.SheetAnimation, index int) contract.PlannedTarget {
	ft := *sheet
	ft.Id = fmt.Sprintf("%s.%s.%d", sheet.Id, anim.Name, index)
	ft.Out = frameOut(sheet.Out, anim.Name, index)
	ft.Kind = "sprite"
	ft.CatalogDisabled = true
	ft.AtlasGroup = ""
	ft.Acceptance.Size = spec.FrameSize
	ft.Spritesheet = &contract.SpritesheetMeta{
		SheetId:       sheet.Id,
		FrameSize:     spec.FrameSize,
		AnimationName: anim.Name,
		FrameIndex:    index,
	}
	ft.PromptSpec = framePrompt(sheet.PromptSpec, anim, index)
	return ft
}

// framePrompt keeps the sheet's style and constraints but swaps in the
// animation prompt and pins the frame position so adjacent frames read
// as one motion.
func framePrompt(base contract.PromptSpec, anim contract.SheetAnimation, index int) contract.PromptSpec {
	ps := base
	if anim.Prompt != "" {
		ps.Primary = anim.Prompt
	}
	phrase := fmt.Sprintf("animation %q, frame %d of %d", anim.Name, index+1, anim.Frames)
	if ps.Details == "" {
		ps.Details = phrase
	} else {
		ps.Details = ps.Details + ". " + phrase
	}
	return ps
}

// frameOut inserts the animation name and frame index before the sheet
// extension: sprites/hero.png -> sprites/hero.walk.0.png.
func frameOut(sheetOut, animName string, index int) string {
	ext := path.Ext(sheetOut)
	stem := strings.TrimSuffix(sheetOut, ext)
	if ext == "" {
		ext = ".png"
	}
	return fmt.Sprintf("%s.%s.%d%s", stem, animName, index, ext)
}
