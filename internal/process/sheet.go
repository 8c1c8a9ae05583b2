package process

import (
	"fmt"
	"image"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"lootforge/internal/contract"
	"lootforge/internal/imaging"
	"lootforge/internal/paths"
)

// AnimationFrame is one frame rectangle on an assembled sheet.
type AnimationFrame struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// AnimationEntry describes one animation row.
type AnimationEntry struct {
	Name   string           `json:"name"`
	Row    int              `json:"row"`
	FPS    int              `json:"fps,omitempty"`
	Frames []AnimationFrame `json:"frames"`
}

// SheetSidecar is the .anim.json document written next to an assembled
// sheet so the engine can address frames without re-deriving the grid.
type SheetSidecar struct {
	SheetId     string           `json:"sheetId"`
	Image       string           `json:"image"`
	FrameWidth  int              `json:"frameWidth"`
	FrameHeight int              `json:"frameHeight"`
	Animations  []AnimationEntry `json:"animations"`
}

// assembleSheet composes one sheet target from its processed frames,
// row per animation in declared order, frames by index. The sheet is
// never generated; a missing frame is a hard acceptance error.
func (p *Processor) assembleSheet(sheet contract.PlannedTarget, all []contract.PlannedTarget, cat *catalog) contract.TargetAcceptance {
	acc := contract.TargetAcceptance{
		TargetId: sheet.Id,
		Path:     paths.Normalize(sheet.Out),
		Issues:   []contract.AcceptanceIssue{},
	}
	meta := sheet.Spritesheet

	frameW, frameH, err := imaging.ParseSize(meta.FrameSize)
	if err != nil {
		errorIssue(&acc, "sheet_compose_failed", "frame size: %v", err)
		return finishEntry(&acc)
	}

	frames := framesBySheet(all, sheet.Id)
	rows := make([][]*image.NRGBA, 0, len(meta.Animations))
	for _, anim := range meta.Animations {
		row, missing := p.loadAnimationRow(frames, anim)
		if len(missing) > 0 {
			errorIssue(&acc, "sheet_frame_missing",
				"animation %q is missing processed frame(s): %s", anim.Name, strings.Join(missing, ", "))
			return finishEntry(&acc)
		}
		rows = append(rows, row)
	}

	img, err := imaging.ComposeSheet(rows, frameW, frameH)
	if err != nil {
		errorIssue(&acc, "sheet_compose_failed", "%v", err)
		return finishEntry(&acc)
	}

	outAbs, err := p.layout.ProcessedOutput(sheet.Out)
	if err != nil {
		errorIssue(&acc, "invalid_target_out_path", "out path %q: %v", sheet.Out, err)
		return finishEntry(&acc)
	}
	data, warning, err := imaging.Encode(img, sheet.GenerationPolicy.OutputFormat)
	if err != nil {
		errorIssue(&acc, "sheet_compose_failed", "encode: %v", err)
		return finishEntry(&acc)
	}
	if err := writeFile(outAbs, data); err != nil {
		errorIssue(&acc, "sheet_compose_failed", "%v", err)
		return finishEntry(&acc)
	}

	out := &chainOutput{img: img, encoded: data, relPath: p.layout.Rel(outAbs)}
	if warning != "" {
		out.warnings = append(out.warnings, warning)
	}
	acc.Path = out.relPath

	sidecarAbs := strings.TrimSuffix(outAbs, filepath.Ext(outAbs)) + ".anim.json"
	sidecar := buildSidecar(sheet.Id, out.relPath, frameW, frameH, meta.Animations)
	if err := contract.WriteJSON(sidecarAbs, sidecar); err != nil {
		errorIssue(&acc, "sheet_sidecar_failed", "%v", err)
		return finishEntry(&acc)
	}

	p.checkAcceptance(sheet, out, &acc)
	finishEntry(&acc)
	if !sheet.CatalogDisabled {
		cat.add(sheet, out.relPath, acc.Width, acc.Height, p.layout.Rel(sidecarAbs))
	}
	p.logger.Debug("sheet assembled",
		zap.String("target", sheet.Id),
		zap.Int("animations", len(meta.Animations)),
		zap.Bool("passed", acc.Passed))
	return acc
}

// framesBySheet collects the frame targets of one sheet, keyed by
// animation name, each list sorted by frame index.
func framesBySheet(all []contract.PlannedTarget, sheetId string) map[string][]contract.PlannedTarget {
	out := make(map[string][]contract.PlannedTarget)
	for _, t := range all {
		m := t.Spritesheet
		if m == nil || m.IsSheet || m.SheetId != sheetId {
			continue
		}
		out[m.AnimationName] = append(out[m.AnimationName], t)
	}
	for name := range out {
		frames := out[name]
		sort.Slice(frames, func(i, j int) bool {
			return frames[i].Spritesheet.FrameIndex < frames[j].Spritesheet.FrameIndex
		})
	}
	return out
}

// loadAnimationRow decodes the processed images of one animation's
// frames. Missing or unreadable frames are reported by target id.
func (p *Processor) loadAnimationRow(frames map[string][]contract.PlannedTarget, anim contract.SheetAnimation) ([]*image.NRGBA, []string) {
	var row []*image.NRGBA
	var missing []string
	for _, ft := range frames[anim.Name] {
		abs, err := p.layout.ProcessedOutput(ft.Out)
		if err != nil {
			missing = append(missing, ft.Id)
			continue
		}
		img, _, err := imaging.DecodeFile(abs)
		if err != nil {
			missing = append(missing, ft.Id)
			continue
		}
		row = append(row, img)
	}
	if len(row) != anim.Frames {
		missing = append(missing, fmt.Sprintf("(want %d frames, have %d)", anim.Frames, len(row)))
	}
	return row, missing
}

func buildSidecar(sheetId, imagePath string, frameW, frameH int, anims []contract.SheetAnimation) *SheetSidecar {
	sc := &SheetSidecar{
		SheetId:     sheetId,
		Image:       imagePath,
		FrameWidth:  frameW,
		FrameHeight: frameH,
	}
	for row, anim := range anims {
		entry := AnimationEntry{Name: anim.Name, Row: row, FPS: anim.FPS}
		for f := 0; f < anim.Frames; f++ {
			entry.Frames = append(entry.Frames, AnimationFrame{
				X: f * frameW,
				Y: row * frameH,
				W: frameW,
				H: frameH,
			})
		}
		sc.Animations = append(sc.Animations, entry)
	}
	return sc
}
