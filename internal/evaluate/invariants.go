package evaluate

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"

	"lootforge/internal/contract"
	"lootforge/internal/imaging"
	"lootforge/internal/manifest"
	"lootforge/internal/paths"
)

// Default sheet drift thresholds, used when the sheet's evaluation
// profile does not set its own.
const (
	defaultSheetDriftWarn  = 0.25
	defaultSheetDriftError = 0.5
)

// packInvariants checks the cross-target rules: out-path uniqueness,
// per-profile texture budgets, and sheet frame continuity.
func (e *Evaluator) packInvariants(index *contract.TargetsIndex, acceptance *contract.AcceptanceReport, profiles map[string]manifest.EvaluationProfile) []contract.InvariantIssue {
	issues := []contract.InvariantIssue{}
	issues = append(issues, duplicateOutPaths(index)...)
	issues = append(issues, textureBudgets(index, acceptance, profiles)...)
	issues = append(issues, e.sheetContinuity(index, acceptance, profiles)...)
	return issues
}

// duplicateOutPaths flags case-insensitive collisions between planned
// out paths. The planner rejects these too, but the index may have been
// produced elsewhere or hand-edited between stages.
func duplicateOutPaths(index *contract.TargetsIndex) []contract.InvariantIssue {
	byKey := map[string][]string{}
	for _, t := range index.Targets {
		key := paths.UniquenessKey(t.Out)
		byKey[key] = append(byKey[key], t.Id)
	}
	var keys []string
	for key, ids := range byKey {
		if len(ids) > 1 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var issues []contract.InvariantIssue
	for _, key := range keys {
		ids := byKey[key]
		sort.Strings(ids)
		issues = append(issues, contract.InvariantIssue{
			Level:     "error",
			Code:      "duplicate_out_path",
			Message:   fmt.Sprintf("%d targets write %s", len(ids), key),
			TargetIds: ids,
		})
	}
	return issues
}

// textureBudgets sums the processed bytes of every profile that sets a
// budget. Frames folded into sheets are excluded, matching what the
// catalog ships.
func textureBudgets(index *contract.TargetsIndex, acceptance *contract.AcceptanceReport, profiles map[string]manifest.EvaluationProfile) []contract.InvariantIssue {
	accById := make(map[string]*contract.TargetAcceptance, len(acceptance.Targets))
	for i := range acceptance.Targets {
		accById[acceptance.Targets[i].TargetId] = &acceptance.Targets[i]
	}

	var names []string
	for name, p := range profiles {
		if p.TextureBudgetKB > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var issues []contract.InvariantIssue
	for _, name := range names {
		budget := int64(profiles[name].TextureBudgetKB) * 1024
		var total int64
		var ids []string
		for _, t := range index.Targets {
			if t.EvaluationProfile != name || t.CatalogDisabled {
				continue
			}
			acc, ok := accById[t.Id]
			if !ok {
				continue
			}
			total += acc.Bytes
			ids = append(ids, t.Id)
		}
		if total <= budget {
			continue
		}
		sort.Strings(ids)
		issues = append(issues, contract.InvariantIssue{
			Level:     "error",
			Code:      "texture_budget_exceeded",
			Message:   fmt.Sprintf("profile %s totals %d KB, budget %d KB", name, (total+1023)/1024, profiles[name].TextureBudgetKB),
			TargetIds: ids,
		})
	}
	return issues
}

// sheetContinuity measures silhouette drift across each sheet's frames.
// Frames of one animation should keep roughly the same mass and center;
// a frame that jumps is usually an identity break from the generator.
func (e *Evaluator) sheetContinuity(index *contract.TargetsIndex, acceptance *contract.AcceptanceReport, profiles map[string]manifest.EvaluationProfile) []contract.InvariantIssue {
	accById := make(map[string]*contract.TargetAcceptance, len(acceptance.Targets))
	for i := range acceptance.Targets {
		accById[acceptance.Targets[i].TargetId] = &acceptance.Targets[i]
	}

	var sheets []*contract.PlannedTarget
	for i := range index.Targets {
		t := &index.Targets[i]
		if t.Spritesheet != nil && t.Spritesheet.IsSheet {
			sheets = append(sheets, t)
		}
	}
	sort.Slice(sheets, func(i, j int) bool { return sheets[i].Id < sheets[j].Id })

	var issues []contract.InvariantIssue
	for _, sheet := range sheets {
		profile := profileFor(sheet, profiles)
		warnAt := profile.SheetDriftWarn
		if warnAt <= 0 {
			warnAt = defaultSheetDriftWarn
		}
		errorAt := profile.SheetDriftError
		if errorAt <= 0 {
			errorAt = defaultSheetDriftError
		}

		rows := map[string][]*contract.PlannedTarget{}
		for i := range index.Targets {
			f := &index.Targets[i]
			if f.Spritesheet == nil || f.Spritesheet.IsSheet || f.Spritesheet.SheetId != sheet.Spritesheet.SheetId {
				continue
			}
			rows[f.Spritesheet.AnimationName] = append(rows[f.Spritesheet.AnimationName], f)
		}

		var unreadable []string
		var worst float64
		var worstFrame string
		for _, anim := range sheet.Spritesheet.Animations {
			frames := rows[anim.Name]
			sort.Slice(frames, func(i, j int) bool {
				return frames[i].Spritesheet.FrameIndex < frames[j].Spritesheet.FrameIndex
			})
			var sils []imaging.Silhouette
			var frameIds []string
			for _, f := range frames {
				acc, ok := accById[f.Id]
				if !ok {
					unreadable = append(unreadable, f.Id)
					continue
				}
				img, _, err := imaging.DecodeFile(filepath.Join(e.layout.Root, filepath.FromSlash(acc.Path)))
				if err != nil {
					unreadable = append(unreadable, f.Id)
					continue
				}
				sils = append(sils, imaging.MeasureSilhouette(img))
				frameIds = append(frameIds, f.Id)
			}
			if len(sils) < 2 {
				continue
			}
			drift, at := rowDrift(sils)
			if drift > worst {
				worst = drift
				worstFrame = frameIds[at]
			}
		}

		switch {
		case len(unreadable) > 0:
			sort.Strings(unreadable)
			issues = append(issues, contract.InvariantIssue{
				Level:     "warning",
				Code:      "sheet_continuity_unchecked",
				Message:   fmt.Sprintf("sheet %s: %d frame(s) unreadable (%s), continuity not checked", sheet.Id, len(unreadable), unreadable[0]),
				TargetIds: []string{sheet.Id},
			})
		case worst > errorAt:
			issues = append(issues, contract.InvariantIssue{
				Level:     "error",
				Code:      "sheet_continuity_broken",
				Message:   fmt.Sprintf("sheet %s: frame %s drifts %.2f from its row (error above %.2f)", sheet.Id, worstFrame, worst, errorAt),
				TargetIds: []string{sheet.Id},
			})
		case worst > warnAt:
			issues = append(issues, contract.InvariantIssue{
				Level:     "warning",
				Code:      "sheet_continuity_drift",
				Message:   fmt.Sprintf("sheet %s: frame %s drifts %.2f from its row (warn above %.2f)", sheet.Id, worstFrame, worst, warnAt),
				TargetIds: []string{sheet.Id},
			})
		}
	}
	return issues
}

// rowDrift returns the largest per-frame deviation within one animation
// row: silhouette area relative to the row median, or centroid travel in
// unit frame coordinates, whichever is larger.
func rowDrift(sils []imaging.Silhouette) (float64, int) {
	areas := make([]float64, len(sils))
	xs := make([]float64, len(sils))
	ys := make([]float64, len(sils))
	for i, s := range sils {
		areas[i], xs[i], ys[i] = s.Area, s.CX, s.CY
	}
	ma, mx, my := median(areas), median(xs), median(ys)

	var worst float64
	var at int
	for i, s := range sils {
		d := math.Hypot(s.CX-mx, s.CY-my)
		if ma > 0 {
			if ad := math.Abs(s.Area-ma) / ma; ad > d {
				d = ad
			}
		}
		if d > worst {
			worst, at = d, i
		}
	}
	return worst, at
}
