package plan

import (
	"lootforge/internal/contract"
	"lootforge/internal/manifest"
	"lootforge/internal/paths"
	"lootforge/internal/provider"
)

// validateIdentity checks id and output-path uniqueness across the
// expanded target list and confines every out path to the output root.
// It runs after spritesheet expansion so synthesized frame targets are
// held to the same rules as authored ones.
func (p *Planner) validateIdentity(planned []contract.PlannedTarget, rep *Report) {
	seenIds := make(map[string]string, len(planned))
	seenOuts := make(map[string]string, len(planned))

	for i := range planned {
		t := &planned[i]
		if prev, dup := seenIds[t.Id]; dup {
			rep.errorf(t.Id, "duplicate_target_id", "target id %q is already used%s", t.Id, prevNote(prev, t.Id))
		} else {
			seenIds[t.Id] = t.Id
		}

		if _, err := paths.ResolveUnderRoot(p.outRoot, t.Out); err != nil {
			rep.errorf(t.Id, "invalid_target_out_path", "out %q: %v", t.Out, err)
			continue
		}
		key := paths.UniquenessKey(t.Out)
		if prev, dup := seenOuts[key]; dup {
			rep.errorf(t.Id, "duplicate_target_out", "out %q collides with target %s (case-insensitive, slash-normalized)", t.Out, prev)
		} else {
			seenOuts[key] = t.Id
		}
	}
}

func prevNote(prev, id string) string {
	if prev == id {
		return ""
	}
	return " by target " + prev
}

// routeTarget resolves the final provider and model for one planned
// target. Explicit target provider wins, then the manifest default,
// then capability-based auto-selection in declared order. The authored
// fallback list is preserved as-is; the orchestrator filters it at
// dispatch time.
func (p *Planner) routeTarget(pt *contract.PlannedTarget, m *manifest.Manifest, rep *Report) {
	if pt.Provider == "" {
		pt.Provider = m.DefaultProvider
	}
	needsAlpha := pt.GenerationPolicy.Background == "transparent"
	editFirst := pt.GenerationPolicy.GenerationMode == "edit-first"

	if pt.Provider != "" {
		if !p.registry.Known(pt.Provider) {
			rep.errorf(pt.Id, "unknown_provider", "provider %q is not a known provider", pt.Provider)
			return
		}
		if needsAlpha && !p.registry.Supports(pt.Provider, provider.FeatureTransparentBackground) {
			rep.errorf(pt.Id, "provider_alpha_incompatible",
				"target requires transparent output but provider %s cannot produce it", pt.Provider)
		}
		if editFirst && !p.registry.Supports(pt.Provider, provider.FeatureImageEdits) {
			rep.errorf(pt.Id, "provider_edit_incompatible",
				"target uses edit-first generation but provider %s does not support edits", pt.Provider)
		}
	} else {
		route, err := p.registry.Route(*pt)
		if err != nil {
			if needsAlpha {
				rep.errorf(pt.Id, "provider_alpha_incompatible", "%v", err)
			} else {
				rep.errorf(pt.Id, "no_capable_provider", "%v", err)
			}
			return
		}
		pt.Provider = route.Primary
	}

	if pt.Model == "" {
		if s, err := p.registry.Settings(pt.Provider); err == nil {
			pt.Model = s.Model
		}
	}
}
