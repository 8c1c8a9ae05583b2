package generate

import (
	"fmt"

	"lootforge/internal/contract"
	"lootforge/internal/paths"
)

// rewriteForEdit turns each kept target into an edit-first job seeded
// from its selection-lock entry: the locked output becomes a base-role
// input at high fidelity, and the result carries a regenerationSource
// linking the new run to the lock. Targets without a lock entry are
// skipped; locked paths outside the output root fail the target.
func (o *Orchestrator) rewriteForEdit(targets []contract.PlannedTarget, opts Options, prov *contract.ProvenanceRun) ([]contract.PlannedTarget, error) {
	lockPath := opts.LockPath
	if lockPath == "" {
		lockPath = o.layout.SelectionLock()
	}
	lock, err := contract.ReadSelectionLock(lockPath)
	if err != nil {
		return nil, fmt.Errorf("regenerate needs a selection lock: %w", err)
	}
	relLock := o.layout.Rel(lockPath)

	kept := targets[:0]
	for _, t := range targets {
		entry, ok := lockEntry(lock, t.Id)
		if !ok {
			prov.Skipped = append(prov.Skipped, contract.SkippedTarget{
				TargetId:  t.Id,
				InputHash: t.InputHash,
				Reason:    "no selection lock entry to regenerate from",
			})
			o.sink.Emit(Event{Type: EventSkipped, TargetId: t.Id, JobId: t.JobId})
			continue
		}
		if _, err := paths.ResolveUnderRoot(o.layout.Root, entry.SelectedOutputPath); err != nil {
			msg := fmt.Sprintf("locked output %q does not resolve inside the output root: %v", entry.SelectedOutputPath, err)
			prov.Failures = append(prov.Failures, contract.JobFailure{
				TargetId:  t.Id,
				JobId:     t.JobId,
				Code:      "regenerate_unsafe_locked_path",
				Message:   msg,
				Providers: []string{},
			})
			o.sink.Emit(Event{Type: EventJobError, TargetId: t.Id, JobId: t.JobId, Message: msg})
			continue
		}

		t.GenerationPolicy.GenerationMode = "edit-first"
		edit := contract.EditSpec{}
		if t.EditSpec != nil {
			edit = *t.EditSpec
		}
		edit.Fidelity = "high"
		edit.Inputs = append(
			[]contract.EditInput{{Path: entry.SelectedOutputPath, Role: "base"}},
			edit.Inputs...)
		t.EditSpec = &edit
		t.RegenerationSource = &contract.RegenerationSource{
			LockPath:               relLock,
			LockSelectedOutputPath: entry.SelectedOutputPath,
			LockApproved:           entry.Approved,
		}
		kept = append(kept, t)
	}
	return kept, nil
}
