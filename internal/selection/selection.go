// Package selection emits the selection lock, the durable record of
// which output each target shipped, who produced it, and whether the
// eval stage approved it. Regeneration reads the lock back to seed
// edit-first runs, and the package stage ships only what it approves.
package selection

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"lootforge/internal/contract"
	"lootforge/internal/paths"
	"lootforge/internal/score"
)

// Options selects the inputs for one select invocation.
type Options struct {
	IndexPath string // defaults to the layout's targets index
	RunId     string // defaults to the eval report's run id
}

// Selector builds selection locks for one output root.
type Selector struct {
	layout paths.Layout
	logger *zap.Logger
}

// New builds a selector. A nil logger is replaced with a no-op.
func New(layout paths.Layout, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{layout: layout, logger: logger}
}

// Run reads the eval report, stitches provider attribution from the
// provenance run, and writes the selection lock. Every evaluated target
// with a known identity gets an entry; approved mirrors the eval
// verdict, so an unapproved entry is a recorded rejection, not an
// error.
func (s *Selector) Run(ctx context.Context, opts Options) (*contract.SelectionLock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	eval, err := contract.ReadEvalReport(s.layout.EvalReport())
	if err != nil {
		return nil, err
	}

	indexPath := opts.IndexPath
	if indexPath == "" {
		indexPath = s.layout.TargetsIndex()
	}
	index, _, err := contract.ReadTargetsIndex(indexPath)
	if err != nil {
		return nil, err
	}
	targetById := make(map[string]*contract.PlannedTarget, len(index.Targets))
	for i := range index.Targets {
		targetById[index.Targets[i].Id] = &index.Targets[i]
	}

	attribution := s.attributions()

	entries := make([]contract.LockEntry, 0, len(eval.Targets))
	var approved, skipped int
	for _, ev := range eval.Targets {
		entry, ok := s.lockEntry(ev, targetById[ev.TargetId], attribution[ev.TargetId])
		if !ok {
			skipped++
			continue
		}
		if entry.Approved {
			approved++
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].TargetId < entries[j].TargetId })

	lock := &contract.SelectionLock{
		ContractVersion: contract.ContractVersion,
		RunId:           s.runId(opts, eval),
		Targets:         entries,
	}
	if err := contract.WriteFile(contract.KindSelectionLock, s.layout.SelectionLock(), lock); err != nil {
		return lock, fmt.Errorf("write selection lock: %w", err)
	}

	s.logger.Info("select stage complete",
		zap.Int("locked", len(entries)),
		zap.Int("approved", approved),
		zap.Int("unapproved", len(entries)-approved),
		zap.Int("skipped", skipped))
	return lock, nil
}

func (s *Selector) runId(opts Options, eval *contract.EvalReport) string {
	if opts.RunId != "" {
		return opts.RunId
	}
	return eval.RunId
}

// attributions maps each target to the job result that produced its
// shipped output. Absent provenance is legal (hand-placed assets); the
// planned identity covers those targets instead.
func (s *Selector) attributions() map[string]*contract.JobResult {
	prov, err := contract.ReadProvenanceRun(s.layout.Provenance())
	if err != nil {
		s.logger.Debug("no provenance run; lock identity falls back to the index", zap.Error(err))
		return map[string]*contract.JobResult{}
	}
	best := make(map[string]*contract.JobResult, len(prov.Results))
	for i := range prov.Results {
		r := &prov.Results[i]
		cur, ok := best[r.TargetId]
		if !ok || betterAttempt(r, cur) {
			best[r.TargetId] = r
		}
	}
	return best
}

// betterAttempt ranks two job results for the same target by their
// winning candidates, so a rerun that produced a stronger selection
// displaces the older entry.
func betterAttempt(a, b *contract.JobResult) bool {
	ca, oka := winningCandidate(a)
	cb, okb := winningCandidate(b)
	if oka != okb {
		return oka
	}
	if !oka {
		return false
	}
	if ca.Selected != cb.Selected {
		return ca.Selected
	}
	return score.Better(*ca, *cb)
}

// winningCandidate picks a job's shipped candidate: the selected flag
// wins outright, then acceptance, score, and path break ties.
func winningCandidate(r *contract.JobResult) (*contract.CandidateResult, bool) {
	var best *contract.CandidateResult
	for i := range r.Candidates {
		c := &r.Candidates[i]
		switch {
		case best == nil:
			best = c
		case c.Selected != best.Selected:
			if c.Selected {
				best = c
			}
		case score.Better(*c, *best):
			best = c
		}
	}
	return best, best != nil
}

// lockEntry builds one lock row. Identity prefers the provenance result
// (what actually ran) and falls back to the plan; a target with neither
// cannot be locked and is skipped with a warning.
func (s *Selector) lockEntry(ev contract.TargetEvaluation, planned *contract.PlannedTarget, result *contract.JobResult) (contract.LockEntry, bool) {
	entry := contract.LockEntry{
		TargetId:           ev.TargetId,
		Approved:           ev.PassedHardGates,
		SelectedOutputPath: ev.Path,
		FinalScore:         ev.FinalScore,
	}
	if result != nil {
		entry.InputHash = result.InputHash
		entry.Provider = result.Provider
		entry.Model = result.Model
	}
	if planned != nil {
		if entry.InputHash == "" {
			entry.InputHash = planned.InputHash
		}
		if entry.Provider == "" {
			entry.Provider = planned.Provider
		}
		if entry.Model == "" {
			entry.Model = planned.Model
		}
	}
	if entry.InputHash == "" || entry.Provider == "" {
		s.logger.Warn("target not locked: neither provenance nor plan knows it",
			zap.String("target", ev.TargetId))
		return contract.LockEntry{}, false
	}
	return entry, true
}
