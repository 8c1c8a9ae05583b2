// Package evaluate is the soft-scoring stage: it rebuilds each target's
// hard-gate outcome from the acceptance report, layers the configured
// perceptual adapters (clip, lpips, ssim) on top of the generation-time
// candidate score, checks the pack-level invariants, and emits the eval
// report whose passedHardGates verdicts drive selection.
package evaluate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"lootforge/internal/config"
	"lootforge/internal/contract"
	"lootforge/internal/manifest"
	"lootforge/internal/paths"
)

// hardGatePenalty is subtracted from the final score once per hard-gate
// error, pushing any gated target far below every clean one.
const hardGatePenalty = 1000.0

// Options selects and shapes one eval invocation.
type Options struct {
	IndexPath    string // defaults to the layout's targets index
	ManifestPath string // defaults to the layout's manifest
	RunId        string // defaults to the acceptance report's run id
	Strict       bool   // any hard-gate error fails the stage
}

// StrictError is returned when strict mode finds hard errors. The
// report is already written when this is returned.
type StrictError struct {
	FailedTargets   int
	InvariantErrors int
}

func (e *StrictError) Error() string {
	return fmt.Sprintf("%d target(s) failed hard gates, %d pack invariant error(s) in strict mode",
		e.FailedTargets, e.InvariantErrors)
}

// Evaluator runs the eval stage for one output root.
type Evaluator struct {
	layout paths.Layout
	fleet  adapterFleet
	logger *zap.Logger
}

// New builds an evaluator with adapters resolved from the config. A nil
// logger is replaced with a no-op.
func New(layout paths.Layout, adapters config.AdaptersConfig, logger *zap.Logger) *Evaluator {
	return newEvaluator(layout, buildFleet(adapters), logger)
}

func newEvaluator(layout paths.Layout, fleet adapterFleet, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{layout: layout, fleet: fleet, logger: logger}
}

// Run evaluates every target in the acceptance report and writes the
// eval report. The report is always written; strict mode returns a
// *StrictError after writing when hard errors exist.
func (e *Evaluator) Run(ctx context.Context, opts Options) (*contract.EvalReport, error) {
	acceptance, err := contract.ReadAcceptanceReport(e.layout.AcceptanceReport())
	if err != nil {
		return nil, err
	}

	indexPath := opts.IndexPath
	if indexPath == "" {
		indexPath = e.layout.TargetsIndex()
	}
	index, _, err := contract.ReadTargetsIndex(indexPath)
	if err != nil {
		return nil, err
	}
	targetById := make(map[string]*contract.PlannedTarget, len(index.Targets))
	for i := range index.Targets {
		targetById[index.Targets[i].Id] = &index.Targets[i]
	}

	scores := e.candidateScores()
	profiles, groups := e.loadPolicies(opts.ManifestPath)
	health := newHealthTracker(e.fleet)

	evals := make([]contract.TargetEvaluation, 0, len(acceptance.Targets))
	for _, acc := range acceptance.Targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t := targetById[acc.TargetId]
		evals = append(evals, e.evaluateTarget(ctx, acc, t, profileFor(t, profiles), scores[acc.TargetId], health))
	}

	invariants := e.packInvariants(index, acceptance, profiles)
	invariants = append(invariants, applyConsistency(index, groups, evals)...)
	foldInvariantErrors(evals, invariants)

	var summary contract.EvalSummary
	for i := range evals {
		ev := &evals[i]
		ev.PassedHardGates = len(ev.HardGateErrors) == 0
		ev.FinalScore = ev.CandidateScore + ev.AdapterBonus - ev.ConsistencyPenalty -
			hardGatePenalty*float64(len(ev.HardGateErrors))
		if ev.PassedHardGates {
			summary.PassedHardGates++
		} else {
			summary.FailedHardGates++
		}
	}
	sort.Slice(evals, func(i, j int) bool { return evals[i].TargetId < evals[j].TargetId })

	report := &contract.EvalReport{
		ContractVersion: contract.ContractVersion,
		RunId:           e.runId(opts, acceptance),
		Targets:         evals,
		PackInvariants:  invariants,
		AdapterHealth:   health.snapshot(),
		Summary:         summary,
	}
	if err := contract.WriteFile(contract.KindEvalReport, e.layout.EvalReport(), report); err != nil {
		return report, fmt.Errorf("write eval report: %w", err)
	}

	invariantErrors := 0
	for _, issue := range invariants {
		if issue.Level == "error" {
			invariantErrors++
		}
	}
	e.logger.Info("eval stage complete",
		zap.Int("passedHardGates", summary.PassedHardGates),
		zap.Int("failedHardGates", summary.FailedHardGates),
		zap.Int("invariantErrors", invariantErrors),
		zap.Strings("activeAdapters", report.AdapterHealth.Active))

	if opts.Strict && (summary.FailedHardGates > 0 || invariantErrors > 0) {
		return report, &StrictError{FailedTargets: summary.FailedHardGates, InvariantErrors: invariantErrors}
	}
	return report, nil
}

// candidateScores maps target id to the selected candidate's score.
// Eval without a prior generate run is legal (hand-placed raw assets),
// so a missing provenance file just zeroes the scores.
func (e *Evaluator) candidateScores() map[string]float64 {
	prov, err := contract.ReadProvenanceRun(e.layout.Provenance())
	if err != nil {
		e.logger.Debug("no provenance run; candidate scores default to zero", zap.Error(err))
		return map[string]float64{}
	}
	scores := make(map[string]float64, len(prov.Results))
	for _, r := range prov.Results {
		for _, c := range r.Candidates {
			if c.Selected {
				scores[r.TargetId] = c.Score
				break
			}
		}
	}
	return scores
}

// loadPolicies pulls evaluation profiles and consistency groups from
// the manifest. Eval still works without one; the defaults apply.
func (e *Evaluator) loadPolicies(path string) (map[string]manifest.EvaluationProfile, map[string]manifest.ConsistencyGroup) {
	if path == "" {
		path = e.layout.Manifest()
	}
	m, _, err := manifest.Load(path)
	if err != nil {
		e.logger.Warn("manifest unavailable; using default eval policies", zap.Error(err))
		return nil, nil
	}
	return m.EvaluationProfiles, m.ConsistencyGroups
}

func profileFor(t *contract.PlannedTarget, profiles map[string]manifest.EvaluationProfile) manifest.EvaluationProfile {
	if t == nil || t.EvaluationProfile == "" {
		return manifest.EvaluationProfile{}
	}
	return profiles[t.EvaluationProfile]
}

func (e *Evaluator) runId(opts Options, acceptance *contract.AcceptanceReport) string {
	if opts.RunId != "" {
		return opts.RunId
	}
	return acceptance.RunId
}

// evaluateTarget builds one evaluation: hard gates from the acceptance
// issues, then the adapter pass over the processed image.
func (e *Evaluator) evaluateTarget(ctx context.Context, acc contract.TargetAcceptance, t *contract.PlannedTarget, profile manifest.EvaluationProfile, candidateScore float64, health *healthTracker) contract.TargetEvaluation {
	ev := contract.TargetEvaluation{
		TargetId:         acc.TargetId,
		Path:             acc.Path,
		CandidateScore:   candidateScore,
		HardGateErrors:   []string{},
		HardGateWarnings: []string{},
	}
	for _, issue := range acc.Issues {
		if issue.Level == "error" {
			ev.HardGateErrors = append(ev.HardGateErrors, issue.Code)
		} else {
			ev.HardGateWarnings = append(ev.HardGateWarnings, issue.Code)
		}
	}

	// An enabled adapter without a transport never scores anything; it
	// warns on every target so the gap is visible in the report.
	for _, name := range e.fleet.unconfigured {
		health.warn(name)
		ev.AdapterWarnings = append(ev.AdapterWarnings, name+": enabled but no command or endpoint configured")
	}

	if len(e.fleet.active) == 0 {
		return ev
	}
	imageAbs := filepath.Join(e.layout.Root, filepath.FromSlash(acc.Path))
	if _, err := os.Stat(imageAbs); err != nil {
		ev.AdapterWarnings = append(ev.AdapterWarnings, "adapters skipped: no processed image")
		return ev
	}

	refs, refWarnings := e.referencePaths(t)
	ev.AdapterWarnings = append(ev.AdapterWarnings, refWarnings...)
	req := AdapterRequest{ImagePath: imageAbs, References: refs}
	if t != nil {
		req.Prompt = t.PromptSpec.Primary
		req.Style = t.PromptSpec.Style
	}

	for _, a := range e.fleet.active {
		if a.NeedsReferences() && len(refs) == 0 {
			health.warn(a.Name())
			ev.AdapterWarnings = append(ev.AdapterWarnings, a.Name()+": skipped, target has no reference inputs")
			continue
		}
		req.Adapter = a.Name()
		health.attempt(a.Name())
		res, err := a.Evaluate(ctx, req)
		if err != nil {
			health.fail(a.Name())
			ev.AdapterWarnings = append(ev.AdapterWarnings, fmt.Sprintf("%s: %v", a.Name(), err))
			e.logger.Warn("adapter failed", zap.String("adapter", a.Name()), zap.String("target", acc.TargetId), zap.Error(err))
			continue
		}
		health.succeed(a.Name())
		if ev.AdapterMetrics == nil {
			ev.AdapterMetrics = map[string]float64{}
		}
		ev.AdapterMetrics[a.Name()] = res.Score
		for k, v := range res.Metrics {
			ev.AdapterMetrics[a.Name()+"."+k] = v
		}
		for _, w := range res.Warnings {
			health.warn(a.Name())
			ev.AdapterWarnings = append(ev.AdapterWarnings, a.Name()+": "+w)
		}
		ev.AdapterBonus += profileWeight(profile, a.Name()) * res.Score
	}
	return ev
}

func profileWeight(profile manifest.EvaluationProfile, adapter string) float64 {
	if profile.Weights == nil {
		return 1
	}
	if w, ok := profile.Weights[adapter]; ok {
		return w
	}
	return 1
}

// referencePaths resolves the target's edit inputs for reference-based
// adapters. Inputs outside the output root are skipped with a warning,
// the same policy regenerate applies to locked paths.
func (e *Evaluator) referencePaths(t *contract.PlannedTarget) ([]string, []string) {
	if t == nil || t.EditSpec == nil {
		return nil, nil
	}
	var refs []string
	var warnings []string
	for _, in := range t.EditSpec.Inputs {
		if in.Role == "mask" {
			continue
		}
		abs, err := paths.ResolveUnderRoot(e.layout.Root, in.Path)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("reference %q skipped: %v", in.Path, err))
			continue
		}
		refs = append(refs, abs)
	}
	return refs, warnings
}

// foldInvariantErrors extends the hard-gate errors of every target an
// error-level invariant names, so a pack-level violation blocks the
// named targets from approval.
func foldInvariantErrors(evals []contract.TargetEvaluation, invariants []contract.InvariantIssue) {
	if len(invariants) == 0 {
		return
	}
	index := make(map[string]*contract.TargetEvaluation, len(evals))
	for i := range evals {
		index[evals[i].TargetId] = &evals[i]
	}
	for _, issue := range invariants {
		if issue.Level != "error" {
			continue
		}
		for _, id := range issue.TargetIds {
			if ev, ok := index[id]; ok {
				ev.HardGateErrors = append(ev.HardGateErrors, issue.Code)
			}
		}
	}
}

// healthTracker accumulates per-adapter stats during a run.
type healthTracker struct {
	configured   []string
	unconfigured map[string]bool
	stats        map[string]*contract.AdapterStats
}

func newHealthTracker(fleet adapterFleet) *healthTracker {
	h := &healthTracker{
		configured:   append([]string{}, fleet.configured...),
		unconfigured: make(map[string]bool, len(fleet.unconfigured)),
		stats:        map[string]*contract.AdapterStats{},
	}
	for _, name := range fleet.unconfigured {
		h.unconfigured[name] = true
	}
	return h
}

func (h *healthTracker) stat(name string) *contract.AdapterStats {
	s, ok := h.stats[name]
	if !ok {
		s = &contract.AdapterStats{}
		h.stats[name] = s
	}
	return s
}

func (h *healthTracker) attempt(name string) { h.stat(name).Attempted++ }
func (h *healthTracker) succeed(name string) { h.stat(name).Succeeded++ }
func (h *healthTracker) fail(name string)    { h.stat(name).Failed++ }
func (h *healthTracker) warn(name string)    { h.stat(name).Warnings++ }

// snapshot renders the health block. An adapter fails when it has no
// transport, or when it attempted work and never succeeded; the rest of
// the configured set stays active.
func (h *healthTracker) snapshot() contract.AdapterHealth {
	health := contract.AdapterHealth{
		Configured: h.configured,
		Active:     []string{},
		Failed:     []string{},
	}
	for _, name := range h.configured {
		s := h.stat(name)
		if h.unconfigured[name] || (s.Attempted > 0 && s.Succeeded == 0) {
			health.Failed = append(health.Failed, name)
		} else {
			health.Active = append(health.Active, name)
		}
	}
	if len(h.stats) > 0 {
		health.Stats = make(map[string]contract.AdapterStats, len(h.stats))
		for name, s := range h.stats {
			health.Stats[name] = *s
		}
	}
	return health
}
