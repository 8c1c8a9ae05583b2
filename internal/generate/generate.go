// Package generate schedules planned targets onto provider adapters:
// per-provider worker pools, fixed-interval throttling, retry/backoff,
// fallback walking, candidate scoring, and the provenance record of
// everything that happened.
package generate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lootforge/internal/contract"
	"lootforge/internal/paths"
	"lootforge/internal/provider"
	"lootforge/internal/score"
)

// Source is the registry surface the orchestrator needs. It is narrow
// so tests can substitute scripted providers.
type Source interface {
	Get(name string) (provider.Provider, error)
	Settings(name string) (provider.Settings, error)
	Known(name string) bool
	Route(t contract.PlannedTarget) (provider.Route, error)
}

// Options selects and shapes one generate invocation.
type Options struct {
	IndexPath  string // defaults to the layout's targets index
	Provider   string // invocation override: every job runs on this provider
	Ids        []string
	SkipLocked bool
	LockPath   string // defaults to the layout's selection lock
	Edit       bool   // regenerate in edit-first mode from the lock
	RunId      string // override, normally derived
}

// Config wires an orchestrator. Nil Clock, Sink, and Logger fall back
// to real time, no events, and no logging.
type Config struct {
	Source Source
	Scorer *score.Scorer
	Layout paths.Layout
	Clock  Clock
	Sink   Sink
	Logger *zap.Logger
}

// Orchestrator runs generate invocations.
type Orchestrator struct {
	source Source
	scorer *score.Scorer
	layout paths.Layout
	clock  Clock
	sink   Sink
	logger *zap.Logger
}

// New builds an orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		source: cfg.Source,
		scorer: cfg.Scorer,
		layout: cfg.Layout,
		clock:  cfg.Clock,
		sink:   cfg.Sink,
		logger: cfg.Logger,
	}
	if o.clock == nil {
		o.clock = realClock{}
	}
	if o.sink == nil {
		o.sink = NopSink()
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// RunError reports jobs that exhausted every provider and retry. The
// provenance file still exists when this is returned.
type RunError struct {
	Failed []string // target ids, sorted
}

func (e *RunError) Error() string {
	const preview = 3
	ids := e.Failed
	suffix := ""
	if len(ids) > preview {
		suffix = fmt.Sprintf(" (+%d more)", len(ids)-preview)
		ids = ids[:preview]
	}
	return fmt.Sprintf("%d generation job(s) failed: %s%s", len(e.Failed), strings.Join(ids, ", "), suffix)
}

// Run executes one generate invocation and always writes provenance,
// even when jobs fail or the context is cancelled mid-run. The returned
// error is a *RunError when jobs failed, or a hard error when the run
// could not proceed at all.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*contract.ProvenanceRun, error) {
	if opts.Edit {
		// Regeneration exists to redo locked targets, so the lock must
		// not filter them out.
		opts.SkipLocked = false
	}
	indexPath := opts.IndexPath
	if indexPath == "" {
		indexPath = o.layout.TargetsIndex()
	}
	index, raw, err := contract.ReadTargetsIndex(indexPath)
	if err != nil {
		return nil, err
	}

	startedAt := o.clock.Now().UTC()
	inputHash := hashBytes(raw)
	runId := opts.RunId
	if runId == "" {
		runId = deriveRunId(inputHash, startedAt)
	}

	prov := &contract.ProvenanceRun{
		ContractVersion: contract.ContractVersion,
		RunId:           runId,
		InputHash:       inputHash,
		TargetsIndex:    o.relPath(indexPath),
		StartedAt:       startedAt.Format(time.RFC3339Nano),
		Results:         []contract.JobResult{},
		Failures:        []contract.JobFailure{},
	}

	targets, err := o.keepTargets(index, opts, prov)
	if err != nil {
		return nil, err
	}

	if opts.Edit {
		targets, err = o.rewriteForEdit(targets, opts, prov)
		if err != nil {
			return nil, err
		}
	}

	if opts.Provider != "" {
		if !o.source.Known(opts.Provider) {
			return nil, fmt.Errorf("unknown provider %q", opts.Provider)
		}
		targets = o.applyOverride(targets, opts.Provider, prov)
	}

	tasks := o.buildTasks(targets, prov)

	o.sink.Emit(Event{Type: EventPrepare, TotalJobs: len(tasks)})
	o.logger.Info("generation run starting",
		zap.String("run", runId),
		zap.Int("jobs", len(tasks)),
		zap.Int("skipped", len(prov.Skipped)))

	results, failures, runErr := o.runPools(ctx, runId, tasks)
	prov.Results = append(prov.Results, results...)
	prov.Failures = append(prov.Failures, failures...)

	sort.Slice(prov.Results, func(i, j int) bool { return prov.Results[i].TargetId < prov.Results[j].TargetId })
	sort.Slice(prov.Failures, func(i, j int) bool { return prov.Failures[i].TargetId < prov.Failures[j].TargetId })
	sort.Slice(prov.Skipped, func(i, j int) bool { return prov.Skipped[i].TargetId < prov.Skipped[j].TargetId })
	prov.FinishedAt = o.clock.Now().UTC().Format(time.RFC3339Nano)

	if err := contract.WriteFile(contract.KindProvenanceRun, o.layout.Provenance(), prov); err != nil {
		return prov, fmt.Errorf("write provenance: %w", err)
	}
	o.logger.Info("generation run finished",
		zap.String("run", runId),
		zap.Int("results", len(prov.Results)),
		zap.Int("failures", len(prov.Failures)))

	if runErr != nil {
		return prov, runErr
	}
	if len(prov.Failures) > 0 {
		failed := make([]string, len(prov.Failures))
		for i, f := range prov.Failures {
			failed[i] = f.TargetId
		}
		return prov, &RunError{Failed: failed}
	}
	return prov, nil
}

func hashBytes(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// deriveRunId ties the run identity to the exact index bytes and the
// wall-clock start, so two runs over the same index stay separable.
func deriveRunId(inputHash string, startedAt time.Time) string {
	sum := sha256.Sum256([]byte(inputHash + ":" + startedAt.Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])[:16]
}

func (o *Orchestrator) relPath(abs string) string {
	return o.layout.Rel(abs)
}

// keepTargets applies the id filter, drops generation-disabled sheet
// parents, and handles skip-locked filtering.
func (o *Orchestrator) keepTargets(index *contract.TargetsIndex, opts Options, prov *contract.ProvenanceRun) ([]contract.PlannedTarget, error) {
	byId := make(map[string]bool, len(opts.Ids))
	for _, id := range opts.Ids {
		byId[id] = true
	}
	if len(opts.Ids) > 0 {
		known := make(map[string]bool, len(index.Targets))
		for _, t := range index.Targets {
			known[t.Id] = true
		}
		var missing []string
		for _, id := range opts.Ids {
			if !known[id] {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("unknown target id(s): %s", strings.Join(missing, ", "))
		}
	}

	var lock *contract.SelectionLock
	if opts.SkipLocked {
		lockPath := opts.LockPath
		if lockPath == "" {
			lockPath = o.layout.SelectionLock()
		}
		l, err := contract.ReadSelectionLock(lockPath)
		switch {
		case err == nil:
			lock = l
		case errors.Is(err, os.ErrNotExist):
			// no lock yet: nothing to skip
		default:
			return nil, fmt.Errorf("read selection lock: %w", err)
		}
	}

	kept := make([]contract.PlannedTarget, 0, len(index.Targets))
	for _, t := range index.Targets {
		if len(opts.Ids) > 0 && !byId[t.Id] {
			continue
		}
		if t.GenerationDisabled {
			continue
		}
		if lock != nil {
			if entry, ok := lockEntry(lock, t.Id); ok && entry.Approved && entry.InputHash == t.InputHash {
				prov.Skipped = append(prov.Skipped, contract.SkippedTarget{
					TargetId:  t.Id,
					InputHash: t.InputHash,
					Reason:    "lock entry approved and input hash unchanged",
				})
				o.sink.Emit(Event{Type: EventSkipped, TargetId: t.Id, JobId: t.JobId})
				continue
			}
		}
		kept = append(kept, t)
	}
	return kept, nil
}

func lockEntry(lock *contract.SelectionLock, targetId string) (contract.LockEntry, bool) {
	for _, e := range lock.Targets {
		if e.TargetId == targetId {
			return e, true
		}
	}
	return contract.LockEntry{}, false
}

// applyOverride pins every target to the invocation provider. Targets
// the override cannot serve become failures instead of silently running
// on a provider the caller excluded.
func (o *Orchestrator) applyOverride(targets []contract.PlannedTarget, name string, prov *contract.ProvenanceRun) []contract.PlannedTarget {
	kept := targets[:0]
	for _, t := range targets {
		if failure, ok := o.overrideIncompatible(t, name); ok {
			prov.Failures = append(prov.Failures, failure)
			o.sink.Emit(Event{Type: EventJobError, TargetId: t.Id, JobId: t.JobId, Provider: name, Message: failure.Message})
			continue
		}
		t.Provider = name
		t.GenerationPolicy.FallbackProviders = nil
		kept = append(kept, t)
	}
	return kept
}

func (o *Orchestrator) overrideIncompatible(t contract.PlannedTarget, name string) (contract.JobFailure, bool) {
	for _, feat := range provider.RequiredFeatures(t) {
		if o.sourceSupports(name, feat) {
			continue
		}
		code := "no_capable_provider"
		detail := fmt.Sprintf("target requires %s", feat)
		switch feat {
		case provider.FeatureTransparentBackground:
			code = "provider_alpha_incompatible"
			detail = "target requires transparent output"
		case provider.FeatureImageEdits:
			code = "provider_edit_incompatible"
			detail = "target uses edit-first generation"
		}
		return contract.JobFailure{
			TargetId:  t.Id,
			JobId:     t.JobId,
			Code:      code,
			Message:   fmt.Sprintf("provider override %s: %s", name, detail),
			Providers: []string{name},
		}, true
	}
	return contract.JobFailure{}, false
}

func (o *Orchestrator) sourceSupports(name string, feat provider.Feature) bool {
	p, err := o.source.Get(name)
	if err != nil {
		return false
	}
	return p.Supports(feat)
}

// targetTask is one unit of scheduling: a target plus its resolved
// provider walk order.
type targetTask struct {
	target    contract.PlannedTarget
	primary   string
	fallbacks []string
}

func (o *Orchestrator) buildTasks(targets []contract.PlannedTarget, prov *contract.ProvenanceRun) []targetTask {
	tasks := make([]targetTask, 0, len(targets))
	for _, t := range targets {
		route, err := o.source.Route(t)
		if err != nil {
			prov.Failures = append(prov.Failures, contract.JobFailure{
				TargetId:  t.Id,
				JobId:     t.JobId,
				Code:      "no_capable_provider",
				Message:   err.Error(),
				Providers: []string{},
			})
			o.sink.Emit(Event{Type: EventJobError, TargetId: t.Id, JobId: t.JobId, Message: err.Error()})
			continue
		}
		tasks = append(tasks, targetTask{target: t, primary: route.Primary, fallbacks: route.Fallbacks})
	}
	return tasks
}

// runPools groups tasks by primary provider and runs one pool per
// group, pools concurrent with each other.
func (o *Orchestrator) runPools(ctx context.Context, runId string, tasks []targetTask) ([]contract.JobResult, []contract.JobFailure, error) {
	groups := make(map[string][]targetTask)
	for _, task := range tasks {
		groups[task.primary] = append(groups[task.primary], task)
	}

	var (
		mu       sync.Mutex
		results  []contract.JobResult
		failures []contract.JobFailure
	)

	g, ctx := errgroup.WithContext(ctx)
	for name, group := range groups {
		pl := newPool(o, name, group, provider.PrepareContext{
			OutRoot: o.layout.Root,
			RawDir:  o.layout.RawDir(),
			RunId:   runId,
		})
		g.Go(func() error {
			res, fails, err := pl.run(ctx)
			mu.Lock()
			results = append(results, res...)
			failures = append(failures, fails...)
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()
	return results, failures, err
}
