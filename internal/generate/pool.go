package generate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lootforge/internal/contract"
	"lootforge/internal/provider"
	"lootforge/internal/score"
)

const (
	backoffBaseMs = 300
	backoffCapMs  = 5000
)

// pool runs the tasks routed to one primary provider. Workers share a
// FIFO task index and a lastRunAt timestamp, so the backend sees at
// most one dispatch per minimum interval regardless of worker count.
type pool struct {
	o     *Orchestrator
	name  string
	tasks []targetTask
	pctx  provider.PrepareContext

	next atomic.Int64

	mu        sync.Mutex
	lastRunAt time.Time
}

func newPool(o *Orchestrator, name string, tasks []targetTask, pctx provider.PrepareContext) *pool {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].target.Id < tasks[j].target.Id })
	return &pool{o: o, name: name, tasks: tasks, pctx: pctx}
}

func (p *pool) run(ctx context.Context) ([]contract.JobResult, []contract.JobFailure, error) {
	settings, err := p.o.source.Settings(p.name)
	if err != nil {
		return nil, nil, err
	}

	var (
		mu       sync.Mutex
		results  []contract.JobResult
		failures []contract.JobFailure
	)
	g, ctx := errgroup.WithContext(ctx)
	workers := p.workers(settings)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				i := int(p.next.Add(1)) - 1
				if i >= len(p.tasks) {
					return nil
				}
				res, fail, err := p.runTask(ctx, p.tasks[i], settings)
				if err != nil {
					return err
				}
				mu.Lock()
				if res != nil {
					results = append(results, *res)
				}
				if fail != nil {
					failures = append(failures, *fail)
				}
				mu.Unlock()
			}
		})
	}
	err = g.Wait()
	return results, failures, err
}

// workers is the effective concurrency: the resolved provider
// concurrency raised by the largest per-target hint, floored at 1.
func (p *pool) workers(settings provider.Settings) int {
	n := settings.Concurrency
	for _, task := range p.tasks {
		if c := task.target.GenerationPolicy.ProviderConcurrency; c > n {
			n = c
		}
	}
	return max(n, 1)
}

// reserve claims the next dispatch slot. The slot is taken under the
// lock and slept for outside it, so concurrent workers space their
// dispatches by delay without serializing the requests themselves.
func (p *pool) reserve(ctx context.Context, delay time.Duration) error {
	now := p.o.clock.Now()
	p.mu.Lock()
	at := p.lastRunAt.Add(delay)
	if at.Before(now) {
		at = now
	}
	p.lastRunAt = at
	p.mu.Unlock()
	return p.o.clock.Sleep(ctx, at.Sub(now))
}

func dispatchDelay(t contract.PlannedTarget, settings provider.Settings) time.Duration {
	delayMs := settings.MinDelayMs
	if r := t.GenerationPolicy.RateLimitPerMinute; r > 0 {
		if rd := (60000 + r - 1) / r; rd > delayMs {
			delayMs = rd
		}
	}
	return time.Duration(delayMs) * time.Millisecond
}

func backoff(attempt int) time.Duration {
	ms := backoffBaseMs << (attempt - 1)
	return time.Duration(min(ms, backoffCapMs)) * time.Millisecond
}

// runTask walks one target through its provider chain. Job failures are
// returned as records, never as errors; a non-nil error means the run
// itself must stop (context cancelled, registry broken).
func (p *pool) runTask(ctx context.Context, task targetTask, poolSettings provider.Settings) (*contract.JobResult, *contract.JobFailure, error) {
	t := task.target
	if err := p.reserve(ctx, dispatchDelay(t, poolSettings)); err != nil {
		return nil, nil, err
	}
	p.o.sink.Emit(Event{Type: EventJobStart, TargetId: t.Id, JobId: t.JobId, Provider: task.primary})

	startedAt := p.o.clock.Now().UTC()
	chain := append([]string{task.primary}, task.fallbacks...)
	attempts := []contract.AttemptRecord{}
	walked := make([]string, 0, len(chain))

walk:
	for _, name := range chain {
		prv, err := p.o.source.Get(name)
		if err != nil {
			return nil, nil, err
		}
		settings, err := p.o.source.Settings(name)
		if err != nil {
			return nil, nil, err
		}
		walked = append(walked, name)

		jobs, err := prv.PrepareJobs([]contract.PlannedTarget{t}, p.pctx)
		if err != nil {
			attempts = append(attempts, contract.AttemptRecord{
				Provider: name, Attempt: 1, Code: "job_prepare_failed", Message: err.Error(),
			})
			break walk
		}
		if len(jobs) != 1 {
			return nil, nil, fmt.Errorf("provider %s prepared %d jobs for target %s, want 1", name, len(jobs), t.Id)
		}
		job := jobs[0]

		tries := job.MaxRetries
		if tries <= 0 {
			tries = settings.MaxRetries
		}
		for attempt := 1; attempt <= tries+1; attempt++ {
			rr, ctf, runErr := p.execute(ctx, prv, t, job)
			if runErr == nil {
				result, recErr := p.record(ctx, t, name, settings, job, rr, ctf, startedAt)
				if recErr == nil {
					p.o.sink.Emit(Event{Type: EventJobFinish, TargetId: t.Id, JobId: t.JobId, Provider: name, Attempt: attempt})
					return result, nil, nil
				}
				runErr = recErr
			}
			pe := prv.NormalizeError(runErr)
			attempts = append(attempts, contract.AttemptRecord{
				Provider: name, Attempt: attempt, Code: pe.Code, Message: pe.Message,
			})
			p.o.logger.Warn("generation attempt failed",
				zap.String("target", t.Id),
				zap.String("provider", name),
				zap.Int("attempt", attempt),
				zap.String("code", pe.Code))
			if chainAbortCode(pe.Code, name) {
				break walk
			}
			if nonRetriableCode(pe.Code, name) {
				continue walk
			}
			if attempt <= tries {
				if err := p.o.clock.Sleep(ctx, backoff(attempt)); err != nil {
					return nil, nil, err
				}
			}
		}
	}

	last := attempts[len(attempts)-1]
	failure := &contract.JobFailure{
		TargetId:  t.Id,
		JobId:     t.JobId,
		Code:      last.Code,
		Message:   last.Message,
		Providers: walked,
		Attempts:  attempts,
	}
	p.o.sink.Emit(Event{Type: EventJobError, TargetId: t.Id, JobId: t.JobId, Provider: last.Provider, Message: last.Message})
	return nil, failure, nil
}

// execute performs one attempt, running the draft pass first when the
// target enables coarse-to-fine.
func (p *pool) execute(ctx context.Context, prv provider.Provider, t contract.PlannedTarget, job provider.Job) (*provider.RunResult, *contract.CoarseToFineReport, error) {
	spec := t.GenerationPolicy.CoarseToFine
	if spec == nil || !spec.Enabled {
		rr, err := p.runOnce(ctx, prv, job)
		return rr, nil, err
	}

	draftJob := draftVariant(job, prv.Capabilities(), *spec)
	drafts, err := p.runOnce(ctx, prv, draftJob)
	if err != nil {
		return nil, nil, fmt.Errorf("draft pass: %w", err)
	}
	scored := p.o.scorer.ScoreCandidates(ctx, draftTarget(t, *spec), drafts.CandidatePaths)
	promoted, report := score.PromoteDrafts(scored, *spec)

	refined := job
	if prv.Supports(provider.FeatureImageEdits) {
		refined.Edit = seededEdit(job.Edit, p.seedInputs(drafts.CandidatePaths, promoted))
	}
	rr, err := p.runOnce(ctx, prv, refined)
	if err != nil {
		return nil, nil, err
	}
	return rr, report, nil
}

func (p *pool) runOnce(ctx context.Context, prv provider.Provider, job provider.Job) (*provider.RunResult, error) {
	if job.Edit != nil {
		return prv.RunEditJob(ctx, job)
	}
	return prv.RunJob(ctx, job)
}

// record scores the attempt's candidates, ensures the winner sits at
// the canonical raw output path, and assembles the job result.
func (p *pool) record(ctx context.Context, t contract.PlannedTarget, providerName string, settings provider.Settings, job provider.Job, rr *provider.RunResult, ctf *contract.CoarseToFineReport, startedAt time.Time) (*contract.JobResult, error) {
	if rr == nil || len(rr.CandidatePaths) == 0 {
		return nil, fmt.Errorf("provider %s returned no candidates for target %s", providerName, t.Id)
	}
	cands := p.o.scorer.ScoreCandidates(ctx, t, rr.CandidatePaths)
	sel := score.SelectBest(cands)
	if sel < 0 {
		return nil, fmt.Errorf("no candidate selectable for target %s", t.Id)
	}
	if sel != 0 {
		if err := replaceCanonical(rr.CandidatePaths[sel], rr.CandidatePaths[0]); err != nil {
			return nil, err
		}
		st, err := os.Stat(rr.CandidatePaths[0])
		if err != nil {
			return nil, fmt.Errorf("restat canonical output: %w", err)
		}
		winner := cands[sel]
		cands[sel].Selected = false
		canonical := winner
		canonical.Path = cands[0].Path
		canonical.Bytes = st.Size()
		canonical.Selected = true
		canonical.Notes = append(append([]string{}, winner.Notes...), "canonical output replaced by "+winner.Path)
		cands[0] = canonical
	}

	now := p.o.clock.Now().UTC()
	return &contract.JobResult{
		JobId:              t.JobId,
		TargetId:           t.Id,
		Provider:           providerName,
		Model:              modelUsed(job, settings),
		OutputPath:         cands[0].Path,
		GenerationMode:     t.GenerationPolicy.GenerationMode,
		InputHash:          t.InputHash,
		Candidates:         cands,
		CoarseToFine:       ctf,
		RegenerationSource: t.RegenerationSource,
		StartedAt:          startedAt.Format(time.RFC3339Nano),
		FinishedAt:         now.Format(time.RFC3339Nano),
	}, nil
}

func modelUsed(job provider.Job, settings provider.Settings) string {
	if job.Model != "" {
		return job.Model
	}
	return settings.Model
}

// replaceCanonical copies the winning candidate's bytes over the
// canonical output path so downstream stages read the selected image.
func replaceCanonical(winner, canonical string) error {
	data, err := os.ReadFile(winner)
	if err != nil {
		return fmt.Errorf("read selected candidate: %w", err)
	}
	if err := os.WriteFile(canonical, data, 0o644); err != nil {
		return fmt.Errorf("replace canonical output: %w", err)
	}
	return nil
}

// draftVariant derives the coarse pass job: draft size and count, and
// .draftN paths that never collide with real candidates.
func draftVariant(job provider.Job, caps provider.Capabilities, spec contract.CoarseToFineSpec) provider.Job {
	draft := job
	n := spec.DraftCount
	if n < 1 {
		n = job.CandidateCount
	}
	if caps.MaxCandidates > 0 && n > caps.MaxCandidates {
		n = caps.MaxCandidates
	}
	if spec.DraftSize != "" {
		draft.Size = spec.DraftSize
	}
	draft.CandidateCount = n
	draft.CandidatePaths = draftPaths(job.CandidatePaths[0], n)
	return draft
}

func draftPaths(canonical string, n int) []string {
	ext := filepath.Ext(canonical)
	stem := strings.TrimSuffix(canonical, ext)
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s.draft%d%s", stem, i, ext)
	}
	return out
}

// draftTarget is the acceptance view drafts are judged against: sized
// to the draft pass, without the VLM gate, which stays reserved for
// final candidates.
func draftTarget(t contract.PlannedTarget, spec contract.CoarseToFineSpec) contract.PlannedTarget {
	if spec.DraftSize != "" {
		t.Acceptance.Size = spec.DraftSize
	}
	t.GenerationPolicy.VlmGate = nil
	return t
}

func (p *pool) seedInputs(draftPaths []string, promoted []int) []contract.EditInput {
	inputs := make([]contract.EditInput, 0, len(promoted))
	for _, i := range promoted {
		if i < 0 || i >= len(draftPaths) {
			continue
		}
		inputs = append(inputs, contract.EditInput{Path: p.o.layout.Rel(draftPaths[i]), Role: "reference"})
	}
	return inputs
}

// seededEdit layers promoted draft references onto any authored edit
// request so the refinement pass starts from the drafts that scored
// best.
func seededEdit(base *provider.EditRequest, seeds []contract.EditInput) *provider.EditRequest {
	if len(seeds) == 0 {
		return base
	}
	if base == nil {
		return &provider.EditRequest{Inputs: seeds, Fidelity: "low"}
	}
	merged := *base
	merged.Inputs = append(append([]contract.EditInput{}, base.Inputs...), seeds...)
	return &merged
}

// nonRetriableCode identifies failures more attempts on the same
// provider cannot fix: configuration and capability gaps.
func nonRetriableCode(code, providerName string) bool {
	switch code {
	case provider.CodeMissingAPIKey,
		provider.Code(providerName, "edit_unsupported_model"),
		provider.Code(providerName, "edit_missing_base_image"):
		return true
	}
	return false
}

// chainAbortCode identifies failures no fallback can fix either: the
// job's own inputs are bad.
func chainAbortCode(code, providerName string) bool {
	return code == provider.Code(providerName, "edit_input_unsafe_path")
}
