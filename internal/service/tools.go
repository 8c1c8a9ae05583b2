package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"lootforge/internal/atlas"
	"lootforge/internal/contract"
	"lootforge/internal/evaluate"
	"lootforge/internal/generate"
	forgeinit "lootforge/internal/init"
	"lootforge/internal/logging"
	"lootforge/internal/manifest"
	"lootforge/internal/pack"
	"lootforge/internal/plan"
	"lootforge/internal/process"
	"lootforge/internal/provider"
	"lootforge/internal/review"
	"lootforge/internal/score"
	"lootforge/internal/selection"
)

// toolFunc runs one named tool with its decoded params.
type toolFunc func(ctx context.Context, s *Server, params json.RawMessage) (any, error)

// tools maps POST /v1/tools/<name> to stage runners. Every CLI command
// except serve has an entry.
var tools = map[string]toolFunc{
	"init":       runInitTool,
	"plan":       runPlanTool,
	"validate":   runValidateTool,
	"generate":   runGenerateTool,
	"regenerate": runRegenerateTool,
	"process":    runProcessTool,
	"atlas":      runAtlasTool,
	"eval":       runEvalTool,
	"review":     runReviewTool,
	"select":     runSelectTool,
	"package":    runPackageTool,
}

// ToolNames lists the exposed tools in stable order.
func ToolNames() []string {
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type toolRequest struct {
	Params json.RawMessage `json:"params"`
}

func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "use POST", nil)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/v1/tools/")
	tool, ok := tools[name]
	if !ok {
		s.writeError(w, r, http.StatusNotFound, "unknown_tool",
			fmt.Sprintf("no tool %q (known: %s)", name, strings.Join(ToolNames(), ", ")), nil)
		return
	}

	var req toolRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
			s.writeError(w, r, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
	}

	logger := logging.Stage(s.logger, name).With(zap.String("requestId", requestId(r)))
	logger.Info("tool invoked")
	result, err := tool(r.Context(), s, req.Params)
	if err != nil {
		logger.Warn("tool failed", zap.Error(err))
		s.writeStageError(w, r, err)
		return
	}
	s.writeResult(w, r, result)
}

// decodeParams decodes params into dst; a missing params block is the
// zero value.
func decodeParams(params json.RawMessage, dst any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return &paramError{cause: err}
	}
	return nil
}

type paramError struct{ cause error }

func (e *paramError) Error() string { return "invalid params: " + e.cause.Error() }

// loadManifest reads the authored manifest, honoring an override path
// resolved against the output root when relative.
func (s *Server) loadManifest(path string) (*manifest.Manifest, []byte, error) {
	switch {
	case path == "":
		path = s.layout.Manifest()
	case !filepath.IsAbs(path):
		path = filepath.Join(s.layout.Root, filepath.FromSlash(path))
	}
	return manifest.Load(path)
}

// plan runs the planner and optionally writes the index. Shared by the
// plan and validate tools and the generation-request pipeline.
func (s *Server) plan(manifestPath string, write bool, logger *zap.Logger) (*contract.TargetsIndex, *plan.Report, error) {
	m, raw, err := s.loadManifest(manifestPath)
	if err != nil {
		return nil, nil, err
	}
	registry := provider.NewRegistry(s.runtime, m.Providers)
	index, rep := plan.NewPlanner(registry, s.layout.Root, logger).Plan(m, raw)
	if !rep.OK() {
		return nil, rep, rep.Err()
	}
	if write {
		if err := contract.WriteFile(contract.KindTargetsIndex, s.layout.TargetsIndex(), index); err != nil {
			return nil, rep, err
		}
	}
	return index, rep, nil
}

// newOrchestrator wires a generate orchestrator against the manifest's
// provider blocks and the runtime config.
func (s *Server) newOrchestrator(manifestPath string, logger *zap.Logger) (*generate.Orchestrator, error) {
	m, _, err := s.loadManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	gate, err := score.NewGateEvaluator(s.runtime.VlmGate)
	if err != nil {
		return nil, err
	}
	return generate.New(generate.Config{
		Source: provider.NewRegistry(s.runtime, m.Providers),
		Scorer: score.NewScorer(s.layout.Root, gate, logger),
		Layout: s.layout,
		Sink:   generate.NewLogSink(logger),
		Logger: logger,
	}), nil
}

type initParams struct {
	PackId string `json:"packId"`
	Force  bool   `json:"force"`
}

func runInitTool(ctx context.Context, s *Server, params json.RawMessage) (any, error) {
	var p initParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return forgeinit.New(s.layout, logging.Stage(s.logger, "init")).
		Run(ctx, forgeinit.Options{PackId: p.PackId, Force: p.Force})
}

type planParams struct {
	ManifestPath string `json:"manifestPath"`
}

type planResult struct {
	IndexPath string       `json:"indexPath"`
	Targets   int          `json:"targets"`
	Warnings  []plan.Issue `json:"warnings,omitempty"`
}

func runPlanTool(_ context.Context, s *Server, params json.RawMessage) (any, error) {
	var p planParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	index, rep, err := s.plan(p.ManifestPath, true, logging.Stage(s.logger, "plan"))
	if err != nil {
		return nil, err
	}
	return planResult{
		IndexPath: s.layout.Rel(s.layout.TargetsIndex()),
		Targets:   len(index.Targets),
		Warnings:  rep.Warnings,
	}, nil
}

type validateResult struct {
	Valid    bool         `json:"valid"`
	Errors   []plan.Issue `json:"errors,omitempty"`
	Warnings []plan.Issue `json:"warnings,omitempty"`
}

// runValidateTool reports manifest findings without writing the index.
// A manifest that fails validation is a successful validate call; the
// findings are the result.
func runValidateTool(_ context.Context, s *Server, params json.RawMessage) (any, error) {
	var p planParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	_, rep, err := s.plan(p.ManifestPath, false, logging.Stage(s.logger, "validate"))
	if err != nil && rep == nil {
		return nil, err
	}
	return validateResult{Valid: rep.OK(), Errors: rep.Errors, Warnings: rep.Warnings}, nil
}

type generateParams struct {
	ManifestPath string   `json:"manifestPath"`
	Ids          []string `json:"ids"`
	Provider     string   `json:"provider"`
	SkipLocked   bool     `json:"skipLocked"`
	RunId        string   `json:"runId"`
}

type generateResult struct {
	RunId          string `json:"runId"`
	Generated      int    `json:"generated"`
	Failed         int    `json:"failed"`
	Skipped        int    `json:"skipped"`
	ProvenancePath string `json:"provenancePath"`
}

func runGenerateTool(ctx context.Context, s *Server, params json.RawMessage) (any, error) {
	var p generateParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	logger := logging.Stage(s.logger, "generate")
	orch, err := s.newOrchestrator(p.ManifestPath, logger)
	if err != nil {
		return nil, err
	}
	run, err := orch.Run(ctx, generate.Options{
		Ids:        p.Ids,
		Provider:   p.Provider,
		SkipLocked: p.SkipLocked,
		RunId:      p.RunId,
	})
	if err != nil {
		return nil, err
	}
	return summarizeRun(s, run), nil
}

type regenerateParams struct {
	ManifestPath string   `json:"manifestPath"`
	Ids          []string `json:"ids"`
	Edit         *bool    `json:"edit"` // defaults to true
	RunId        string   `json:"runId"`
}

func runRegenerateTool(ctx context.Context, s *Server, params json.RawMessage) (any, error) {
	var p regenerateParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	edit := true
	if p.Edit != nil {
		edit = *p.Edit
	}
	logger := logging.Stage(s.logger, "regenerate")
	orch, err := s.newOrchestrator(p.ManifestPath, logger)
	if err != nil {
		return nil, err
	}
	run, err := orch.Run(ctx, generate.Options{Ids: p.Ids, Edit: edit, RunId: p.RunId})
	if err != nil {
		return nil, err
	}
	return summarizeRun(s, run), nil
}

func summarizeRun(s *Server, run *contract.ProvenanceRun) generateResult {
	return generateResult{
		RunId:          run.RunId,
		Generated:      len(run.Results),
		Failed:         len(run.Failures),
		Skipped:        len(run.Skipped),
		ProvenancePath: s.layout.Rel(s.layout.Provenance()),
	}
}

type processParams struct {
	RunId  string `json:"runId"`
	Strict bool   `json:"strict"`
}

type processResult struct {
	ReportPath string `json:"reportPath"`
	RunId      string `json:"runId,omitempty"`
	Passed     int    `json:"passed"`
	Failed     int    `json:"failed"`
	Warned     int    `json:"warned"`
}

func runProcessTool(ctx context.Context, s *Server, params json.RawMessage) (any, error) {
	var p processParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	report, err := process.New(s.layout, logging.Stage(s.logger, "process")).
		Run(ctx, process.Options{RunId: p.RunId, Strict: p.Strict})
	if err != nil {
		return nil, err
	}
	return processResult{
		ReportPath: s.layout.Rel(s.layout.AcceptanceReport()),
		RunId:      report.RunId,
		Passed:     report.Summary.Passed,
		Failed:     report.Summary.Failed,
		Warned:     report.Summary.Warned,
	}, nil
}

type atlasResult struct {
	Groups int `json:"groups"`
	Pages  int `json:"pages"`
	Frames int `json:"frames"`
}

func runAtlasTool(ctx context.Context, s *Server, params json.RawMessage) (any, error) {
	var p struct{}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	report, err := atlas.New(s.layout, logging.Stage(s.logger, "atlas")).Run(ctx, atlas.Options{})
	if err != nil {
		return nil, err
	}
	res := atlasResult{Groups: len(report.Groups)}
	for _, g := range report.Groups {
		res.Pages += len(g.Pages)
		for _, page := range g.Pages {
			res.Frames += len(page.Frames)
		}
	}
	return res, nil
}

type evalParams struct {
	RunId  string `json:"runId"`
	Strict bool   `json:"strict"`
}

type evalResult struct {
	ReportPath      string                 `json:"reportPath"`
	RunId           string                 `json:"runId,omitempty"`
	PassedHardGates int                    `json:"passedHardGates"`
	FailedHardGates int                    `json:"failedHardGates"`
	PackInvariants  int                    `json:"packInvariants"`
	AdapterHealth   contract.AdapterHealth `json:"adapterHealth"`
}

func runEvalTool(ctx context.Context, s *Server, params json.RawMessage) (any, error) {
	var p evalParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	report, err := evaluate.New(s.layout, s.runtime.Adapters, logging.Stage(s.logger, "eval")).
		Run(ctx, evaluate.Options{RunId: p.RunId, Strict: p.Strict})
	if err != nil {
		return nil, err
	}
	return evalResult{
		ReportPath:      s.layout.Rel(s.layout.EvalReport()),
		RunId:           report.RunId,
		PassedHardGates: report.Summary.PassedHardGates,
		FailedHardGates: report.Summary.FailedHardGates,
		PackInvariants:  len(report.PackInvariants),
		AdapterHealth:   report.AdapterHealth,
	}, nil
}

type reviewResult struct {
	ReviewPath string `json:"reviewPath"`
	Targets    int    `json:"targets"`
	Approved   int    `json:"approved"`
}

func runReviewTool(ctx context.Context, s *Server, params json.RawMessage) (any, error) {
	var p struct{}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	doc, err := review.New(s.layout, logging.Stage(s.logger, "review")).Run(ctx, review.Options{})
	if err != nil {
		return nil, err
	}
	return reviewResult{
		ReviewPath: s.layout.Rel(s.layout.Review()),
		Targets:    doc.Summary.Targets,
		Approved:   doc.Summary.Approved,
	}, nil
}

type selectParams struct {
	RunId string `json:"runId"`
}

type selectResult struct {
	LockPath string `json:"lockPath"`
	Locked   int    `json:"locked"`
	Approved int    `json:"approved"`
}

func runSelectTool(ctx context.Context, s *Server, params json.RawMessage) (any, error) {
	var p selectParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	lock, err := selection.New(s.layout, logging.Stage(s.logger, "select")).
		Run(ctx, selection.Options{RunId: p.RunId})
	if err != nil {
		return nil, err
	}
	return summarizeLock(s, lock), nil
}

func summarizeLock(s *Server, lock *contract.SelectionLock) selectResult {
	res := selectResult{LockPath: s.layout.Rel(s.layout.SelectionLock()), Locked: len(lock.Targets)}
	for _, entry := range lock.Targets {
		if entry.Approved {
			res.Approved++
		}
	}
	return res
}

type packageResult struct {
	ManifestPath string `json:"manifestPath"`
	Files        int    `json:"files"`
	TotalBytes   int64  `json:"totalBytes"`
}

func runPackageTool(ctx context.Context, s *Server, params json.RawMessage) (any, error) {
	var p struct{}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	m, err := pack.New(s.layout, logging.Stage(s.logger, "package")).Run(ctx, pack.Options{})
	if err != nil {
		return nil, err
	}
	return packageResult{
		ManifestPath: s.layout.Rel(s.layout.PackManifest()),
		Files:        len(m.Files),
		TotalBytes:   m.TotalBytes,
	}, nil
}
