package service

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"lootforge/internal/evaluate"
	"lootforge/internal/generate"
	"lootforge/internal/logging"
	"lootforge/internal/process"
	"lootforge/internal/selection"
)

// generationRequest is the canonical end-to-end request: plan the
// manifest, generate, process, eval, select. Atlas, review, and package
// remain separate calls; they depend on operator judgment of the lock.
type generationRequest struct {
	ManifestPath string   `json:"manifestPath"`
	Ids          []string `json:"ids"`
	Provider     string   `json:"provider"`
	SkipLocked   bool     `json:"skipLocked"`
	Strict       bool     `json:"strict"`
}

// stageOutcome reports one pipeline stage.
type stageOutcome struct {
	Stage   string `json:"stage"`
	Ok      bool   `json:"ok"`
	Summary any    `json:"summary,omitempty"`
	Error   string `json:"error,omitempty"`
}

// generationResponse is the pipeline result. Stages lists every stage
// that ran, in order, including a failed final one.
type generationResponse struct {
	RunId  string         `json:"runId,omitempty"`
	Stages []stageOutcome `json:"stages"`
}

func (s *Server) handleGenerationRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "use POST", nil)
		return
	}
	var req generationRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
			s.writeError(w, r, http.StatusBadRequest, "invalid_body", err.Error(), nil)
			return
		}
	}

	logger := logging.Stage(s.logger, "pipeline").With(zap.String("requestId", requestId(r)))
	logger.Info("generation request accepted")

	resp := &generationResponse{}
	fail := func(stage string, err error) {
		resp.Stages = append(resp.Stages, stageOutcome{Stage: stage, Error: err.Error()})
		logger.Warn("pipeline stage failed", zap.String("stage", stage), zap.Error(err))
		status, code, _ := classify(err)
		if status == http.StatusInternalServerError {
			status, code = http.StatusUnprocessableEntity, "pipeline_stage_failed"
		}
		s.writeError(w, r, status, code, stage+": "+err.Error(), resp)
	}
	ok := func(stage string, summary any) {
		resp.Stages = append(resp.Stages, stageOutcome{Stage: stage, Ok: true, Summary: summary})
	}

	ctx := r.Context()

	index, rep, err := s.plan(req.ManifestPath, true, logging.Stage(s.logger, "plan"))
	if err != nil {
		fail("plan", err)
		return
	}
	ok("plan", planResult{
		IndexPath: s.layout.Rel(s.layout.TargetsIndex()),
		Targets:   len(index.Targets),
		Warnings:  rep.Warnings,
	})

	orch, err := s.newOrchestrator(req.ManifestPath, logging.Stage(s.logger, "generate"))
	if err != nil {
		fail("generate", err)
		return
	}
	run, err := orch.Run(ctx, generate.Options{
		Ids:        req.Ids,
		Provider:   req.Provider,
		SkipLocked: req.SkipLocked,
	})
	if err != nil {
		fail("generate", err)
		return
	}
	resp.RunId = run.RunId
	ok("generate", summarizeRun(s, run))

	acceptance, err := process.New(s.layout, logging.Stage(s.logger, "process")).
		Run(ctx, process.Options{Strict: req.Strict})
	if err != nil {
		fail("process", err)
		return
	}
	ok("process", processResult{
		ReportPath: s.layout.Rel(s.layout.AcceptanceReport()),
		RunId:      acceptance.RunId,
		Passed:     acceptance.Summary.Passed,
		Failed:     acceptance.Summary.Failed,
		Warned:     acceptance.Summary.Warned,
	})

	report, err := evaluate.New(s.layout, s.runtime.Adapters, logging.Stage(s.logger, "eval")).
		Run(ctx, evaluate.Options{Strict: req.Strict})
	if err != nil {
		fail("eval", err)
		return
	}
	ok("eval", evalResult{
		ReportPath:      s.layout.Rel(s.layout.EvalReport()),
		RunId:           report.RunId,
		PassedHardGates: report.Summary.PassedHardGates,
		FailedHardGates: report.Summary.FailedHardGates,
		PackInvariants:  len(report.PackInvariants),
		AdapterHealth:   report.AdapterHealth,
	})

	lock, err := selection.New(s.layout, logging.Stage(s.logger, "select")).
		Run(ctx, selection.Options{})
	if err != nil {
		fail("select", err)
		return
	}
	ok("select", summarizeLock(s, lock))

	logger.Info("generation request complete",
		zap.String("runId", resp.RunId),
		zap.Int("stages", len(resp.Stages)))
	s.writeResult(w, r, resp)
}
