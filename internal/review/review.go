// Package review assembles the human-facing rollup of a pipeline run:
// one record per planned target joining its acceptance row, eval
// verdict, lock entry, and on-disk artifact paths. The JSON document is
// the boundary; rendering it is an external collaborator's job.
package review

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"lootforge/internal/contract"
	"lootforge/internal/paths"
	"lootforge/internal/process"
)

// Options selects the inputs for one review invocation.
type Options struct {
	IndexPath string // defaults to the layout's targets index
}

// Artifacts points at a target's files, each relative to the output
// root and present only when the file exists.
type Artifacts struct {
	Raw       string `json:"raw,omitempty"`
	Processed string `json:"processed,omitempty"`
	Animation string `json:"animation,omitempty"`
	Atlas     string `json:"atlas,omitempty"`
}

// TargetReview joins every stage's view of one target.
type TargetReview struct {
	TargetId   string                     `json:"targetId"`
	Kind       string                     `json:"kind"`
	Out        string                     `json:"out"`
	Prompt     string                     `json:"prompt,omitempty"`
	Acceptance *contract.TargetAcceptance `json:"acceptance,omitempty"`
	Evaluation *contract.TargetEvaluation `json:"evaluation,omitempty"`
	Lock       *contract.LockEntry        `json:"lock,omitempty"`
	Artifacts  Artifacts                  `json:"artifacts"`
}

// Summary counts stage outcomes across the pack.
type Summary struct {
	Targets         int `json:"targets"`
	Accepted        int `json:"accepted"`
	PassedHardGates int `json:"passedHardGates"`
	Approved        int `json:"approved"`
}

// Document is the written review payload.
type Document struct {
	PackId  string         `json:"packId"`
	RunId   string         `json:"runId,omitempty"`
	Targets []TargetReview `json:"targets"`
	Summary Summary        `json:"summary"`
}

// Reviewer builds review documents for one output root.
type Reviewer struct {
	layout paths.Layout
	logger *zap.Logger
}

// New builds a reviewer. A nil logger is replaced with a no-op.
func New(layout paths.Layout, logger *zap.Logger) *Reviewer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reviewer{layout: layout, logger: logger}
}

// Run joins the stage artifacts into review/review.json. Only the
// targets index is required: a review of a half-finished run simply has
// holes where stages have not run yet. The document is deterministic,
// so reruns over identical artifacts are byte-identical.
func (r *Reviewer) Run(ctx context.Context, opts Options) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	indexPath := opts.IndexPath
	if indexPath == "" {
		indexPath = r.layout.TargetsIndex()
	}
	index, _, err := contract.ReadTargetsIndex(indexPath)
	if err != nil {
		return nil, err
	}

	acceptance := r.acceptanceRows()
	evals, runId := r.evalRows()
	locks := r.lockRows()
	animations, atlases := r.catalogExtras()

	doc := &Document{
		PackId:  index.PackId,
		RunId:   runId,
		Targets: make([]TargetReview, 0, len(index.Targets)),
	}
	for _, t := range index.Targets {
		tr := TargetReview{
			TargetId: t.Id,
			Kind:     t.Kind,
			Out:      t.Out,
			Prompt:   t.PromptSpec.Primary,
		}
		if acc, ok := acceptance[t.Id]; ok {
			tr.Acceptance = acc
			tr.Artifacts.Processed = r.existing(acc.Path)
			if acc.Passed {
				doc.Summary.Accepted++
			}
		}
		if ev, ok := evals[t.Id]; ok {
			tr.Evaluation = ev
			if ev.PassedHardGates {
				doc.Summary.PassedHardGates++
			}
		}
		if lock, ok := locks[t.Id]; ok {
			tr.Lock = lock
			if lock.Approved {
				doc.Summary.Approved++
			}
		}
		tr.Artifacts.Raw = r.rawArtifact(t.Out)
		tr.Artifacts.Animation = r.existing(animations[t.Id])
		if t.AtlasGroup != "" {
			tr.Artifacts.Atlas = r.existing(atlases[t.AtlasGroup])
		}
		doc.Targets = append(doc.Targets, tr)
	}
	doc.Summary.Targets = len(doc.Targets)

	if err := contract.WriteJSON(r.layout.Review(), doc); err != nil {
		return doc, fmt.Errorf("write review: %w", err)
	}
	r.logger.Info("review stage complete",
		zap.Int("targets", doc.Summary.Targets),
		zap.Int("accepted", doc.Summary.Accepted),
		zap.Int("approved", doc.Summary.Approved))
	return doc, nil
}

func (r *Reviewer) acceptanceRows() map[string]*contract.TargetAcceptance {
	report, err := contract.ReadAcceptanceReport(r.layout.AcceptanceReport())
	if err != nil {
		r.logger.Debug("no acceptance report in review", zap.Error(err))
		return nil
	}
	rows := make(map[string]*contract.TargetAcceptance, len(report.Targets))
	for i := range report.Targets {
		rows[report.Targets[i].TargetId] = &report.Targets[i]
	}
	return rows
}

func (r *Reviewer) evalRows() (map[string]*contract.TargetEvaluation, string) {
	report, err := contract.ReadEvalReport(r.layout.EvalReport())
	if err != nil {
		r.logger.Debug("no eval report in review", zap.Error(err))
		return nil, ""
	}
	rows := make(map[string]*contract.TargetEvaluation, len(report.Targets))
	for i := range report.Targets {
		rows[report.Targets[i].TargetId] = &report.Targets[i]
	}
	return rows, report.RunId
}

func (r *Reviewer) lockRows() map[string]*contract.LockEntry {
	lock, err := contract.ReadSelectionLock(r.layout.SelectionLock())
	if err != nil {
		r.logger.Debug("no selection lock in review", zap.Error(err))
		return nil
	}
	rows := make(map[string]*contract.LockEntry, len(lock.Targets))
	for i := range lock.Targets {
		rows[lock.Targets[i].TargetId] = &lock.Targets[i]
	}
	return rows
}

// catalogExtras maps target ids to animation sidecars and atlas groups
// to their page sidecars.
func (r *Reviewer) catalogExtras() (animations map[string]string, atlases map[string]string) {
	animations = map[string]string{}
	atlases = map[string]string{}
	cat, err := process.ReadCatalog(r.layout.Catalog())
	if err != nil {
		r.logger.Debug("no catalog in review", zap.Error(err))
		return animations, atlases
	}
	for _, asset := range cat.Assets {
		if asset.Animation != "" {
			animations[asset.Id] = asset.Animation
		}
		if asset.AtlasGroup != "" {
			atlases[asset.AtlasGroup] = r.layout.Rel(filepath.Join(r.layout.AtlasDir(), asset.AtlasGroup+".atlas.json"))
		}
	}
	return animations, atlases
}

// rawArtifact reports the canonical raw output when it exists.
func (r *Reviewer) rawArtifact(out string) string {
	abs, err := r.layout.RawOutput(out)
	if err != nil {
		return ""
	}
	return r.existing(r.layout.Rel(abs))
}

// existing returns rel unchanged when the file is on disk, else "".
func (r *Reviewer) existing(rel string) string {
	if rel == "" {
		return ""
	}
	if _, err := os.Stat(filepath.Join(r.layout.Root, filepath.FromSlash(rel))); err != nil {
		return ""
	}
	return rel
}
