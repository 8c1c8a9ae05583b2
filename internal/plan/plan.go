// Package plan turns an authored manifest into the normalized targets
// index: schema and semantic validation, default resolution, spritesheet
// expansion, provider routing, and deterministic content hashing.
package plan

import (
	"fmt"

	"go.uber.org/zap"

	"lootforge/internal/contract"
	"lootforge/internal/manifest"
	"lootforge/internal/provider"
)

// Issue is one planner finding, fatal or not.
type Issue struct {
	TargetId string `json:"targetId,omitempty"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Level    string `json:"level"` // error | warning
}

// Report collects everything the planner found. A plan succeeds when
// it carries no errors; warnings travel into the index.
type Report struct {
	Errors   []Issue
	Warnings []Issue
}

// OK reports whether the plan can be emitted.
func (r *Report) OK() bool { return len(r.Errors) == 0 }

// PlanError carries a rejected plan's issues as one error value for
// callers that run the planner inside a pipeline.
type PlanError struct {
	Issues []Issue
}

func (e *PlanError) Error() string {
	if len(e.Issues) == 0 {
		return "plan rejected"
	}
	first := e.Issues[0]
	suffix := ""
	if len(e.Issues) > 1 {
		suffix = fmt.Sprintf(" (+%d more)", len(e.Issues)-1)
	}
	return fmt.Sprintf("plan rejected: %s: %s%s", first.Code, first.Message, suffix)
}

// Err returns nil for an emittable plan, or a *PlanError carrying the
// report's errors.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	return &PlanError{Issues: r.Errors}
}

func (r *Report) errorf(targetId, code, format string, args ...any) {
	r.Errors = append(r.Errors, Issue{
		TargetId: targetId,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Level:    "error",
	})
}

func (r *Report) warnf(targetId, code, format string, args ...any) {
	r.Warnings = append(r.Warnings, Issue{
		TargetId: targetId,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Level:    "warning",
	})
}

func (r *Report) indexWarnings() []contract.PlanWarning {
	if len(r.Warnings) == 0 {
		return nil
	}
	out := make([]contract.PlanWarning, len(r.Warnings))
	for i, w := range r.Warnings {
		out[i] = contract.PlanWarning{TargetId: w.TargetId, Code: w.Code, Message: w.Message}
	}
	return out
}

// Planner normalizes manifests against a provider registry and an
// output root.
type Planner struct {
	registry *provider.Registry
	outRoot  string
	logger   *zap.Logger

	paletteColors map[string][]string
	paletteErrs   map[string]error
	kitChecked    map[string]bool
}

// NewPlanner builds a planner. A nil logger is replaced with a no-op.
func NewPlanner(registry *provider.Registry, outRoot string, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{
		registry:      registry,
		outRoot:       outRoot,
		logger:        logger,
		paletteColors: make(map[string][]string),
		paletteErrs:   make(map[string]error),
		kitChecked:    make(map[string]bool),
	}
}

// Plan runs the full normalization pipeline. On success the returned
// index is ready for contract.WriteFile; on failure the index is nil
// and the report carries at least one error.
func (p *Planner) Plan(m *manifest.Manifest, raw []byte) (*contract.TargetsIndex, *Report) {
	rep := &Report{}

	if diags := manifest.ValidateSchema(raw); len(diags) > 0 {
		for _, d := range diags {
			rep.errorf("", "manifest_schema_invalid", "%s: %s", d.Path, d.Message)
		}
		return nil, rep
	}

	if m.DefaultProvider != "" && !p.registry.Known(m.DefaultProvider) {
		rep.errorf("", "unknown_provider", "defaultProvider %q is not a known provider", m.DefaultProvider)
	}

	planned := make([]contract.PlannedTarget, 0, len(m.Targets))
	for i := range m.Targets {
		t := &m.Targets[i]
		pt := p.normalizeTarget(m, t, rep)
		if t.Kind == "spritesheet" {
			planned = append(planned, p.expandSpritesheet(t, pt, rep)...)
		} else {
			planned = append(planned, *pt)
		}
	}

	p.validateIdentity(planned, rep)

	for i := range planned {
		p.routeTarget(&planned[i], m, rep)
	}

	if !rep.OK() {
		p.logger.Debug("plan rejected",
			zap.Int("errors", len(rep.Errors)),
			zap.Int("warnings", len(rep.Warnings)))
		return nil, rep
	}

	for i := range planned {
		if err := StampHashes(&planned[i]); err != nil {
			rep.errorf(planned[i].Id, "hash_failed", "%v", err)
		}
	}
	if !rep.OK() {
		return nil, rep
	}

	index := &contract.TargetsIndex{
		ContractVersion: contract.ContractVersion,
		PackId:          m.PackId,
		ManifestHash:    HashBytes(raw),
		DefaultProvider: p.defaultProvider(m),
		Targets:         planned,
		Warnings:        rep.indexWarnings(),
	}
	p.logger.Debug("plan complete",
		zap.Int("targets", len(planned)),
		zap.Int("warnings", len(rep.Warnings)))
	return index, rep
}

func (p *Planner) defaultProvider(m *manifest.Manifest) string {
	if m.DefaultProvider != "" {
		return m.DefaultProvider
	}
	return p.registry.Names()[0]
}
