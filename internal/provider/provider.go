// Package provider adapts image generation backends behind one
// interface. Each adapter declares its capabilities, prepares
// deterministic jobs from planned targets, and normalizes backend
// failures into coded errors the generate orchestrator can walk,
// retry, and record.
package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"lootforge/internal/contract"
	"lootforge/internal/paths"
)

// Feature names one capability a target may require from its provider.
type Feature string

const (
	FeatureImageGeneration       Feature = "image-generation"
	FeatureTransparentBackground Feature = "transparent-background"
	FeatureImageEdits            Feature = "image-edits"
	FeatureMultiCandidate        Feature = "multi-candidate"
	FeatureControlNet            Feature = "controlnet"
)

// Capabilities is the static capability record of one adapter.
type Capabilities struct {
	DefaultOutputFormat           string
	OutputFormats                 []string
	SupportsTransparentBackground bool
	SupportsEdits                 bool
	SupportsControlNet            bool
	MaxCandidates                 int
	DefaultConcurrency            int
	MinDelayMs                    int
}

// Has reports whether the capability record satisfies a feature.
func (c Capabilities) Has(f Feature) bool {
	switch f {
	case FeatureImageGeneration:
		return true
	case FeatureTransparentBackground:
		return c.SupportsTransparentBackground
	case FeatureImageEdits:
		return c.SupportsEdits
	case FeatureMultiCandidate:
		return c.MaxCandidates > 1
	case FeatureControlNet:
		return c.SupportsControlNet
	}
	return false
}

// Job is one generation request derived from a planned target.
// CandidatePaths[0] is the canonical raw output path; extra candidates
// land next to it with a .candN suffix before the extension. Model is
// the target's explicit model when authored; adapters fall back to
// their configured model when it is empty.
type Job struct {
	JobId          string
	TargetId       string
	Model          string
	Prompt         string
	Negative       string
	Size           string
	Quality        string
	Background     string
	OutputFormat   string
	CandidateCount int
	MaxRetries     int
	CandidatePaths []string
	OutRoot        string
	Edit           *EditRequest
}

// EditRequest carries the edit-first portion of a job. Input paths stay
// as authored; adapters resolve them under OutRoot at run time so a
// traversal attempt surfaces as a coded error instead of a silent read.
type EditRequest struct {
	Inputs              []contract.EditInput
	Fidelity            string
	Instruction         string
	PreserveComposition bool
}

// RunResult lists the candidate files an adapter wrote for one job.
type RunResult struct {
	CandidatePaths []string
}

// PrepareContext carries the run-scoped inputs PrepareJobs needs.
type PrepareContext struct {
	OutRoot string
	RawDir  string
	RunId   string
}

// Provider is the adapter contract. RunJob and RunEditJob perform a
// single attempt; retries, throttling, and fallback are the
// orchestrator's job.
type Provider interface {
	Name() string
	Capabilities() Capabilities
	Supports(f Feature) bool

	// PrepareJobs derives jobs for the targets routed to this provider.
	// It is pure: the same targets and context yield the same jobs.
	PrepareJobs(targets []contract.PlannedTarget, pctx PrepareContext) ([]Job, error)

	RunJob(ctx context.Context, job Job) (*RunResult, error)
	RunEditJob(ctx context.Context, job Job) (*RunResult, error)

	// NormalizeError maps any failure from RunJob or RunEditJob onto a
	// coded *Error. Already-coded errors pass through unchanged.
	NormalizeError(err error) *Error
}

// buildJobs is the shared PrepareJobs body. It skips targets whose
// generation is disabled (sheet parents), clamps candidate counts to
// the adapter's maximum, and resolves output paths under the raw
// directory.
func buildJobs(caps Capabilities, targets []contract.PlannedTarget, pctx PrepareContext) ([]Job, error) {
	jobs := make([]Job, 0, len(targets))
	for _, t := range targets {
		if t.GenerationDisabled {
			continue
		}
		canonical, err := paths.ResolveUnderRoot(pctx.RawDir, t.Out)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", t.Id, err)
		}
		n := t.GenerationPolicy.CandidateCount
		if n < 1 {
			n = 1
		}
		if caps.MaxCandidates > 0 && n > caps.MaxCandidates {
			n = caps.MaxCandidates
		}
		job := Job{
			JobId:          t.JobId,
			TargetId:       t.Id,
			Model:          t.Model,
			Prompt:         AssemblePrompt(t.PromptSpec),
			Negative:       t.PromptSpec.Negative,
			Size:           t.GenerationPolicy.Size,
			Quality:        t.GenerationPolicy.Quality,
			Background:     t.GenerationPolicy.Background,
			OutputFormat:   t.GenerationPolicy.OutputFormat,
			CandidateCount: n,
			MaxRetries:     t.GenerationPolicy.MaxRetries,
			CandidatePaths: candidatePaths(canonical, n),
			OutRoot:        pctx.OutRoot,
		}
		if t.GenerationPolicy.GenerationMode == "edit-first" && t.EditSpec != nil {
			job.Edit = &EditRequest{
				Inputs:              t.EditSpec.Inputs,
				Fidelity:            t.EditSpec.Fidelity,
				Instruction:         t.EditSpec.Instruction,
				PreserveComposition: t.EditSpec.PreserveComposition,
			}
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// AssemblePrompt flattens a structured prompt into the single text
// string backends accept. Field order is fixed so prompts stay stable
// across runs.
func AssemblePrompt(p contract.PromptSpec) string {
	parts := make([]string, 0, 4+len(p.Constraints))
	for _, s := range []string{p.Primary, p.Subject, p.Details, p.Style} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	parts = append(parts, p.Constraints...)
	return strings.Join(parts, ". ")
}

// promptWithNegative folds the negative prompt into the text for
// backends without a dedicated negative field.
func promptWithNegative(job Job) string {
	if job.Negative == "" {
		return job.Prompt
	}
	return job.Prompt + ". Avoid: " + job.Negative
}

// editPrompt is the text sent with an edit-first request.
func editPrompt(job Job) string {
	p := job.Prompt
	if job.Edit != nil {
		if job.Edit.Instruction != "" {
			p = job.Edit.Instruction
		}
		if job.Edit.PreserveComposition {
			p += " Keep the existing composition and silhouette."
		}
	}
	return p
}

func candidatePaths(canonical string, n int) []string {
	out := make([]string, n)
	out[0] = canonical
	ext := filepath.Ext(canonical)
	stem := strings.TrimSuffix(canonical, ext)
	for i := 1; i < n; i++ {
		out[i] = fmt.Sprintf("%s.cand%d%s", stem, i, ext)
	}
	return out
}

type resolvedEditInput struct {
	Path string
	Role string
}

// resolveEditInputs enforces the edit-first contract for one job: at
// least one input must carry role base or reference, and every input
// path must resolve inside the output root.
func resolveEditInputs(providerName string, job Job) ([]resolvedEditInput, *Error) {
	if job.Edit == nil || !hasBaseInput(job.Edit.Inputs) {
		return nil, editMissingBaseError(providerName, job.TargetId,
			"no edit input with role base or reference")
	}
	resolved := make([]resolvedEditInput, 0, len(job.Edit.Inputs))
	for _, in := range job.Edit.Inputs {
		abs, err := paths.ResolveUnderRoot(job.OutRoot, in.Path)
		if err != nil {
			return nil, editUnsafePathError(providerName, in.Path, err)
		}
		resolved = append(resolved, resolvedEditInput{Path: abs, Role: in.Role})
	}
	return resolved, nil
}

func hasBaseInput(inputs []contract.EditInput) bool {
	for _, in := range inputs {
		if in.Role == "base" || in.Role == "reference" {
			return true
		}
	}
	return false
}

// writeCandidate validates one decoded image payload and writes it,
// creating parent directories as needed.
func writeCandidate(providerName, path string, data []byte, maxBytes int64) *Error {
	if len(data) == 0 {
		return emptyImageError(providerName, path)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return imageTooLargeError(providerName, path, int64(len(data)), maxBytes)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return writeFailedError(providerName, path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return writeFailedError(providerName, path, err)
	}
	return nil
}

// mimeForPath guesses the image MIME type from a file extension.
func mimeForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

func sizeOrDefault(size, fallback string) string {
	if size == "" {
		return fallback
	}
	return size
}

func modelOrDefault(model, fallback string) string {
	if model == "" {
		return fallback
	}
	return model
}
