// Package process applies each target's declared post-process chain to
// its raw output, assembles spritesheets from their processed frames,
// and runs the hard acceptance checks whose outcome gates approval
// downstream. It emits the acceptance report and the catalog.
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"

	"lootforge/internal/contract"
	"lootforge/internal/paths"
)

// Options selects and shapes one process invocation.
type Options struct {
	IndexPath string // defaults to the layout's targets index
	RunId     string // stamped into the report; defaults to the provenance run id
	Strict    bool   // any acceptance error fails the stage
}

// StrictError is returned when strict mode finds acceptance errors. The
// report is already written when this is returned.
type StrictError struct {
	Failed int
}

func (e *StrictError) Error() string {
	return fmt.Sprintf("%d target(s) failed acceptance in strict mode", e.Failed)
}

// Processor runs the process stage for one output root.
type Processor struct {
	layout paths.Layout
	logger *zap.Logger
}

// New builds a processor. A nil logger is replaced with a no-op.
func New(layout paths.Layout, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{layout: layout, logger: logger}
}

// Run processes every planned target: frames and plain targets through
// the post-process chain, then sheet targets composed from their
// processed frames. The acceptance report and catalog are always
// written, even when targets fail; strict mode returns a *StrictError
// after writing.
func (p *Processor) Run(ctx context.Context, opts Options) (*contract.AcceptanceReport, error) {
	indexPath := opts.IndexPath
	if indexPath == "" {
		indexPath = p.layout.TargetsIndex()
	}
	index, _, err := contract.ReadTargetsIndex(indexPath)
	if err != nil {
		return nil, err
	}

	report := &contract.AcceptanceReport{
		ContractVersion: contract.ContractVersion,
		RunId:           p.runId(opts),
		Targets:         []contract.TargetAcceptance{},
	}
	catalog := newCatalog(index.PackId)

	// Sheets are composed from processed frames, so every non-sheet
	// target runs first.
	var sheets []contract.PlannedTarget
	for _, t := range index.Targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if t.Spritesheet != nil && t.Spritesheet.IsSheet {
			sheets = append(sheets, t)
			continue
		}
		report.Targets = append(report.Targets, p.processTarget(t, catalog))
	}
	for _, t := range sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report.Targets = append(report.Targets, p.assembleSheet(t, index.Targets, catalog))
	}

	sort.Slice(report.Targets, func(i, j int) bool {
		return report.Targets[i].TargetId < report.Targets[j].TargetId
	})
	report.Summary = summarize(report.Targets)

	if err := contract.WriteFile(contract.KindAcceptanceReport, p.layout.AcceptanceReport(), report); err != nil {
		return report, fmt.Errorf("write acceptance report: %w", err)
	}
	if err := catalog.write(p.layout.Catalog()); err != nil {
		return report, err
	}

	p.logger.Info("process stage complete",
		zap.Int("passed", report.Summary.Passed),
		zap.Int("failed", report.Summary.Failed),
		zap.Int("warned", report.Summary.Warned))

	if opts.Strict && report.Summary.Failed > 0 {
		return report, &StrictError{Failed: report.Summary.Failed}
	}
	return report, nil
}

// runId prefers the caller's id and falls back to the provenance run on
// disk. Processing without a prior generate run is legal (reprocessing
// checked-in raw assets), so a missing provenance file is not an error.
func (p *Processor) runId(opts Options) string {
	if opts.RunId != "" {
		return opts.RunId
	}
	prov, err := contract.ReadProvenanceRun(p.layout.Provenance())
	if err != nil {
		return ""
	}
	return prov.RunId
}

// processTarget drives one non-sheet target: read raw, apply the chain,
// write outputs, check acceptance.
func (p *Processor) processTarget(t contract.PlannedTarget, cat *catalog) contract.TargetAcceptance {
	acc := contract.TargetAcceptance{
		TargetId: t.Id,
		Path:     paths.Normalize(t.Out),
		Issues:   []contract.AcceptanceIssue{},
	}

	rawPath, err := p.layout.RawOutput(t.Out)
	if err != nil {
		errorIssue(&acc, "invalid_target_out_path", "out path %q: %v", t.Out, err)
		return finishEntry(&acc)
	}
	raw, err := os.ReadFile(rawPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			errorIssue(&acc, "raw_output_missing", "no raw output at %q; run generate first", p.layout.Rel(rawPath))
		} else {
			errorIssue(&acc, "raw_output_unreadable", "read raw output: %v", err)
		}
		return finishEntry(&acc)
	}

	out, err := p.applyChain(t, raw)
	if err != nil {
		errorIssue(&acc, "process_failed", "%v", err)
		return finishEntry(&acc)
	}
	acc.Path = out.relPath

	p.checkAcceptance(t, out, &acc)
	finishEntry(&acc)
	if !t.CatalogDisabled {
		cat.add(t, out.relPath, acc.Width, acc.Height, "")
	}
	p.logger.Debug("target processed",
		zap.String("target", t.Id),
		zap.String("path", acc.Path),
		zap.Bool("passed", acc.Passed))
	return acc
}

func summarize(targets []contract.TargetAcceptance) contract.AcceptanceSummary {
	var s contract.AcceptanceSummary
	for _, t := range targets {
		if t.Passed {
			s.Passed++
		} else {
			s.Failed++
		}
		for _, issue := range t.Issues {
			if issue.Level == "warning" {
				s.Warned++
				break
			}
		}
	}
	return s
}

func errorIssue(acc *contract.TargetAcceptance, code, format string, args ...any) {
	acc.Issues = append(acc.Issues, contract.AcceptanceIssue{
		Level:   "error",
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	})
}

func warnIssue(acc *contract.TargetAcceptance, code, format string, args ...any) {
	acc.Issues = append(acc.Issues, contract.AcceptanceIssue{
		Level:   "warning",
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	})
}

// finishEntry computes the passed flag from the recorded issues.
func finishEntry(acc *contract.TargetAcceptance) contract.TargetAcceptance {
	acc.Passed = true
	for _, issue := range acc.Issues {
		if issue.Level == "error" {
			acc.Passed = false
			break
		}
	}
	return *acc
}
