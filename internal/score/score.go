// Package score ranks generated candidates. It inspects candidate
// files, computes a bounded readability score, applies the target's
// acceptance expectations, optionally consults a vision-model gate,
// and marks exactly one candidate per job as selected.
package score

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"lootforge/internal/contract"
	"lootforge/internal/imaging"
)

// Scorer evaluates candidate files for one output root. A nil gate
// disables vision-model checks.
type Scorer struct {
	outRoot string
	gate    GateEvaluator
	logger  *zap.Logger
}

// NewScorer builds a scorer rooted at outRoot. A nil logger is replaced
// with a no-op.
func NewScorer(outRoot string, gate GateEvaluator, logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{outRoot: outRoot, gate: gate, logger: logger}
}

// softSizeReference anchors the file-size component when a target
// declares no byte budget: candidates at or past this size earn the
// floor, tiny files the full component.
const softSizeReference = 1 << 20

// ScoreCandidates inspects each candidate file (absolute paths) and
// returns one result per candidate, paths relativized to the output
// root. Unreadable candidates score zero instead of failing the job;
// a job with one corrupt candidate can still ship the other.
func (s *Scorer) ScoreCandidates(ctx context.Context, target contract.PlannedTarget, candidatePaths []string) []contract.CandidateResult {
	results := make([]contract.CandidateResult, 0, len(candidatePaths))
	for _, abs := range candidatePaths {
		results = append(results, s.scoreOne(ctx, target, abs))
	}
	return results
}

func (s *Scorer) scoreOne(ctx context.Context, target contract.PlannedTarget, abs string) contract.CandidateResult {
	res := contract.CandidateResult{Path: s.relPath(abs)}

	info, err := imaging.InspectFile(abs)
	if err != nil {
		res.Notes = append(res.Notes, fmt.Sprintf("unreadable candidate: %v", err))
		return res
	}
	res.Bytes = info.Bytes
	res.Width = info.Width
	res.Height = info.Height

	passed := true
	fail := func(format string, args ...any) {
		passed = false
		res.Notes = append(res.Notes, fmt.Sprintf(format, args...))
	}

	sizeComponent := s.sizeComponent(target, info, fail)
	alphaComponent := alphaComponent(target, info, fail)
	byteComponent := byteComponent(target, info, fail)
	res.Score = sizeComponent + alphaComponent + byteComponent

	if gate := target.GenerationPolicy.VlmGate; gate != nil && s.gate != nil {
		verdict, err := s.gate.Evaluate(ctx, GateRequest{
			ImagePath: abs,
			Prompt:    target.PromptSpec.Primary,
			Rubric:    gate.Rubric,
			Threshold: gate.Threshold,
			MaxScore:  gate.MaxScore,
		})
		if err != nil {
			res.Notes = append(res.Notes, fmt.Sprintf("vlm gate unavailable: %v", err))
			s.logger.Warn("vlm gate evaluation failed",
				zap.String("target", target.Id),
				zap.String("candidate", res.Path),
				zap.Error(err))
		} else {
			res.VlmGate = verdict
			if !verdict.Passed {
				fail("vlm gate score %.1f below threshold %.1f", verdict.Score, verdict.Threshold)
			}
		}
	}

	res.PassedAcceptance = passed
	return res
}

// sizeComponent scores dimension conformance, 0 to 40. When the target
// plans a downstream resize the raw dimensions are the provider's
// business, not the candidate's; the check defers to the process stage.
func (s *Scorer) sizeComponent(target contract.PlannedTarget, info imaging.Info, fail func(string, ...any)) float64 {
	want := target.Acceptance.Size
	if want == "" {
		return 30
	}
	w, h, err := imaging.ParseSize(want)
	if err != nil {
		return 30
	}
	if info.Width == w && info.Height == h {
		return 40
	}
	if resizePlanned(target.PostProcess) {
		if aspectMatches(info.Width, info.Height, w, h) {
			return 30
		}
		return 15
	}
	fail("size %dx%d does not match acceptance %s", info.Width, info.Height, want)
	return 0
}

func resizePlanned(pp *contract.PostProcessPolicy) bool {
	if pp == nil {
		return false
	}
	return pp.Resize != "" || pp.SmartCrop || pp.PixelPerfect
}

func aspectMatches(w, h, wantW, wantH int) bool {
	if h == 0 || wantH == 0 {
		return false
	}
	return w*wantH == wantW*h
}

// alphaComponent scores transparency conformance, 0 to 30. A required
// alpha needs actual transparent pixels; an alpha channel that is fully
// opaque is exactly the background-fill failure the check exists for.
func alphaComponent(target contract.PlannedTarget, info imaging.Info, fail func(string, ...any)) float64 {
	required := target.Acceptance.Alpha ||
		(target.RuntimeSpec != nil && target.RuntimeSpec.AlphaRequired) ||
		target.GenerationPolicy.Background == "transparent"
	if !required {
		return 25
	}
	switch {
	case info.HasTransparentPixels:
		return 30
	case info.HasAlpha:
		fail("alpha channel present but no transparent pixels")
		return 12
	default:
		fail("no alpha channel")
		return 0
	}
}

// byteComponent scores file size, 0 to 30.
func byteComponent(target contract.PlannedTarget, info imaging.Info, fail func(string, ...any)) float64 {
	if kb := target.Acceptance.MaxFileSizeKB; kb > 0 {
		limit := int64(kb) * 1024
		switch {
		case info.Bytes <= limit:
			return 30
		case info.Bytes <= 2*limit:
			fail("file size %d exceeds budget %d", info.Bytes, limit)
			return 10
		default:
			fail("file size %d exceeds budget %d", info.Bytes, limit)
			return 0
		}
	}
	frac := float64(info.Bytes) / float64(softSizeReference)
	if frac > 1 {
		frac = 1
	}
	return 5 + 25*(1-frac)
}

func (s *Scorer) relPath(abs string) string {
	rel, err := filepath.Rel(s.outRoot, abs)
	if err != nil {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}

// Better reports whether candidate a outranks candidate b: acceptance
// first, then score, then lexicographic path so ranking never depends
// on input order.
func Better(a, b contract.CandidateResult) bool {
	if a.PassedAcceptance != b.PassedAcceptance {
		return a.PassedAcceptance
	}
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Path < b.Path
}

// SelectBest marks exactly one candidate selected and returns its
// index. Empty input returns -1.
func SelectBest(candidates []contract.CandidateResult) int {
	if len(candidates) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(candidates); i++ {
		if Better(candidates[i], candidates[best]) {
			best = i
		}
	}
	for i := range candidates {
		candidates[i].Selected = i == best
	}
	return best
}

// Rank returns candidate indexes ordered best-first without mutating
// the input.
func Rank(candidates []contract.CandidateResult) []int {
	idx := make([]int, len(candidates))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return Better(candidates[idx[a]], candidates[idx[b]])
	})
	return idx
}
