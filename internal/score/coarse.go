package score

import (
	"fmt"

	"lootforge/internal/contract"
)

// PromoteDrafts applies the coarse-to-fine promotion policy to scored
// draft candidates. Promotion takes the best drafts that clear both the
// minimum score and, when required, draft acceptance; if nothing
// clears, the single best draft is promoted anyway so a refinement pass
// always has a seed. Returned indexes are ordered best-first.
func PromoteDrafts(drafts []contract.CandidateResult, spec contract.CoarseToFineSpec) ([]int, *contract.CoarseToFineReport) {
	report := &contract.CoarseToFineReport{DraftCount: len(drafts)}
	if len(drafts) == 0 {
		return nil, report
	}

	topK := spec.PromoteTopK
	if topK < 1 {
		topK = 1
	}

	ranked := Rank(drafts)
	eligible := make([]int, 0, len(ranked))
	reasons := make(map[int]string, len(ranked))
	for _, i := range ranked {
		d := drafts[i]
		switch {
		case spec.RequireDraftAcceptance && !d.PassedAcceptance:
			reasons[i] = "failed draft acceptance"
		case d.Score < spec.MinDraftScore:
			reasons[i] = fmt.Sprintf("score %.1f below minimum %.1f", d.Score, spec.MinDraftScore)
		default:
			eligible = append(eligible, i)
		}
	}

	var promoted []int
	if len(eligible) == 0 {
		// Nothing cleared the bar; keep the best draft so the run can
		// still refine something rather than fail outright.
		promoted = ranked[:1]
		delete(reasons, ranked[0])
	} else if len(eligible) > topK {
		promoted = eligible[:topK]
		for _, i := range eligible[topK:] {
			reasons[i] = fmt.Sprintf("ranked below promote limit %d", topK)
		}
	} else {
		promoted = eligible
	}

	report.Promoted = len(promoted)
	for _, i := range ranked {
		reason, discarded := reasons[i]
		if !discarded {
			continue
		}
		report.Discarded = append(report.Discarded, contract.DiscardedDraft{
			Path:   drafts[i].Path,
			Score:  drafts[i].Score,
			Reason: reason,
		})
	}
	return promoted, report
}
