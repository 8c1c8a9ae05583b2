package score

import (
	"testing"

	"lootforge/internal/contract"
)

func draft(path string, score float64, passed bool) contract.CandidateResult {
	return contract.CandidateResult{Path: path, Score: score, PassedAcceptance: passed}
}

func TestPromoteDraftsTopK(t *testing.T) {
	drafts := []contract.CandidateResult{
		draft("d0.png", 40, true),
		draft("d1.png", 80, true),
		draft("d2.png", 60, true),
	}
	promoted, report := PromoteDrafts(drafts, contract.CoarseToFineSpec{Enabled: true, PromoteTopK: 2})

	if len(promoted) != 2 || promoted[0] != 1 || promoted[1] != 2 {
		t.Fatalf("promoted = %v, want [1 2] (best-first)", promoted)
	}
	if report.DraftCount != 3 || report.Promoted != 2 {
		t.Errorf("report = %+v", report)
	}
	if len(report.Discarded) != 1 || report.Discarded[0].Path != "d0.png" {
		t.Errorf("discarded = %+v", report.Discarded)
	}
}

func TestPromoteDraftsMinScore(t *testing.T) {
	drafts := []contract.CandidateResult{
		draft("d0.png", 20, true),
		draft("d1.png", 75, true),
	}
	promoted, report := PromoteDrafts(drafts, contract.CoarseToFineSpec{
		Enabled:       true,
		PromoteTopK:   2,
		MinDraftScore: 50,
	})
	if len(promoted) != 1 || promoted[0] != 1 {
		t.Fatalf("promoted = %v, want [1]", promoted)
	}
	if len(report.Discarded) != 1 || report.Discarded[0].Reason == "" {
		t.Errorf("discarded = %+v, want a reason", report.Discarded)
	}
}

func TestPromoteDraftsRequireAcceptance(t *testing.T) {
	drafts := []contract.CandidateResult{
		draft("d0.png", 90, false),
		draft("d1.png", 55, true),
	}
	promoted, _ := PromoteDrafts(drafts, contract.CoarseToFineSpec{
		Enabled:                true,
		RequireDraftAcceptance: true,
	})
	if len(promoted) != 1 || promoted[0] != 1 {
		t.Fatalf("promoted = %v, want [1] (d0 failed acceptance)", promoted)
	}
}

func TestPromoteDraftsFallbackWhenNoneEligible(t *testing.T) {
	drafts := []contract.CandidateResult{
		draft("d0.png", 10, false),
		draft("d1.png", 30, false),
	}
	promoted, report := PromoteDrafts(drafts, contract.CoarseToFineSpec{
		Enabled:                true,
		RequireDraftAcceptance: true,
		MinDraftScore:          50,
	})
	if len(promoted) != 1 || promoted[0] != 1 {
		t.Fatalf("promoted = %v, want best draft [1] as fallback", promoted)
	}
	if report.Promoted != 1 {
		t.Errorf("report.Promoted = %d, want 1", report.Promoted)
	}
	for _, d := range report.Discarded {
		if d.Path == "d1.png" {
			t.Errorf("fallback draft must not be listed as discarded: %+v", report.Discarded)
		}
	}
}

func TestPromoteDraftsEmpty(t *testing.T) {
	promoted, report := PromoteDrafts(nil, contract.CoarseToFineSpec{Enabled: true})
	if promoted != nil {
		t.Errorf("promoted = %v, want nil", promoted)
	}
	if report.DraftCount != 0 || report.Promoted != 0 {
		t.Errorf("report = %+v", report)
	}
}
