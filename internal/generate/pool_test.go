package generate

import (
	"context"
	"strings"
	"testing"
	"time"

	"lootforge/internal/contract"
	"lootforge/internal/provider"
)

func TestBackoffCurve(t *testing.T) {
	want := []time.Duration{
		300 * time.Millisecond,
		600 * time.Millisecond,
		1200 * time.Millisecond,
		2400 * time.Millisecond,
		4800 * time.Millisecond,
		5000 * time.Millisecond,
		5000 * time.Millisecond,
	}
	for i, w := range want {
		if got := backoff(i + 1); got != w {
			t.Errorf("backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestDispatchDelay(t *testing.T) {
	target := func(rate int) contract.PlannedTarget {
		var tt contract.PlannedTarget
		tt.GenerationPolicy.RateLimitPerMinute = rate
		return tt
	}
	cases := []struct {
		name     string
		rate     int
		minDelay int
		want     time.Duration
	}{
		{"no limits", 0, 0, 0},
		{"min delay only", 0, 1000, time.Second},
		{"rate dominates", 30, 1000, 2 * time.Second},
		{"min delay dominates", 120, 1000, time.Second},
		{"rate rounds up", 7, 0, 8572 * time.Millisecond},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := dispatchDelay(target(tc.rate), provider.Settings{MinDelayMs: tc.minDelay})
			if got != tc.want {
				t.Errorf("dispatchDelay = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDraftPaths(t *testing.T) {
	got := draftPaths("/out/raw/hero.png", 3)
	want := []string{
		"/out/raw/hero.draft0.png",
		"/out/raw/hero.draft1.png",
		"/out/raw/hero.draft2.png",
	}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("path[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSeededEdit(t *testing.T) {
	seeds := []contract.EditInput{{Path: "raw/hero.draft0.png", Role: "reference"}}

	got := seededEdit(nil, seeds)
	if got == nil || got.Fidelity != "low" || len(got.Inputs) != 1 {
		t.Errorf("fresh edit = %+v", got)
	}

	base := &provider.EditRequest{
		Inputs:   []contract.EditInput{{Path: "locked/hero.png", Role: "base"}},
		Fidelity: "high",
	}
	got = seededEdit(base, seeds)
	if got.Fidelity != "high" || len(got.Inputs) != 2 || got.Inputs[0].Role != "base" || got.Inputs[1].Role != "reference" {
		t.Errorf("merged edit = %+v", got)
	}
	if len(base.Inputs) != 1 {
		t.Errorf("seeding must not mutate the authored edit request")
	}

	if got := seededEdit(base, nil); got != base {
		t.Errorf("no seeds should return the authored request unchanged")
	}
}

func TestRetryClassification(t *testing.T) {
	if !nonRetriableCode(provider.CodeMissingAPIKey, "openai") {
		t.Error("missing_api_key must skip to the next provider")
	}
	if !nonRetriableCode("nano_edit_unsupported_model", "nano") {
		t.Error("edit_unsupported_model must skip to the next provider")
	}
	if !nonRetriableCode("openai_edit_missing_base_image", "openai") {
		t.Error("edit_missing_base_image must skip to the next provider")
	}
	if nonRetriableCode("openai_http_error", "openai") {
		t.Error("http_error must stay retriable")
	}
	if nonRetriableCode("nano_edit_unsupported_model", "openai") {
		t.Error("codes are provider-scoped")
	}
	if !chainAbortCode("openai_edit_input_unsafe_path", "openai") {
		t.Error("unsafe edit inputs must abort the whole chain")
	}
	if chainAbortCode("openai_http_error", "openai") {
		t.Error("http_error must not abort the chain")
	}
}

func TestThrottleSpacesDispatches(t *testing.T) {
	rig := newRig(t)
	rig.source.settings["openai"] = provider.Settings{
		Model:       "openai-model",
		MaxRetries:  1,
		Concurrency: 1,
		MinDelayMs:  1000,
	}
	rig.writeIndex(t,
		planned("a", "sprites/a.png"),
		planned("b", "sprites/b.png"),
		planned("c", "sprites/c.png"),
	)

	if _, err := rig.orch.Run(context.Background(), Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	slept := rig.clock.slept()
	if len(slept) != 2 {
		t.Fatalf("sleeps = %v, want a delay before the second and third dispatch only", slept)
	}
	for i, d := range slept {
		if d != time.Second {
			t.Errorf("sleep[%d] = %v, want 1s", i, d)
		}
	}
}

func TestMissingKeySkipsToFallback(t *testing.T) {
	rig := newRig(t)
	openai := rig.source.fakes["openai"]
	openai.fail = func(int, provider.Job) error {
		return &provider.Error{Provider: "openai", Code: provider.CodeMissingAPIKey, Message: "no API key configured for provider openai"}
	}
	target := plannedOpaque("hero", "sprites/hero.png")
	target.GenerationPolicy.FallbackProviders = []string{"nano"}
	rig.writeIndex(t, target)

	prov, err := rig.orch.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if prov.Results[0].Provider != "nano" {
		t.Errorf("provider = %q, want nano", prov.Results[0].Provider)
	}
	if got := openai.callCount(); got != 1 {
		t.Errorf("openai calls = %d, configuration gaps must not be retried", got)
	}
}

func TestUnsafeEditInputAbortsChain(t *testing.T) {
	rig := newRig(t)
	openai := rig.source.fakes["openai"]
	openai.fail = func(int, provider.Job) error {
		return &provider.Error{
			Provider: "openai",
			Code:     "openai_edit_input_unsafe_path",
			Message:  `edit input "../../etc/passwd" does not resolve inside the output root`,
		}
	}
	target := plannedOpaque("hero", "sprites/hero.png")
	target.GenerationPolicy.FallbackProviders = []string{"nano"}
	rig.writeIndex(t, target)

	prov, err := rig.orch.Run(context.Background(), Options{})
	if err == nil {
		t.Fatal("Run should fail")
	}
	fail := prov.Failures[0]
	if fail.Code != "openai_edit_input_unsafe_path" {
		t.Errorf("code = %q", fail.Code)
	}
	if len(fail.Providers) != 1 || fail.Providers[0] != "openai" {
		t.Errorf("providers = %v, bad inputs must not walk fallbacks", fail.Providers)
	}
	if got := rig.source.fakes["nano"].callCount(); got != 0 {
		t.Errorf("nano calls = %d, want 0", got)
	}
}

func TestPrepareFailureIsRecorded(t *testing.T) {
	rig := newRig(t)
	target := planned("hero", "../hero.png")
	rig.writeIndex(t, target)

	prov, err := rig.orch.Run(context.Background(), Options{})
	if err == nil {
		t.Fatal("Run should fail")
	}
	fail := prov.Failures[0]
	if fail.Code != "job_prepare_failed" {
		t.Errorf("code = %q", fail.Code)
	}
	if len(fail.Attempts) != 1 || fail.Attempts[0].Attempt != 1 {
		t.Errorf("attempts = %+v", fail.Attempts)
	}
}

func TestCoarseToFineSeedsRefinement(t *testing.T) {
	rig := newRig(t)
	target := planned("hero", "sprites/hero.png")
	target.GenerationPolicy.CoarseToFine = &contract.CoarseToFineSpec{
		Enabled:     true,
		DraftCount:  2,
		DraftSize:   "32x32",
		PromoteTopK: 1,
	}
	rig.writeIndex(t, target)

	prov, err := rig.orch.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	openai := rig.source.fakes["openai"]
	gens := openai.generations()
	if len(gens) != 1 {
		t.Fatalf("generations = %d, want the draft pass only", len(gens))
	}
	draft := gens[0]
	if draft.Size != "32x32" || len(draft.CandidatePaths) != 2 {
		t.Errorf("draft job = size %q, %d candidates", draft.Size, len(draft.CandidatePaths))
	}
	if !strings.HasSuffix(draft.CandidatePaths[0], "hero.draft0.png") {
		t.Errorf("draft path = %q", draft.CandidatePaths[0])
	}

	edits := openai.edits()
	if len(edits) != 1 {
		t.Fatalf("edits = %d, want the seeded refinement", len(edits))
	}
	ed := edits[0].Edit
	if ed == nil || ed.Fidelity != "low" || len(ed.Inputs) != 1 {
		t.Fatalf("refinement edit = %+v", ed)
	}
	if ed.Inputs[0].Path != "assets/imagegen/raw/sprites/hero.draft0.png" || ed.Inputs[0].Role != "reference" {
		t.Errorf("seed input = %+v", ed.Inputs[0])
	}

	report := prov.Results[0].CoarseToFine
	if report == nil || report.DraftCount != 2 || report.Promoted != 1 {
		t.Fatalf("report = %+v", report)
	}
	if len(report.Discarded) != 1 || !strings.Contains(report.Discarded[0].Reason, "promote limit") {
		t.Errorf("discarded = %+v", report.Discarded)
	}
}

func TestCoarseToFineWithoutEditSupport(t *testing.T) {
	rig := newRig(t)
	target := planned("hero", "sprites/hero.png")
	target.Provider = "local"
	target.GenerationPolicy.CoarseToFine = &contract.CoarseToFineSpec{
		Enabled:    true,
		DraftCount: 2,
		DraftSize:  "32x32",
	}
	rig.writeIndex(t, target)

	prov, err := rig.orch.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	local := rig.source.fakes["local"]
	if got := len(local.edits()); got != 0 {
		t.Errorf("edits = %d, local cannot refine via edits", got)
	}
	gens := local.generations()
	if len(gens) != 2 {
		t.Fatalf("generations = %d, want draft then final", len(gens))
	}
	if gens[1].Size != "64x64" || gens[1].Edit != nil {
		t.Errorf("final pass = size %q, edit %+v", gens[1].Size, gens[1].Edit)
	}
	if prov.Results[0].CoarseToFine == nil {
		t.Error("draft report must survive an edit-less refinement")
	}
}

func TestDraftFailureFailsAttempt(t *testing.T) {
	rig := newRig(t)
	openai := rig.source.fakes["openai"]
	openai.fail = func(call int, job provider.Job) error {
		if strings.Contains(job.CandidatePaths[0], ".draft") {
			return &provider.Error{Provider: "openai", Code: "openai_http_error", Message: "backend returned status 500", Status: 500}
		}
		return nil
	}
	target := planned("hero", "sprites/hero.png")
	target.GenerationPolicy.CoarseToFine = &contract.CoarseToFineSpec{Enabled: true, DraftCount: 2}
	rig.writeIndex(t, target)

	prov, err := rig.orch.Run(context.Background(), Options{})
	if err == nil {
		t.Fatal("Run should fail when every draft pass fails")
	}
	fail := prov.Failures[0]
	if fail.Code != "openai_http_error" {
		t.Errorf("code = %q, the coded cause must survive the draft wrapper", fail.Code)
	}
	if len(fail.Attempts) != 2 {
		t.Errorf("attempts = %d, draft failures must stay retriable", len(fail.Attempts))
	}
}
