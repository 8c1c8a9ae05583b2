package provider

import (
	"os"
	"path/filepath"
	"testing"

	"lootforge/internal/contract"
)

func testTarget(id, out string) contract.PlannedTarget {
	return contract.PlannedTarget{
		Id:       id,
		Kind:     "sprite",
		Out:      out,
		Provider: ProviderOpenAI,
		PromptSpec: contract.PromptSpec{
			Primary: "a knight idle pose",
			Style:   "16-bit pixel art",
		},
		GenerationPolicy: contract.GenerationPolicy{
			Size:           "64x64",
			Background:     "transparent",
			OutputFormat:   "png",
			CandidateCount: 2,
		},
		InputHash: "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
		JobId:     "0011223344556677",
	}
}

func TestAssemblePrompt(t *testing.T) {
	p := contract.PromptSpec{
		Primary:     "a knight",
		Style:       "pixel art",
		Subject:     "armored hero",
		Details:     "holding a sword",
		Constraints: []string{"no text", "centered"},
	}
	got := AssemblePrompt(p)
	want := "a knight. armored hero. holding a sword. pixel art. no text. centered"
	if got != want {
		t.Errorf("AssemblePrompt = %q, want %q", got, want)
	}

	sparse := contract.PromptSpec{Primary: "a barrel"}
	if got := AssemblePrompt(sparse); got != "a barrel" {
		t.Errorf("AssemblePrompt sparse = %q", got)
	}
}

func TestPromptWithNegative(t *testing.T) {
	job := Job{Prompt: "a knight", Negative: "blur, text"}
	if got := promptWithNegative(job); got != "a knight. Avoid: blur, text" {
		t.Errorf("promptWithNegative = %q", got)
	}
	job.Negative = ""
	if got := promptWithNegative(job); got != "a knight" {
		t.Errorf("promptWithNegative without negative = %q", got)
	}
}

func TestPrepareJobsCandidatePaths(t *testing.T) {
	root := t.TempDir()
	pctx := PrepareContext{OutRoot: root, RawDir: filepath.Join(root, "raw")}
	client := NewOpenAIClient(Settings{})

	jobs, err := client.PrepareJobs([]contract.PlannedTarget{testTarget("hero", "units/hero.png")}, pctx)
	if err != nil {
		t.Fatalf("PrepareJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}
	job := jobs[0]
	if job.JobId != "0011223344556677" || job.TargetId != "hero" {
		t.Errorf("job identity = %q/%q", job.JobId, job.TargetId)
	}
	wantCanonical := filepath.Join(root, "raw", "units", "hero.png")
	wantSecond := filepath.Join(root, "raw", "units", "hero.cand1.png")
	if len(job.CandidatePaths) != 2 || job.CandidatePaths[0] != wantCanonical || job.CandidatePaths[1] != wantSecond {
		t.Errorf("candidate paths = %v", job.CandidatePaths)
	}
	if job.Prompt != "a knight idle pose. 16-bit pixel art" {
		t.Errorf("assembled prompt = %q", job.Prompt)
	}
}

func TestPrepareJobsDeterministic(t *testing.T) {
	root := t.TempDir()
	pctx := PrepareContext{OutRoot: root, RawDir: filepath.Join(root, "raw")}
	client := NewLocalClient(Settings{})
	targets := []contract.PlannedTarget{testTarget("hero", "units/hero.png"), testTarget("slime", "units/slime.png")}

	first, err := client.PrepareJobs(targets, pctx)
	if err != nil {
		t.Fatalf("PrepareJobs: %v", err)
	}
	second, err := client.PrepareJobs(targets, pctx)
	if err != nil {
		t.Fatalf("PrepareJobs: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("job counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].JobId != second[i].JobId || first[i].Prompt != second[i].Prompt {
			t.Errorf("job %d differs between runs", i)
		}
	}
}

func TestPrepareJobsClampsCandidateCount(t *testing.T) {
	root := t.TempDir()
	pctx := PrepareContext{OutRoot: root, RawDir: filepath.Join(root, "raw")}
	target := testTarget("hero", "hero.png")
	target.GenerationPolicy.CandidateCount = 9

	openaiJobs, err := NewOpenAIClient(Settings{}).PrepareJobs([]contract.PlannedTarget{target}, pctx)
	if err != nil {
		t.Fatalf("PrepareJobs openai: %v", err)
	}
	if openaiJobs[0].CandidateCount != 4 || len(openaiJobs[0].CandidatePaths) != 4 {
		t.Errorf("openai candidates = %d", openaiJobs[0].CandidateCount)
	}

	nanoJobs, err := NewNanoClient(Settings{}).PrepareJobs([]contract.PlannedTarget{target}, pctx)
	if err != nil {
		t.Fatalf("PrepareJobs nano: %v", err)
	}
	if nanoJobs[0].CandidateCount != 1 || len(nanoJobs[0].CandidatePaths) != 1 {
		t.Errorf("nano candidates = %d", nanoJobs[0].CandidateCount)
	}
}

func TestPrepareJobsSkipsDisabledTargets(t *testing.T) {
	root := t.TempDir()
	pctx := PrepareContext{OutRoot: root, RawDir: filepath.Join(root, "raw")}
	sheet := testTarget("walk-sheet", "sheets/walk.png")
	sheet.GenerationDisabled = true

	jobs, err := NewOpenAIClient(Settings{}).PrepareJobs([]contract.PlannedTarget{sheet}, pctx)
	if err != nil {
		t.Fatalf("PrepareJobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("got %d jobs for a generation-disabled target", len(jobs))
	}
}

func TestPrepareJobsRejectsEscapingOut(t *testing.T) {
	root := t.TempDir()
	pctx := PrepareContext{OutRoot: root, RawDir: filepath.Join(root, "raw")}
	target := testTarget("evil", "../evil.png")

	if _, err := NewOpenAIClient(Settings{}).PrepareJobs([]contract.PlannedTarget{target}, pctx); err == nil {
		t.Fatal("expected error for escaping out path")
	}
}

func TestPrepareJobsCopiesEditSpec(t *testing.T) {
	root := t.TempDir()
	pctx := PrepareContext{OutRoot: root, RawDir: filepath.Join(root, "raw")}
	target := testTarget("hero", "hero.png")
	target.GenerationPolicy.GenerationMode = "edit-first"
	target.EditSpec = &contract.EditSpec{
		Inputs:      []contract.EditInput{{Path: "assets/imagegen/raw/hero.png", Role: "base"}},
		Fidelity:    "high",
		Instruction: "recolor the cape",
	}

	jobs, err := NewOpenAIClient(Settings{}).PrepareJobs([]contract.PlannedTarget{target}, pctx)
	if err != nil {
		t.Fatalf("PrepareJobs: %v", err)
	}
	job := jobs[0]
	if job.Edit == nil {
		t.Fatal("job.Edit is nil")
	}
	if job.Edit.Fidelity != "high" || job.Edit.Instruction != "recolor the cape" || len(job.Edit.Inputs) != 1 {
		t.Errorf("edit request = %+v", job.Edit)
	}
}

func TestResolveEditInputs(t *testing.T) {
	root := t.TempDir()
	job := Job{
		TargetId: "hero",
		OutRoot:  root,
		Edit: &EditRequest{Inputs: []contract.EditInput{
			{Path: "assets/imagegen/raw/hero.png", Role: "base"},
			{Path: "masks/hero-mask.png", Role: "mask"},
		}},
	}

	resolved, perr := resolveEditInputs(ProviderOpenAI, job)
	if perr != nil {
		t.Fatalf("resolveEditInputs: %v", perr)
	}
	if len(resolved) != 2 {
		t.Fatalf("got %d resolved inputs", len(resolved))
	}
	want := filepath.Join(root, "assets", "imagegen", "raw", "hero.png")
	if resolved[0].Path != want || resolved[0].Role != "base" {
		t.Errorf("resolved[0] = %+v", resolved[0])
	}

	t.Run("missing base role", func(t *testing.T) {
		bad := job
		bad.Edit = &EditRequest{Inputs: []contract.EditInput{{Path: "masks/m.png", Role: "mask"}}}
		_, perr := resolveEditInputs(ProviderOpenAI, bad)
		if perr == nil || perr.Code != "openai_edit_missing_base_image" {
			t.Errorf("error = %v", perr)
		}
	})

	t.Run("unsafe path", func(t *testing.T) {
		bad := job
		bad.Edit = &EditRequest{Inputs: []contract.EditInput{{Path: "../../secrets.png", Role: "base"}}}
		_, perr := resolveEditInputs(ProviderOpenAI, bad)
		if perr == nil || perr.Code != "openai_edit_input_unsafe_path" {
			t.Errorf("error = %v", perr)
		}
	})

	t.Run("nil edit", func(t *testing.T) {
		bad := job
		bad.Edit = nil
		if _, perr := resolveEditInputs(ProviderOpenAI, bad); perr == nil {
			t.Error("expected error for nil edit request")
		}
	})
}

func TestWriteCandidate(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "raw", "hero.png")

	if perr := writeCandidate(ProviderOpenAI, path, []byte("pngbytes"), 0); perr != nil {
		t.Fatalf("writeCandidate: %v", perr)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "pngbytes" {
		t.Errorf("written file = %q, %v", data, err)
	}

	if perr := writeCandidate(ProviderOpenAI, path, nil, 0); perr == nil || perr.Code != "openai_empty_image" {
		t.Errorf("empty payload error = %v", perr)
	}
	if perr := writeCandidate(ProviderOpenAI, path, []byte("pngbytes"), 4); perr == nil || perr.Code != "openai_image_too_large" {
		t.Errorf("oversized payload error = %v", perr)
	}
}

func TestCapabilitiesHas(t *testing.T) {
	if !openaiCapabilities.Has(FeatureImageGeneration) {
		t.Error("openai must support image generation")
	}
	if !openaiCapabilities.Has(FeatureMultiCandidate) {
		t.Error("openai supports multiple candidates")
	}
	if nanoCapabilities.Has(FeatureTransparentBackground) {
		t.Error("nano does not support transparent backgrounds")
	}
	if nanoCapabilities.Has(FeatureMultiCandidate) {
		t.Error("nano answers one candidate per request")
	}
	if localCapabilities.Has(FeatureImageEdits) {
		t.Error("local does not support edits")
	}
	if !localCapabilities.Has(FeatureControlNet) {
		t.Error("local supports controlnet")
	}
}

func TestEditPrompt(t *testing.T) {
	job := Job{Prompt: "a knight"}
	if got := editPrompt(job); got != "a knight" {
		t.Errorf("editPrompt without edit = %q", got)
	}

	job.Edit = &EditRequest{Instruction: "recolor the cape", PreserveComposition: true}
	got := editPrompt(job)
	if got != "recolor the cape Keep the existing composition and silhouette." {
		t.Errorf("editPrompt = %q", got)
	}
}
