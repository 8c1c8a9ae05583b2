package plan

import (
	"regexp"
	"strings"
	"testing"
	"unicode"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"lootforge/internal/contract"
)

func plannedFixture() contract.PlannedTarget {
	return contract.PlannedTarget{
		Id:       "hero",
		Kind:     "sprite",
		Out:      "sprites/hero.png",
		Provider: "openai",
		Model:    "gpt-image-1",
		PromptSpec: contract.PromptSpec{
			Primary: "a knight at rest",
			Style:   "16-bit pixel art",
		},
		Acceptance: contract.AcceptanceSpec{Size: "64x64", Alpha: true},
		GenerationPolicy: contract.GenerationPolicy{
			Size:           "1024x1024",
			Quality:        "high",
			Background:     "transparent",
			OutputFormat:   "png",
			CandidateCount: 2,
		},
	}
}

func TestHashBytesKnownDigest(t *testing.T) {
	got := HashBytes([]byte("abc"))
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Errorf("HashBytes = %q, want %q", got, want)
	}
}

func TestStampHashesDeterministic(t *testing.T) {
	a := plannedFixture()
	b := plannedFixture()
	if err := StampHashes(&a); err != nil {
		t.Fatalf("StampHashes: %v", err)
	}
	if err := StampHashes(&b); err != nil {
		t.Fatalf("StampHashes: %v", err)
	}
	if a.InputHash != b.InputHash {
		t.Errorf("input hashes differ: %q vs %q", a.InputHash, b.InputHash)
	}
	if a.JobId != b.JobId {
		t.Errorf("job ids differ: %q vs %q", a.JobId, b.JobId)
	}
}

func TestStampHashesIdempotent(t *testing.T) {
	pt := plannedFixture()
	if err := StampHashes(&pt); err != nil {
		t.Fatalf("StampHashes: %v", err)
	}
	firstInput, firstJob := pt.InputHash, pt.JobId
	// Restamping an already-stamped target must not feed the previous
	// stamp back into the hash.
	if err := StampHashes(&pt); err != nil {
		t.Fatalf("StampHashes again: %v", err)
	}
	if pt.InputHash != firstInput || pt.JobId != firstJob {
		t.Errorf("restamp changed hashes: %q/%q vs %q/%q", pt.InputHash, pt.JobId, firstInput, firstJob)
	}
}

func TestJobIdSensitivity(t *testing.T) {
	base := plannedFixture()
	if err := StampHashes(&base); err != nil {
		t.Fatalf("StampHashes: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*contract.PlannedTarget)
	}{
		{"prompt", func(pt *contract.PlannedTarget) { pt.PromptSpec.Primary = "a knight mid-swing" }},
		{"provider", func(pt *contract.PlannedTarget) { pt.Provider = "local" }},
		{"model", func(pt *contract.PlannedTarget) { pt.Model = "gpt-image-1-mini" }},
		{"size", func(pt *contract.PlannedTarget) { pt.GenerationPolicy.Size = "512x512" }},
		{"candidates", func(pt *contract.PlannedTarget) { pt.GenerationPolicy.CandidateCount = 3 }},
		{"out", func(pt *contract.PlannedTarget) { pt.Out = "sprites/hero2.png" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pt := plannedFixture()
			tc.mutate(&pt)
			if err := StampHashes(&pt); err != nil {
				t.Fatalf("StampHashes: %v", err)
			}
			if pt.JobId == base.JobId {
				t.Errorf("mutating %s did not change the job id", tc.name)
			}
		})
	}
}

var hexJobId = regexp.MustCompile(`^[0-9a-f]{16}$`)

func TestJobIdShapeProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("job ids are 16 lowercase hex chars for any prompt", prop.ForAll(
		func(prompt string) bool {
			pt := plannedFixture()
			pt.PromptSpec.Primary = prompt
			if err := StampHashes(&pt); err != nil {
				return false
			}
			return hexJobId.MatchString(pt.JobId)
		},
		gen.AnyString(),
	))

	properties.Property("distinct target ids yield distinct job ids", prop.ForAll(
		func(idA, idB string) bool {
			if idA == idB {
				return true
			}
			a := plannedFixture()
			a.Id = idA
			b := plannedFixture()
			b.Id = idB
			if err := StampHashes(&a); err != nil {
				return false
			}
			if err := StampHashes(&b); err != nil {
				return false
			}
			return a.JobId != b.JobId
		},
		gen.Identifier(),
		gen.Identifier(),
	))

	properties.TestingRun(t)
}

// mangle variants that all normalize to the same uniqueness key.
var outManglers = []func(string) string{
	strings.ToUpper,
	func(s string) string { return strings.ReplaceAll(s, "/", `\`) },
	func(s string) string {
		return strings.Map(func(r rune) rune {
			if unicode.IsLower(r) {
				return unicode.ToUpper(r)
			}
			return unicode.ToLower(r)
		}, s)
	},
}

func TestOutUniquenessProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 100
	properties := gopter.NewProperties(params)

	properties.Property("case or separator variants of one out path are rejected", prop.ForAll(
		func(dir, name string, variant uint8) bool {
			out := dir + "/" + name + ".png"
			m := minimalManifest()
			second := m.Targets[0]
			second.Id = "shade"
			m.Targets[0].Out = out
			second.Out = outManglers[int(variant)%len(outManglers)](out)
			m.Targets = append(m.Targets, second)

			index, rep := planManifest(t, m)
			return index == nil && hasIssue(rep.Errors, "duplicate_target_out")
		},
		gen.Identifier(),
		gen.Identifier(),
		gen.UInt8(),
	))

	properties.TestingRun(t)
}
