package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"lootforge/internal/contract"
	"lootforge/internal/provider"
)

// jobTuple is the canonical identity of one generate job. Hashing runs
// over the RFC 8785 canonicalization of this struct, so field names are
// part of the wire identity: renaming one is a breaking change to every
// job id and selection lock in the wild.
type jobTuple struct {
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	TargetId       string `json:"targetId"`
	TargetOut      string `json:"targetOut"`
	Prompt         string `json:"prompt"`
	Size           string `json:"size"`
	Quality        string `json:"quality"`
	Background     string `json:"background"`
	OutputFormat   string `json:"outputFormat"`
	CandidateCount int    `json:"candidateCount"`
	InputHash      string `json:"inputHash"`
}

// HashBytes returns the sha256 hex digest of raw bytes. Used for the
// manifest hash in the index and the targets-index hash in provenance.
func HashBytes(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// canonicalHash marshals v, canonicalizes the JSON per RFC 8785, and
// returns the sha256 hex digest. Map key order and float formatting
// quirks cannot leak into the hash.
func canonicalHash(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal for hashing: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize for hashing: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// StampHashes computes the target input hash and the deterministic job
// id for one routed planned target. It must run after routing: the job
// id covers the resolved provider and model.
func StampHashes(pt *contract.PlannedTarget) error {
	inputHash, err := TargetInputHash(*pt)
	if err != nil {
		return fmt.Errorf("target %s: %w", pt.Id, err)
	}
	pt.InputHash = inputHash

	jobId, err := JobId(*pt)
	if err != nil {
		return fmt.Errorf("target %s: %w", pt.Id, err)
	}
	pt.JobId = jobId
	return nil
}

// TargetInputHash hashes the content of a planned target with its two
// hash fields zeroed. Identical target content yields the identical
// hash on any machine; the selection lock stores this value so skip
// checks and regeneration can tell whether a target changed.
func TargetInputHash(pt contract.PlannedTarget) (string, error) {
	pt.InputHash = ""
	pt.JobId = ""
	return canonicalHash(pt)
}

// JobId derives the deterministic job id: the first 16 hex characters
// of the sha256 over the canonical job tuple. A pure function of its
// inputs, per the content-addressed idempotence contract.
func JobId(pt contract.PlannedTarget) (string, error) {
	full, err := canonicalHash(jobTuple{
		Provider:       pt.Provider,
		Model:          pt.Model,
		TargetId:       pt.Id,
		TargetOut:      pt.Out,
		Prompt:         provider.AssemblePrompt(pt.PromptSpec),
		Size:           pt.GenerationPolicy.Size,
		Quality:        pt.GenerationPolicy.Quality,
		Background:     pt.GenerationPolicy.Background,
		OutputFormat:   pt.GenerationPolicy.OutputFormat,
		CandidateCount: pt.GenerationPolicy.CandidateCount,
		InputHash:      pt.InputHash,
	})
	if err != nil {
		return "", err
	}
	return full[:16], nil
}
