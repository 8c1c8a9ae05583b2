package contract

// ============================================================================
// Shared leaf types
// ============================================================================

// AcceptanceSpec declares the hard checks a produced image must satisfy.
type AcceptanceSpec struct {
	Size          string `json:"size,omitempty"` // WxH literal, e.g. "64x64"
	Alpha         bool   `json:"alpha,omitempty"`
	MaxFileSizeKB int    `json:"maxFileSizeKB,omitempty"`
}

// RuntimeSpec carries engine-facing target attributes.
type RuntimeSpec struct {
	Anchor        string `json:"anchor,omitempty"` // e.g. "center", "bottom-center"
	PreviewSize   string `json:"previewSize,omitempty"`
	AlphaRequired bool   `json:"alphaRequired,omitempty"`
}

// PromptSpec is the structured prompt for a target. Constraints collects
// style-kit rules and consistency-group clauses injected by the planner.
type PromptSpec struct {
	Primary     string   `json:"primary"`
	Style       string   `json:"style,omitempty"`
	Subject     string   `json:"subject,omitempty"`
	Details     string   `json:"details,omitempty"`
	Negative    string   `json:"negative,omitempty"`
	Constraints []string `json:"constraints,omitempty"`
}

// VlmGateSpec asks the scorer to run a vision-model gate over candidates.
// The rubric is opaque; it is handed to the evaluator verbatim.
type VlmGateSpec struct {
	Threshold float64 `json:"threshold"`
	MaxScore  float64 `json:"maxScore,omitempty"`
	Rubric    string  `json:"rubric,omitempty"`
}

// CoarseToFineSpec enables a draft pass before the final generation pass.
type CoarseToFineSpec struct {
	Enabled                bool    `json:"enabled"`
	DraftCount             int     `json:"draftCount,omitempty"`
	DraftSize              string  `json:"draftSize,omitempty"`
	PromoteTopK            int     `json:"promoteTopK,omitempty"`
	MinDraftScore          float64 `json:"minDraftScore,omitempty"`
	RequireDraftAcceptance bool    `json:"requireDraftAcceptance,omitempty"`
}

// GenerationPolicy controls how a target is generated.
type GenerationPolicy struct {
	Size                string            `json:"size,omitempty"`
	Quality             string            `json:"quality,omitempty"`
	Background          string            `json:"background,omitempty"` // transparent | opaque | auto
	OutputFormat        string            `json:"outputFormat,omitempty"`
	CandidateCount      int               `json:"candidateCount,omitempty"`
	MaxRetries          int               `json:"maxRetries,omitempty"`
	FallbackProviders   []string          `json:"fallbackProviders,omitempty"`
	RateLimitPerMinute  int               `json:"rateLimitPerMinute,omitempty"`
	ProviderConcurrency int               `json:"providerConcurrency,omitempty"`
	GenerationMode      string            `json:"generationMode,omitempty"` // "" | "edit-first"
	VlmGate             *VlmGateSpec      `json:"vlmGate,omitempty"`
	CoarseToFine        *CoarseToFineSpec `json:"coarseToFine,omitempty"`
}

// OutlineSpec draws a solid outline around opaque pixels.
type OutlineSpec struct {
	Color     string `json:"color,omitempty"` // #rrggbb
	Thickness int    `json:"thickness,omitempty"`
}

// ResizeVariant emits an extra scaled copy next to the main output.
type ResizeVariant struct {
	Suffix string `json:"suffix"`
	Size   string `json:"size"`
}

// PostProcessPolicy declares the transform chain the process stage applies.
type PostProcessPolicy struct {
	EmitRaw        bool            `json:"emitRaw,omitempty"`
	Trim           bool            `json:"trim,omitempty"`
	Pad            int             `json:"pad,omitempty"`
	SmartCrop      bool            `json:"smartCrop,omitempty"`
	Resize         string          `json:"resize,omitempty"` // WxH literal or single numeric edge
	Algorithm      string          `json:"algorithm,omitempty"` // nearest | lanczos3
	PixelPerfect   bool            `json:"pixelPerfect,omitempty"`
	Outline        *OutlineSpec    `json:"outline,omitempty"`
	ResizeVariants []ResizeVariant `json:"resizeVariants,omitempty"`
	EmitVariants   []string        `json:"emitVariants,omitempty"`   // pixel | style-ref
	AuxiliaryMaps  []string        `json:"auxiliaryMaps,omitempty"`  // normal | specular | ao
}

// PalettePolicy constrains output colors.
type PalettePolicy struct {
	Colors    []string `json:"colors,omitempty"` // #rrggbb, exact palette
	MaxColors int      `json:"maxColors,omitempty"`
	Strict    bool     `json:"strict,omitempty"`
}

// WrapGridSpec checks seam quality on an evenly divided grid.
type WrapGridSpec struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// TileablePolicy declares tiling requirements for tiles and backgrounds.
type TileablePolicy struct {
	Tileable bool          `json:"tileable,omitempty"`
	SeamHeal bool          `json:"seamHeal,omitempty"`
	WrapGrid *WrapGridSpec `json:"wrapGrid,omitempty"`
}

// EditInput is one image handed to an edit-first generation.
type EditInput struct {
	Path string `json:"path"`
	Role string `json:"role"` // base | mask | reference
}

// EditSpec configures edit-first generation.
type EditSpec struct {
	Inputs              []EditInput `json:"inputs,omitempty"`
	Fidelity            string      `json:"fidelity,omitempty"` // low | high
	Instruction         string      `json:"instruction,omitempty"`
	PreserveComposition bool        `json:"preserveComposition,omitempty"`
}

// SheetAnimation declares one animation row of a spritesheet.
type SheetAnimation struct {
	Name   string `json:"name"`
	Frames int    `json:"frames"`
	Prompt string `json:"prompt,omitempty"`
	FPS    int    `json:"fps,omitempty"`
}

// SpritesheetMeta links sheet and frame targets. A sheet target carries
// IsSheet plus the animation table; a frame target carries the sheet id,
// its animation name, and its frame index.
type SpritesheetMeta struct {
	IsSheet       bool             `json:"isSheet,omitempty"`
	SheetId       string           `json:"sheetId"`
	FrameSize     string           `json:"frameSize,omitempty"`
	AnimationName string           `json:"animationName,omitempty"`
	FrameIndex    int              `json:"frameIndex,omitempty"`
	Animations    []SheetAnimation `json:"animations,omitempty"`
}

// RegenerationSource links a regenerated target back to the lock entry
// that seeded it.
type RegenerationSource struct {
	LockPath               string `json:"lockPath"`
	LockSelectedOutputPath string `json:"lockSelectedOutputPath"`
	LockApproved           bool   `json:"lockApproved"`
}

// PlannedTarget is a target with every defaultable field resolved. It is
// created by the planner and immutable for the rest of the run.
type PlannedTarget struct {
	Id                 string              `json:"id"`
	Kind               string              `json:"kind"` // sprite | tile | background | effect | spritesheet
	Out                string              `json:"out"`
	Provider           string              `json:"provider"`
	Model              string              `json:"model,omitempty"`
	StyleKit           string              `json:"styleKit,omitempty"`
	ConsistencyGroup   string              `json:"consistencyGroup,omitempty"`
	EvaluationProfile  string              `json:"evaluationProfile,omitempty"`
	AtlasGroup         string              `json:"atlasGroup,omitempty"`
	Acceptance         AcceptanceSpec      `json:"acceptance"`
	RuntimeSpec        *RuntimeSpec        `json:"runtimeSpec,omitempty"`
	PromptSpec         PromptSpec          `json:"promptSpec"`
	GenerationPolicy   GenerationPolicy    `json:"generationPolicy"`
	PostProcess        *PostProcessPolicy  `json:"postProcess,omitempty"`
	Palette            *PalettePolicy      `json:"palette,omitempty"`
	Tileable           *TileablePolicy     `json:"tileable,omitempty"`
	EditSpec           *EditSpec           `json:"editSpec,omitempty"`
	Spritesheet        *SpritesheetMeta    `json:"spritesheet,omitempty"`
	RegenerationSource *RegenerationSource `json:"regenerationSource,omitempty"`
	GenerationDisabled bool                `json:"generationDisabled,omitempty"`
	CatalogDisabled    bool                `json:"catalogDisabled,omitempty"`
	InputHash          string              `json:"inputHash"`
	JobId              string              `json:"jobId"`
}

// ============================================================================
// targets-index
// ============================================================================

// PlanWarning is a non-fatal planner finding recorded in the index.
type PlanWarning struct {
	TargetId string `json:"targetId,omitempty"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// TargetsIndex is the planner output: the full normalized target list.
type TargetsIndex struct {
	ContractVersion string          `json:"contractVersion"`
	PackId          string          `json:"packId"`
	ManifestHash    string          `json:"manifestHash"`
	DefaultProvider string          `json:"defaultProvider"`
	Targets         []PlannedTarget `json:"targets"`
	Warnings        []PlanWarning   `json:"warnings,omitempty"`
}

// ============================================================================
// provenance-run
// ============================================================================

// VlmGateResult records a vision-model gate verdict for one candidate.
type VlmGateResult struct {
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
	MaxScore  float64 `json:"maxScore"`
	Passed    bool    `json:"passed"`
	Reason    string  `json:"reason,omitempty"`
	Rubric    string  `json:"rubric,omitempty"`
}

// CandidateResult describes one generated candidate file.
type CandidateResult struct {
	Path             string         `json:"path"` // relative to the output root
	Bytes            int64          `json:"bytes"`
	Width            int            `json:"width,omitempty"`
	Height           int            `json:"height,omitempty"`
	Score            float64        `json:"score"`
	PassedAcceptance bool           `json:"passedAcceptance"`
	Selected         bool           `json:"selected"`
	VlmGate          *VlmGateResult `json:"vlmGate,omitempty"`
	Notes            []string       `json:"notes,omitempty"`
}

// DiscardedDraft records a coarse-to-fine draft that was not promoted.
type DiscardedDraft struct {
	Path   string  `json:"path"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// CoarseToFineReport summarizes the draft pass of one job.
type CoarseToFineReport struct {
	DraftCount int              `json:"draftCount"`
	Promoted   int              `json:"promoted"`
	Discarded  []DiscardedDraft `json:"discarded,omitempty"`
}

// JobResult is the record of one successfully generated target.
type JobResult struct {
	JobId              string              `json:"jobId"`
	TargetId           string              `json:"targetId"`
	Provider           string              `json:"provider"`
	Model              string              `json:"model,omitempty"`
	OutputPath         string              `json:"outputPath"` // relative to the output root
	GenerationMode     string              `json:"generationMode,omitempty"`
	InputHash          string              `json:"inputHash"`
	Candidates         []CandidateResult   `json:"candidates"`
	CoarseToFine       *CoarseToFineReport `json:"coarseToFine,omitempty"`
	RegenerationSource *RegenerationSource `json:"regenerationSource,omitempty"`
	StartedAt          string              `json:"startedAt"`
	FinishedAt         string              `json:"finishedAt"`
}

// AttemptRecord is one entry of the retry/fallback walk.
type AttemptRecord struct {
	Provider string `json:"provider"`
	Attempt  int    `json:"attempt"`
	Code     string `json:"code"`
	Message  string `json:"message,omitempty"`
}

// JobFailure records a target that exhausted every provider and retry.
type JobFailure struct {
	TargetId  string          `json:"targetId"`
	JobId     string          `json:"jobId,omitempty"`
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	Providers []string        `json:"providers"` // attempted chain, in order
	Attempts  []AttemptRecord `json:"attempts,omitempty"`
}

// SkippedTarget records a target left untouched because its lock entry is
// approved and its input hash is unchanged.
type SkippedTarget struct {
	TargetId  string `json:"targetId"`
	InputHash string `json:"inputHash"`
	Reason    string `json:"reason"`
}

// ProvenanceRun is the complete record of one generate invocation.
type ProvenanceRun struct {
	ContractVersion string          `json:"contractVersion"`
	RunId           string          `json:"runId"`
	InputHash       string          `json:"inputHash"`
	TargetsIndex    string          `json:"targetsIndex"` // relative path of the index that drove the run
	StartedAt       string          `json:"startedAt"`
	FinishedAt      string          `json:"finishedAt"`
	Results         []JobResult     `json:"results"`
	Failures        []JobFailure    `json:"failures"`
	Skipped         []SkippedTarget `json:"skipped,omitempty"`
}

// ============================================================================
// acceptance-report
// ============================================================================

// AcceptanceIssue is one finding from the hard checks.
type AcceptanceIssue struct {
	Level   string `json:"level"` // error | warning
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PaletteCompliance reports palette conformance of a processed image.
type PaletteCompliance struct {
	Compliant       bool    `json:"compliant"`
	DistinctColors  int     `json:"distinctColors"`
	MaxAllowed      int     `json:"maxAllowed,omitempty"`
	OffPaletteRatio float64 `json:"offPaletteRatio,omitempty"`
}

// BoundaryQuality estimates sprite edge quality.
type BoundaryQuality struct {
	HaloRisk      float64 `json:"haloRisk"`
	StrayNoise    float64 `json:"strayNoise"`
	EdgeSharpness float64 `json:"edgeSharpness"`
}

// TargetAcceptance is the hard-check outcome for one target.
type TargetAcceptance struct {
	TargetId             string             `json:"targetId"`
	Path                 string             `json:"path"` // processed image, relative to the output root
	Width                int                `json:"width"`
	Height               int                `json:"height"`
	Bytes                int64              `json:"bytes"`
	HasAlpha             bool               `json:"hasAlpha"`
	HasTransparentPixels bool               `json:"hasTransparentPixels"`
	Palette              *PaletteCompliance `json:"palette,omitempty"`
	SeamScore            *float64           `json:"seamScore,omitempty"`
	WrapGridSeamScore    *float64           `json:"wrapGridSeamScore,omitempty"`
	Boundary             *BoundaryQuality   `json:"boundary,omitempty"`
	Issues               []AcceptanceIssue  `json:"issues"`
	Passed               bool               `json:"passed"`
}

// AcceptanceSummary counts outcomes across the report.
type AcceptanceSummary struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
	Warned int `json:"warned"`
}

// AcceptanceReport is the process-stage output.
type AcceptanceReport struct {
	ContractVersion string             `json:"contractVersion"`
	RunId           string             `json:"runId,omitempty"`
	Targets         []TargetAcceptance `json:"targets"`
	Summary         AcceptanceSummary  `json:"summary"`
}

// ============================================================================
// eval-report
// ============================================================================

// InvariantIssue is one pack-level invariant finding.
type InvariantIssue struct {
	Level     string   `json:"level"` // error | warning
	Code      string   `json:"code"`
	Message   string   `json:"message"`
	TargetIds []string `json:"targetIds,omitempty"`
}

// AdapterStats counts one soft-metric adapter's work.
type AdapterStats struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Warnings  int `json:"warnings"`
}

// AdapterHealth summarizes the soft-metric adapter fleet.
type AdapterHealth struct {
	Configured []string                `json:"configured"`
	Active     []string                `json:"active"`
	Failed     []string                `json:"failed"`
	Stats      map[string]AdapterStats `json:"stats,omitempty"`
}

// TargetEvaluation is the final score breakdown for one target.
type TargetEvaluation struct {
	TargetId           string             `json:"targetId"`
	Path               string             `json:"path"`
	CandidateScore     float64            `json:"candidateScore"`
	AdapterBonus       float64            `json:"adapterBonus"`
	AdapterMetrics     map[string]float64 `json:"adapterMetrics,omitempty"`
	AdapterWarnings    []string           `json:"adapterWarnings,omitempty"`
	ConsistencyPenalty float64            `json:"consistencyPenalty"`
	HardGateErrors     []string           `json:"hardGateErrors"`
	HardGateWarnings   []string           `json:"hardGateWarnings"`
	FinalScore         float64            `json:"finalScore"`
	PassedHardGates    bool               `json:"passedHardGates"`
}

// EvalSummary counts hard-gate outcomes.
type EvalSummary struct {
	PassedHardGates int `json:"passedHardGates"`
	FailedHardGates int `json:"failedHardGates"`
}

// EvalReport is the eval-stage output.
type EvalReport struct {
	ContractVersion string             `json:"contractVersion"`
	RunId           string             `json:"runId,omitempty"`
	Targets         []TargetEvaluation `json:"targets"`
	PackInvariants  []InvariantIssue   `json:"packInvariants"`
	AdapterHealth   AdapterHealth      `json:"adapterHealth"`
	Summary         EvalSummary        `json:"summary"`
}

// ============================================================================
// selection-lock
// ============================================================================

// LockEntry approves (or rejects) one target's selected output.
type LockEntry struct {
	TargetId           string  `json:"targetId"`
	Approved           bool    `json:"approved"`
	InputHash          string  `json:"inputHash"`
	SelectedOutputPath string  `json:"selectedOutputPath"` // relative to the output root
	Provider           string  `json:"provider"`
	Model              string  `json:"model,omitempty"`
	FinalScore         float64 `json:"finalScore"`
}

// SelectionLock is the approval record consumed downstream and by
// regenerate.
type SelectionLock struct {
	ContractVersion string      `json:"contractVersion"`
	RunId           string      `json:"runId,omitempty"`
	Targets         []LockEntry `json:"targets"`
}
