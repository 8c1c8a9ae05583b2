package provider

// ============================================================================
// OpenAI Images API wire format
// ============================================================================

type openaiImageRequest struct {
	Model        string `json:"model"`
	Prompt       string `json:"prompt"`
	N            int    `json:"n,omitempty"`
	Size         string `json:"size,omitempty"`
	Quality      string `json:"quality,omitempty"`
	Background   string `json:"background,omitempty"`
	OutputFormat string `json:"output_format,omitempty"`
}

type openaiImageResponse struct {
	Created int64 `json:"created"`
	Data    []struct {
		B64JSON       string `json:"b64_json"`
		RevisedPrompt string `json:"revised_prompt,omitempty"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// ============================================================================
// Gemini generateContent wire format (nano)
// ============================================================================

type nanoInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type nanoPart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *nanoInlineData `json:"inlineData,omitempty"`
}

type nanoContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []nanoPart `json:"parts"`
}

type nanoGenerationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
	CandidateCount     int      `json:"candidateCount,omitempty"`
}

type nanoGenerateRequest struct {
	Contents         []nanoContent         `json:"contents"`
	GenerationConfig *nanoGenerationConfig `json:"generationConfig,omitempty"`
}

type nanoGenerateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []nanoPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason,omitempty"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// ============================================================================
// Local diffusion server wire format
// ============================================================================

type localGenerateRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Count          int    `json:"count,omitempty"`
	Format         string `json:"format,omitempty"`
	Transparent    bool   `json:"transparent,omitempty"`
	Seed           int64  `json:"seed,omitempty"`
}

type localGenerateResponse struct {
	Images []string `json:"images"`
	Error  string   `json:"error,omitempty"`
}
