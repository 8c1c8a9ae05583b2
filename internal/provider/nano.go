package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"lootforge/internal/contract"
)

// ProviderNano is the adapter name for Gemini image models.
const ProviderNano = "nano"

// Gemini image output is always opaque, so the adapter never claims
// transparent-background support. Alpha-required targets pinned to
// nano fail at plan time instead of producing matte-filled sprites.
var nanoCapabilities = Capabilities{
	DefaultOutputFormat:           "png",
	OutputFormats:                 []string{"png"},
	SupportsTransparentBackground: false,
	SupportsEdits:                 true,
	SupportsControlNet:            false,
	MaxCandidates:                 1,
	DefaultConcurrency:            2,
	MinDelayMs:                    1000,
}

var nanoDefaults = adapterDefaults{
	Endpoint:   "https://generativelanguage.googleapis.com/v1beta",
	Model:      "gemini-2.5-flash-image",
	TimeoutMs:  120000,
	MaxRetries: 2,
}

// NanoClient drives Gemini image models over the generateContent REST
// surface. The backend answers one image per request, so candidate
// counts above one are clamped during job preparation.
type NanoClient struct {
	settings   Settings
	httpClient *http.Client
}

// NewNanoClient builds an adapter from resolved settings.
func NewNanoClient(settings Settings) *NanoClient {
	return &NanoClient{
		settings:   settings,
		httpClient: &http.Client{Timeout: settings.Timeout},
	}
}

func (c *NanoClient) Name() string { return ProviderNano }

func (c *NanoClient) Capabilities() Capabilities { return nanoCapabilities }

func (c *NanoClient) Supports(f Feature) bool { return nanoCapabilities.Has(f) }

func (c *NanoClient) PrepareJobs(targets []contract.PlannedTarget, pctx PrepareContext) ([]Job, error) {
	return buildJobs(nanoCapabilities, targets, pctx)
}

func (c *NanoClient) NormalizeError(err error) *Error {
	return normalizeError(ProviderNano, c.settings.Timeout, err)
}

func (c *NanoClient) RunJob(ctx context.Context, job Job) (*RunResult, error) {
	parts := []nanoPart{{Text: promptWithNegative(job)}}
	return c.generate(ctx, job, parts)
}

func (c *NanoClient) RunEditJob(ctx context.Context, job Job) (*RunResult, error) {
	inputs, perr := resolveEditInputs(ProviderNano, job)
	if perr != nil {
		return nil, perr
	}

	parts := []nanoPart{{Text: editPrompt(job)}}
	for _, in := range inputs {
		raw, err := os.ReadFile(in.Path)
		if err != nil {
			if os.IsNotExist(err) && in.Role != "mask" {
				return nil, editMissingBaseError(ProviderNano, job.TargetId,
					fmt.Sprintf("%s input %s does not exist", in.Role, in.Path))
			}
			return nil, fmt.Errorf("failed to read %s input: %w", in.Role, err)
		}
		parts = append(parts, nanoPart{InlineData: &nanoInlineData{
			MimeType: mimeForPath(in.Path),
			Data:     base64.StdEncoding.EncodeToString(raw),
		}})
	}
	return c.generate(ctx, job, parts)
}

func (c *NanoClient) generate(ctx context.Context, job Job, parts []nanoPart) (*RunResult, error) {
	if c.settings.APIKey == "" {
		return nil, missingAPIKeyError(ProviderNano, "GEMINI_API_KEY")
	}

	payload := nanoGenerateRequest{
		Contents: []nanoContent{{Role: "user", Parts: parts}},
		GenerationConfig: &nanoGenerationConfig{
			ResponseModalities: []string{"IMAGE"},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.settings.Timeout)
		defer cancel()
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.settings.Endpoint, modelOrDefault(job.Model, c.settings.Model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.settings.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.NormalizeError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(respBody)
		var decoded nanoGenerateResponse
		if json.Unmarshal(respBody, &decoded) == nil && decoded.Error != nil {
			msg = decoded.Error.Message
		}
		return nil, httpError(ProviderNano, resp.StatusCode, msg)
	}

	var decoded nanoGenerateResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return c.writeImages(job, &decoded)
}

func (c *NanoClient) writeImages(job Job, resp *nanoGenerateResponse) (*RunResult, error) {
	result := &RunResult{CandidatePaths: []string{}}
	written := 0
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			if part.InlineData == nil {
				continue
			}
			if written >= len(job.CandidatePaths) {
				break
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("failed to decode image %d: %w", written, err)
			}
			if werr := writeCandidate(ProviderNano, job.CandidatePaths[written], data, c.settings.MaxImageBytes); werr != nil {
				return nil, werr
			}
			result.CandidatePaths = append(result.CandidatePaths, job.CandidatePaths[written])
			written++
		}
	}
	if written == 0 {
		return nil, missingImageError(ProviderNano, job.TargetId)
	}
	return result, nil
}
