package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"lootforge/internal/contract"
	"lootforge/internal/imaging"
)

// ProviderLocal is the adapter name for a local diffusion server.
const ProviderLocal = "local"

var localCapabilities = Capabilities{
	DefaultOutputFormat:           "png",
	OutputFormats:                 []string{"png", "jpeg"},
	SupportsTransparentBackground: true,
	SupportsEdits:                 false,
	SupportsControlNet:            true,
	MaxCandidates:                 8,
	DefaultConcurrency:            1,
	MinDelayMs:                    0,
}

var localDefaults = adapterDefaults{
	Endpoint:   "http://127.0.0.1:7860",
	Model:      "local-diffusion",
	TimeoutMs:  300000,
	MaxRetries: 1,
}

// LocalClient talks to a local diffusion server over a small JSON
// protocol. No API key is involved; the server is assumed to sit on a
// trusted loopback. The request seed derives from the job id, so a
// deterministic backend reproduces identical pixels across runs.
type LocalClient struct {
	settings   Settings
	httpClient *http.Client
}

// NewLocalClient builds an adapter from resolved settings.
func NewLocalClient(settings Settings) *LocalClient {
	return &LocalClient{
		settings:   settings,
		httpClient: &http.Client{Timeout: settings.Timeout},
	}
}

func (c *LocalClient) Name() string { return ProviderLocal }

func (c *LocalClient) Capabilities() Capabilities { return localCapabilities }

func (c *LocalClient) Supports(f Feature) bool { return localCapabilities.Has(f) }

func (c *LocalClient) PrepareJobs(targets []contract.PlannedTarget, pctx PrepareContext) ([]Job, error) {
	return buildJobs(localCapabilities, targets, pctx)
}

func (c *LocalClient) NormalizeError(err error) *Error {
	return normalizeError(ProviderLocal, c.settings.Timeout, err)
}

func (c *LocalClient) RunJob(ctx context.Context, job Job) (*RunResult, error) {
	width, height, err := imaging.ParseSize(sizeOrDefault(job.Size, "1024x1024"))
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", job.TargetId, err)
	}

	payload := localGenerateRequest{
		Prompt:         job.Prompt,
		NegativePrompt: job.Negative,
		Width:          width,
		Height:         height,
		Count:          job.CandidateCount,
		Format:         job.OutputFormat,
		Transparent:    job.Background == "transparent",
		Seed:           seedFromJobId(job.JobId),
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

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.settings.Endpoint+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

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
		var decoded localGenerateResponse
		if json.Unmarshal(respBody, &decoded) == nil && decoded.Error != "" {
			msg = decoded.Error
		}
		return nil, httpError(ProviderLocal, resp.StatusCode, msg)
	}

	var decoded localGenerateResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(decoded.Images) == 0 {
		return nil, missingImageError(ProviderLocal, job.TargetId)
	}

	result := &RunResult{CandidatePaths: []string{}}
	for i, image := range decoded.Images {
		if i >= len(job.CandidatePaths) {
			break
		}
		data, err := base64.StdEncoding.DecodeString(image)
		if err != nil {
			return nil, fmt.Errorf("failed to decode image %d: %w", i, err)
		}
		if werr := writeCandidate(ProviderLocal, job.CandidatePaths[i], data, c.settings.MaxImageBytes); werr != nil {
			return nil, werr
		}
		result.CandidatePaths = append(result.CandidatePaths, job.CandidatePaths[i])
	}
	return result, nil
}

func (c *LocalClient) RunEditJob(ctx context.Context, job Job) (*RunResult, error) {
	return nil, editUnsupportedError(ProviderLocal, c.settings.Model)
}

// seedFromJobId folds the 64-bit hex job id into a non-negative seed.
func seedFromJobId(jobId string) int64 {
	u, err := strconv.ParseUint(jobId, 16, 64)
	if err != nil {
		return 0
	}
	return int64(u & (1<<63 - 1))
}
