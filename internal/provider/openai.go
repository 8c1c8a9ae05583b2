package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"lootforge/internal/contract"
)

// ProviderOpenAI is the adapter name for the OpenAI Images API.
const ProviderOpenAI = "openai"

var openaiCapabilities = Capabilities{
	DefaultOutputFormat:           "png",
	OutputFormats:                 []string{"png", "webp", "jpeg"},
	SupportsTransparentBackground: true,
	SupportsEdits:                 true,
	SupportsControlNet:            false,
	MaxCandidates:                 4,
	DefaultConcurrency:            2,
	MinDelayMs:                    1000,
}

var openaiDefaults = adapterDefaults{
	Endpoint:   "https://api.openai.com/v1",
	Model:      "gpt-image-1",
	TimeoutMs:  120000,
	MaxRetries: 2,
}

// OpenAIClient drives the OpenAI Images API. Generation goes through
// /images/generations as JSON; edits go through /images/edits as
// multipart forms carrying the base and mask files.
type OpenAIClient struct {
	settings   Settings
	httpClient *http.Client
}

// NewOpenAIClient builds an adapter from resolved settings.
func NewOpenAIClient(settings Settings) *OpenAIClient {
	return &OpenAIClient{
		settings:   settings,
		httpClient: &http.Client{Timeout: settings.Timeout},
	}
}

func (c *OpenAIClient) Name() string { return ProviderOpenAI }

func (c *OpenAIClient) Capabilities() Capabilities { return openaiCapabilities }

func (c *OpenAIClient) Supports(f Feature) bool { return openaiCapabilities.Has(f) }

func (c *OpenAIClient) PrepareJobs(targets []contract.PlannedTarget, pctx PrepareContext) ([]Job, error) {
	return buildJobs(openaiCapabilities, targets, pctx)
}

func (c *OpenAIClient) NormalizeError(err error) *Error {
	return normalizeError(ProviderOpenAI, c.settings.Timeout, err)
}

func (c *OpenAIClient) RunJob(ctx context.Context, job Job) (*RunResult, error) {
	if c.settings.APIKey == "" {
		return nil, missingAPIKeyError(ProviderOpenAI, "OPENAI_API_KEY")
	}

	payload := openaiImageRequest{
		Model:        modelOrDefault(job.Model, c.settings.Model),
		Prompt:       promptWithNegative(job),
		N:            job.CandidateCount,
		Size:         sizeOrDefault(job.Size, "1024x1024"),
		Quality:      job.Quality,
		Background:   job.Background,
		OutputFormat: job.OutputFormat,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := c.ensureDeadline(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.settings.Endpoint+"/images/generations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return c.writeImages(job, resp)
}

func (c *OpenAIClient) RunEditJob(ctx context.Context, job Job) (*RunResult, error) {
	if c.settings.APIKey == "" {
		return nil, missingAPIKeyError(ProviderOpenAI, "OPENAI_API_KEY")
	}
	model := modelOrDefault(job.Model, c.settings.Model)
	if !openaiModelSupportsEdits(model) {
		return nil, editUnsupportedError(ProviderOpenAI, model)
	}
	inputs, perr := resolveEditInputs(ProviderOpenAI, job)
	if perr != nil {
		return nil, perr
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	fields := map[string]string{
		"model":  model,
		"prompt": editPrompt(job),
		"size":   sizeOrDefault(job.Size, "1024x1024"),
	}
	if job.Background != "" {
		fields["background"] = job.Background
	}
	if job.CandidateCount > 1 {
		fields["n"] = strconv.Itoa(job.CandidateCount)
	}
	if job.Edit.Fidelity != "" {
		fields["input_fidelity"] = job.Edit.Fidelity
	}
	for name, value := range fields {
		if err := form.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("failed to write form field %s: %w", name, err)
		}
	}
	for _, in := range inputs {
		field := "image[]"
		if in.Role == "mask" {
			field = "mask"
		}
		if err := attachFile(form, field, in.Path); err != nil {
			if errors.Is(err, fs.ErrNotExist) && in.Role != "mask" {
				return nil, editMissingBaseError(ProviderOpenAI, job.TargetId,
					fmt.Sprintf("%s input %s does not exist", in.Role, in.Path))
			}
			return nil, fmt.Errorf("failed to attach %s input: %w", in.Role, err)
		}
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	ctx, cancel := c.ensureDeadline(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.settings.Endpoint+"/images/edits", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return c.writeImages(job, resp)
}

// ensureDeadline applies the configured timeout when the caller did
// not set its own deadline.
func (c *OpenAIClient) ensureDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.settings.Timeout)
}

func (c *OpenAIClient) do(req *http.Request) (*openaiImageResponse, error) {
	req.Header.Set("Authorization", "Bearer "+c.settings.APIKey)

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
		var decoded openaiImageResponse
		if json.Unmarshal(respBody, &decoded) == nil && decoded.Error != nil {
			msg = decoded.Error.Message
		}
		return nil, httpError(ProviderOpenAI, resp.StatusCode, msg)
	}

	var decoded openaiImageResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if decoded.Error != nil {
		return nil, httpError(ProviderOpenAI, resp.StatusCode, decoded.Error.Message)
	}
	return &decoded, nil
}

func (c *OpenAIClient) writeImages(job Job, resp *openaiImageResponse) (*RunResult, error) {
	if len(resp.Data) == 0 {
		return nil, missingImageError(ProviderOpenAI, job.TargetId)
	}
	result := &RunResult{CandidatePaths: []string{}}
	for i, item := range resp.Data {
		if i >= len(job.CandidatePaths) {
			break
		}
		data, err := base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("failed to decode image %d: %w", i, err)
		}
		if werr := writeCandidate(ProviderOpenAI, job.CandidatePaths[i], data, c.settings.MaxImageBytes); werr != nil {
			return nil, werr
		}
		result.CandidatePaths = append(result.CandidatePaths, job.CandidatePaths[i])
	}
	return result, nil
}

func openaiModelSupportsEdits(model string) bool {
	return strings.HasPrefix(model, "gpt-image") || model == "dall-e-2"
}

func attachFile(form *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	part, err := form.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}
