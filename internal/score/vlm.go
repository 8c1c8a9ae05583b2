package score

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"lootforge/internal/config"
	"lootforge/internal/contract"
)

// GateRequest is the input handed to a vision-model gate evaluator.
// The rubric travels verbatim; its interpretation belongs to the
// evaluator.
type GateRequest struct {
	ImagePath string  `json:"imagePath"`
	Prompt    string  `json:"prompt"`
	Rubric    string  `json:"rubric,omitempty"`
	Threshold float64 `json:"threshold"`
	MaxScore  float64 `json:"maxScore"`
}

// GateEvaluator scores one candidate image against a rubric.
type GateEvaluator interface {
	Evaluate(ctx context.Context, req GateRequest) (*contract.VlmGateResult, error)
}

const (
	defaultGateMaxScore = 100
	defaultGateModel    = "gemini-2.5-flash"
)

// NewGateEvaluator builds the evaluator the config asks for. Mode off
// (or nothing usable configured) returns nil; callers treat a nil
// evaluator as gate-disabled.
func NewGateEvaluator(cfg config.VlmGateConfig) (GateEvaluator, error) {
	switch cfg.Mode {
	case "off":
		return nil, nil
	case "command":
		if cfg.Cmd == "" {
			return nil, fmt.Errorf("vlm gate mode command needs a cmd")
		}
		return &commandGate{cmd: cfg.Cmd, timeout: cfg.Timeout()}, nil
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("vlm gate mode http needs a url")
		}
		return &httpGate{url: cfg.URL, client: &http.Client{Timeout: cfg.Timeout()}}, nil
	case "gemini":
		return &geminiGate{model: defaultGateModel, timeout: cfg.Timeout()}, nil
	case "":
		switch {
		case cfg.Cmd != "":
			return &commandGate{cmd: cfg.Cmd, timeout: cfg.Timeout()}, nil
		case cfg.URL != "":
			return &httpGate{url: cfg.URL, client: &http.Client{Timeout: cfg.Timeout()}}, nil
		case geminiKey() != "":
			return &geminiGate{model: defaultGateModel, timeout: cfg.Timeout()}, nil
		default:
			return nil, nil
		}
	default:
		return nil, fmt.Errorf("unknown vlm gate mode %q", cfg.Mode)
	}
}

// gateWireResponse is the reply shape shared by command and http
// evaluators.
type gateWireResponse struct {
	Score    float64 `json:"score"`
	MaxScore float64 `json:"maxScore,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}

func verdict(req GateRequest, resp gateWireResponse) *contract.VlmGateResult {
	maxScore := resp.MaxScore
	if maxScore <= 0 {
		maxScore = req.MaxScore
	}
	if maxScore <= 0 {
		maxScore = defaultGateMaxScore
	}
	return &contract.VlmGateResult{
		Score:     resp.Score,
		Threshold: req.Threshold,
		MaxScore:  maxScore,
		Passed:    resp.Score >= req.Threshold,
		Reason:    resp.Reason,
		Rubric:    req.Rubric,
	}
}

// commandGate runs a subprocess with the request on stdin and a JSON
// verdict on stdout.
type commandGate struct {
	cmd     string
	timeout time.Duration
}

func (g *commandGate) Evaluate(ctx context.Context, req GateRequest) (*contract.VlmGateResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal gate request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	parts := strings.Fields(g.cmd)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("gate command failed: %w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("gate command failed: %w", err)
	}

	var resp gateWireResponse
	if err := json.Unmarshal(bytes.TrimSpace(out), &resp); err != nil {
		return nil, fmt.Errorf("gate command returned invalid JSON: %w", err)
	}
	return verdict(req, resp), nil
}

// httpGate POSTs the request as JSON and expects the same verdict shape
// back.
type httpGate struct {
	url    string
	client *http.Client
}

func (g *httpGate) Evaluate(ctx context.Context, req GateRequest) (*contract.VlmGateResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal gate request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gate endpoint unreachable: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read gate response: %w", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, fmt.Errorf("gate endpoint returned %d: %s", httpResp.StatusCode, strings.TrimSpace(string(body)))
	}

	var resp gateWireResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("gate endpoint returned invalid JSON: %w", err)
	}
	return verdict(req, resp), nil
}

// geminiGate scores candidates with a multimodal Gemini call. The
// client is built on first use so constructing a scorer never needs
// credentials.
type geminiGate struct {
	model   string
	timeout time.Duration

	once    sync.Once
	client  *genai.Client
	initErr error
}

func geminiKey() string {
	if k := os.Getenv("GEMINI_API_KEY"); k != "" {
		return k
	}
	return os.Getenv("GOOGLE_API_KEY")
}

func (g *geminiGate) Evaluate(ctx context.Context, req GateRequest) (*contract.VlmGateResult, error) {
	g.once.Do(func() {
		key := geminiKey()
		if key == "" {
			g.initErr = fmt.Errorf("vlm gate mode gemini needs GEMINI_API_KEY")
			return
		}
		g.client, g.initErr = genai.NewClient(context.Background(), &genai.ClientConfig{
			APIKey: key,
		})
	})
	if g.initErr != nil {
		return nil, g.initErr
	}

	data, err := os.ReadFile(req.ImagePath)
	if err != nil {
		return nil, fmt.Errorf("read candidate: %w", err)
	}

	maxScore := req.MaxScore
	if maxScore <= 0 {
		maxScore = defaultGateMaxScore
	}
	rubric := req.Rubric
	if rubric == "" {
		rubric = "Judge how well the image matches the prompt."
	}
	instruction := fmt.Sprintf(
		"You are grading a generated game asset.\nPrompt: %s\nRubric: %s\nReply with exactly two lines:\nSCORE: <number between 0 and %.0f>\nREASON: <one sentence>",
		req.Prompt, rubric, maxScore)

	parts := []*genai.Part{
		genai.NewPartFromBytes(data, gateMime(req.ImagePath)),
		genai.NewPartFromText(instruction),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini gate call failed: %w", err)
	}

	scoreVal, reason, err := parseGateText(result.Text())
	if err != nil {
		return nil, err
	}
	return verdict(req, gateWireResponse{Score: scoreVal, MaxScore: maxScore, Reason: reason}), nil
}

var gateScoreRe = regexp.MustCompile(`(?i)score\s*[:=]\s*(-?\d+(?:\.\d+)?)`)
var gateNumberRe = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// parseGateText pulls the score and reason out of a model reply. The
// SCORE:/REASON: shape is requested, but replies that bury the number
// in prose still parse as long as any number is present.
func parseGateText(text string) (float64, string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, "", fmt.Errorf("gemini gate returned an empty reply")
	}

	var raw string
	if m := gateScoreRe.FindStringSubmatch(text); m != nil {
		raw = m[1]
	} else if m := gateNumberRe.FindString(text); m != "" {
		raw = m
	} else {
		return 0, "", fmt.Errorf("gemini gate reply has no score: %q", text)
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, "", fmt.Errorf("gemini gate score %q: %w", raw, err)
	}

	reason := ""
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if len(line) >= 7 && strings.EqualFold(line[:7], "REASON:") {
			reason = strings.TrimSpace(line[7:])
			break
		}
	}
	return val, reason, nil
}

func gateMime(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}
