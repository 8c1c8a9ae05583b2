package evaluate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"lootforge/internal/config"
)

// Soft-metric adapter names. clip judges prompt alignment from the
// image alone; lpips and ssim compare against reference images.
const (
	AdapterClip  = "clip"
	AdapterLpips = "lpips"
	AdapterSsim  = "ssim"
)

// AdapterRequest is the JSON document an adapter receives, on stdin for
// command mode and as the POST body for http mode.
type AdapterRequest struct {
	Adapter    string   `json:"adapter"`
	ImagePath  string   `json:"imagePath"`
	Prompt     string   `json:"prompt,omitempty"`
	Style      string   `json:"style,omitempty"`
	References []string `json:"references,omitempty"`
}

// AdapterResult is the reply shape shared by both transports. Score is
// the metric that feeds the bonus; extra named metrics are recorded on
// the evaluation without affecting the score.
type AdapterResult struct {
	Score    float64            `json:"score"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
	Warnings []string           `json:"warnings,omitempty"`
}

// Adapter scores one processed image.
type Adapter interface {
	Name() string
	// NeedsReferences reports whether the metric is undefined without
	// reference images.
	NeedsReferences() bool
	Evaluate(ctx context.Context, req AdapterRequest) (*AdapterResult, error)
}

// adapterFleet is the resolved adapter configuration: runnable
// adapters plus the names that were enabled without a usable transport.
type adapterFleet struct {
	active       []Adapter
	configured   []string
	unconfigured []string
}

// buildFleet resolves the three known adapters against the config. An
// enabled adapter with neither cmd nor url is configured-but-unusable;
// it surfaces as an adapter health warning, never an abort.
func buildFleet(cfg config.AdaptersConfig) adapterFleet {
	var fleet adapterFleet
	for _, slot := range []struct {
		name string
		conf config.AdapterConfig
		refs bool
	}{
		{AdapterClip, cfg.Clip, false},
		{AdapterLpips, cfg.Lpips, true},
		{AdapterSsim, cfg.Ssim, true},
	} {
		if !slot.conf.Enabled {
			continue
		}
		fleet.configured = append(fleet.configured, slot.name)
		switch {
		case slot.conf.Cmd != "":
			fleet.active = append(fleet.active, &commandAdapter{
				name:    slot.name,
				refs:    slot.refs,
				cmd:     slot.conf.Cmd,
				timeout: slot.conf.Timeout(),
			})
		case slot.conf.URL != "":
			fleet.active = append(fleet.active, &httpAdapter{
				name:   slot.name,
				refs:   slot.refs,
				url:    slot.conf.URL,
				client: &http.Client{Timeout: slot.conf.Timeout()},
			})
		default:
			fleet.unconfigured = append(fleet.unconfigured, slot.name)
		}
	}
	return fleet
}

// commandAdapter shells out with the request on stdin and a JSON result
// on stdout.
type commandAdapter struct {
	name    string
	refs    bool
	cmd     string
	timeout time.Duration
}

func (a *commandAdapter) Name() string          { return a.name }
func (a *commandAdapter) NeedsReferences() bool { return a.refs }

func (a *commandAdapter) Evaluate(ctx context.Context, req AdapterRequest) (*AdapterResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal adapter request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	parts := strings.Fields(a.cmd)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("%s command failed: %w: %s", a.name, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("%s command failed: %w", a.name, err)
	}

	var result AdapterResult
	if err := json.Unmarshal(bytes.TrimSpace(out), &result); err != nil {
		return nil, fmt.Errorf("%s command returned invalid JSON: %w", a.name, err)
	}
	return &result, nil
}

// httpAdapter POSTs the request as JSON.
type httpAdapter struct {
	name   string
	refs   bool
	url    string
	client *http.Client
}

func (a *httpAdapter) Name() string          { return a.name }
func (a *httpAdapter) NeedsReferences() bool { return a.refs }

func (a *httpAdapter) Evaluate(ctx context.Context, req AdapterRequest) (*AdapterResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal adapter request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s endpoint unreachable: %w", a.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", a.name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s endpoint returned %d: %s", a.name, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result AdapterResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%s endpoint returned invalid JSON: %w", a.name, err)
	}
	return &result, nil
}
