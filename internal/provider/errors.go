package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Error is a coded provider failure. Codes follow the
// <provider>_<failure> convention so provenance and logs can be
// filtered per backend; Actionable tells the operator what to change.
type Error struct {
	Provider   string `json:"provider"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Actionable string `json:"actionable,omitempty"`
	Status     int    `json:"status,omitempty"`
	cause      error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (http %d)", e.Code, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// AsError unwraps err to a coded *Error when one is in the chain.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// CodeMissingAPIKey is shared by every key-bearing provider; all other
// codes are provider-prefixed.
const CodeMissingAPIKey = "missing_api_key"

// Code builds a provider-prefixed error code.
func Code(providerName, suffix string) string {
	return providerName + "_" + suffix
}

func missingAPIKeyError(providerName, envVar string) *Error {
	return &Error{
		Provider:   providerName,
		Code:       CodeMissingAPIKey,
		Message:    fmt.Sprintf("no API key configured for provider %s", providerName),
		Actionable: fmt.Sprintf("set %s or providers.%s.api_key in lootforge.yaml", envVar, providerName),
	}
}

func timeoutError(providerName string, timeout time.Duration, cause error) *Error {
	return &Error{
		Provider:   providerName,
		Code:       Code(providerName, "request_timeout"),
		Message:    fmt.Sprintf("request did not complete within %s", timeout),
		Actionable: fmt.Sprintf("raise LOOTFORGE_%s_TIMEOUT_MS or reduce candidate count", strings.ToUpper(providerName)),
		cause:      cause,
	}
}

func httpError(providerName string, status int, body string) *Error {
	actionable := "inspect the response body and retry"
	switch status {
	case 401, 403:
		actionable = "verify the API key has access to the configured model"
	case 429:
		actionable = "lower provider concurrency or raise min_delay_ms"
	}
	return &Error{
		Provider:   providerName,
		Code:       Code(providerName, "http_error"),
		Message:    fmt.Sprintf("backend returned status %d: %s", status, truncate(body, 512)),
		Actionable: actionable,
		Status:     status,
	}
}

func missingImageError(providerName, targetId string) *Error {
	return &Error{
		Provider:   providerName,
		Code:       Code(providerName, "missing_image"),
		Message:    fmt.Sprintf("response for target %s carried no image payload", targetId),
		Actionable: "the backend accepted the request but returned no image; check safety filters and the prompt",
	}
}

func emptyImageError(providerName, path string) *Error {
	return &Error{
		Provider:   providerName,
		Code:       Code(providerName, "empty_image"),
		Message:    fmt.Sprintf("decoded image for %s is empty", path),
		Actionable: "the backend returned a zero-byte payload; retry or switch providers",
	}
}

func imageTooLargeError(providerName, path string, got, limit int64) *Error {
	return &Error{
		Provider:   providerName,
		Code:       Code(providerName, "image_too_large"),
		Message:    fmt.Sprintf("decoded image for %s is %d bytes, limit %d", path, got, limit),
		Actionable: "raise LOOTFORGE_MAX_IMAGE_BYTES or request a smaller size",
	}
}

func editUnsupportedError(providerName, model string) *Error {
	return &Error{
		Provider:   providerName,
		Code:       Code(providerName, "edit_unsupported_model"),
		Message:    fmt.Sprintf("model %s does not support image edits", model),
		Actionable: "route edit-first targets to an edit-capable provider or change the model",
	}
}

func editMissingBaseError(providerName, targetId, detail string) *Error {
	return &Error{
		Provider:   providerName,
		Code:       Code(providerName, "edit_missing_base_image"),
		Message:    fmt.Sprintf("edit-first job for target %s: %s", targetId, detail),
		Actionable: "add an editSpec input with role base pointing at an existing image",
	}
}

func editUnsafePathError(providerName, rel string, cause error) *Error {
	return &Error{
		Provider:   providerName,
		Code:       Code(providerName, "edit_input_unsafe_path"),
		Message:    fmt.Sprintf("edit input %q does not resolve inside the output root", rel),
		Actionable: "edit inputs must be relative paths under the output root",
		cause:      cause,
	}
}

func writeFailedError(providerName, path string, cause error) *Error {
	return &Error{
		Provider:   providerName,
		Code:       Code(providerName, "write_failed"),
		Message:    fmt.Sprintf("could not write candidate %s: %v", path, cause),
		Actionable: "check permissions and free space under the output root",
		cause:      cause,
	}
}

func requestFailedError(providerName string, cause error) *Error {
	return &Error{
		Provider:   providerName,
		Code:       Code(providerName, "request_failed"),
		Message:    cause.Error(),
		Actionable: "check the endpoint address and network reachability",
		cause:      cause,
	}
}

// normalizeError implements the NormalizeError contract for an adapter.
func normalizeError(providerName string, timeout time.Duration, err error) *Error {
	if err == nil {
		return nil
	}
	if pe, ok := AsError(err); ok {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return timeoutError(providerName, timeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return timeoutError(providerName, timeout, err)
	}
	return requestFailedError(providerName, err)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
