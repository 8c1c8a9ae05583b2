package contract

import (
	"fmt"
	"strings"
)

// Error kinds produced by this package. Contract failures are always fatal
// to the stage that hit them; nothing downstream retries a malformed
// artifact.
const (
	ErrKindContractInvalid = "stage_artifact_contract_invalid"
	ErrKindJSONInvalid     = "stage_artifact_json_invalid"
)

// Diagnostic pinpoints one schema failure. Path is a JSON pointer rooted
// at $ in dotted/bracketed form ($.targets[3].out).
type Diagnostic struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ContractError reports a rejected stage artifact. Every instance carries
// at least one diagnostic.
type ContractError struct {
	ErrKind     string
	Artifact    Kind
	File        string
	Diagnostics []Diagnostic
	cause       error
}

func (e *ContractError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.ErrKind, e.Artifact)
	if e.File != "" {
		fmt.Fprintf(&b, " (%s)", e.File)
	}
	if len(e.Diagnostics) > 0 {
		d := e.Diagnostics[0]
		fmt.Fprintf(&b, ": %s at %s", d.Message, d.Path)
		if len(e.Diagnostics) > 1 {
			fmt.Fprintf(&b, " (+%d more)", len(e.Diagnostics)-1)
		}
	}
	return b.String()
}

func (e *ContractError) Unwrap() error { return e.cause }

// newContractInvalid builds the validation-failure error, guaranteeing a
// non-empty diagnostic list.
func newContractInvalid(kind Kind, file string, diags []Diagnostic) *ContractError {
	if len(diags) == 0 {
		diags = []Diagnostic{{Path: "$", Code: "schema", Message: "document does not match schema"}}
	}
	return &ContractError{ErrKind: ErrKindContractInvalid, Artifact: kind, File: file, Diagnostics: diags}
}

// newJSONInvalid builds the read/parse-failure error.
func newJSONInvalid(kind Kind, file string, cause error) *ContractError {
	return &ContractError{
		ErrKind:  ErrKindJSONInvalid,
		Artifact: kind,
		File:     file,
		Diagnostics: []Diagnostic{{
			Path:    "$",
			Code:    "json",
			Message: cause.Error(),
		}},
		cause: cause,
	}
}
