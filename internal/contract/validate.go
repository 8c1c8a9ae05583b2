package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validate checks a decoded in-memory value against a kind's schema.
// Typed documents are round-tripped through JSON first so the validator
// always sees plain maps and slices. On mismatch the returned error is a
// *ContractError of kind stage_artifact_contract_invalid carrying at
// least one diagnostic.
func Validate(kind Kind, value any) error {
	schema, ok := compiledSchemas[kind]
	if !ok {
		return newContractInvalid(kind, "", []Diagnostic{{
			Path:    "$",
			Code:    "kind",
			Message: fmt.Sprintf("unknown artifact kind %q", kind),
		}})
	}

	decoded, err := toJSONValue(value)
	if err != nil {
		return newJSONInvalid(kind, "", err)
	}

	if err := schema.Validate(decoded); err != nil {
		ve, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return newContractInvalid(kind, "", []Diagnostic{{Path: "$", Code: "schema", Message: err.Error()}})
		}
		return newContractInvalid(kind, "", flattenValidationError(ve))
	}
	return nil
}

// ReadFile reads, parses, and validates one artifact file. Read and parse
// failures yield stage_artifact_json_invalid; schema failures yield
// stage_artifact_contract_invalid. The raw bytes are returned so callers
// can hash or re-decode them.
func ReadFile(kind Kind, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newJSONInvalid(kind, path, err)
	}
	if !utf8.Valid(data) {
		return nil, newJSONInvalid(kind, path, fmt.Errorf("file is not valid UTF-8"))
	}

	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, newJSONInvalid(kind, path, err)
	}

	if err := Validate(kind, decoded); err != nil {
		var ce *ContractError
		if errors.As(err, &ce) {
			ce.File = path
		}
		return nil, err
	}
	return data, nil
}

// WriteFile marshals a typed document, self-validates it against the
// kind's schema, and writes it with two-space indentation and a trailing
// newline. Parent directories are created as needed.
func WriteFile(kind Kind, path string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return newJSONInvalid(kind, path, err)
	}
	data = append(data, '\n')

	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return newJSONInvalid(kind, path, err)
	}
	if err := Validate(kind, decoded); err != nil {
		var ce *ContractError
		if errors.As(err, &ce) {
			ce.File = path
		}
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

// WriteJSON writes an unversioned sidecar document (catalog, animation
// metadata, atlas and pack manifests) with the same two-space indentation
// and trailing newline as the schema-checked artifacts. There is no kind
// schema for these; determinism is the only contract.
func WriteJSON(path string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sidecar: %w", err)
	}
	data = append(data, '\n')
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create sidecar directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	return nil
}

// ReadJSON reads an unversioned sidecar document written by WriteJSON.
func ReadJSON(path string, doc any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read sidecar: %w", err)
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return fmt.Errorf("parse sidecar %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ============================================================================
// Typed readers
// ============================================================================

// ReadTargetsIndex reads and validates a targets-index file.
func ReadTargetsIndex(path string) (*TargetsIndex, []byte, error) {
	data, err := ReadFile(KindTargetsIndex, path)
	if err != nil {
		return nil, nil, err
	}
	var doc TargetsIndex
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, newJSONInvalid(KindTargetsIndex, path, err)
	}
	return &doc, data, nil
}

// ReadProvenanceRun reads and validates a provenance-run file.
func ReadProvenanceRun(path string) (*ProvenanceRun, error) {
	data, err := ReadFile(KindProvenanceRun, path)
	if err != nil {
		return nil, err
	}
	var doc ProvenanceRun
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, newJSONInvalid(KindProvenanceRun, path, err)
	}
	return &doc, nil
}

// ReadAcceptanceReport reads and validates an acceptance-report file.
func ReadAcceptanceReport(path string) (*AcceptanceReport, error) {
	data, err := ReadFile(KindAcceptanceReport, path)
	if err != nil {
		return nil, err
	}
	var doc AcceptanceReport
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, newJSONInvalid(KindAcceptanceReport, path, err)
	}
	return &doc, nil
}

// ReadEvalReport reads and validates an eval-report file.
func ReadEvalReport(path string) (*EvalReport, error) {
	data, err := ReadFile(KindEvalReport, path)
	if err != nil {
		return nil, err
	}
	var doc EvalReport
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, newJSONInvalid(KindEvalReport, path, err)
	}
	return &doc, nil
}

// ReadSelectionLock reads and validates a selection-lock file.
func ReadSelectionLock(path string) (*SelectionLock, error) {
	data, err := ReadFile(KindSelectionLock, path)
	if err != nil {
		return nil, err
	}
	var doc SelectionLock
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, newJSONInvalid(KindSelectionLock, path, err)
	}
	return &doc, nil
}

// ============================================================================
// Diagnostics plumbing
// ============================================================================

func toJSONValue(value any) (any, error) {
	switch value.(type) {
	case nil, bool, string, float64, json.Number, map[string]any, []any:
		return value, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal for validation: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("decode for validation: %w", err)
	}
	return decoded, nil
}

// SchemaDiagnostics converts a jsonschema validation failure into
// $-rooted diagnostics. The manifest validator runs the same schema
// engine outside the five artifact kinds and shares this plumbing.
func SchemaDiagnostics(err error) []Diagnostic {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []Diagnostic{{Path: "$", Code: "schema", Message: err.Error()}}
	}
	return flattenValidationError(ve)
}

// flattenValidationError collects the leaf causes of a validation error
// into diagnostics, deduplicated and sorted by path for stable output.
func flattenValidationError(ve *jsonschema.ValidationError) []Diagnostic {
	var leaves []Diagnostic
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			leaves = append(leaves, Diagnostic{
				Path:    pointerToDollarPath(e.InstanceLocation),
				Code:    keywordCode(e.KeywordLocation),
				Message: e.Message,
			})
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)

	seen := make(map[string]struct{}, len(leaves))
	out := leaves[:0]
	for _, d := range leaves {
		key := d.Path + "\x00" + d.Code + "\x00" + d.Message
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// pointerToDollarPath converts a JSON pointer ("/targets/3/out") to the
// $-rooted dotted form ("$.targets[3].out").
func pointerToDollarPath(pointer string) string {
	if pointer == "" || pointer == "/" {
		return "$"
	}
	var b strings.Builder
	b.WriteString("$")
	for _, seg := range strings.Split(strings.TrimPrefix(pointer, "/"), "/") {
		seg = strings.ReplaceAll(seg, "~1", "/")
		seg = strings.ReplaceAll(seg, "~0", "~")
		if _, err := strconv.Atoi(seg); err == nil {
			fmt.Fprintf(&b, "[%s]", seg)
			continue
		}
		b.WriteString(".")
		b.WriteString(seg)
	}
	return b.String()
}

// keywordCode extracts the failing keyword ("required", "enum", ...) from
// a keyword location pointer.
func keywordCode(keywordLocation string) string {
	segs := strings.Split(keywordLocation, "/")
	for i := len(segs) - 1; i >= 0; i-- {
		seg := segs[i]
		if seg == "" || seg == "$ref" {
			continue
		}
		if _, err := strconv.Atoi(seg); err == nil {
			continue
		}
		return seg
	}
	return "schema"
}
