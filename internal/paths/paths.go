// Package paths centralizes handling of author-supplied relative paths.
// Every ingress point for a target `out` path, an edit input, or a locked
// output goes through ResolveUnderRoot; uniqueness checks go through
// UniquenessKey. Nothing else in the codebase joins user paths by hand.
package paths

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrEscapesRoot is returned when a relative path resolves outside the
	// output root after normalization.
	ErrEscapesRoot = errors.New("path escapes output root")

	// ErrNullByte is returned when a path contains a NUL byte.
	ErrNullByte = errors.New("path contains null byte")

	// ErrEmpty is returned for empty or whitespace-only paths.
	ErrEmpty = errors.New("path is empty")
)

// Normalize converts a relative path to forward-slash form and collapses
// redundant separators and dot segments. It does not consult the filesystem.
func Normalize(rel string) string {
	s := strings.ReplaceAll(rel, "\\", "/")
	s = strings.TrimPrefix(s, "./")
	return s
}

// UniquenessKey returns the canonical collision key for a relative output
// path: forward-slash form, dot segments collapsed, lowercased. Two paths
// with equal keys would land on the same file on a case-insensitive
// filesystem.
func UniquenessKey(rel string) string {
	cleaned := filepath.ToSlash(filepath.Clean(filepath.FromSlash(Normalize(rel))))
	return strings.ToLower(cleaned)
}

// ResolveUnderRoot resolves rel against root and verifies the result stays
// inside root. The returned path is absolute and platform-native.
func ResolveUnderRoot(root, rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", ErrEmpty
	}
	if strings.ContainsRune(rel, 0) {
		return "", ErrNullByte
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}

	joined := filepath.Join(absRoot, filepath.FromSlash(Normalize(rel)))
	resolved, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	if resolved != absRoot && !strings.HasPrefix(resolved, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%q: %w", rel, ErrEscapesRoot)
	}
	return resolved, nil
}

// Inside reports whether an already-absolute path lives under root.
func Inside(root, abs string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	cleaned := filepath.Clean(abs)
	return cleaned == absRoot || strings.HasPrefix(cleaned, absRoot+string(filepath.Separator))
}
