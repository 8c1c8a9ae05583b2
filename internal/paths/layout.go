package paths

import (
	"path/filepath"
	"strings"
)

// Layout maps the stage artifacts to their fixed locations under one
// output root. All stages share a single Layout so the on-disk shape is
// defined in exactly one place.
type Layout struct {
	Root string
}

// NewLayout returns the layout rooted at outRoot.
func NewLayout(outRoot string) Layout {
	return Layout{Root: outRoot}
}

func (l Layout) join(parts ...string) string {
	return filepath.Join(append([]string{l.Root}, parts...)...)
}

// Rel converts an absolute path under the root back to the forward-slash
// relative form artifacts record. Paths outside the root are returned
// unchanged rather than inventing a ../ chain.
func (l Layout) Rel(abs string) string {
	rel, err := filepath.Rel(l.Root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}

// Manifest is the authored input document.
func (l Layout) Manifest() string { return l.join("assets", "imagegen", "manifest.json") }

// TargetsIndex is the planner output.
func (l Layout) TargetsIndex() string { return l.join("jobs", "targets-index.json") }

// RawDir holds generated candidates, keyed by target out path.
func (l Layout) RawDir() string { return l.join("assets", "imagegen", "raw") }

// RawOutput resolves a target's out path under the raw directory.
func (l Layout) RawOutput(rel string) (string, error) {
	return ResolveUnderRoot(l.RawDir(), rel)
}

// ProcessedDir holds post-processed images.
func (l Layout) ProcessedDir() string { return l.join("assets", "imagegen", "processed") }

// ProcessedImagesDir is where processed target images land.
func (l Layout) ProcessedImagesDir() string { return filepath.Join(l.ProcessedDir(), "images") }

// ProcessedOutput resolves a target's out path under processed/images.
func (l Layout) ProcessedOutput(rel string) (string, error) {
	return ResolveUnderRoot(l.ProcessedImagesDir(), rel)
}

// Catalog is the catalog-enabled target listing.
func (l Layout) Catalog() string { return filepath.Join(l.ProcessedDir(), "catalog.json") }

// AtlasDir holds packed atlas pages.
func (l Layout) AtlasDir() string { return filepath.Join(l.ProcessedDir(), "atlas") }

// AcceptanceReport is the process-stage hard check report.
func (l Layout) AcceptanceReport() string { return l.join("checks", "image-acceptance-report.json") }

// EvalReport is the eval-stage score report.
func (l Layout) EvalReport() string { return l.join("checks", "eval-report.json") }

// Provenance is the generate-stage run record.
func (l Layout) Provenance() string { return l.join("provenance", "run.json") }

// SelectionLock is the approval record.
func (l Layout) SelectionLock() string { return l.join("locks", "selection-lock.json") }

// PackDir is the distributable pack staging directory.
func (l Layout) PackDir() string { return l.join("pack") }

// PackManifest describes the packaged files.
func (l Layout) PackManifest() string { return filepath.Join(l.PackDir(), "pack-manifest.json") }

// Review is the per-target review rollup consumed by the HTML renderer.
func (l Layout) Review() string { return l.join("review", "review.json") }
