// Package pack stages a shippable pack directory: the approved,
// catalog-listed outputs plus the catalog and selection lock, mirrored
// at their output-root-relative paths so the catalog stays valid inside
// the pack, with an integrity manifest over every staged file.
package pack

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"lootforge/internal/contract"
	"lootforge/internal/paths"
	"lootforge/internal/process"
)

// ManifestSchemaVersion pins the pack-manifest shape for consumers.
const ManifestSchemaVersion = "1.0.0"

// FileEntry records one staged file's integrity data. Path is relative
// to the pack directory.
type FileEntry struct {
	Path   string `json:"path"`
	Bytes  int64  `json:"bytes"`
	Sha256 string `json:"sha256"`
}

// Manifest is the pack integrity document. SignatureHash covers the
// manifest content with the field itself zeroed.
type Manifest struct {
	SchemaVersion string      `json:"schemaVersion"`
	PackId        string      `json:"packId"`
	RunId         string      `json:"runId,omitempty"`
	Files         []FileEntry `json:"files"`
	TotalBytes    int64       `json:"totalBytes"`
	SignatureHash string      `json:"signatureHash,omitempty"`
}

// ComputeHash returns the deterministic sha256 of the manifest content,
// excluding the signature field itself.
func ComputeHash(m *Manifest) (string, error) {
	clone := *m
	clone.SignatureHash = ""
	data, err := json.Marshal(clone)
	if err != nil {
		return "", fmt.Errorf("marshal pack manifest: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyIntegrity checks the manifest's signature hash against its
// content.
func VerifyIntegrity(m *Manifest) error {
	if m.SignatureHash == "" {
		return errors.New("pack manifest has no signature hash")
	}
	computed, err := ComputeHash(m)
	if err != nil {
		return err
	}
	if computed != m.SignatureHash {
		return fmt.Errorf("pack manifest integrity check failed: computed %s, expected %s", computed, m.SignatureHash)
	}
	return nil
}

// Options shapes one package invocation.
type Options struct{}

// Packager stages packs for one output root.
type Packager struct {
	layout paths.Layout
	logger *zap.Logger
}

// New builds a packager. A nil logger is replaced with a no-op.
func New(layout paths.Layout, logger *zap.Logger) *Packager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Packager{layout: layout, logger: logger}
}

// Run stages the pack directory and writes pack/pack-manifest.json.
// Only approved lock entries that the catalog lists are shipped; the
// lock records the rejections, the catalog defines what the engine
// consumes, and the pack is their intersection. An approved entry whose
// file is missing fails the stage.
func (p *Packager) Run(ctx context.Context, _ Options) (*Manifest, error) {
	lock, err := contract.ReadSelectionLock(p.layout.SelectionLock())
	if err != nil {
		return nil, fmt.Errorf("package needs the selection lock: %w", err)
	}
	cat, err := process.ReadCatalog(p.layout.Catalog())
	if err != nil {
		return nil, fmt.Errorf("package needs the processed catalog: %w", err)
	}
	catalogById := make(map[string]*process.CatalogEntry, len(cat.Assets))
	for i := range cat.Assets {
		catalogById[cat.Assets[i].Id] = &cat.Assets[i]
	}

	manifest := &Manifest{
		SchemaVersion: ManifestSchemaVersion,
		PackId:        cat.PackId,
		RunId:         lock.RunId,
		Files:         []FileEntry{},
	}

	staged := map[string]bool{}
	var unapproved, uncataloged int
	for _, entry := range lock.Targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.Approved {
			unapproved++
			continue
		}
		asset, ok := catalogById[entry.TargetId]
		if !ok {
			uncataloged++
			p.logger.Debug("approved target not in catalog, not shipped", zap.String("target", entry.TargetId))
			continue
		}
		if err := p.stage(manifest, staged, entry.SelectedOutputPath); err != nil {
			return nil, fmt.Errorf("target %s: %w", entry.TargetId, err)
		}
		if asset.Animation != "" {
			if err := p.stage(manifest, staged, asset.Animation); err != nil {
				return nil, fmt.Errorf("target %s animation: %w", entry.TargetId, err)
			}
		}
	}
	if len(manifest.Files) == 0 {
		return nil, errors.New("nothing approved to package")
	}

	if err := p.stage(manifest, staged, p.layout.Rel(p.layout.Catalog())); err != nil {
		return nil, err
	}
	if err := p.stage(manifest, staged, p.layout.Rel(p.layout.SelectionLock())); err != nil {
		return nil, err
	}

	sort.Slice(manifest.Files, func(i, j int) bool { return manifest.Files[i].Path < manifest.Files[j].Path })
	manifest.SignatureHash, err = ComputeHash(manifest)
	if err != nil {
		return nil, err
	}
	if err := contract.WriteJSON(p.layout.PackManifest(), manifest); err != nil {
		return manifest, fmt.Errorf("write pack manifest: %w", err)
	}

	p.logger.Info("package stage complete",
		zap.Int("files", len(manifest.Files)),
		zap.Int64("totalBytes", manifest.TotalBytes),
		zap.Int("unapproved", unapproved),
		zap.Int("uncataloged", uncataloged))
	return manifest, nil
}

// stage copies one root-relative file into the pack directory and
// records its integrity entry. Repeat paths are staged once.
func (p *Packager) stage(m *Manifest, staged map[string]bool, rel string) error {
	if staged[rel] {
		return nil
	}
	src, err := paths.ResolveUnderRoot(p.layout.Root, rel)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", rel, err)
	}
	dst, err := paths.ResolveUnderRoot(p.layout.PackDir(), rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return fmt.Errorf("stage %s: %w", rel, err)
	}

	sum := sha256.Sum256(data)
	m.Files = append(m.Files, FileEntry{
		Path:   rel,
		Bytes:  int64(len(data)),
		Sha256: hex.EncodeToString(sum[:]),
	})
	m.TotalBytes += int64(len(data))
	staged[rel] = true
	return nil
}
