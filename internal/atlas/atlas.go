// Package atlas packs catalog-enabled processed images into shared
// texture pages, one page set per atlas group. Spritesheet sheets are
// already composed grids and stay out; everything else with an
// atlasGroup in the catalog gets a frame rect in the group's sidecar.
package atlas

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"lootforge/internal/contract"
	"lootforge/internal/imaging"
	"lootforge/internal/manifest"
	"lootforge/internal/paths"
	"lootforge/internal/process"
)

// Default page geometry for groups the manifest does not configure.
const (
	defaultPageSize = 2048
	defaultPadding  = 2
)

// Packer arranges items onto pages. The default is the shelf packer in
// internal/imaging; tests and callers with smarter packers inject here.
type Packer func(items []imaging.AtlasItem, maxW, maxH, padding int) ([]imaging.AtlasPage, error)

// Options selects the inputs for one atlas invocation.
type Options struct {
	ManifestPath string // defaults to the layout's manifest
}

// PageManifest describes one written page.
type PageManifest struct {
	Image  string                   `json:"image"` // relative to the output root
	Width  int                      `json:"width"`
	Height int                      `json:"height"`
	Frames []imaging.AtlasPlacement `json:"frames"`
}

// GroupManifest is the sidecar written next to a group's pages.
type GroupManifest struct {
	Group string         `json:"group"`
	Pages []PageManifest `json:"pages"`
}

// Report summarizes one atlas run.
type Report struct {
	Groups []GroupManifest
}

// Builder runs the atlas stage for one output root.
type Builder struct {
	layout paths.Layout
	pack   Packer
	logger *zap.Logger
}

// New builds an atlas builder with the shelf packer.
func New(layout paths.Layout, logger *zap.Logger) *Builder {
	return NewWithPacker(layout, imaging.PackAtlas, logger)
}

// NewWithPacker builds an atlas builder around a custom packer. A nil
// logger is replaced with a no-op.
func NewWithPacker(layout paths.Layout, pack Packer, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{layout: layout, pack: pack, logger: logger}
}

// Run reads the catalog, packs each atlas group, and writes the page
// images plus one .atlas.json sidecar per group. A catalog entry whose
// image cannot be read fails the stage: a page silently missing a
// sprite would corrupt the pack.
func (b *Builder) Run(ctx context.Context, opts Options) (*Report, error) {
	cat, err := process.ReadCatalog(b.layout.Catalog())
	if err != nil {
		return nil, fmt.Errorf("atlas needs the processed catalog: %w", err)
	}
	groupSpecs := b.loadGroups(opts.ManifestPath)

	grouped := map[string][]process.CatalogEntry{}
	for _, entry := range cat.Assets {
		if entry.AtlasGroup == "" {
			continue
		}
		if entry.Kind == "spritesheet" {
			b.logger.Debug("sheet excluded from atlas", zap.String("target", entry.Id))
			continue
		}
		grouped[entry.AtlasGroup] = append(grouped[entry.AtlasGroup], entry)
	}
	names := make([]string, 0, len(grouped))
	for name := range grouped {
		names = append(names, name)
	}
	sort.Strings(names)

	report := &Report{Groups: []GroupManifest{}}
	var frames int
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		gm, err := b.packGroup(name, grouped[name], groupSpecs)
		if err != nil {
			return nil, err
		}
		for _, page := range gm.Pages {
			frames += len(page.Frames)
		}
		report.Groups = append(report.Groups, *gm)
	}

	b.logger.Info("atlas stage complete",
		zap.Int("groups", len(report.Groups)),
		zap.Int("frames", frames))
	return report, nil
}

// loadGroups pulls atlas group geometry from the manifest. The stage
// still works without one; every group gets the defaults.
func (b *Builder) loadGroups(path string) map[string]manifest.AtlasGroup {
	if path == "" {
		path = b.layout.Manifest()
	}
	m, _, err := manifest.Load(path)
	if err != nil {
		b.logger.Warn("manifest unavailable; atlas groups use default geometry", zap.Error(err))
		return nil
	}
	return m.AtlasGroups
}

func pageSpec(name string, groups map[string]manifest.AtlasGroup) (maxW, maxH, padding int) {
	g, ok := groups[name]
	if !ok {
		return defaultPageSize, defaultPageSize, defaultPadding
	}
	maxW, maxH, padding = g.MaxWidth, g.MaxHeight, g.Padding
	if maxW <= 0 {
		maxW = defaultPageSize
	}
	if maxH <= 0 {
		maxH = defaultPageSize
	}
	if padding < 0 {
		padding = 0
	}
	return maxW, maxH, padding
}

func (b *Builder) packGroup(name string, entries []process.CatalogEntry, groups map[string]manifest.AtlasGroup) (*GroupManifest, error) {
	items := make([]imaging.AtlasItem, 0, len(entries))
	for _, entry := range entries {
		img, _, err := imaging.DecodeFile(filepath.Join(b.layout.Root, filepath.FromSlash(entry.Path)))
		if err != nil {
			return nil, fmt.Errorf("atlas group %s: %s: %w", name, entry.Id, err)
		}
		items = append(items, imaging.AtlasItem{Id: entry.Id, Image: img})
	}

	maxW, maxH, padding := pageSpec(name, groups)
	pages, err := b.pack(items, maxW, maxH, padding)
	if err != nil {
		return nil, fmt.Errorf("atlas group %s: %w", name, err)
	}

	gm := &GroupManifest{Group: name, Pages: make([]PageManifest, 0, len(pages))}
	for i, page := range pages {
		abs, err := paths.ResolveUnderRoot(b.layout.AtlasDir(), pageFileName(name, i, len(pages)))
		if err != nil {
			return nil, fmt.Errorf("atlas group %s: %w", name, err)
		}
		if err := writePNG(abs, page.Image); err != nil {
			return nil, fmt.Errorf("atlas group %s: %w", name, err)
		}
		gm.Pages = append(gm.Pages, PageManifest{
			Image:  b.layout.Rel(abs),
			Width:  page.Width,
			Height: page.Height,
			Frames: page.Placements,
		})
	}

	sidecar, err := paths.ResolveUnderRoot(b.layout.AtlasDir(), name+".atlas.json")
	if err != nil {
		return nil, fmt.Errorf("atlas group %s: %w", name, err)
	}
	if err := contract.WriteJSON(sidecar, gm); err != nil {
		return nil, fmt.Errorf("atlas group %s sidecar: %w", name, err)
	}
	return gm, nil
}

// pageFileName keeps the single-page common case short and suffixes
// overflow pages.
func pageFileName(group string, page, total int) string {
	if total == 1 {
		return group + ".png"
	}
	return fmt.Sprintf("%s-%d.png", group, page)
}

func writePNG(abs string, img *image.NRGBA) error {
	data, err := imaging.EncodePNG(img)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return err
	}
	return os.WriteFile(abs, data, 0644)
}
