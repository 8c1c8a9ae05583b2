package process

import (
	"fmt"
	"sort"

	"lootforge/internal/contract"
)

// CatalogEntry is one engine-facing asset record. Frame targets are
// excluded; the assembled sheet carries the animation sidecar instead.
type CatalogEntry struct {
	Id          string `json:"id"`
	Kind        string `json:"kind"`
	Path        string `json:"path"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Anchor      string `json:"anchor,omitempty"`
	PreviewSize string `json:"previewSize,omitempty"`
	AtlasGroup  string `json:"atlasGroup,omitempty"`
	Animation   string `json:"animation,omitempty"`
}

// Catalog is the processed-assets manifest consumed by the engine and
// the atlas and package stages.
type Catalog struct {
	PackId string         `json:"packId"`
	Assets []CatalogEntry `json:"assets"`
}

type catalog struct {
	doc Catalog
}

func newCatalog(packId string) *catalog {
	return &catalog{doc: Catalog{PackId: packId, Assets: []CatalogEntry{}}}
}

func (c *catalog) add(t contract.PlannedTarget, relPath string, width, height int, animPath string) {
	entry := CatalogEntry{
		Id:         t.Id,
		Kind:       t.Kind,
		Path:       relPath,
		Width:      width,
		Height:     height,
		AtlasGroup: t.AtlasGroup,
		Animation:  animPath,
	}
	if rs := t.RuntimeSpec; rs != nil {
		entry.Anchor = rs.Anchor
		entry.PreviewSize = rs.PreviewSize
	}
	c.doc.Assets = append(c.doc.Assets, entry)
}

func (c *catalog) write(path string) error {
	sort.Slice(c.doc.Assets, func(i, j int) bool {
		return c.doc.Assets[i].Id < c.doc.Assets[j].Id
	})
	if err := contract.WriteJSON(path, c.doc); err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	return nil
}

// ReadCatalog loads a catalog written by the process stage. The atlas,
// review, and package stages consume it.
func ReadCatalog(path string) (*Catalog, error) {
	var doc Catalog
	if err := contract.ReadJSON(path, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
