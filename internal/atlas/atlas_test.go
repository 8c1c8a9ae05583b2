package atlas

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"lootforge/internal/contract"
	"lootforge/internal/imaging"
	"lootforge/internal/manifest"
	"lootforge/internal/paths"
	"lootforge/internal/process"
)

func writeCatalog(t *testing.T, layout paths.Layout, entries ...process.CatalogEntry) {
	t.Helper()
	cat := process.Catalog{PackId: "testpack", Assets: entries}
	if err := contract.WriteJSON(layout.Catalog(), cat); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
}

func entry(id, kind, group string, w, h int) process.CatalogEntry {
	return process.CatalogEntry{
		Id:         id,
		Kind:       kind,
		Path:       "assets/imagegen/processed/images/sprites/" + id + ".png",
		Width:      w,
		Height:     h,
		AtlasGroup: group,
	}
}

func writeSprite(t *testing.T, layout paths.Layout, id string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 60, B: 30, A: 255})
		}
	}
	data, err := imaging.EncodePNG(img)
	if err != nil {
		t.Fatalf("EncodePNG: %v", err)
	}
	abs, err := layout.ProcessedOutput("sprites/" + id + ".png")
	if err != nil {
		t.Fatalf("ProcessedOutput: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func writeAtlasManifest(t *testing.T, layout paths.Layout, groups map[string]manifest.AtlasGroup) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(layout.Manifest()), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	m := &manifest.Manifest{PackId: "testpack", AtlasGroups: groups}
	if err := manifest.Save(layout.Manifest(), m); err != nil {
		t.Fatalf("save manifest: %v", err)
	}
}

func TestRunPacksGroupOntoOnePage(t *testing.T) {
	layout := paths.NewLayout(t.TempDir())
	for _, id := range []string{"archer", "brute", "caster"} {
		writeSprite(t, layout, id, 8, 8)
	}
	writeCatalog(t, layout,
		entry("archer", "sprite", "units", 8, 8),
		entry("brute", "sprite", "units", 8, 8),
		entry("caster", "sprite", "units", 8, 8))

	report, err := New(layout, nil).Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Groups) != 1 || report.Groups[0].Group != "units" {
		t.Fatalf("groups = %+v", report.Groups)
	}
	pages := report.Groups[0].Pages
	if len(pages) != 1 {
		t.Fatalf("pages = %d, want 1", len(pages))
	}

	page := pages[0]
	if page.Image != "assets/imagegen/processed/atlas/units.png" {
		t.Errorf("page image = %q", page.Image)
	}
	// Equal heights pack in id order with the default 2px padding.
	if len(page.Frames) != 3 {
		t.Fatalf("frames = %+v", page.Frames)
	}
	wantX := []int{0, 10, 20}
	for i, frame := range page.Frames {
		if frame.X != wantX[i] || frame.Y != 0 || frame.W != 8 || frame.H != 8 {
			t.Errorf("frame %d = %+v", i, frame)
		}
	}
	if page.Width != 28 || page.Height != 8 {
		t.Errorf("page size = %dx%d", page.Width, page.Height)
	}

	img, _, err := imaging.DecodeFile(filepath.Join(layout.Root, filepath.FromSlash(page.Image)))
	if err != nil {
		t.Fatalf("page not written: %v", err)
	}
	if img.Bounds().Dx() != 28 || img.Bounds().Dy() != 8 {
		t.Errorf("written page is %v", img.Bounds())
	}

	var sidecar GroupManifest
	if err := contract.ReadJSON(filepath.Join(layout.AtlasDir(), "units.atlas.json"), &sidecar); err != nil {
		t.Fatalf("sidecar: %v", err)
	}
	if sidecar.Group != "units" || len(sidecar.Pages) != 1 || len(sidecar.Pages[0].Frames) != 3 {
		t.Errorf("sidecar = %+v", sidecar)
	}
}

func TestRunSplitsAcrossPages(t *testing.T) {
	layout := paths.NewLayout(t.TempDir())
	for _, id := range []string{"archer", "brute", "caster"} {
		writeSprite(t, layout, id, 8, 8)
	}
	writeCatalog(t, layout,
		entry("archer", "sprite", "units", 8, 8),
		entry("brute", "sprite", "units", 8, 8),
		entry("caster", "sprite", "units", 8, 8))
	writeAtlasManifest(t, layout, map[string]manifest.AtlasGroup{
		"units": {MaxWidth: 20, MaxHeight: 8, Padding: 0},
	})

	report, err := New(layout, nil).Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	pages := report.Groups[0].Pages
	if len(pages) != 2 {
		t.Fatalf("pages = %d, want 2", len(pages))
	}
	if pages[0].Image != "assets/imagegen/processed/atlas/units-0.png" ||
		pages[1].Image != "assets/imagegen/processed/atlas/units-1.png" {
		t.Errorf("page images = %q, %q", pages[0].Image, pages[1].Image)
	}
	if len(pages[0].Frames) != 2 || len(pages[1].Frames) != 1 {
		t.Errorf("frame split = %d + %d", len(pages[0].Frames), len(pages[1].Frames))
	}
	for _, page := range pages {
		if _, err := os.Stat(filepath.Join(layout.Root, filepath.FromSlash(page.Image))); err != nil {
			t.Errorf("page missing on disk: %v", err)
		}
	}
}

func TestSheetsAndUngroupedEntriesStayOut(t *testing.T) {
	layout := paths.NewLayout(t.TempDir())
	writeSprite(t, layout, "archer", 8, 8)
	writeSprite(t, layout, "walk-sheet", 8, 8)
	writeSprite(t, layout, "portrait", 8, 8)
	writeCatalog(t, layout,
		entry("archer", "sprite", "units", 8, 8),
		entry("walk-sheet", "spritesheet", "units", 8, 8),
		entry("portrait", "sprite", "", 8, 8))

	report, err := New(layout, nil).Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Groups) != 1 {
		t.Fatalf("groups = %+v", report.Groups)
	}
	frames := report.Groups[0].Pages[0].Frames
	if len(frames) != 1 || frames[0].Id != "archer" {
		t.Errorf("frames = %+v, want archer only", frames)
	}
}

func TestMissingImageFailsTheStage(t *testing.T) {
	layout := paths.NewLayout(t.TempDir())
	writeCatalog(t, layout, entry("archer", "sprite", "units", 8, 8))

	if _, err := New(layout, nil).Run(context.Background(), Options{}); err == nil {
		t.Fatal("Run succeeded with an unreadable group member")
	}
}

func TestRunWithoutCatalogFails(t *testing.T) {
	layout := paths.NewLayout(t.TempDir())
	if _, err := New(layout, nil).Run(context.Background(), Options{}); err == nil {
		t.Fatal("Run succeeded without a catalog")
	}
}

func TestRunWithNoGroupsWritesNothing(t *testing.T) {
	layout := paths.NewLayout(t.TempDir())
	writeSprite(t, layout, "portrait", 8, 8)
	writeCatalog(t, layout, entry("portrait", "sprite", "", 8, 8))

	report, err := New(layout, nil).Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Groups) != 0 {
		t.Errorf("groups = %+v", report.Groups)
	}
	if _, err := os.Stat(layout.AtlasDir()); !os.IsNotExist(err) {
		t.Errorf("atlas dir created for an empty run: %v", err)
	}
}
