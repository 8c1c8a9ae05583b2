package imaging

import (
	"image"
	"testing"
)

func TestComposeSheet(t *testing.T) {
	rows := [][]*image.NRGBA{
		{solid(8, 8, red), solid(8, 8, green), solid(8, 8, blue)},
		{solid(8, 8, white)},
	}
	sheet, err := ComposeSheet(rows, 8, 8)
	if err != nil {
		t.Fatalf("ComposeSheet failed: %v", err)
	}
	if sheet.Bounds().Dx() != 24 || sheet.Bounds().Dy() != 16 {
		t.Fatalf("sheet size = %v, want 24x16", sheet.Bounds())
	}
	if sheet.NRGBAAt(0, 0) != red || sheet.NRGBAAt(8, 0) != green || sheet.NRGBAAt(16, 0) != blue {
		t.Error("row 0 frames misplaced")
	}
	if sheet.NRGBAAt(0, 8) != white {
		t.Error("row 1 frame misplaced")
	}
	if sheet.NRGBAAt(8, 8).A != 0 {
		t.Error("unused cells should stay transparent")
	}
}

func TestComposeSheetRejectsBadFrames(t *testing.T) {
	if _, err := ComposeSheet(nil, 8, 8); err == nil {
		t.Error("expected error for no rows")
	}
	if _, err := ComposeSheet([][]*image.NRGBA{{}}, 8, 8); err == nil {
		t.Error("expected error for empty row")
	}
	rows := [][]*image.NRGBA{{solid(4, 8, red)}}
	if _, err := ComposeSheet(rows, 8, 8); err == nil {
		t.Error("expected error for wrong frame size")
	}
}

func TestPackAtlasSinglePage(t *testing.T) {
	items := []AtlasItem{
		{Id: "a", Image: solid(10, 10, red)},
		{Id: "b", Image: solid(10, 6, green)},
		{Id: "c", Image: solid(10, 6, blue)},
	}
	pages, err := PackAtlas(items, 32, 32, 1)
	if err != nil {
		t.Fatalf("PackAtlas failed: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("pages = %d, want 1", len(pages))
	}
	page := pages[0]
	if len(page.Placements) != 3 {
		t.Fatalf("placements = %d", len(page.Placements))
	}
	// Tallest first: "a" leads.
	if page.Placements[0].Id != "a" || page.Placements[0].X != 0 || page.Placements[0].Y != 0 {
		t.Errorf("first placement = %+v", page.Placements[0])
	}
	// No overlaps.
	for i := 0; i < len(page.Placements); i++ {
		for j := i + 1; j < len(page.Placements); j++ {
			a, b := page.Placements[i], page.Placements[j]
			if a.X < b.X+b.W && b.X < a.X+a.W && a.Y < b.Y+b.H && b.Y < a.Y+a.H {
				t.Errorf("placements overlap: %+v and %+v", a, b)
			}
		}
	}
	if page.Image.Bounds().Dx() != page.Width || page.Image.Bounds().Dy() != page.Height {
		t.Error("page image size disagrees with used extent")
	}
}

func TestPackAtlasSpillsToSecondPage(t *testing.T) {
	items := []AtlasItem{
		{Id: "a", Image: solid(16, 16, red)},
		{Id: "b", Image: solid(16, 16, green)},
		{Id: "c", Image: solid(16, 16, blue)},
	}
	pages, err := PackAtlas(items, 20, 20, 0)
	if err != nil {
		t.Fatalf("PackAtlas failed: %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("pages = %d, want 3 (one 16x16 item per 20x20 page)", len(pages))
	}
}

func TestPackAtlasRejectsOversizedItem(t *testing.T) {
	items := []AtlasItem{{Id: "big", Image: solid(64, 64, red)}}
	if _, err := PackAtlas(items, 32, 32, 0); err == nil {
		t.Fatal("expected error for oversized item")
	}
}

func TestPackAtlasDeterministic(t *testing.T) {
	items := []AtlasItem{
		{Id: "z", Image: solid(8, 8, red)},
		{Id: "a", Image: solid(8, 8, green)},
		{Id: "m", Image: solid(8, 4, blue)},
	}
	first, err := PackAtlas(items, 32, 32, 1)
	if err != nil {
		t.Fatal(err)
	}
	second, err := PackAtlas(items, 32, 32, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != len(second) {
		t.Fatal("page count changed between runs")
	}
	for i := range first {
		for j := range first[i].Placements {
			if first[i].Placements[j] != second[i].Placements[j] {
				t.Fatalf("placement %d/%d differs between runs", i, j)
			}
		}
	}
	// Equal heights order by id: a before z.
	for _, p := range first[0].Placements {
		if p.Id == "a" && p.X != 0 {
			t.Error("item a should pack first among equal heights")
		}
	}
}
