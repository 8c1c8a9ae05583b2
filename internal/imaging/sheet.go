package imaging

import (
	"fmt"
	"image"
	"image/draw"
	"sort"
)

// ComposeSheet lays out animation rows on one spritesheet: row r holds
// the frames of animation r, left to right. Every frame must already be
// exactly frameW by frameH.
func ComposeSheet(rows [][]*image.NRGBA, frameW, frameH int) (*image.NRGBA, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("compose sheet: no animation rows")
	}
	if frameW <= 0 || frameH <= 0 {
		return nil, fmt.Errorf("compose sheet: invalid frame size %dx%d", frameW, frameH)
	}
	maxFrames := 0
	for r, row := range rows {
		if len(row) == 0 {
			return nil, fmt.Errorf("compose sheet: animation row %d is empty", r)
		}
		if len(row) > maxFrames {
			maxFrames = len(row)
		}
		for f, frame := range row {
			if frame.Bounds().Dx() != frameW || frame.Bounds().Dy() != frameH {
				return nil, fmt.Errorf("compose sheet: frame %d of row %d is %dx%d, want %dx%d",
					f, r, frame.Bounds().Dx(), frame.Bounds().Dy(), frameW, frameH)
			}
		}
	}

	sheet := image.NewNRGBA(image.Rect(0, 0, maxFrames*frameW, len(rows)*frameH))
	for r, row := range rows {
		for f, frame := range row {
			rect := image.Rect(f*frameW, r*frameH, (f+1)*frameW, (r+1)*frameH)
			draw.Draw(sheet, rect, frame, frame.Bounds().Min, draw.Src)
		}
	}
	return sheet, nil
}

// AtlasItem is one image to pack.
type AtlasItem struct {
	Id    string
	Image *image.NRGBA
}

// AtlasPlacement locates one item on a page.
type AtlasPlacement struct {
	Id string `json:"id"`
	X  int    `json:"x"`
	Y  int    `json:"y"`
	W  int    `json:"w"`
	H  int    `json:"h"`
}

// AtlasPage is one packed page, sized to its used extent.
type AtlasPage struct {
	Width      int
	Height     int
	Placements []AtlasPlacement
	Image      *image.NRGBA
}

// PackAtlas packs items onto pages with a shelf packer: items sorted by
// height then id, placed left to right, new shelf when a row fills, new
// page when a page fills. Deterministic for identical inputs.
func PackAtlas(items []AtlasItem, maxW, maxH, padding int) ([]AtlasPage, error) {
	if maxW <= 0 || maxH <= 0 {
		return nil, fmt.Errorf("pack atlas: invalid page size %dx%d", maxW, maxH)
	}
	if padding < 0 {
		padding = 0
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("pack atlas: no items")
	}

	sorted := make([]AtlasItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		hi, hj := sorted[i].Image.Bounds().Dy(), sorted[j].Image.Bounds().Dy()
		if hi != hj {
			return hi > hj
		}
		return sorted[i].Id < sorted[j].Id
	})

	var pages []AtlasPage
	var current []AtlasPlacement
	x, y, shelfH := 0, 0, 0
	usedW, usedH := 0, 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		pages = append(pages, AtlasPage{Width: usedW, Height: usedH, Placements: current})
		current = nil
		x, y, shelfH, usedW, usedH = 0, 0, 0, 0, 0
	}

	for _, item := range sorted {
		w, h := item.Image.Bounds().Dx(), item.Image.Bounds().Dy()
		if w > maxW || h > maxH {
			return nil, fmt.Errorf("pack atlas: item %s (%dx%d) exceeds page size %dx%d", item.Id, w, h, maxW, maxH)
		}
		if x > 0 && x+w > maxW {
			// next shelf
			x = 0
			y += shelfH + padding
			shelfH = 0
		}
		if y+h > maxH {
			flush()
		}
		current = append(current, AtlasPlacement{Id: item.Id, X: x, Y: y, W: w, H: h})
		if x+w > usedW {
			usedW = x + w
		}
		if y+h > usedH {
			usedH = y + h
		}
		if h > shelfH {
			shelfH = h
		}
		x += w + padding
	}
	flush()

	for i := range pages {
		img := image.NewNRGBA(image.Rect(0, 0, pages[i].Width, pages[i].Height))
		for _, p := range pages[i].Placements {
			src := findItem(sorted, p.Id)
			rect := image.Rect(p.X, p.Y, p.X+p.W, p.Y+p.H)
			draw.Draw(img, rect, src, src.Bounds().Min, draw.Src)
		}
		pages[i].Image = img
	}
	return pages, nil
}

func findItem(items []AtlasItem, id string) *image.NRGBA {
	for _, it := range items {
		if it.Id == id {
			return it.Image
		}
	}
	return nil
}
