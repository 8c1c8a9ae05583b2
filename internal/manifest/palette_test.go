package manifest

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParsePaletteGimp(t *testing.T) {
	data := []byte(`GIMP Palette
Name: Dungeon16
Columns: 4
# a comment line
  0   0   0	black
255 255 255	white
136  57  24	leather brown
136  57  24	leather brown again
`)
	got, err := ParsePalette(data)
	if err != nil {
		t.Fatalf("ParsePalette failed: %v", err)
	}
	want := []string{"#000000", "#ffffff", "#883918"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("colors = %v, want %v", got, want)
	}
}

func TestParsePaletteGimpBadChannel(t *testing.T) {
	data := []byte("GIMP Palette\n0 0 300 too-bright\n")
	if _, err := ParsePalette(data); err == nil {
		t.Fatal("expected error for out-of-range channel")
	}
}

func TestParsePaletteHexList(t *testing.T) {
	data := []byte(`#1A2B3C
#ffffff, #000000
// trailing comment line
1a2b3c
`)
	got, err := ParsePalette(data)
	if err != nil {
		t.Fatalf("ParsePalette failed: %v", err)
	}
	want := []string{"#1a2b3c", "#ffffff", "#000000"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("colors = %v, want %v", got, want)
	}
}

func TestParsePaletteHexListBadToken(t *testing.T) {
	for _, bad := range []string{"#12345", "#12345g", "red", "#1234567"} {
		if _, err := ParsePalette([]byte(bad)); err == nil {
			t.Errorf("expected error for token %q", bad)
		}
	}
}

func TestParsePaletteEmpty(t *testing.T) {
	if _, err := ParsePalette([]byte("\n\n")); err == nil {
		t.Fatal("expected error for empty palette")
	}
}

func TestLoadPaletteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "colors.gpl")
	content := "GIMP Palette\nName: Tiny\n16 32 48 steel\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := LoadPaletteFile(path)
	if err != nil {
		t.Fatalf("LoadPaletteFile failed: %v", err)
	}
	if len(got) != 1 || got[0] != "#102030" {
		t.Errorf("colors = %v, want [#102030]", got)
	}

	if _, err := LoadPaletteFile(filepath.Join(t.TempDir(), "missing.gpl")); err == nil {
		t.Error("expected error for missing palette file")
	}
}
