package pack

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lootforge/internal/contract"
	"lootforge/internal/paths"
	"lootforge/internal/process"
)

func hashHex(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

func lockEntry(id string, approved bool) contract.LockEntry {
	return contract.LockEntry{
		TargetId:           id,
		Approved:           approved,
		InputHash:          hashHex(id),
		SelectedOutputPath: "assets/imagegen/processed/images/sprites/" + id + ".png",
		Provider:           "openai",
		FinalScore:         80,
	}
}

func writeLock(t *testing.T, layout paths.Layout, entries ...contract.LockEntry) {
	t.Helper()
	lock := contract.SelectionLock{
		ContractVersion: contract.ContractVersion,
		RunId:           "aabbccdd00112233",
		Targets:         entries,
	}
	if err := contract.WriteFile(contract.KindSelectionLock, layout.SelectionLock(), lock); err != nil {
		t.Fatalf("write lock: %v", err)
	}
}

func catalogAsset(id string) process.CatalogEntry {
	return process.CatalogEntry{
		Id:     id,
		Kind:   "sprite",
		Path:   "assets/imagegen/processed/images/sprites/" + id + ".png",
		Width:  8,
		Height: 8,
	}
}

func writeCatalog(t *testing.T, layout paths.Layout, assets ...process.CatalogEntry) {
	t.Helper()
	cat := process.Catalog{PackId: "testpack", Assets: assets}
	if err := contract.WriteJSON(layout.Catalog(), cat); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
}

func writePayload(t *testing.T, layout paths.Layout, rel string, data []byte) {
	t.Helper()
	abs, err := paths.ResolveUnderRoot(layout.Root, rel)
	if err != nil {
		t.Fatalf("resolve %s: %v", rel, err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func packedBytes(t *testing.T, layout paths.Layout, rel string) []byte {
	t.Helper()
	abs, err := paths.ResolveUnderRoot(layout.PackDir(), rel)
	if err != nil {
		t.Fatalf("resolve %s: %v", rel, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		t.Fatalf("read staged %s: %v", rel, err)
	}
	return data
}

func TestRunStagesApprovedCatalogListedOutputs(t *testing.T) {
	layout := paths.NewLayout(t.TempDir())
	heroPixels := []byte("hero-pixels")
	writePayload(t, layout, "assets/imagegen/processed/images/sprites/hero.png", heroPixels)
	writePayload(t, layout, "assets/imagegen/processed/images/sprites/orc.png", []byte("orc-pixels"))
	writeCatalog(t, layout, catalogAsset("hero"), catalogAsset("orc"))
	writeLock(t, layout,
		lockEntry("hero", true),
		lockEntry("orc", true),
		lockEntry("ghost", false),
		lockEntry("style-ref", true)) // approved but catalog-disabled, stays out

	m, err := New(layout, nil).Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if m.SchemaVersion != ManifestSchemaVersion || m.PackId != "testpack" || m.RunId != "aabbccdd00112233" {
		t.Errorf("manifest header = %+v", m)
	}

	want := []string{
		"assets/imagegen/processed/catalog.json",
		"assets/imagegen/processed/images/sprites/hero.png",
		"assets/imagegen/processed/images/sprites/orc.png",
		"locks/selection-lock.json",
	}
	if len(m.Files) != len(want) {
		t.Fatalf("files = %+v", m.Files)
	}
	var total int64
	for i, f := range m.Files {
		if f.Path != want[i] {
			t.Errorf("files[%d].Path = %q, want %q", i, f.Path, want[i])
		}
		staged := packedBytes(t, layout, f.Path)
		if int64(len(staged)) != f.Bytes {
			t.Errorf("%s: staged %d bytes, manifest says %d", f.Path, len(staged), f.Bytes)
		}
		sum := sha256.Sum256(staged)
		if hex.EncodeToString(sum[:]) != f.Sha256 {
			t.Errorf("%s: staged bytes do not match manifest sha256", f.Path)
		}
		total += f.Bytes
	}
	if m.TotalBytes != total {
		t.Errorf("TotalBytes = %d, want %d", m.TotalBytes, total)
	}
	if !bytes.Equal(packedBytes(t, layout, want[1]), heroPixels) {
		t.Error("hero payload changed while staging")
	}
	if err := VerifyIntegrity(m); err != nil {
		t.Errorf("VerifyIntegrity: %v", err)
	}

	var onDisk Manifest
	if err := contract.ReadJSON(layout.PackManifest(), &onDisk); err != nil {
		t.Fatalf("read pack manifest: %v", err)
	}
	if err := VerifyIntegrity(&onDisk); err != nil {
		t.Errorf("VerifyIntegrity on disk: %v", err)
	}
}

func TestAnimationSidecarShipsWithItsSheet(t *testing.T) {
	layout := paths.NewLayout(t.TempDir())
	writePayload(t, layout, "assets/imagegen/processed/images/sprites/goblin-walk.png", []byte("sheet"))
	writePayload(t, layout, "assets/imagegen/processed/images/sprites/goblin-walk.anim.json", []byte("{}"))
	asset := catalogAsset("goblin-walk")
	asset.Kind = "spritesheet"
	asset.Path = "assets/imagegen/processed/images/sprites/goblin-walk.png"
	asset.Animation = "assets/imagegen/processed/images/sprites/goblin-walk.anim.json"
	writeCatalog(t, layout, asset)
	entry := lockEntry("goblin-walk", true)
	entry.SelectedOutputPath = asset.Path
	writeLock(t, layout, entry)

	m, err := New(layout, nil).Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	found := false
	for _, f := range m.Files {
		if f.Path == asset.Animation {
			found = true
		}
	}
	if !found {
		t.Fatalf("animation sidecar missing from manifest: %+v", m.Files)
	}
	if got := packedBytes(t, layout, asset.Animation); string(got) != "{}" {
		t.Errorf("staged sidecar = %q", got)
	}
}

func TestTamperedManifestFailsIntegrity(t *testing.T) {
	layout := paths.NewLayout(t.TempDir())
	writePayload(t, layout, "assets/imagegen/processed/images/sprites/hero.png", []byte("hero-pixels"))
	writeCatalog(t, layout, catalogAsset("hero"))
	writeLock(t, layout, lockEntry("hero", true))

	m, err := New(layout, nil).Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	m.Files[0].Bytes++
	if err := VerifyIntegrity(m); err == nil {
		t.Fatal("tampered manifest passed integrity check")
	}

	m.SignatureHash = ""
	if err := VerifyIntegrity(m); err == nil {
		t.Fatal("unsigned manifest passed integrity check")
	}
}

func TestMissingApprovedOutputFailsTheStage(t *testing.T) {
	layout := paths.NewLayout(t.TempDir())
	writeCatalog(t, layout, catalogAsset("hero"))
	writeLock(t, layout, lockEntry("hero", true))

	_, err := New(layout, nil).Run(context.Background(), Options{})
	if err == nil {
		t.Fatal("expected error for missing approved output")
	}
	if !strings.Contains(err.Error(), "hero") {
		t.Errorf("error does not name the target: %v", err)
	}
}

func TestNothingApprovedFails(t *testing.T) {
	layout := paths.NewLayout(t.TempDir())
	writePayload(t, layout, "assets/imagegen/processed/images/sprites/hero.png", []byte("hero-pixels"))
	writeCatalog(t, layout, catalogAsset("hero"))
	writeLock(t, layout, lockEntry("hero", false))

	_, err := New(layout, nil).Run(context.Background(), Options{})
	if err == nil || !strings.Contains(err.Error(), "nothing approved") {
		t.Fatalf("err = %v", err)
	}
}

func TestRunFailsWithoutLockOrCatalog(t *testing.T) {
	layout := paths.NewLayout(t.TempDir())
	if _, err := New(layout, nil).Run(context.Background(), Options{}); err == nil || !strings.Contains(err.Error(), "selection lock") {
		t.Fatalf("missing lock: err = %v", err)
	}

	writeLock(t, layout, lockEntry("hero", true))
	if _, err := New(layout, nil).Run(context.Background(), Options{}); err == nil || !strings.Contains(err.Error(), "catalog") {
		t.Fatalf("missing catalog: err = %v", err)
	}
}
