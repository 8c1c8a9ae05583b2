package paths

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveUnderRoot(t *testing.T) {
	root := t.TempDir()

	t.Run("plain relative path", func(t *testing.T) {
		got, err := ResolveUnderRoot(root, "sprites/hero.png")
		if err != nil {
			t.Fatalf("ResolveUnderRoot failed: %v", err)
		}
		want := filepath.Join(root, "sprites", "hero.png")
		if got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	})

	t.Run("backslash separators normalize", func(t *testing.T) {
		got, err := ResolveUnderRoot(root, `sprites\hero.png`)
		if err != nil {
			t.Fatalf("ResolveUnderRoot failed: %v", err)
		}
		want := filepath.Join(root, "sprites", "hero.png")
		if got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	})

	t.Run("escape rejected", func(t *testing.T) {
		_, err := ResolveUnderRoot(root, "../../escape.png")
		if !errors.Is(err, ErrEscapesRoot) {
			t.Errorf("expected ErrEscapesRoot, got %v", err)
		}
	})

	t.Run("dot segments inside root allowed", func(t *testing.T) {
		got, err := ResolveUnderRoot(root, "sprites/../tiles/grass.png")
		if err != nil {
			t.Fatalf("ResolveUnderRoot failed: %v", err)
		}
		want := filepath.Join(root, "tiles", "grass.png")
		if got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	})

	t.Run("null byte rejected", func(t *testing.T) {
		_, err := ResolveUnderRoot(root, "hero\x00.png")
		if !errors.Is(err, ErrNullByte) {
			t.Errorf("expected ErrNullByte, got %v", err)
		}
	})

	t.Run("empty rejected", func(t *testing.T) {
		_, err := ResolveUnderRoot(root, "   ")
		if !errors.Is(err, ErrEmpty) {
			t.Errorf("expected ErrEmpty, got %v", err)
		}
	})

	t.Run("sibling prefix does not count as inside", func(t *testing.T) {
		// root = /tmp/x, path resolving to /tmp/x-evil must be rejected.
		_, err := ResolveUnderRoot(root, "../"+filepath.Base(root)+"-evil/a.png")
		if !errors.Is(err, ErrEscapesRoot) {
			t.Errorf("expected ErrEscapesRoot, got %v", err)
		}
	})
}

func TestUniquenessKey(t *testing.T) {
	cases := []struct {
		a, b string
	}{
		{"Sprites/Hero.png", `sprites\hero.png`},
		{"tiles/grass.png", "tiles/grass.png"},
		{"./ui/icon.png", "ui/icon.png"},
		{"a/b/../c.png", "a/c.png"},
	}
	for _, tc := range cases {
		if UniquenessKey(tc.a) != UniquenessKey(tc.b) {
			t.Errorf("expected %q and %q to share a key, got %q vs %q",
				tc.a, tc.b, UniquenessKey(tc.a), UniquenessKey(tc.b))
		}
	}

	if UniquenessKey("sprites/hero.png") == UniquenessKey("sprites/heroine.png") {
		t.Error("distinct paths must not collide")
	}
}

func TestLayout(t *testing.T) {
	l := NewLayout(filepath.Join("game", "public"))

	if got := l.TargetsIndex(); !strings.HasSuffix(got, filepath.Join("jobs", "targets-index.json")) {
		t.Errorf("unexpected targets index path: %s", got)
	}
	if got := l.Provenance(); !strings.HasSuffix(got, filepath.Join("provenance", "run.json")) {
		t.Errorf("unexpected provenance path: %s", got)
	}
	if got := l.AcceptanceReport(); !strings.HasSuffix(got, filepath.Join("checks", "image-acceptance-report.json")) {
		t.Errorf("unexpected acceptance report path: %s", got)
	}
	if got := l.Manifest(); !strings.HasSuffix(got, filepath.Join("assets", "imagegen", "manifest.json")) {
		t.Errorf("unexpected manifest path: %s", got)
	}

	raw, err := l.RawOutput("sprites/hero.png")
	if err != nil {
		t.Fatalf("RawOutput failed: %v", err)
	}
	if !strings.Contains(raw, filepath.Join("assets", "imagegen", "raw", "sprites", "hero.png")) {
		t.Errorf("unexpected raw output path: %s", raw)
	}

	if _, err := l.ProcessedOutput("../../../etc/passwd"); err == nil {
		t.Error("expected escape rejection for processed output")
	}
}
