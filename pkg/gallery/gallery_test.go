package gallery

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/pario-ai/facegate/pkg/models"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadJSONEmployeeShape(t *testing.T) {
	path := writeFile(t, "employees.json", `[
		{"name": "Alice", "image": "https://example.com/alice.jpg"},
		{"name": "Bob", "image": "https://example.com/bob.jpg"}
	]`)

	entries, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ID != "Alice" || entries[0].SourceRef != "https://example.com/alice.jpg" {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].ID != "Bob" {
		t.Errorf("order not preserved: %+v", entries)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "gallery.yaml", `
- id: alice
  source: refs/alice.jpg
- id: bob
  source: refs/bob.jpg
`)

	entries, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[1].SourceRef != "refs/bob.jpg" {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestLoadRejectsDuplicates(t *testing.T) {
	path := writeFile(t, "gallery.json", `[{"id":"a","source":"x"},{"id":"a","source":"y"}]`)
	_, err := Load(path)
	if !errors.Is(err, ErrInvalidGallery) {
		t.Errorf("expected ErrInvalidGallery, got %v", err)
	}
}

func TestLoadRejectsMissingSource(t *testing.T) {
	path := writeFile(t, "gallery.json", `[{"id":"a"}]`)
	if _, err := Load(path); !errors.Is(err, ErrInvalidGallery) {
		t.Errorf("expected ErrInvalidGallery, got %v", err)
	}
}

func TestLoadMalformed(t *testing.T) {
	path := writeFile(t, "gallery.json", `{not json`)
	if _, err := Load(path); !errors.Is(err, ErrInvalidGallery) {
		t.Errorf("expected ErrInvalidGallery, got %v", err)
	}
}

func TestMerge(t *testing.T) {
	base := []models.GalleryEntry{{ID: "a", SourceRef: "x"}}
	merged, err := Merge(base, []models.GalleryEntry{{ID: "b", SourceRef: "y"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(merged) != 2 || merged[1].ID != "b" {
		t.Errorf("unexpected merge: %+v", merged)
	}

	if _, err := Merge(base, base); err == nil {
		t.Error("expected duplicate error")
	}
}
