// Package gallery loads the reference gallery from a JSON or YAML file.
//
// Entries may use either {id, source} or the {name, image} shape of exported
// employee lists; both fields of one pair are required.
package gallery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/pario-ai/facegate/pkg/models"
)

// ErrInvalidGallery is returned for malformed gallery files.
var ErrInvalidGallery = errors.New("invalid gallery")

type fileEntry struct {
	ID     string `json:"id" yaml:"id"`
	Source string `json:"source" yaml:"source"`
	Name   string `json:"name" yaml:"name"`
	Image  string `json:"image" yaml:"image"`
}

// Load reads a gallery file. Files ending in .yaml or .yml are parsed as YAML,
// everything else as JSON.
func Load(path string) ([]models.GalleryEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gallery: %w", err)
	}

	var raw []fileEntry
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	default:
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("parse gallery %s: %w", path, errors.Join(ErrInvalidGallery, err))
	}

	entries := make([]models.GalleryEntry, 0, len(raw))
	for i, r := range raw {
		e := models.GalleryEntry{ID: r.ID, SourceRef: r.Source}
		if e.ID == "" {
			e.ID = r.Name
		}
		if e.SourceRef == "" {
			e.SourceRef = r.Image
		}
		if e.ID == "" || e.SourceRef == "" {
			return nil, fmt.Errorf("gallery entry %d: %w: id and source are required", i, ErrInvalidGallery)
		}
		entries = append(entries, e)
	}
	return entries, Validate(entries)
}

// Merge appends extra after base and validates the result.
func Merge(base, extra []models.GalleryEntry) ([]models.GalleryEntry, error) {
	out := make([]models.GalleryEntry, 0, len(base)+len(extra))
	out = append(out, base...)
	out = append(out, extra...)
	if err := Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate rejects empty and duplicate IDs.
func Validate(entries []models.GalleryEntry) error {
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.ID == "" || e.SourceRef == "" {
			return fmt.Errorf("%w: entry %+v is missing id or source", ErrInvalidGallery, e)
		}
		if seen[e.ID] {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidGallery, e.ID)
		}
		seen[e.ID] = true
	}
	return nil
}
