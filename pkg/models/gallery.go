package models

// GalleryEntry is one reference identity in the gallery searched by the matcher.
// SourceRef is an opaque locator (URL or file path) for the reference payload.
type GalleryEntry struct {
	ID        string `json:"id" yaml:"id"`
	SourceRef string `json:"source" yaml:"source"`
}

// GallerySourceRefs returns the source refs of entries in gallery order.
func GallerySourceRefs(entries []GalleryEntry) []string {
	refs := make([]string, 0, len(entries))
	for _, e := range entries {
		refs = append(refs, e.SourceRef)
	}
	return refs
}
