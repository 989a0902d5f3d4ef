package fetch

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// FileFetcher reads payloads from the local filesystem. Relative paths are
// resolved against Root when it is set.
type FileFetcher struct {
	Root     string
	MaxBytes int64
}

// Fetch reads the file named by sourceRef, which may be a bare path or a file:// URL.
func (f *FileFetcher) Fetch(ctx context.Context, sourceRef string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := sourceRef
	if strings.HasPrefix(sourceRef, "file://") {
		u, err := url.Parse(sourceRef)
		if err != nil {
			return nil, fmt.Errorf("parse file url: %w", err)
		}
		path = u.Path
	}
	if f.Root != "" && !filepath.IsAbs(path) {
		path = filepath.Join(f.Root, path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open payload: %w", err)
	}
	defer file.Close()

	reader := io.Reader(file)
	if f.MaxBytes > 0 {
		reader = io.LimitReader(file, f.MaxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	if f.MaxBytes > 0 && int64(len(data)) > f.MaxBytes {
		return nil, fmt.Errorf("read payload %s: %w", path, ErrTooLarge)
	}
	return data, nil
}
