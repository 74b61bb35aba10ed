// Package extraction unpacks finished product archives with system tools.
package extraction

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
)

// Extractor defines the behavior for extracting compress archives
type Extractor interface {
	// Extract extracts the archive at the given path to the destination directory.
	// Returns the list of extracted file paths, or an error if extraction fails.
	Extract(ctx context.Context, archivePath string, destDir string) ([]string, error)

	// CanExtract checks if this extractor can handle the given file.
	CanExtract(filename string) (bool, error)

	// Returns the human-readable name of this extractor (e.g. "ZIP")
	Name() string
}

// listFiles returns every regular file under dir. Product archives unpack into nested
// directory trees (SAFE), so the structure is left as extracted.
func listFiles(ctx context.Context, dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list extracted files: %w", err)
	}
	return paths, nil
}
