package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// partialSize returns the size of the .part file, which is the resume offset.
func partialSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("stat partial file: %w", err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("partial file %s is a directory", path)
	}
	return info.Size(), nil
}

// openPartial opens the .part file for writing. truncate discards existing bytes;
// otherwise writes append after them.
func openPartial(path string, truncate bool) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create download directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if truncate {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_APPEND
	}

	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("open partial file: %w", err)
	}
	return f, nil
}

// closePartial flushes and closes the handle.
func closePartial(f *os.File) error {
	syncErr := f.Sync()
	if err := f.Close(); err != nil {
		return err
	}
	return syncErr
}

// promote renames the completed .part file onto its final name. A rename is atomic on
// the same filesystem, so the final path never holds a short file.
func promote(partPath, finalPath string) error {
	if err := os.Rename(partPath, finalPath); err != nil {
		return fmt.Errorf("finalize %s: %w", filepath.Base(finalPath), err)
	}
	return nil
}

func discardPartial(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
