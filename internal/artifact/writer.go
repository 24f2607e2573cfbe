package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Writer stores screenshots in a directory, overwriting earlier runs
type Writer struct {
	Dir string
}

// NewWriter creates a writer rooted at dir
func NewWriter(dir string) *Writer {
	return &Writer{Dir: dir}
}

// Path returns where name is stored
func (w *Writer) Path(name string) string {
	return filepath.Join(w.Dir, name)
}

// Save writes data to name inside the output directory. The directory is
// created on demand and the file is replaced atomically.
func (w *Writer) Save(name string, data []byte) (string, error) {
	if name == "" || filepath.Base(name) != name {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}

	if err := os.MkdirAll(w.Dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := w.Path(name)
	tmp, err := os.CreateTemp(w.Dir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to set permissions on %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to move %s into place: %w", path, err)
	}

	return path, nil
}

// Clean removes the named artifacts so a failed run cannot leave stale
// screenshots from an earlier one. Missing files are ignored.
func (w *Writer) Clean(names []string) error {
	var errs []error
	for _, name := range names {
		if err := os.Remove(w.Path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
