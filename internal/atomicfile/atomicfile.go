// Package atomicfile writes files with the temp-file, fsync, rename
// pattern so readers never observe a partial file.
package atomicfile

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"
)

// Write creates path on fs with the bytes produced by fn. The parent
// directory is created if missing. On any error the temp file is removed
// and path is left untouched.
func Write(fs afero.Fs, path string, fn func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(fs, dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if err := fn(tmp); err != nil {
		tmp.Close()
		fs.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		fs.Remove(tmpName)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		fs.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := fs.Rename(tmpName, path); err != nil {
		fs.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// WriteBytes is Write for an in-memory payload.
func WriteBytes(fs afero.Fs, path string, data []byte) error {
	return Write(fs, path, func(w io.Writer) error {
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
		}
		return nil
	})
}
