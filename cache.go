package epubemoji

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Cache is the on-disk asset cache: a flat directory of "<key>.png" files.
// It is shared between runs and processes. Entries are only ever added;
// each write goes to a temporary file that is renamed into place, so a
// reader never observes a partially written image.
type Cache struct {
	dir string
}

// NewCache returns a Cache rooted at dir. The directory is created on the
// first write.
func NewCache(dir string) *Cache {
	return &Cache{dir: dir}
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Path returns the file path for key.
func (c *Cache) Path(key Key) string {
	return filepath.Join(c.dir, key.Filename())
}

// Has reports whether a non-empty image for key is present.
func (c *Cache) Has(key Key) bool {
	info, err := os.Stat(c.Path(key))
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// Read returns the cached bytes for key. A missing entry yields an error
// satisfying errors.Is(err, fs.ErrNotExist).
func (c *Cache) Read(key Key) ([]byte, error) {
	data, err := os.ReadFile(c.Path(key))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("epubemoji: cached image %s is empty: %w", key.Filename(), fs.ErrNotExist)
	}
	return data, nil
}

// Write stores data under key atomically.
func (c *Cache) Write(key Key, data []byte) error {
	if err := writeFileAtomic(c.Path(key), data); err != nil {
		return fmt.Errorf("%w: %v", ErrAssetWrite, err)
	}
	return nil
}

// writeFileAtomic writes data to a temporary file next to name and renames
// it into place, creating the parent directory if needed. Readers see
// either the previous file or the complete new one.
func writeFileAtomic(name string, data []byte) error {
	dir := filepath.Dir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(name)+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpPath, err)
	}

	// Concurrent writers of the same cache key hold identical bytes, so
	// the last rename winning is fine.
	if err := os.Rename(tmpPath, name); err != nil {
		return fmt.Errorf("rename to %s: %w", name, err)
	}
	success = true
	return nil
}
