// Package filex holds small filesystem helpers shared by the node stores.
package filex

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureSubDir creates dir/name (and parents) with owner-only permissions
// and returns its path.
func EnsureSubDir(dir, name string) (string, error) {
	sub := filepath.Join(dir, name)

	if err := os.MkdirAll(sub, 0o700); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", sub, err)
	}

	return sub, nil
}

// WriteFileAtomic writes data to a temporary file next to path and renames it
// into place, so readers never observe a partially written file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	name := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Chmod(name, perm); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("chmod %s: %w", name, err)
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
