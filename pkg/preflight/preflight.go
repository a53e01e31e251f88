// Package preflight validates both sync roots before a pass begins. The
// checks are stateless; failing any of them aborts the run before a single
// file is touched. The most important one is ghost-mount detection: a share
// that silently unmounted leaves an empty directory behind, and syncing
// against that empty directory would propagate mass deletions.
package preflight

import (
	"fmt"
	"os"
	"path/filepath"
)

// CheckLocalRoot verifies the game directory exists and is a directory.
// A missing local root means a misconfiguration, never an empty install.
func CheckLocalRoot(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("local sync root %s does not exist; check the configured game directory", path)
		}
		return fmt.Errorf("cannot access local sync root %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("local sync root %s is not a directory", path)
	}
	return nil
}

// CheckRemoteRoot verifies the shared directory is reachable and actually
// backed by a mounted volume, not a leftover mount point directory.
func CheckRemoteRoot(path string) error {
	if err := checkVolumeExists(path); err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("remote sync root %s does not exist; is the share mounted?", path)
		}
		return fmt.Errorf("cannot access remote sync root %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("remote sync root %s is not a directory", path)
	}

	return validateMounted(deepestExistingAncestorOrSelf(path))
}

// deepestExistingAncestorOrSelf walks up from path to the deepest path
// component that exists on disk. For an existing path that is the path
// itself.
func deepestExistingAncestorOrSelf(path string) string {
	current := path
	for {
		if _, err := os.Stat(current); err == nil {
			return current
		}
		parent := filepath.Dir(current)
		if parent == current {
			return current
		}
		current = parent
	}
}
