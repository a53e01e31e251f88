// Package pathutil provides path normalization and permission helpers shared
// by the scanner, reconciler and journal. Relative path keys are always
// forward-slash separated regardless of platform; conversion back to the
// OS-native form happens only at the filesystem boundary.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Permission constants for file and directory modes.
const (
	// PermUserWrite is the owner-write permission bit (0200).
	PermUserWrite os.FileMode = 0200

	// UserWritableDirPerms represents the standard permissions for newly created directories (rwxr-xr-x).
	UserWritableDirPerms os.FileMode = 0755
	// UserWritableFilePerms represents the standard permissions for newly created files (rw-r--r--).
	UserWritableFilePerms os.FileMode = 0644
)

// WithUserWritePermission ensures a permission set has the owner-write bit.
// Mirrored files keep their source mode otherwise, but the syncing user must
// never be locked out of its own destination on a later run.
func WithUserWritePermission(basePerm os.FileMode) os.FileMode {
	return basePerm | PermUserWrite
}

// NormalizePath converts a path to the canonical forward-slash key form.
func NormalizePath(p string) string {
	return filepath.ToSlash(p)
}

// NormalizeRelPath computes the relative path of abs under root and returns
// it as a normalized key. The root itself yields ".".
func NormalizeRelPath(root, abs string) (string, error) {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", fmt.Errorf("could not compute relative path of %s under %s: %w", abs, root, err)
	}
	return filepath.ToSlash(rel), nil
}

// DenormalizeAbsPath joins a normalized relative key onto a root using the
// OS-native separator, for actual filesystem access.
func DenormalizeAbsPath(root, relKey string) string {
	return filepath.Join(root, filepath.FromSlash(relKey))
}

// Segments splits a normalized relative key into its path components.
// "." yields an empty slice.
func Segments(relKey string) []string {
	if relKey == "" || relKey == "." {
		return nil
	}
	return strings.Split(relKey, "/")
}

// Depth returns the number of path segments in a normalized relative key.
func Depth(relKey string) int {
	return len(Segments(relKey))
}

// IsHostCaseInsensitiveFS reports whether the host OS uses a case-insensitive
// filesystem by default.
func IsHostCaseInsensitiveFS() bool {
	return runtime.GOOS == "windows" || runtime.GOOS == "darwin"
}

// ExpandPath expands a leading tilde to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not get user home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}

// MergeAndDeduplicate combines multiple string slices into one, dropping
// duplicates. Order is not preserved.
func MergeAndDeduplicate(slices ...[]string) []string {
	combined := make(map[string]struct{})
	for _, s := range slices {
		for _, item := range s {
			combined[item] = struct{}{}
		}
	}
	result := make([]string, 0, len(combined))
	for item := range combined {
		result = append(result, item)
	}
	return result
}

// ByteCountIEC renders a byte count in human-readable IEC units (KiB, MiB...).
func ByteCountIEC(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
