//go:build !windows

package preflight

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// checkVolumeExists is a no-op on unix; there are no drive letters to probe.
func checkVolumeExists(string) error { return nil }

// validateMounted detects ghost mount points. An unmounted share leaves its
// mount point directory on the root filesystem; comparing device IDs against
// "/" catches that. Paths under the user's home or a temp directory are
// exempt: a remote root placed there is intentional, never a mount point.
func validateMounted(path string) error {
	if home, err := os.UserHomeDir(); err == nil && home != "" && strings.HasPrefix(path, home) {
		return nil
	}
	if tmp := os.TempDir(); tmp != "" && strings.HasPrefix(path, tmp) {
		return nil
	}

	rootInfo, err := os.Stat("/")
	if err != nil {
		return fmt.Errorf("cannot stat /: %w", err)
	}
	rootStat, ok := rootInfo.Sys().(*unix.Stat_t)
	if !ok {
		return nil
	}

	pathInfo, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot stat %s: %w", path, err)
	}
	pathStat, ok := pathInfo.Sys().(*unix.Stat_t)
	if !ok {
		return nil
	}

	if pathStat.Dev == rootStat.Dev && path != "/" {
		return fmt.Errorf("remote sync root %s sits on the system disk, the share is probably not mounted", path)
	}
	return nil
}
