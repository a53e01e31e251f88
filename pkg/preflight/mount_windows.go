//go:build windows

package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// checkVolumeExists verifies the drive letter or UNC share root behind path
// is present, e.g. "Z:\" for "Z:\KSP-Mods". Relative paths carry no volume
// and pass trivially.
func checkVolumeExists(path string) error {
	volume := filepath.VolumeName(path)
	if volume == "" {
		return nil
	}
	if !strings.HasSuffix(volume, string(filepath.Separator)) {
		volume += string(filepath.Separator)
	}
	if _, err := os.Stat(filepath.Clean(volume)); os.IsNotExist(err) {
		return fmt.Errorf("volume %s does not exist; is the network drive connected?", volume)
	}
	return nil
}

// validateMounted is covered by the volume check on windows; a disconnected
// share loses its drive letter rather than leaving a ghost directory.
func validateMounted(string) error { return nil }
