// Package config loads and validates the YAML configuration: where the
// shared storage lives, which directories sync to it, what is excluded, and
// how the engine is tuned.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/ksp-modsync/modsync/pkg/buildinfo"
	"github.com/ksp-modsync/modsync/pkg/exclude"
	"github.com/ksp-modsync/modsync/pkg/lockfile"
	"github.com/ksp-modsync/modsync/pkg/pathutil"
	"github.com/ksp-modsync/modsync/pkg/plog"
)

// ConfigFileName is the name of the configuration file.
const ConfigFileName = "modsync.config.yaml"

// TrashDirName is the per-remote-root directory holding deletion archives.
const TrashDirName = ".modsync-trash"

// systemExcludeFilePatterns are always excluded so the tool never syncs its
// own bookkeeping files.
var systemExcludeFilePatterns = []string{
	lockfile.LockFileName,
	ConfigFileName,
	".modsync-*.tmp",
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
}

// systemExcludeDirNames are directory names never descended into.
var systemExcludeDirNames = []string{TrashDirName}

// ServerConfig describes the shared storage location.
type ServerConfig struct {
	// RemoteBase is the mounted share root, e.g. /mnt/ksp-share or Z:\KSP.
	RemoteBase string `yaml:"remoteBase"`
	// LogDir is the journal directory relative to RemoteBase. Each machine
	// appends to its own file inside it.
	LogDir string `yaml:"logDir"`
}

// SyncDirConfig describes one synchronized directory pair.
type SyncDirConfig struct {
	// Name identifies the pair on the command line and in history.
	Name string `yaml:"name"`
	// RemotePath is relative to the server's RemoteBase.
	RemotePath string `yaml:"remotePath"`
	// LocalPaths maps GOOS values (windows, darwin, linux) to the local
	// root on that platform. A leading '~' expands to the home directory.
	LocalPaths map[string]string `yaml:"localPaths"`
	// ExcludeDirs are directory names skipped on both sides, matched per
	// whole path segment.
	ExcludeDirs []string `yaml:"excludeDirs"`
	// ExcludeFiles are glob patterns for files skipped on both sides.
	ExcludeFiles []string `yaml:"excludeFiles"`
}

// EngineConfig tunes the reconciler.
type EngineConfig struct {
	Workers              int  `yaml:"workers"`
	RetryCount           int  `yaml:"retryCount"`
	RetryWaitSeconds     int  `yaml:"retryWaitSeconds"`
	ModTimeWindowSeconds int  `yaml:"modTimeWindowSeconds"`
	FileTimeoutSeconds   int  `yaml:"fileTimeoutSeconds"`
	BufferSizeKB         int  `yaml:"bufferSizeKB"`
	FoldExcludeCase      bool `yaml:"foldExcludeCase"`
}

// JournalConfig places the local fallback log.
type JournalConfig struct {
	LocalPath          string `yaml:"localPath"`
	LocalMaxSizeKB     int    `yaml:"localMaxSizeKB"`
	LocalRetentionDays int    `yaml:"localRetentionDays"`
}

// TrashConfig controls deletion archives on the remote root.
type TrashConfig struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retentionDays"`
}

// HistoryConfig places the local SQLite run history.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// Config is the whole configuration document.
type Config struct {
	Version  string          `yaml:"version"`
	LogLevel string          `yaml:"logLevel"`
	Server   ServerConfig    `yaml:"server"`
	SyncDirs []SyncDirConfig `yaml:"syncDirs"`
	Engine   EngineConfig    `yaml:"engine"`
	Journal  JournalConfig   `yaml:"journal"`
	Trash    TrashConfig     `yaml:"trash"`
	History  HistoryConfig   `yaml:"history"`
}

// NewDefault returns a configuration with sensible defaults. Server and
// sync directory entries are left empty to force user configuration.
func NewDefault() Config {
	return Config{
		Version:  buildinfo.Version,
		LogLevel: "info",
		Server: ServerConfig{
			LogDir: "logs",
		},
		SyncDirs: []SyncDirConfig{
			{
				Name:       "mods",
				RemotePath: "GameData",
				LocalPaths: map[string]string{
					"windows": "",
					"darwin":  "",
					"linux":   "",
				},
				ExcludeDirs:  []string{"Squad", "SquadExpansion"},
				ExcludeFiles: []string{"*.log", "*.tmp"},
			},
		},
		Engine: EngineConfig{
			Workers:              8,
			RetryCount:           2,
			RetryWaitSeconds:     2,
			ModTimeWindowSeconds: 1,
			FileTimeoutSeconds:   60,
			BufferSizeKB:         1024,
			FoldExcludeCase:      pathutil.IsHostCaseInsensitiveFS(),
		},
		Journal: JournalConfig{
			LocalPath:          "~/.modsync/modsync.log",
			LocalMaxSizeKB:     1024,
			LocalRetentionDays: 14,
		},
		Trash: TrashConfig{
			Enabled:       true,
			RetentionDays: 30,
		},
		History: HistoryConfig{
			Path: "~/.modsync/history.db",
		},
	}
}

// Load reads and strictly parses the configuration at path; unknown keys
// are errors so typos do not silently disable settings.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("cannot open config %s: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("cannot parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Generate writes cfg to path, refusing to overwrite an existing file.
func Generate(path string, cfg Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	header := "# modsync configuration\n# Fill in server.remoteBase and the localPaths entry for this platform.\n"
	if err := os.WriteFile(path, append([]byte(header), data...), pathutil.UserWritableFilePerms); err != nil {
		return fmt.Errorf("cannot write config %s: %w", path, err)
	}
	plog.Info("Generated config file", "path", path)
	return nil
}

// Validate checks the configuration for structural problems. It does not
// touch the filesystem; existence checks belong to preflight.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.RemoteBase) == "" {
		return fmt.Errorf("server.remoteBase is not configured")
	}
	if len(c.SyncDirs) == 0 {
		return fmt.Errorf("no syncDirs configured")
	}

	seen := make(map[string]struct{}, len(c.SyncDirs))
	for i, sd := range c.SyncDirs {
		if strings.TrimSpace(sd.Name) == "" {
			return fmt.Errorf("syncDirs[%d]: name is empty", i)
		}
		if _, dup := seen[sd.Name]; dup {
			return fmt.Errorf("syncDirs: duplicate name %q", sd.Name)
		}
		seen[sd.Name] = struct{}{}

		if strings.TrimSpace(sd.RemotePath) == "" {
			return fmt.Errorf("syncDir %q: remotePath is empty", sd.Name)
		}
		if filepath.IsAbs(sd.RemotePath) {
			return fmt.Errorf("syncDir %q: remotePath must be relative to server.remoteBase", sd.Name)
		}
		for _, name := range sd.ExcludeDirs {
			if strings.ContainsAny(name, `/\`) {
				return fmt.Errorf("syncDir %q: excludeDirs entry %q must be a bare directory name", sd.Name, name)
			}
		}
		for _, pattern := range sd.ExcludeFiles {
			if !doublestar.ValidatePattern(pattern) {
				return fmt.Errorf("syncDir %q: invalid exclude pattern %q", sd.Name, pattern)
			}
		}
	}

	if c.Engine.Workers < 0 || c.Engine.RetryCount < 0 || c.Engine.RetryWaitSeconds < 0 ||
		c.Engine.ModTimeWindowSeconds < 0 || c.Engine.FileTimeoutSeconds < 0 || c.Engine.BufferSizeKB < 0 {
		return fmt.Errorf("engine settings must not be negative")
	}
	if c.Trash.RetentionDays < 0 || c.Journal.LocalRetentionDays < 0 || c.Journal.LocalMaxSizeKB < 0 {
		return fmt.Errorf("retention settings must not be negative")
	}
	return nil
}

// SyncDir returns the named pair, or the only pair when name is empty.
func (c *Config) SyncDir(name string) (SyncDirConfig, error) {
	if name == "" {
		if len(c.SyncDirs) == 1 {
			return c.SyncDirs[0], nil
		}
		return SyncDirConfig{}, fmt.Errorf("multiple syncDirs configured, pick one of: %s", strings.Join(c.SyncDirNames(), ", "))
	}
	for _, sd := range c.SyncDirs {
		if sd.Name == name {
			return sd, nil
		}
	}
	return SyncDirConfig{}, fmt.Errorf("unknown sync directory %q, configured: %s", name, strings.Join(c.SyncDirNames(), ", "))
}

// SyncDirNames lists the configured pair names.
func (c *Config) SyncDirNames() []string {
	names := make([]string, 0, len(c.SyncDirs))
	for _, sd := range c.SyncDirs {
		names = append(names, sd.Name)
	}
	return names
}

// LocalRoot resolves the local root of a pair for the current platform.
func (sd SyncDirConfig) LocalRoot() (string, error) {
	raw, ok := sd.LocalPaths[runtime.GOOS]
	if !ok || strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("syncDir %q has no localPaths entry for %s", sd.Name, runtime.GOOS)
	}
	expanded, err := pathutil.ExpandPath(raw)
	if err != nil {
		return "", fmt.Errorf("syncDir %q: %w", sd.Name, err)
	}
	return filepath.Clean(expanded), nil
}

// RemoteRoot resolves the remote root of a pair under the server base.
func (c *Config) RemoteRoot(sd SyncDirConfig) string {
	return filepath.Join(c.Server.RemoteBase, filepath.FromSlash(sd.RemotePath))
}

// RemoteLogDir resolves the shared journal directory.
func (c *Config) RemoteLogDir() string {
	return filepath.Join(c.Server.RemoteBase, filepath.FromSlash(c.Server.LogDir))
}

// TrashDir resolves the deletion archive directory for a pair's remote root.
func (c *Config) TrashDir(sd SyncDirConfig) string {
	return filepath.Join(c.RemoteRoot(sd), TrashDirName)
}

// Rules builds the exclusion rules for a pair, merging user exclusions with
// the system ones.
func (c *Config) Rules(sd SyncDirConfig) (exclude.Rules, error) {
	dirs := pathutil.MergeAndDeduplicate(sd.ExcludeDirs, systemExcludeDirNames)
	files := pathutil.MergeAndDeduplicate(sd.ExcludeFiles, systemExcludeFilePatterns)
	return exclude.NewRules(dirs, files, c.Engine.FoldExcludeCase)
}

// LocalLogPath resolves the local fallback journal path.
func (c *Config) LocalLogPath() (string, error) {
	return pathutil.ExpandPath(c.Journal.LocalPath)
}

// HistoryPath resolves the local history database path. Empty disables
// history.
func (c *Config) HistoryPath() (string, error) {
	if strings.TrimSpace(c.History.Path) == "" {
		return "", nil
	}
	return pathutil.ExpandPath(c.History.Path)
}

func (e EngineConfig) RetryWait() time.Duration     { return time.Duration(e.RetryWaitSeconds) * time.Second }
func (e EngineConfig) ModTimeWindow() time.Duration { return time.Duration(e.ModTimeWindowSeconds) * time.Second }
func (e EngineConfig) FileTimeout() time.Duration   { return time.Duration(e.FileTimeoutSeconds) * time.Second }
func (e EngineConfig) BufferSize() int              { return e.BufferSizeKB * 1024 }

func (j JournalConfig) LocalMaxSize() int64 { return int64(j.LocalMaxSizeKB) * 1024 }
func (j JournalConfig) LocalRetention() time.Duration {
	return time.Duration(j.LocalRetentionDays) * 24 * time.Hour
}

func (t TrashConfig) Retention() time.Duration {
	return time.Duration(t.RetentionDays) * 24 * time.Hour
}

// LogSummary prints the effective configuration at startup.
func (c *Config) LogSummary() {
	plog.Info("Configuration",
		"remoteBase", c.Server.RemoteBase,
		"syncDirs", strings.Join(c.SyncDirNames(), ","),
		"workers", c.Engine.Workers,
		"modTimeWindow", c.Engine.ModTimeWindow(),
		"trash", c.Trash.Enabled,
	)
}
