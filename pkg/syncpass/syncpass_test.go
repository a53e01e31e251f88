package syncpass

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/ksp-modsync/modsync/pkg/config"
	"github.com/ksp-modsync/modsync/pkg/history"
	"github.com/ksp-modsync/modsync/pkg/lockfile"
)

// testConfig wires a full configuration against temp directories. The
// remote base stands in for the mounted share.
func testConfig(t *testing.T) (config.Config, string, string) {
	t.Helper()
	base := t.TempDir()
	localRoot := filepath.Join(base, "local-gamedata")
	remoteBase := filepath.Join(base, "share")
	remoteRoot := filepath.Join(remoteBase, "GameData")
	for _, dir := range []string{localRoot, remoteRoot} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
	}

	cfg := config.NewDefault()
	cfg.Server.RemoteBase = remoteBase
	cfg.SyncDirs = []config.SyncDirConfig{
		{
			Name:       "mods",
			RemotePath: "GameData",
			LocalPaths: map[string]string{runtime.GOOS: localRoot},
		},
	}
	cfg.Journal.LocalPath = filepath.Join(base, "state", "modsync.log")
	cfg.History.Path = filepath.Join(base, "state", "history.db")
	return cfg, localRoot, remoteRoot
}

func writeFile(t *testing.T, path, content string, modTime time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatal(err)
	}
}

func TestRunConvergesBothSides(t *testing.T) {
	cfg, localRoot, remoteRoot := testConfig(t)
	old := time.Now().Add(-2 * time.Hour)
	newer := time.Now().Add(-time.Hour)

	// Local-only file propagates to the share.
	writeFile(t, filepath.Join(localRoot, "ModA", "a.cfg"), "local mod", old)
	// Remote-only file is extraneous for the push pass and gets archived.
	writeFile(t, filepath.Join(remoteRoot, "ModB", "b.cfg"), "remote mod", old)
	// Both sides, remote newer: preserved in the push pass, copied back in
	// the pull pass.
	writeFile(t, filepath.Join(localRoot, "Config.cfg"), "stale", old)
	writeFile(t, filepath.Join(remoteRoot, "Config.cfg"), "fresh", newer)

	o, err := New(cfg, "mods", false)
	if err != nil {
		t.Fatal(err)
	}
	result, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Succeeded || result.ErrorCount != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	if data, err := os.ReadFile(filepath.Join(remoteRoot, "ModA", "a.cfg")); err != nil || string(data) != "local mod" {
		t.Errorf("local file not pushed: %v %q", err, data)
	}
	if data, err := os.ReadFile(filepath.Join(localRoot, "Config.cfg")); err != nil || string(data) != "fresh" {
		t.Errorf("newer remote version not pulled back: %v %q", err, data)
	}
	if _, err := os.Stat(filepath.Join(remoteRoot, "ModB", "b.cfg")); !os.IsNotExist(err) {
		t.Errorf("extraneous remote file survived the push pass, stat err = %v", err)
	}

	// Deleted file must be preserved in the trash archive.
	archives, err := filepath.Glob(filepath.Join(remoteRoot, config.TrashDirName, "deleted-*.tar.zst"))
	if err != nil || len(archives) != 1 {
		t.Errorf("expected one trash archive, got %v (err %v)", archives, err)
	}

	// The shared journal carries this machine's log.
	logs, err := filepath.Glob(filepath.Join(cfg.RemoteLogDir(), "*.log"))
	if err != nil || len(logs) != 1 {
		t.Fatalf("expected one shared log file, got %v (err %v)", logs, err)
	}
	data, err := os.ReadFile(logs[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "sync started for mods") {
		t.Errorf("journal missing start entry: %q", data)
	}

	// The lock must be gone after the run.
	if _, err := os.Stat(filepath.Join(remoteRoot, lockfile.LockFileName)); !os.IsNotExist(err) {
		t.Errorf("lock file left behind, stat err = %v", err)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	cfg, localRoot, _ := testConfig(t)
	writeFile(t, filepath.Join(localRoot, "ModA", "a.cfg"), "mod", time.Now().Add(-time.Hour))

	o, err := New(cfg, "mods", false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	second, err := New(cfg, "mods", false)
	if err != nil {
		t.Fatal(err)
	}
	result, err := second.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.ActionsApplied != 0 {
		t.Errorf("second run applied %d actions, want 0", result.ActionsApplied)
	}
}

func TestRunRecordsHistory(t *testing.T) {
	cfg, localRoot, _ := testConfig(t)
	writeFile(t, filepath.Join(localRoot, "ModA", "a.cfg"), "mod", time.Now().Add(-time.Hour))

	o, err := New(cfg, "mods", false)
	if err != nil {
		t.Fatal(err)
	}
	result, err := o.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	path, err := cfg.HistoryPath()
	if err != nil {
		t.Fatal(err)
	}
	store, err := history.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	last, found, err := store.LastRun("mods")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("run not recorded in history")
	}
	if last.Actions != result.ActionsApplied || !last.Succeeded {
		t.Errorf("history record mismatch: %+v vs result %+v", last, result)
	}
}

func TestRunFailsOnMissingLocalRoot(t *testing.T) {
	cfg, localRoot, _ := testConfig(t)
	if err := os.RemoveAll(localRoot); err != nil {
		t.Fatal(err)
	}

	o, err := New(cfg, "mods", false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Run(context.Background()); err == nil {
		t.Fatal("expected fatal error for missing local root")
	}
}

func TestRunFailsWhileLockHeld(t *testing.T) {
	cfg, localRoot, remoteRoot := testConfig(t)
	writeFile(t, filepath.Join(localRoot, "a.cfg"), "a", time.Now())

	lock, err := lockfile.Acquire(context.Background(), remoteRoot, "other")
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Release()

	o, err := New(cfg, "mods", false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Run(context.Background()); err == nil {
		t.Fatal("expected error while lock is held by another session")
	}
}

func TestRunDryRunTouchesNothing(t *testing.T) {
	cfg, localRoot, remoteRoot := testConfig(t)
	writeFile(t, filepath.Join(localRoot, "ModA", "a.cfg"), "mod", time.Now().Add(-time.Hour))

	o, err := New(cfg, "mods", true)
	if err != nil {
		t.Fatal(err)
	}
	result, err := o.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.ActionsApplied == 0 {
		t.Error("dry run should still plan actions")
	}
	if _, err := os.Stat(filepath.Join(remoteRoot, "ModA")); !os.IsNotExist(err) {
		t.Errorf("dry run modified the remote root, stat err = %v", err)
	}
}
