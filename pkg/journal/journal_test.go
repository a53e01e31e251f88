package journal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testOrigin() Origin {
	return Origin{Host: "mission-ctrl", Platform: "linux", PID: 4242, Session: "ab12cd34"}
}

func TestEntryLineFormat(t *testing.T) {
	e := Entry{
		Time:    time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC),
		Origin:  testOrigin(),
		Level:   Warning,
		Message: "copy failed: ModA/Ship.cfg",
	}
	line := e.Line()
	want := "[2026-08-25T10:30:00Z] [mission-ctrl:4242:ab12cd34] [linux] [WARNING] copy failed: ModA/Ship.cfg\n"
	if line != want {
		t.Errorf("unexpected line:\n got %q\nwant %q", line, want)
	}
}

func TestEntryLineFoldsNewlines(t *testing.T) {
	e := Entry{Time: time.Now(), Origin: testOrigin(), Level: Info, Message: "multi\nline"}
	line := e.Line()
	if strings.Count(line, "\n") != 1 {
		t.Errorf("entry must render as a single line, got %q", line)
	}
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]Level{"info": Info, "WARNING": Warning, "Error": Error} {
		got, err := ParseLevel(name)
		if err != nil {
			t.Errorf("ParseLevel(%q) failed: %v", name, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", name, got, want)
		}
	}
	if _, err := ParseLevel("fatal"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestAppendSinkWritesRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.log")
	sink, err := NewAppendSink(path)
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	for _, msg := range []string{"first", "second"} {
		if err := sink.Append(Entry{Time: time.Now(), Origin: testOrigin(), Level: Info, Message: msg}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 records, got %d: %q", len(lines), string(data))
	}
	if !strings.Contains(lines[0], "first") || !strings.Contains(lines[1], "second") {
		t.Errorf("records out of order or missing: %v", lines)
	}
}

func TestRotatingSinkRotatesAndCompresses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "modsync.log")
	sink, err := NewRotatingSink(path, 64, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	for i := 0; i < 10; i++ {
		err := sink.Append(Entry{Time: time.Now(), Origin: testOrigin(), Level: Info,
			Message: strings.Repeat("x", 40)})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	archives, err := filepath.Glob(path + ".*.gz")
	if err != nil {
		t.Fatal(err)
	}
	if len(archives) == 0 {
		t.Fatal("expected at least one compressed rotated archive")
	}
	// The live file must still exist and be under pressure limit shortly
	// after a rotation cycle.
	if _, err := os.Stat(path); err != nil {
		t.Errorf("live log file missing after rotation: %v", err)
	}
}

func TestRotatingSinkPrunesOldArchives(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "modsync.log")

	old := path + ".20200101-000000.000000000.gz"
	if err := os.WriteFile(old, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}

	sink, err := NewRotatingSink(path, 16, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	// Force a rotation, which triggers pruning.
	for i := 0; i < 4; i++ {
		if err := sink.Append(Entry{Time: time.Now(), Origin: testOrigin(), Level: Info, Message: "fill"}); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Errorf("expected stale archive to be pruned, stat err = %v", err)
	}
}

// failingSink always errors, standing in for an unreachable share.
type failingSink struct{}

func (failingSink) Append(Entry) error { return os.ErrClosed }
func (failingSink) Close() error       { return nil }

func TestRecorderFallsBackWhenPrimaryFails(t *testing.T) {
	localPath := filepath.Join(t.TempDir(), "fallback.log")
	local, err := NewRotatingSink(localPath, 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	rec := NewRecorder(testOrigin(), failingSink{}, local)
	rec.Infof("copied %s", "ModA/Ship.cfg")
	rec.Errorf("delete failed: %s", "ModB/old.cfg")
	rec.Close()

	if !rec.Degraded() {
		t.Error("recorder should report degraded primary")
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if !strings.Contains(out, "copied ModA/Ship.cfg") {
		t.Errorf("fallback missing info entry: %q", out)
	}
	if !strings.Contains(out, "[ERROR] delete failed: ModB/old.cfg") {
		t.Errorf("fallback missing error entry: %q", out)
	}
}

func TestRecorderWithNilSinksIsNoop(t *testing.T) {
	rec := NewRecorder(testOrigin(), nil, nil)
	rec.Infof("nothing to see")
	rec.Close()
}

func TestNewOriginSessionTags(t *testing.T) {
	a, b := NewOrigin(), NewOrigin()
	if a.Session == "" || a.Session == b.Session {
		t.Errorf("session tags must be non-empty and unique per pass: %q vs %q", a.Session, b.Session)
	}
}
