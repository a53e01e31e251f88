package preflight

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckLocalRoot(t *testing.T) {
	dir := t.TempDir()
	if err := CheckLocalRoot(dir); err != nil {
		t.Errorf("existing directory rejected: %v", err)
	}

	if err := CheckLocalRoot(filepath.Join(dir, "missing")); err == nil {
		t.Error("missing local root must fail preflight")
	}

	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := CheckLocalRoot(file); err == nil {
		t.Error("regular file must fail preflight")
	}
}

func TestCheckRemoteRoot(t *testing.T) {
	// A temp directory is exempt from ghost-mount detection, so this
	// exercises the existence and type checks.
	dir := t.TempDir()
	if err := CheckRemoteRoot(dir); err != nil {
		t.Errorf("existing directory rejected: %v", err)
	}

	if err := CheckRemoteRoot(filepath.Join(dir, "missing")); err == nil {
		t.Error("missing remote root must fail preflight")
	}

	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := CheckRemoteRoot(file); err == nil {
		t.Error("regular file must fail preflight")
	}
}

func TestDeepestExistingAncestor(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "a", "b", "c")
	if got := deepestExistingAncestorOrSelf(missing); got != dir {
		t.Errorf("deepestExistingAncestorOrSelf(%q) = %q, want %q", missing, got, dir)
	}
	if got := deepestExistingAncestorOrSelf(dir); got != dir {
		t.Errorf("existing path should return itself, got %q", got)
	}
}
