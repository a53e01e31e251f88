package pathutil

import (
	"path/filepath"
	"slices"
	"testing"
)

func TestNormalizeRelPath(t *testing.T) {
	root := filepath.Join("a", "b")

	rel, err := NormalizeRelPath(root, filepath.Join("a", "b", "GameData", "ModA", "part.cfg"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rel != "GameData/ModA/part.cfg" {
		t.Errorf("expected normalized key, got %q", rel)
	}

	rel, err = NormalizeRelPath(root, root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rel != "." {
		t.Errorf("expected \".\" for the root itself, got %q", rel)
	}
}

func TestSegmentsAndDepth(t *testing.T) {
	tests := []struct {
		relKey string
		want   []string
	}{
		{".", nil},
		{"", nil},
		{"ModA", []string{"ModA"}},
		{"ModA/Parts/engine.cfg", []string{"ModA", "Parts", "engine.cfg"}},
	}
	for _, tc := range tests {
		got := Segments(tc.relKey)
		if !slices.Equal(got, tc.want) {
			t.Errorf("Segments(%q) = %v, want %v", tc.relKey, got, tc.want)
		}
		if Depth(tc.relKey) != len(tc.want) {
			t.Errorf("Depth(%q) = %d, want %d", tc.relKey, Depth(tc.relKey), len(tc.want))
		}
	}
}

func TestWithUserWritePermission(t *testing.T) {
	if got := WithUserWritePermission(0444); got != 0644 {
		t.Errorf("expected 0644, got %o", got)
	}
	if got := WithUserWritePermission(0755); got != 0755 {
		t.Errorf("expected 0755 unchanged, got %o", got)
	}
}

func TestMergeAndDeduplicate(t *testing.T) {
	got := MergeAndDeduplicate([]string{"a", "b"}, []string{"b", "c"})
	slices.Sort(got)
	if !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Errorf("unexpected merge result: %v", got)
	}
}

func TestByteCountIEC(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1048576, "1.0 MiB"},
	}
	for _, tc := range tests {
		if got := ByteCountIEC(tc.in); got != tc.want {
			t.Errorf("ByteCountIEC(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
