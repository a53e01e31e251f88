package exclude

import "testing"

func mustRules(t *testing.T, dirs, files []string, fold bool) Rules {
	t.Helper()
	r, err := NewRules(dirs, files, fold)
	if err != nil {
		t.Fatalf("NewRules failed: %v", err)
	}
	return r
}

func TestMatchDirWholeSegment(t *testing.T) {
	r := mustRules(t, []string{"Squad"}, nil, false)

	tests := []struct {
		relKey string
		want   bool
	}{
		{"Squad", true},
		{"Squad/Parts/engine.cfg", true},
		{"GameData/Squad", true},
		{"GameData/Squad/Parts", true},
		{"SquadExpansion", false},
		{"SquadExpansion/Parts", false},
		{"GameData/MySquadMod", false},
		{"ModA/Ship.cfg", false},
		{".", false},
	}
	for _, tc := range tests {
		if got := r.MatchDir(tc.relKey); got != tc.want {
			t.Errorf("MatchDir(%q) = %v, want %v", tc.relKey, got, tc.want)
		}
	}
}

func TestMatchDirCaseFolding(t *testing.T) {
	sensitive := mustRules(t, []string{"Squad"}, nil, false)
	if sensitive.MatchDir("squad/part.cfg") {
		t.Error("case-sensitive rules must not match differing case")
	}

	insensitive := mustRules(t, []string{"Squad"}, nil, true)
	if !insensitive.MatchDir("SQUAD/part.cfg") {
		t.Error("case-folded rules must match differing case")
	}
}

func TestMatchFilePatterns(t *testing.T) {
	r := mustRules(t, nil, []string{"*.tmp", "thumbs.db", "logs/**/*.log"}, false)

	tests := []struct {
		relKey string
		want   bool
	}{
		{"save.tmp", true},
		{"ModA/Parts/engine.tmp", true}, // basename pattern matches at depth
		{"thumbs.db", true},
		{"logs/2024/sync.log", true},
		{"ModA/sync.log", false}, // pattern anchored under logs/
		{"ModA/Ship.cfg", false},
	}
	for _, tc := range tests {
		if got := r.MatchFile(tc.relKey); got != tc.want {
			t.Errorf("MatchFile(%q) = %v, want %v", tc.relKey, got, tc.want)
		}
	}
}

func TestMatchCombined(t *testing.T) {
	r := mustRules(t, []string{"Squad"}, []string{"*.tmp"}, false)

	if !r.Match("Squad/anything.cfg", false) {
		t.Error("file under excluded directory must match")
	}
	if !r.Match("ModA/scratch.tmp", false) {
		t.Error("file pattern must match files")
	}
	if r.Match("ModA/scratch.tmp", true) {
		t.Error("file patterns must not apply to directories")
	}
}

func TestNewRulesRejectsBadInput(t *testing.T) {
	if _, err := NewRules([]string{"Game/Data"}, nil, false); err == nil {
		t.Error("expected error for directory name containing a separator")
	}
	if _, err := NewRules(nil, []string{"[unclosed"}, false); err == nil {
		t.Error("expected error for invalid glob pattern")
	}
}

func TestEmptyRules(t *testing.T) {
	r := mustRules(t, nil, nil, false)
	if !r.Empty() {
		t.Error("expected Empty() for rule-less set")
	}
	if r.Match("anything/at/all", false) {
		t.Error("empty rules must match nothing")
	}
}
