// Package exclude implements the exclusion rules applied during scanning and
// reconciliation. Directory exclusions are plain names matched against whole
// path segments: excluding "Squad" excludes "Squad" and everything beneath it
// at any depth, but never "SquadExpansion". File exclusions are doublestar
// glob patterns matched against the normalized relative path and its basename.
package exclude

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ksp-modsync/modsync/pkg/pathutil"
)

// Rules is an immutable set of exclusion rules for one sync session.
// Both sides of a pass are checked against the same Rules value, so exclusion
// matching is symmetric between source and destination.
type Rules struct {
	dirNames     map[string]struct{}
	filePatterns []string
	// foldCase lowercases names and paths before matching. It must be set
	// explicitly for case-insensitive platforms so that one exclusion list
	// behaves identically on every machine sharing it.
	foldCase bool
}

// NewRules builds a Rules value from directory names and file glob patterns.
// Invalid glob patterns are rejected up front rather than silently ignored
// during the pass.
func NewRules(dirNames, filePatterns []string, foldCase bool) (Rules, error) {
	r := Rules{
		dirNames:     make(map[string]struct{}, len(dirNames)),
		filePatterns: make([]string, 0, len(filePatterns)),
		foldCase:     foldCase,
	}
	for _, name := range dirNames {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if strings.ContainsAny(name, `/\`) {
			return Rules{}, fmt.Errorf("excluded directory %q must be a name, not a path", name)
		}
		r.dirNames[r.fold(name)] = struct{}{}
	}
	for _, p := range filePatterns {
		p = pathutil.NormalizePath(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return Rules{}, fmt.Errorf("invalid file exclusion pattern %q", p)
		}
		r.filePatterns = append(r.filePatterns, r.fold(p))
	}
	return r, nil
}

// Empty reports whether no rules are configured.
func (r Rules) Empty() bool {
	return len(r.dirNames) == 0 && len(r.filePatterns) == 0
}

// MatchDir reports whether any segment of the normalized relative path
// exactly equals an excluded directory name. A match anywhere in the path
// excludes the whole subtree beneath the matched segment.
func (r Rules) MatchDir(relKey string) bool {
	if len(r.dirNames) == 0 {
		return false
	}
	for _, seg := range pathutil.Segments(relKey) {
		if _, ok := r.dirNames[r.fold(seg)]; ok {
			return true
		}
	}
	return false
}

// MatchFile reports whether a file's normalized relative path matches any
// configured glob pattern. Patterns without a slash match the basename, as
// in gitignore.
func (r Rules) MatchFile(relKey string) bool {
	if len(r.filePatterns) == 0 {
		return false
	}
	folded := r.fold(relKey)
	base := path.Base(folded)
	for _, p := range r.filePatterns {
		target := folded
		if !strings.Contains(p, "/") {
			target = base
		}
		// Patterns were validated in NewRules, Match cannot fail here.
		if ok, _ := doublestar.Match(p, target); ok {
			return true
		}
	}
	return false
}

// Match reports whether an entry at relKey is excluded, using the directory
// segment rules for every entry and additionally the file patterns for files.
func (r Rules) Match(relKey string, isDir bool) bool {
	if r.MatchDir(relKey) {
		return true
	}
	if !isDir && r.MatchFile(relKey) {
		return true
	}
	return false
}

func (r Rules) fold(s string) string {
	if r.foldCase {
		return strings.ToLower(s)
	}
	return s
}
