// Package snapshot turns a directory root into an immutable in-memory
// snapshot keyed by normalized relative path. A snapshot is taken once at the
// start of a reconciliation pass and is owned by that pass alone; it is never
// shared or refreshed.
package snapshot

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/ksp-modsync/modsync/pkg/exclude"
	"github.com/ksp-modsync/modsync/pkg/pathutil"
	"github.com/ksp-modsync/modsync/pkg/plog"
)

// maxDepth bounds directory recursion. WalkDir does not follow symlinks, so
// cycles cannot occur, but a runaway tree (or a filesystem that lies about
// link types) is cut off here instead of exhausting the stack.
const maxDepth = 64

// Entry is the metadata snapshot of a single filesystem entry.
type Entry struct {
	RelPath string // normalized, forward-slash key; unique within a snapshot
	AbsPath string // OS-native absolute path at scan time
	IsDir   bool
	ModTime int64 // UnixNano; int64 keeps the struct flat and cheap to copy
	Size    int64 // bytes; zero for directories
	Mode    os.FileMode
}

// IsSymlink reports whether the entry is a symbolic link (lstat semantics).
func (e Entry) IsSymlink() bool {
	return e.Mode&os.ModeSymlink != 0
}

// Snapshot maps relative paths to entries for one root at one point in time.
type Snapshot struct {
	Root    string
	entries map[string]Entry

	// SkippedSubtrees counts subtrees below the root that could not be read
	// and were skipped. They are absent from the snapshot; the reconciler
	// treats absence here as "unknown", never as "deleted".
	SkippedSubtrees int
}

// ScanError indicates the root itself was inaccessible. This is fatal for
// the pass that requested the scan.
type ScanError struct {
	Root string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("cannot scan root %s: %v", e.Root, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// Scan enumerates root into a Snapshot, pruning excluded subtrees without
// descending into them. The root must exist and be a readable directory.
// Unreadable subtrees below the root are logged, counted, and skipped so
// sibling subtrees still complete.
func Scan(root string, rules exclude.Rules) (*Snapshot, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, &ScanError{Root: root, Err: err}
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, &ScanError{Root: absRoot, Err: err}
	}
	if !info.IsDir() {
		return nil, &ScanError{Root: absRoot, Err: fmt.Errorf("not a directory")}
	}

	snap := &Snapshot{Root: absRoot, entries: make(map[string]Entry)}

	err = filepath.WalkDir(absRoot, func(absPath string, d fs.DirEntry, err error) error {
		relKey, relErr := pathutil.NormalizeRelPath(absRoot, absPath)
		if relErr != nil {
			return relErr
		}

		if err != nil {
			if relKey == "." {
				return &ScanError{Root: absRoot, Err: err}
			}
			plog.Warn("Skipping unreadable subtree", "path", relKey, "error", err)
			snap.SkippedSubtrees++
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if relKey == "." {
			return nil // the root itself is not an entry
		}

		if pathutil.Depth(relKey) > maxDepth {
			plog.Warn("Skipping subtree beyond depth limit", "path", relKey, "limit", maxDepth)
			snap.SkippedSubtrees++
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if rules.Match(relKey, d.IsDir()) {
			if d.IsDir() {
				return fs.SkipDir // never descend into excluded subtrees
			}
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			plog.Warn("Skipping entry, could not read metadata", "path", relKey, "error", err)
			snap.SkippedSubtrees++
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		entry := Entry{
			RelPath: relKey,
			AbsPath: absPath,
			IsDir:   fi.IsDir(),
			ModTime: fi.ModTime().UnixNano(),
			Mode:    fi.Mode(),
		}
		if !entry.IsDir {
			entry.Size = fi.Size()
		}
		snap.entries[relKey] = entry
		return nil
	})
	if err != nil {
		if scanErr, ok := err.(*ScanError); ok {
			return nil, scanErr
		}
		return nil, &ScanError{Root: absRoot, Err: err}
	}
	return snap, nil
}

// Lookup returns the entry for a relative path key, if present.
func (s *Snapshot) Lookup(relKey string) (Entry, bool) {
	e, ok := s.entries[relKey]
	return e, ok
}

// Len returns the number of entries in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.entries)
}

// Dirs returns all directory entries sorted shallow-first (parents before
// children), the order in which destination directories must be created.
func (s *Snapshot) Dirs() []Entry {
	var dirs []Entry
	for _, e := range s.entries {
		if e.IsDir {
			dirs = append(dirs, e)
		}
	}
	sort.Slice(dirs, func(i, j int) bool {
		di, dj := pathutil.Depth(dirs[i].RelPath), pathutil.Depth(dirs[j].RelPath)
		if di != dj {
			return di < dj
		}
		return dirs[i].RelPath < dirs[j].RelPath
	})
	return dirs
}

// Files returns all non-directory entries sorted by relative path for
// deterministic planning.
func (s *Snapshot) Files() []Entry {
	var files []Entry
	for _, e := range s.entries {
		if !e.IsDir {
			files = append(files, e)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files
}
