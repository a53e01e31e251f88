package journal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/pgzip"

	"github.com/ksp-modsync/modsync/pkg/pathutil"
	"github.com/ksp-modsync/modsync/pkg/plog"
)

// AppendSink writes entries to a file opened with O_APPEND. Each entry is a
// single Write call, so concurrent appends from different machines to the
// same file on a share interleave per record but never tear one.
type AppendSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// NewAppendSink opens (or creates) the log file at path. The parent
// directory must already exist; creating directories on the shared store is
// the caller's decision, not the sink's.
func NewAppendSink(path string) (*AppendSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, pathutil.UserWritableFilePerms)
	if err != nil {
		return nil, fmt.Errorf("cannot open log store %s: %w", path, err)
	}
	return &AppendSink{path: path, f: f}, nil
}

// Append writes one entry as one atomic append.
func (s *AppendSink) Append(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return fmt.Errorf("log store %s is closed", s.path)
	}
	if _, err := s.f.WriteString(e.Line()); err != nil {
		return fmt.Errorf("append to log store %s: %w", s.path, err)
	}
	return nil
}

// Close releases the underlying file.
func (s *AppendSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// RotatingSink is the durable local fallback store. It appends to a local
// file, rotates it when it exceeds maxSize, compresses rotated files with
// pgzip, and prunes compressed archives older than the retention period.
type RotatingSink struct {
	mu        sync.Mutex
	path      string
	maxSize   int64
	retention time.Duration
	f         *os.File
	size      int64
}

// NewRotatingSink opens the local fallback log at path, creating parent
// directories as needed. maxSize <= 0 disables rotation; retention <= 0
// disables pruning.
func NewRotatingSink(path string, maxSize int64, retention time.Duration) (*RotatingSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), pathutil.UserWritableDirPerms); err != nil {
		return nil, fmt.Errorf("cannot create local log directory: %w", err)
	}
	s := &RotatingSink{path: path, maxSize: maxSize, retention: retention}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RotatingSink) open() error {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, pathutil.UserWritableFilePerms)
	if err != nil {
		return fmt.Errorf("cannot open local log %s: %w", s.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("cannot stat local log %s: %w", s.path, err)
	}
	s.f = f
	s.size = info.Size()
	return nil
}

// Append writes one entry, rotating first if the file is over the limit.
func (s *RotatingSink) Append(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return fmt.Errorf("local log %s is closed", s.path)
	}
	if s.maxSize > 0 && s.size >= s.maxSize {
		if err := s.rotate(); err != nil {
			// Rotation failure is not a write failure; keep appending to
			// the oversized file rather than dropping the entry.
			plog.Warn("Local log rotation failed", "path", s.path, "error", err)
		}
	}
	n, err := s.f.WriteString(e.Line())
	s.size += int64(n)
	if err != nil {
		return fmt.Errorf("append to local log %s: %w", s.path, err)
	}
	return nil
}

// rotate renames the current file aside, compresses it, and reopens a fresh
// log. Called with the mutex held.
func (s *RotatingSink) rotate() error {
	if err := s.f.Close(); err != nil {
		return err
	}
	s.f = nil

	rotated := fmt.Sprintf("%s.%s", s.path, time.Now().UTC().Format("20060102-150405.000000000"))
	if err := os.Rename(s.path, rotated); err != nil {
		// Reopen whatever is there so logging continues.
		if reopenErr := s.open(); reopenErr != nil {
			return reopenErr
		}
		return err
	}

	if err := compressFile(rotated); err != nil {
		plog.Warn("Could not compress rotated log", "path", rotated, "error", err)
	} else if err := os.Remove(rotated); err != nil {
		plog.Warn("Could not remove rotated log after compression", "path", rotated, "error", err)
	}

	s.pruneLocked()
	return s.open()
}

// pruneLocked removes compressed archives older than the retention period.
func (s *RotatingSink) pruneLocked() {
	if s.retention <= 0 {
		return
	}
	matches, err := filepath.Glob(s.path + ".*.gz")
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-s.retention)
	sort.Strings(matches)
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(m); err != nil {
				plog.Warn("Could not prune old log archive", "path", m, "error", err)
			}
		}
	}
}

// Close releases the underlying file.
func (s *RotatingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// compressFile gzips src into src+".gz" using parallel gzip.
func compressFile(src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(src + ".gz")
	if err != nil {
		return err
	}
	defer out.Close()

	zw := pgzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return out.Close()
}

var (
	_ Sink = (*AppendSink)(nil)
	_ Sink = (*RotatingSink)(nil)
)
