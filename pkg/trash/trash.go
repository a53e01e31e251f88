// Package trash preserves files the reconciler is about to delete. Each sync
// pass gets one tar.zst archive in the trash directory, written lazily so a
// pass that deletes nothing leaves nothing behind. Archives are pruned by age
// on later runs.
package trash

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/ksp-modsync/modsync/pkg/pathutil"
	"github.com/ksp-modsync/modsync/pkg/plog"
)

const archiveSuffix = ".tar.zst"

// Bin collects the deleted files of one sync pass into a single archive.
// It is safe for concurrent Archive calls.
type Bin struct {
	dir     string
	session string

	mu       sync.Mutex
	f        *os.File
	zw       *zstd.Encoder
	tw       *tar.Writer
	tempName string
	count    int
	closed   bool
}

// NewBin prepares a bin writing into dir. No file is created until the first
// Archive call.
func NewBin(dir, session string) *Bin {
	return &Bin{dir: dir, session: session}
}

// openLocked creates the archive on first use. Called with the mutex held.
func (b *Bin) openLocked() error {
	if err := os.MkdirAll(b.dir, pathutil.UserWritableDirPerms); err != nil {
		return fmt.Errorf("create trash directory %s: %w", b.dir, err)
	}
	f, err := os.CreateTemp(b.dir, ".modsync-trash-*.tmp")
	if err != nil {
		return fmt.Errorf("create trash archive: %w", err)
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("init zstd writer: %w", err)
	}
	b.f = f
	b.tempName = f.Name()
	b.zw = zw
	b.tw = tar.NewWriter(zw)
	return nil
}

// Archive appends one file to the pass archive under its relative path key.
func (b *Bin) Archive(absPath, relPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("trash bin is closed")
	}
	if b.tw == nil {
		if err := b.openLocked(); err != nil {
			return err
		}
	}

	info, err := os.Lstat(absPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", absPath, err)
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("create tar header for %s: %w", relPath, err)
	}
	header.Name = relPath

	if err := b.tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write tar header for %s: %w", relPath, err)
	}
	if info.Mode().IsRegular() {
		in, err := os.Open(absPath)
		if err != nil {
			return fmt.Errorf("open %s: %w", absPath, err)
		}
		_, err = io.Copy(b.tw, in)
		in.Close()
		if err != nil {
			return fmt.Errorf("archive %s: %w", relPath, err)
		}
	}
	b.count++
	return nil
}

// Count returns the number of archived files so far.
func (b *Bin) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Close finalizes the archive and moves it to its timestamped name. A bin
// that archived nothing removes its temp file and leaves no trace.
func (b *Bin) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.tw == nil {
		return nil
	}

	// Writers close innermost first: tar, then zstd, then the file.
	if err := b.tw.Close(); err != nil {
		b.discardLocked()
		return fmt.Errorf("finalize tar stream: %w", err)
	}
	if err := b.zw.Close(); err != nil {
		b.discardLocked()
		return fmt.Errorf("finalize zstd stream: %w", err)
	}
	if err := b.f.Close(); err != nil {
		os.Remove(b.tempName)
		return fmt.Errorf("close trash archive: %w", err)
	}

	if b.count == 0 {
		os.Remove(b.tempName)
		return nil
	}

	name := fmt.Sprintf("deleted-%s-%s%s", time.Now().UTC().Format("20060102-150405"), b.session, archiveSuffix)
	final := filepath.Join(b.dir, name)
	if err := os.Rename(b.tempName, final); err != nil {
		return fmt.Errorf("finalize trash archive %s: %w", final, err)
	}
	plog.Info("Preserved deleted files", "archive", final, "files", b.count)
	return nil
}

func (b *Bin) discardLocked() {
	if b.f != nil {
		b.f.Close()
	}
	if b.tempName != "" {
		os.Remove(b.tempName)
	}
}

// Prune removes trash archives older than the retention period. retention <= 0
// keeps everything. A missing trash directory is not an error.
func Prune(dir string, retention time.Duration) error {
	if retention <= 0 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read trash directory %s: %w", dir, err)
	}

	cutoff := time.Now().Add(-retention)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), archiveSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(dir, e.Name())
			if err := os.Remove(path); err != nil {
				plog.Warn("Could not prune trash archive", "path", path, "error", err)
			} else {
				plog.Info("Pruned trash archive", "path", path)
			}
		}
	}
	return nil
}
