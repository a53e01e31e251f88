package reconcile

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/ksp-modsync/modsync/pkg/pathutil"
	"github.com/ksp-modsync/modsync/pkg/plog"
	"github.com/ksp-modsync/modsync/pkg/snapshot"
)

// ctxReader aborts an in-flight copy when its context expires. io.CopyBuffer
// checks the reader on every chunk, so a stalled share mount fails within one
// buffer read instead of hanging the worker forever.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// copier performs the low-level file transfer for the reconciler. All copies
// go through a temporary file in the destination directory followed by an
// atomic rename, so a crash or network drop mid-copy never leaves a truncated
// file under the final name.
type copier struct {
	pool       *sync.Pool
	retryCount int
	retryWait  time.Duration
}

func newCopier(bufferSize int, retryCount int, retryWait time.Duration) *copier {
	if bufferSize <= 0 {
		bufferSize = 1 << 20
	}
	return &copier{
		pool: &sync.Pool{
			New: func() any {
				buf := make([]byte, bufferSize)
				return &buf
			},
		},
		retryCount: retryCount,
		retryWait:  retryWait,
	}
}

// copyFile transfers src to absDstPath, preserving the source's permission
// bits (with the user-write bit forced on) and its modification time. The
// returned byte count covers the final successful attempt only.
func (c *copier) copyFile(ctx context.Context, src snapshot.Entry, absDstPath string) (int64, error) {
	var lastErr error
	for i := 0; i <= c.retryCount; i++ {
		if i > 0 {
			plog.Warn("Retrying file copy", "file", src.RelPath, "attempt", fmt.Sprintf("%d/%d", i, c.retryCount), "after", c.retryWait)
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(c.retryWait):
			}
		}

		var written int64
		written, lastErr = c.copyFileOnce(ctx, src, absDstPath)
		if lastErr == nil {
			return written, nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return 0, fmt.Errorf("copy %s to %s failed after %d attempts: %w", src.AbsPath, absDstPath, c.retryCount+1, lastErr)
}

func (c *copier) copyFileOnce(ctx context.Context, src snapshot.Entry, absDstPath string) (written int64, err error) {
	in, err := os.Open(src.AbsPath)
	if err != nil {
		return 0, fmt.Errorf("open source %s: %w", src.AbsPath, err)
	}
	defer in.Close()

	absDstDir := filepath.Dir(absDstPath)
	out, err := os.CreateTemp(absDstDir, ".modsync-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create temporary file in %s: %w", absDstDir, err)
	}
	defer out.Close()

	absTempPath := out.Name()
	// Cleared after a successful rename so the deferred remove becomes a
	// no-op on the happy path.
	defer func() {
		if absTempPath != "" {
			os.Remove(absTempPath)
		}
	}()

	// Pre-allocate to reduce fragmentation on large mod archives.
	if src.Size > 0 {
		_ = out.Truncate(src.Size)
	}

	bufPtr := c.pool.Get().(*[]byte)
	defer c.pool.Put(bufPtr)
	buf := *bufPtr
	buf = buf[:cap(buf)]

	if written, err = io.CopyBuffer(out, ctxReader{ctx: ctx, r: in}, buf); err != nil {
		return written, fmt.Errorf("copy content to %s: %w", absTempPath, err)
	}

	// The user must keep write permission on the destination, otherwise a
	// read-only mod file copied once can never be updated again.
	if err := out.Chmod(pathutil.WithUserWritePermission(src.Mode.Perm())); err != nil {
		return written, fmt.Errorf("set permissions on %s: %w", absTempPath, err)
	}

	// Close flushes data to disk and must happen before Chtimes, since the
	// flush itself may touch the modification time.
	if err := out.Close(); err != nil {
		return written, fmt.Errorf("close temporary file %s: %w", absTempPath, err)
	}

	// Carrying the source mtime over is what keeps repeated passes
	// idempotent: the next comparison sees identical timestamps.
	modTime := time.Unix(0, src.ModTime)
	if err := os.Chtimes(absTempPath, modTime, modTime); err != nil {
		return written, fmt.Errorf("set timestamps on %s: %w", absTempPath, err)
	}

	if err := os.Rename(absTempPath, absDstPath); err != nil {
		return written, err
	}
	absTempPath = ""
	return written, nil
}

// copySymlink recreates the source link at absDstPath via a temporary name
// and rename, replacing whatever held the name before.
func (c *copier) copySymlink(ctx context.Context, target, absDstPath string) error {
	var lastErr error
	for i := 0; i <= c.retryCount; i++ {
		if i > 0 {
			plog.Warn("Retrying symlink creation", "file", absDstPath, "attempt", fmt.Sprintf("%d/%d", i, c.retryCount), "after", c.retryWait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryWait):
			}
		}
		lastErr = c.copySymlinkOnce(target, absDstPath)
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("create symlink at %s failed after %d attempts: %w", absDstPath, c.retryCount+1, lastErr)
}

func (c *copier) copySymlinkOnce(target, absDstPath string) error {
	absDstDir := filepath.Dir(absDstPath)

	// CreateTemp only reserves a unique name; the regular file it creates is
	// removed so os.Symlink can take its place.
	f, err := os.CreateTemp(absDstDir, ".modsync-symlink-*.tmp")
	if err != nil {
		return fmt.Errorf("reserve temp name for symlink: %w", err)
	}
	tempName := f.Name()
	f.Close()
	os.Remove(tempName)

	defer func() {
		if tempName != "" {
			os.Remove(tempName)
		}
	}()

	if err := os.Symlink(target, tempName); err != nil {
		if runtime.GOOS == "windows" && strings.Contains(err.Error(), "privilege") {
			return fmt.Errorf("create symlink (requires Admin or Developer Mode): %w", err)
		}
		return fmt.Errorf("create symlink %s -> %s: %w", tempName, target, err)
	}
	if err := os.Rename(tempName, absDstPath); err != nil {
		return fmt.Errorf("rename temp symlink to %s: %w", absDstPath, err)
	}
	tempName = ""
	return nil
}
