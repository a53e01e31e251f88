// Package reconcile performs one directed sync pass: it snapshots a source
// and a destination root, then makes the destination match the source by
// creating directories shallow-first, copying new and updated files
// concurrently, and finally deleting destination files the source no longer
// has. Conflicts between two live versions of a file resolve by modification
// time, newest wins.
package reconcile

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ksp-modsync/modsync/pkg/exclude"
	"github.com/ksp-modsync/modsync/pkg/journal"
	"github.com/ksp-modsync/modsync/pkg/pathutil"
	"github.com/ksp-modsync/modsync/pkg/plog"
	"github.com/ksp-modsync/modsync/pkg/snapshot"
)

// Archiver preserves a destination file before the reconciler deletes it.
// A nil Archiver disables preservation.
type Archiver interface {
	Archive(absPath, relPath string) error
}

// Options tunes one directed pass.
type Options struct {
	// Workers bounds concurrent file copies. Zero means NumCPU.
	Workers int
	// RetryCount is the number of additional attempts per failed file op.
	RetryCount int
	// RetryWait is the pause between attempts.
	RetryWait time.Duration
	// ModTimeWindow truncates timestamps before comparison so mixed
	// filesystem resolutions do not fabricate conflicts. Zero compares raw
	// nanosecond timestamps.
	ModTimeWindow time.Duration
	// FileTimeout bounds a single file copy, including retries. Zero means
	// no bound.
	FileTimeout time.Duration
	// Delete enables the deletion phase. When false the pass is additive.
	Delete bool
	// DryRun plans and journals actions without touching the destination.
	DryRun bool
	// BufferSize is the per-worker copy buffer in bytes. Zero means 1 MiB.
	BufferSize int
}

// Stats is the outcome of one directed pass.
type Stats struct {
	// Applied lists every action in apply order. Directory creations always
	// precede copies into them; deletions come last.
	Applied []Action
	// Errors counts per-path failures that were skipped. The pass keeps
	// going past them.
	Errors int
	// DeletesSuppressed is set when unreadable source subtrees made the
	// source snapshot incomplete. Deleting against an incomplete snapshot
	// would treat "unknown" as "gone", so the phase is skipped wholesale.
	DeletesSuppressed bool
}

// Reconciler drives directed passes between two roots. One Reconciler may
// run many passes, but never concurrently with itself.
type Reconciler struct {
	rules    exclude.Rules
	opts     Options
	rec      *journal.Recorder
	metrics  Metrics
	archiver Archiver
	copier   *copier

	parentSF singleflight.Group

	mu      sync.Mutex
	applied []Action
	errs    atomic.Int64
}

// New builds a Reconciler. rec may be nil (no journaling), metrics may be
// nil (no counters), archiver may be nil (hard deletes).
func New(rules exclude.Rules, opts Options, rec *journal.Recorder, metrics Metrics, archiver Archiver) *Reconciler {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if rec == nil {
		rec = journal.NewRecorder(journal.Origin{}, nil, nil)
	}
	if metrics == nil {
		metrics = &NoopMetrics{}
	}
	return &Reconciler{
		rules:    rules,
		opts:     opts,
		rec:      rec,
		metrics:  metrics,
		archiver: archiver,
		copier:   newCopier(opts.BufferSize, opts.RetryCount, opts.RetryWait),
	}
}

// Reconcile runs one directed pass from srcRoot into dstRoot. The returned
// error is non-nil only for fatal conditions, a root that cannot be
// snapshotted; per-path failures are counted in Stats.Errors and the pass
// continues past them.
func (r *Reconciler) Reconcile(ctx context.Context, srcRoot, dstRoot string) (Stats, error) {
	r.mu.Lock()
	r.applied = nil
	r.mu.Unlock()
	r.errs.Store(0)

	srcSnap, err := snapshot.Scan(srcRoot, r.rules)
	if err != nil {
		return Stats{}, fmt.Errorf("source snapshot: %w", err)
	}
	dstSnap, err := snapshot.Scan(dstRoot, r.rules)
	if err != nil {
		return Stats{}, fmt.Errorf("destination snapshot: %w", err)
	}

	plog.Info("Reconciling", "source", srcSnap.Root, "destination", dstSnap.Root,
		"sourceEntries", srcSnap.Len(), "destinationEntries", dstSnap.Len())

	failedDirs := r.createDirectories(ctx, srcSnap, dstSnap)
	if err := r.copyFiles(ctx, srcSnap, dstSnap, failedDirs); err != nil {
		return r.stats(false), err
	}

	suppressed := false
	if r.opts.Delete {
		if srcSnap.SkippedSubtrees > 0 {
			suppressed = true
			plog.Warn("Skipping deletion phase, source snapshot is incomplete",
				"skippedSubtrees", srcSnap.SkippedSubtrees)
			r.rec.Warningf("deletion phase skipped: %d unreadable source subtrees", srcSnap.SkippedSubtrees)
		} else {
			r.deleteExtraneous(ctx, srcSnap, dstSnap)
		}
	}

	return r.stats(suppressed), ctx.Err()
}

// createDirectories materializes the source directory tree in the
// destination, shallow-first. A directory that cannot be created poisons its
// whole subtree: descendants are skipped instead of generating an error
// avalanche, and the returned set marks the poisoned roots.
func (r *Reconciler) createDirectories(ctx context.Context, srcSnap, dstSnap *snapshot.Snapshot) map[string]struct{} {
	failed := make(map[string]struct{})

	for _, d := range srcSnap.Dirs() {
		if ctx.Err() != nil {
			return failed
		}
		if underFailedSubtree(d.RelPath, failed) {
			continue
		}

		if dstE, ok := dstSnap.Lookup(d.RelPath); ok {
			if dstE.IsDir {
				continue
			}
			// A file or link occupies the directory's name. The directory
			// side wins the type conflict; clear the name first.
			if r.opts.DryRun {
				plog.Info("[dry run] REPLACE with directory", "path", d.RelPath)
			} else if err := os.Remove(dstE.AbsPath); err != nil {
				r.fail(d.RelPath, "replace file with directory", err)
				failed[d.RelPath] = struct{}{}
				continue
			}
		}

		absDst := pathutil.DenormalizeAbsPath(dstSnap.Root, d.RelPath)
		if r.opts.DryRun {
			plog.Info("[dry run] MKDIR", "path", d.RelPath)
			r.record(Action{Op: OpCreateDir, RelPath: d.RelPath})
			continue
		}
		if err := os.MkdirAll(absDst, pathutil.WithUserWritePermission(d.Mode.Perm())); err != nil {
			r.fail(d.RelPath, "create directory", err)
			failed[d.RelPath] = struct{}{}
			continue
		}

		r.metrics.AddDirsCreated(1)
		r.record(Action{Op: OpCreateDir, RelPath: d.RelPath})
		r.rec.Infof("created directory %s", d.RelPath)
	}
	return failed
}

// copyFiles copies new and updated source files into the destination with a
// bounded worker pool. Files under poisoned directories are skipped.
func (r *Reconciler) copyFiles(ctx context.Context, srcSnap, dstSnap *snapshot.Snapshot, failedDirs map[string]struct{}) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)

	for _, f := range srcSnap.Files() {
		if gctx.Err() != nil {
			break
		}
		if underFailedSubtree(f.RelPath, failedDirs) {
			continue
		}

		src := f
		dstE, dstExists := dstSnap.Lookup(src.RelPath)

		reason := ReasonNew
		if dstExists {
			reason = ReasonUpdated
			if !dstE.IsDir && !src.IsSymlink() && !dstE.IsSymlink() {
				switch Resolve(src, dstE, r.opts.ModTimeWindow) {
				case Equal:
					r.metrics.AddFilesUpToDate(1)
					continue
				case PreferDestination:
					// The reverse pass carries this version back.
					r.metrics.AddFilesPreserved(1)
					continue
				}
			}
		}

		g.Go(func() error {
			r.copyOne(gctx, src, dstE, dstExists, reason, dstSnap.Root)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// copyOne applies a single copy decision inside a worker. Failures are
// journaled and counted, never propagated; one broken file must not sink the
// rest of the pass.
func (r *Reconciler) copyOne(ctx context.Context, src, dstE snapshot.Entry, dstExists bool, reason Reason, dstRoot string) {
	absDst := pathutil.DenormalizeAbsPath(dstRoot, src.RelPath)

	if src.IsSymlink() {
		r.copySymlinkEntry(ctx, src, dstE, dstExists, reason, absDst)
		return
	}

	if dstExists && (dstE.IsDir || dstE.IsSymlink()) {
		// The name is held by a directory or link; the regular file wins.
		if r.opts.DryRun {
			plog.Info("[dry run] REPLACE with file", "path", src.RelPath)
		} else if err := os.RemoveAll(absDst); err != nil {
			r.fail(src.RelPath, "clear destination for file", err)
			return
		}
	}

	if r.opts.DryRun {
		plog.Info("[dry run] COPY", "path", src.RelPath, "reason", string(reason))
		r.record(Action{Op: OpCopyFile, RelPath: src.RelPath, Reason: reason})
		return
	}

	if err := r.ensureParentDir(dstRoot, src.RelPath); err != nil {
		r.fail(src.RelPath, "create parent directory", err)
		return
	}

	copyCtx := ctx
	if r.opts.FileTimeout > 0 {
		var cancel context.CancelFunc
		copyCtx, cancel = context.WithTimeout(ctx, r.opts.FileTimeout)
		defer cancel()
	}

	written, err := r.copier.copyFile(copyCtx, src, absDst)
	if err != nil {
		r.fail(src.RelPath, "copy file", err)
		return
	}

	r.metrics.AddFilesCopied(1)
	r.metrics.AddBytesWritten(written)
	r.record(Action{Op: OpCopyFile, RelPath: src.RelPath, Reason: reason})
	r.rec.Infof("copied %s (%s, %s)", src.RelPath, reason, pathutil.ByteCountIEC(written))
}

// copySymlinkEntry reconciles a symlink by target, not by timestamps; link
// mtimes are unreliable across platforms.
func (r *Reconciler) copySymlinkEntry(ctx context.Context, src, dstE snapshot.Entry, dstExists bool, reason Reason, absDst string) {
	target, err := os.Readlink(src.AbsPath)
	if err != nil {
		r.fail(src.RelPath, "read symlink", err)
		return
	}

	if dstExists && dstE.IsSymlink() {
		if existing, err := os.Readlink(dstE.AbsPath); err == nil && existing == target {
			r.metrics.AddFilesUpToDate(1)
			return
		}
	}

	if r.opts.DryRun {
		plog.Info("[dry run] LINK", "path", src.RelPath, "target", target)
		r.record(Action{Op: OpCopyFile, RelPath: src.RelPath, Reason: reason})
		return
	}

	if dstExists && dstE.IsDir {
		if err := os.RemoveAll(absDst); err != nil {
			r.fail(src.RelPath, "clear destination for symlink", err)
			return
		}
	}
	if err := r.copier.copySymlink(ctx, target, absDst); err != nil {
		r.fail(src.RelPath, "create symlink", err)
		return
	}

	r.metrics.AddFilesCopied(1)
	r.record(Action{Op: OpCopyFile, RelPath: src.RelPath, Reason: reason})
	r.rec.Infof("linked %s -> %s (%s)", src.RelPath, target, reason)
}

// deleteExtraneous removes destination files absent from the source. The
// snapshots already honor the exclusion rules on both sides, so an excluded
// destination file never even appears here. Directories are left in place;
// an empty mod folder is harmless and deleting it would destroy the marker
// that a mod was intentionally cleared.
func (r *Reconciler) deleteExtraneous(ctx context.Context, srcSnap, dstSnap *snapshot.Snapshot) {
	for _, f := range dstSnap.Files() {
		if ctx.Err() != nil {
			return
		}
		if _, ok := srcSnap.Lookup(f.RelPath); ok {
			continue
		}
		if underSourceFile(f.RelPath, srcSnap) {
			// The copy phase replaced an ancestor directory with a source
			// file; this child went with it and is already gone.
			continue
		}

		if r.opts.DryRun {
			plog.Info("[dry run] DELETE", "path", f.RelPath)
			r.record(Action{Op: OpDeleteFile, RelPath: f.RelPath})
			continue
		}

		if r.archiver != nil && !f.IsSymlink() {
			if err := r.archiver.Archive(f.AbsPath, f.RelPath); err != nil {
				// Without a preserved copy the delete is unsafe; keep the
				// file and move on.
				r.fail(f.RelPath, "archive before delete", err)
				continue
			}
		}
		if err := os.Remove(f.AbsPath); err != nil {
			r.fail(f.RelPath, "delete file", err)
			continue
		}

		r.metrics.AddFilesDeleted(1)
		r.record(Action{Op: OpDeleteFile, RelPath: f.RelPath})
		r.rec.Infof("deleted %s", f.RelPath)
	}
}

// ensureParentDir creates the parent chain for a file about to be copied.
// The directory phase normally did this already; this covers parents whose
// creation raced or whose chain appeared mid-pass. singleflight collapses
// concurrent workers targeting the same parent into one MkdirAll.
func (r *Reconciler) ensureParentDir(dstRoot, relPath string) error {
	segs := pathutil.Segments(relPath)
	if len(segs) <= 1 {
		return nil
	}
	parentKey := strings.Join(segs[:len(segs)-1], "/")
	_, err, _ := r.parentSF.Do(parentKey, func() (any, error) {
		abs := pathutil.DenormalizeAbsPath(dstRoot, parentKey)
		return nil, os.MkdirAll(abs, pathutil.UserWritableDirPerms)
	})
	return err
}

// fail records one per-path failure: journaled, logged, counted.
func (r *Reconciler) fail(relPath, what string, err error) {
	r.errs.Add(1)
	r.metrics.AddErrors(1)
	plog.Warn("Sync action failed", "action", what, "path", relPath, "error", err)
	r.rec.Errorf("%s failed for %s: %v", what, relPath, err)
}

func (r *Reconciler) record(a Action) {
	r.mu.Lock()
	r.applied = append(r.applied, a)
	r.mu.Unlock()
}

func (r *Reconciler) stats(suppressed bool) Stats {
	r.mu.Lock()
	applied := r.applied
	r.mu.Unlock()
	return Stats{
		Applied:           applied,
		Errors:            int(r.errs.Load()),
		DeletesSuppressed: suppressed,
	}
}

// underSourceFile reports whether relPath lies beneath a path the source
// holds as a non-directory. Such destination subtrees are removed wholesale
// when the file wins its type conflict in the copy phase.
func underSourceFile(relPath string, srcSnap *snapshot.Snapshot) bool {
	segs := pathutil.Segments(relPath)
	for i := 1; i < len(segs); i++ {
		if e, ok := srcSnap.Lookup(strings.Join(segs[:i], "/")); ok && !e.IsDir {
			return true
		}
	}
	return false
}

// underFailedSubtree reports whether relPath lies inside a poisoned subtree.
func underFailedSubtree(relPath string, failed map[string]struct{}) bool {
	if len(failed) == 0 {
		return false
	}
	segs := pathutil.Segments(relPath)
	for i := 1; i <= len(segs); i++ {
		if _, ok := failed[strings.Join(segs[:i], "/")]; ok {
			return true
		}
	}
	return false
}
