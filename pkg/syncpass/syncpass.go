// Package syncpass orchestrates one full sync run for a configured
// directory pair: preflight, cross-machine locking, a local-to-remote pass
// followed by a remote-to-local pass, then bookkeeping (trash pruning, run
// history, journal summary). The second pass observes the first pass's
// effects, which is what makes the run bidirectional rather than two
// independent mirrors.
package syncpass

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ksp-modsync/modsync/pkg/config"
	"github.com/ksp-modsync/modsync/pkg/history"
	"github.com/ksp-modsync/modsync/pkg/journal"
	"github.com/ksp-modsync/modsync/pkg/lockfile"
	"github.com/ksp-modsync/modsync/pkg/pathutil"
	"github.com/ksp-modsync/modsync/pkg/plog"
	"github.com/ksp-modsync/modsync/pkg/preflight"
	"github.com/ksp-modsync/modsync/pkg/reconcile"
	"github.com/ksp-modsync/modsync/pkg/trash"
)

// Result summarizes a completed run.
type Result struct {
	// Succeeded means the run completed both passes; individual actions may
	// still have failed, see ErrorCount.
	Succeeded bool
	// ActionsApplied counts applied actions across both passes.
	ActionsApplied int
	// ErrorCount counts per-path failures across both passes.
	ErrorCount int
}

// Orchestrator runs sync passes for one configured directory pair.
type Orchestrator struct {
	cfg    config.Config
	sd     config.SyncDirConfig
	dryRun bool
}

// New resolves the named sync directory from the configuration.
func New(cfg config.Config, syncDirName string, dryRun bool) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sd, err := cfg.SyncDir(syncDirName)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{cfg: cfg, sd: sd, dryRun: dryRun}, nil
}

// Run executes one full sync run. A non-nil error means the run could not
// start or was cut short; a nil error with Result.ErrorCount > 0 means it
// finished but some files failed.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	localRoot, err := o.sd.LocalRoot()
	if err != nil {
		return Result{}, err
	}
	remoteRoot := o.cfg.RemoteRoot(o.sd)
	rules, err := o.cfg.Rules(o.sd)
	if err != nil {
		return Result{}, err
	}

	if err := preflight.CheckLocalRoot(localRoot); err != nil {
		return Result{}, err
	}
	if err := preflight.CheckRemoteRoot(remoteRoot); err != nil {
		return Result{}, err
	}

	origin := journal.NewOrigin()
	rec := o.openRecorder(origin)
	defer rec.Close()

	o.logLastRun()

	lock, err := lockfile.Acquire(ctx, remoteRoot, origin.Session)
	if err != nil {
		return Result{}, fmt.Errorf("lock remote root: %w", err)
	}
	defer lock.Release()

	var bin *trash.Bin
	var archiver reconcile.Archiver
	if o.cfg.Trash.Enabled && !o.dryRun {
		bin = trash.NewBin(o.cfg.TrashDir(o.sd), origin.Session)
		archiver = bin
	}

	opts := reconcile.Options{
		Workers:       o.cfg.Engine.Workers,
		RetryCount:    o.cfg.Engine.RetryCount,
		RetryWait:     o.cfg.Engine.RetryWait(),
		ModTimeWindow: o.cfg.Engine.ModTimeWindow(),
		FileTimeout:   o.cfg.Engine.FileTimeout(),
		BufferSize:    o.cfg.Engine.BufferSize(),
		Delete:        true,
		DryRun:        o.dryRun,
	}
	metrics := &reconcile.SyncMetrics{}
	r := reconcile.New(rules, opts, rec, metrics, archiver)

	startedAt := time.Now()
	rec.Infof("sync started for %s (local=%s remote=%s dryRun=%v)", o.sd.Name, localRoot, remoteRoot, o.dryRun)

	push, err := r.Reconcile(ctx, localRoot, remoteRoot)
	if err != nil {
		rec.Errorf("sync aborted during local-to-remote pass: %v", err)
		o.closeBin(bin)
		return Result{}, fmt.Errorf("local-to-remote pass: %w", err)
	}

	pull, err := r.Reconcile(ctx, remoteRoot, localRoot)
	if err != nil {
		rec.Errorf("sync aborted during remote-to-local pass: %v", err)
		o.closeBin(bin)
		return Result{}, fmt.Errorf("remote-to-local pass: %w", err)
	}

	o.closeBin(bin)
	if o.cfg.Trash.Enabled && !o.dryRun {
		if err := trash.Prune(o.cfg.TrashDir(o.sd), o.cfg.Trash.Retention()); err != nil {
			plog.Warn("Trash pruning failed", "error", err)
		}
	}

	result := Result{
		Succeeded:      true,
		ActionsApplied: len(push.Applied) + len(pull.Applied),
		ErrorCount:     push.Errors + pull.Errors,
	}

	o.recordHistory(origin, startedAt, push, pull, result)

	rec.Infof("sync finished for %s: %d actions, %d errors", o.sd.Name, result.ActionsApplied, result.ErrorCount)
	metrics.LogSummary("Sync complete")
	return result, nil
}

// openRecorder wires the shared per-host journal with the local rotating
// fallback. Either sink failing to open degrades logging, never the sync.
func (o *Orchestrator) openRecorder(origin journal.Origin) *journal.Recorder {
	var primary journal.Sink
	logDir := o.cfg.RemoteLogDir()
	if err := os.MkdirAll(logDir, pathutil.UserWritableDirPerms); err != nil {
		plog.Warn("Cannot create shared log directory, journaling locally only", "path", logDir, "error", err)
	} else {
		sink, err := journal.NewAppendSink(filepath.Join(logDir, origin.Host+".log"))
		if err != nil {
			plog.Warn("Cannot open shared log store, journaling locally only", "error", err)
		} else {
			primary = sink
		}
	}

	var fallback journal.Sink
	localPath, err := o.cfg.LocalLogPath()
	if err != nil {
		plog.Warn("Cannot resolve local log path", "error", err)
	} else if localPath != "" {
		sink, err := journal.NewRotatingSink(localPath, o.cfg.Journal.LocalMaxSize(), o.cfg.Journal.LocalRetention())
		if err != nil {
			plog.Warn("Cannot open local log store", "error", err)
		} else {
			fallback = sink
		}
	}

	return journal.NewRecorder(origin, primary, fallback)
}

func (o *Orchestrator) closeBin(bin *trash.Bin) {
	if bin == nil {
		return
	}
	if err := bin.Close(); err != nil {
		plog.Warn("Could not finalize trash archive", "error", err)
	}
}

// logLastRun reports when this pair last synced, from the local history.
func (o *Orchestrator) logLastRun() {
	path, err := o.cfg.HistoryPath()
	if err != nil || path == "" {
		return
	}
	store, err := history.Open(path)
	if err != nil {
		plog.Warn("Cannot open history database", "error", err)
		return
	}
	defer store.Close()

	last, found, err := store.LastRun(o.sd.Name)
	if err != nil {
		plog.Warn("Cannot read last run", "error", err)
		return
	}
	if found {
		plog.Info("Last sync", "finished", last.FinishedAt.Format(time.RFC3339), "host", last.Host, "errors", last.Errors)
	} else {
		plog.Info("First sync for this pair on this machine")
	}
}

// recordHistory persists the run and its actions. History failures are
// logged and swallowed; the sync already happened.
func (o *Orchestrator) recordHistory(origin journal.Origin, startedAt time.Time, push, pull reconcile.Stats, result Result) {
	path, err := o.cfg.HistoryPath()
	if err != nil || path == "" {
		return
	}
	store, err := history.Open(path)
	if err != nil {
		plog.Warn("Cannot open history database", "error", err)
		return
	}
	defer store.Close()

	actions := make([]history.ActionRecord, 0, result.ActionsApplied)
	for _, a := range push.Applied {
		actions = append(actions, actionRecord("push", a))
	}
	for _, a := range pull.Applied {
		actions = append(actions, actionRecord("pull", a))
	}

	_, err = store.RecordRun(history.RunRecord{
		Session:    origin.Session,
		Host:       origin.Host,
		SyncDir:    o.sd.Name,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
		Actions:    result.ActionsApplied,
		Errors:     result.ErrorCount,
		Succeeded:  result.Succeeded,
	}, actions)
	if err != nil {
		plog.Warn("Cannot record run history", "error", err)
	}
}

func actionRecord(direction string, a reconcile.Action) history.ActionRecord {
	return history.ActionRecord{
		Direction: direction,
		Op:        a.Op.String(),
		RelPath:   a.RelPath,
		Reason:    string(a.Reason),
	}
}
