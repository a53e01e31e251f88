// Package lockfile serializes sync passes against a shared directory root.
// Two machines syncing into the same share concurrently would race each
// other's snapshots, so every pass takes an exclusive lock on the remote root
// first. The lock is a JSON file created with O_EXCL; a heartbeat keeps it
// fresh and lets a later run take over after the holder crashed.
package lockfile

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ksp-modsync/modsync/pkg/pathutil"
	"github.com/ksp-modsync/modsync/pkg/plog"
)

// LockFileName is created inside the locked directory. The '~' prefix marks
// it as transient.
const LockFileName = ".~modsync.lock"

// These are vars so tests can shorten them.
var (
	heartbeatInterval = 30 * time.Second
	// staleAfter leaves room for two missed heartbeats before a lock is
	// considered abandoned.
	staleAfter = 3 * heartbeatInterval
)

// Holder identifies the process owning a lock.
type Holder struct {
	PID     int       `json:"pid"`
	Host    string    `json:"host"`
	Session string    `json:"session"`
	Nonce   string    `json:"nonce,omitempty"`
	Beat    time.Time `json:"beat"`
}

// ErrHeld is returned when a live lock belongs to someone else.
type ErrHeld struct {
	Holder Holder
	Age    time.Duration
}

func (e *ErrHeld) Error() string {
	return fmt.Sprintf("sync already running: held by pid %d on %s (session %s), last heartbeat %s ago",
		e.Holder.PID, e.Holder.Host, e.Holder.Session, e.Age.Truncate(time.Second))
}

// ErrLostRace means another process seized a stale lock first.
var ErrLostRace = errors.New("lost stale lock takeover race")

// ErrCorrupt means the lock file exists but holds no readable holder record.
var ErrCorrupt = errors.New("lock file is corrupt or empty")

// Lock is a held directory lock. Release it when the pass finishes.
type Lock struct {
	path   string
	holder Holder
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	held bool
}

// Acquire locks dir for the given session. It returns *ErrHeld when another
// live process holds the lock, and takes over locks whose heartbeat stopped.
func Acquire(ctx context.Context, dir, session string) (*Lock, error) {
	path := filepath.Join(dir, LockFileName)

	for attempt := 0; attempt < 3; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		l, err := tryCreate(path, session)
		if err == nil {
			sweepTempFiles(path)
			l.startHeartbeat()
			return l, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("cannot access lock file %s: %w", path, err)
		}

		holder, readErr := readHolder(path)
		switch {
		case readErr == nil:
			age := time.Since(holder.Beat)
			if age < staleAfter {
				return nil, &ErrHeld{Holder: holder, Age: age}
			}
			plog.Warn("Found stale sync lock, taking over", "pid", holder.PID, "host", holder.Host, "age", age.Truncate(time.Second))
		case errors.Is(readErr, ErrCorrupt):
			plog.Warn("Found corrupt sync lock, taking over", "path", path, "error", readErr)
		case os.IsNotExist(readErr):
			// The holder released between our create attempt and the read.
			continue
		default:
			time.Sleep(100 * time.Millisecond)
			continue
		}

		l, err = takeOver(path, session)
		if err != nil {
			if !errors.Is(err, ErrLostRace) {
				plog.Warn("Lock takeover failed, retrying", "error", err)
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}
		sweepTempFiles(path)
		l.startHeartbeat()
		return l, nil
	}
	return nil, fmt.Errorf("could not acquire lock %s, too much contention", path)
}

// tryCreate wins the lock by being the one to create the file.
func tryCreate(path, session string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, pathutil.UserWritableFilePerms)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	holder, err := selfHolder(session)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	data, err := json.MarshalIndent(holder, "", "  ")
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	if _, err := f.Write(data); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write lock content: %w", err)
	}
	return &Lock{path: path, holder: holder, held: true}, nil
}

// takeOver replaces a stale or corrupt lock via atomic rename, then reads
// the file back to learn whether this process actually won.
func takeOver(path, session string) (*Lock, error) {
	holder, err := selfHolder(session)
	if err != nil {
		return nil, err
	}
	if err := writeHolderAtomic(path, holder); err != nil {
		return nil, err
	}

	current, err := readHolder(path)
	if err != nil {
		return nil, fmt.Errorf("read back lock after takeover: %w", err)
	}
	if current.PID != holder.PID || current.Nonce != holder.Nonce {
		return nil, ErrLostRace
	}
	return &Lock{path: path, holder: holder, held: true}, nil
}

func selfHolder(session string) (Holder, error) {
	host, err := os.Hostname()
	if err != nil {
		return Holder{}, fmt.Errorf("resolve hostname: %w", err)
	}
	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return Holder{}, fmt.Errorf("generate lock nonce: %w", err)
	}
	return Holder{
		PID:     os.Getpid(),
		Host:    host,
		Session: session,
		Nonce:   fmt.Sprintf("%x", nonce),
		Beat:    time.Now().UTC(),
	}, nil
}

func (l *Lock) startHeartbeat() {
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})

	go func() {
		defer close(l.done)
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.holder.Beat = time.Now().UTC()
				if err := writeHolderAtomic(l.path, l.holder); err != nil {
					// Try again next tick; one missed beat is within the
					// stale margin.
					plog.Warn("Lock heartbeat failed", "path", l.path, "error", err)
				}
			}
		}
	}()
}

// Release stops the heartbeat and removes the lock file. Safe to call twice.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return
	}
	l.held = false

	l.cancel()
	<-l.done

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		plog.Warn("Could not remove lock file", "path", l.path, "error", err)
	}
}

// writeHolderAtomic updates the lock through a temp file and rename so the
// lock path never holds a half-written record.
func writeHolderAtomic(path string, holder Holder) error {
	data, err := json.MarshalIndent(holder, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp lock file: %w", err)
	}
	defer func() {
		if err := os.Remove(tmp.Name()); err != nil && !os.IsNotExist(err) {
			plog.Warn("Could not remove temp lock file", "path", tmp.Name(), "error", err)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp lock file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// readHolder reads the lock with a few retries; the holder may be mid-rename
// on filesystems without atomic replace semantics.
func readHolder(path string) (Holder, error) {
	var lastCorrupt error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(50 * time.Millisecond)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return Holder{}, err
		}
		if len(data) == 0 {
			lastCorrupt = fmt.Errorf("lock file is empty")
			continue
		}
		var holder Holder
		if err := json.Unmarshal(data, &holder); err != nil {
			lastCorrupt = err
			continue
		}
		return holder, nil
	}
	return Holder{}, fmt.Errorf("%w: %v", ErrCorrupt, lastCorrupt)
}

// sweepTempFiles removes abandoned temp lock files from crashed heartbeats.
// Only files past the stale margin are touched; a younger temp file may be a
// live heartbeat mid-write.
func sweepTempFiles(path string) {
	matches, err := filepath.Glob(path + ".*.tmp")
	if err != nil {
		return
	}
	threshold := time.Now().Add(-staleAfter)
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if info.ModTime().Before(threshold) {
			if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
				plog.Warn("Could not remove abandoned temp lock file", "path", m, "error", err)
			}
		}
	}
}
