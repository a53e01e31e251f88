package journal

import (
	"crypto/rand"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ksp-modsync/modsync/pkg/plog"
)

// Recorder is the logging context for one sync pass. It writes every entry
// to the primary (shared) sink and falls back to the local sink when the
// primary fails. Recording never returns an error to the caller: a log store
// outage must not abort a sync.
type Recorder struct {
	origin   Origin
	primary  Sink
	fallback Sink

	// degraded flips to true after the first primary failure so the outage
	// is reported once, not once per entry.
	degraded atomic.Bool
	mu       sync.Mutex
}

// NewRecorder builds a Recorder for one pass. Either sink may be nil; with
// both nil the recorder is a no-op (useful in tests).
func NewRecorder(origin Origin, primary, fallback Sink) *Recorder {
	return &Recorder{origin: origin, primary: primary, fallback: fallback}
}

// NewOrigin captures the identity of this machine with a fresh session tag.
func NewOrigin() Origin {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return Origin{
		Host:     host,
		Platform: runtime.GOOS,
		PID:      os.Getpid(),
		Session:  newSessionTag(),
	}
}

// newSessionTag returns a short random hex tag identifying one sync pass in
// the shared log store.
func newSessionTag() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff)
	}
	return fmt.Sprintf("%x", b)
}

// Origin returns the identity this recorder stamps on every entry.
func (r *Recorder) Origin() Origin {
	return r.origin
}

// Record appends one entry at the given level.
func (r *Recorder) Record(level Level, format string, args ...any) {
	e := Entry{
		Time:    time.Now(),
		Origin:  r.origin,
		Level:   level,
		Message: fmt.Sprintf(format, args...),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.primary != nil && !r.degraded.Load() {
		if err := r.primary.Append(e); err == nil {
			return
		} else {
			r.degraded.Store(true)
			plog.Warn("Shared log store unreachable, switching to local fallback", "error", err)
		}
	}
	if r.fallback == nil {
		return
	}
	if err := r.fallback.Append(e); err != nil {
		// Both stores failing is reported to the console and nowhere else;
		// there is no third tier.
		plog.Error("Local fallback log store failed", "error", err)
	}
}

// Infof records an INFO entry.
func (r *Recorder) Infof(format string, args ...any) { r.Record(Info, format, args...) }

// Warningf records a WARNING entry.
func (r *Recorder) Warningf(format string, args ...any) { r.Record(Warning, format, args...) }

// Errorf records an ERROR entry.
func (r *Recorder) Errorf(format string, args ...any) { r.Record(Error, format, args...) }

// Degraded reports whether the primary sink has failed during this pass.
func (r *Recorder) Degraded() bool {
	return r.degraded.Load()
}

// Close closes both sinks.
func (r *Recorder) Close() {
	if r.primary != nil {
		if err := r.primary.Close(); err != nil {
			plog.Warn("Closing shared log store failed", "error", err)
		}
	}
	if r.fallback != nil {
		if err := r.fallback.Close(); err != nil {
			plog.Warn("Closing local log store failed", "error", err)
		}
	}
}
