package reconcile

import (
	"sync/atomic"

	"github.com/ksp-modsync/modsync/pkg/pathutil"
	"github.com/ksp-modsync/modsync/pkg/plog"
)

// Metrics defines the interface for collecting reconciliation statistics.
type Metrics interface {
	AddDirsCreated(n int64)
	AddFilesCopied(n int64)
	AddFilesDeleted(n int64)
	AddFilesUpToDate(n int64)
	AddFilesPreserved(n int64)
	AddBytesWritten(n int64)
	AddErrors(n int64)
	LogSummary(msg string)
}

// SyncMetrics holds the atomic counters for one directed pass. It is the
// concrete implementation of the Metrics interface.
type SyncMetrics struct {
	DirsCreated    atomic.Int64
	FilesCopied    atomic.Int64
	FilesDeleted   atomic.Int64
	FilesUpToDate  atomic.Int64
	FilesPreserved atomic.Int64
	BytesWritten   atomic.Int64
	Errors         atomic.Int64
}

func (m *SyncMetrics) AddDirsCreated(n int64)    { m.DirsCreated.Add(n) }
func (m *SyncMetrics) AddFilesCopied(n int64)    { m.FilesCopied.Add(n) }
func (m *SyncMetrics) AddFilesDeleted(n int64)   { m.FilesDeleted.Add(n) }
func (m *SyncMetrics) AddFilesUpToDate(n int64)  { m.FilesUpToDate.Add(n) }
func (m *SyncMetrics) AddFilesPreserved(n int64) { m.FilesPreserved.Add(n) }
func (m *SyncMetrics) AddBytesWritten(n int64)   { m.BytesWritten.Add(n) }
func (m *SyncMetrics) AddErrors(n int64)         { m.Errors.Add(n) }

// LogSummary prints the pass totals to the console log.
func (m *SyncMetrics) LogSummary(msg string) {
	plog.Info(msg,
		"dirsCreated", m.DirsCreated.Load(),
		"filesCopied", m.FilesCopied.Load(),
		"filesUpToDate", m.FilesUpToDate.Load(),
		"filesPreserved", m.FilesPreserved.Load(),
		"filesDeleted", m.FilesDeleted.Load(),
		"written", pathutil.ByteCountIEC(m.BytesWritten.Load()),
		"errors", m.Errors.Load(),
	)
}

// NoopMetrics disables metrics collection without changing the calling code.
type NoopMetrics struct{}

func (m *NoopMetrics) AddDirsCreated(n int64)    {}
func (m *NoopMetrics) AddFilesCopied(n int64)    {}
func (m *NoopMetrics) AddFilesDeleted(n int64)   {}
func (m *NoopMetrics) AddFilesUpToDate(n int64)  {}
func (m *NoopMetrics) AddFilesPreserved(n int64) {}
func (m *NoopMetrics) AddBytesWritten(n int64)   {}
func (m *NoopMetrics) AddErrors(n int64)         {}
func (m *NoopMetrics) LogSummary(msg string)     {}

var (
	_ Metrics = (*SyncMetrics)(nil)
	_ Metrics = (*NoopMetrics)(nil)
)
