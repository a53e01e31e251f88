// Package journal records the auditable history of sync actions. Every
// applied or failed action produces exactly one entry. Entries are appended
// to a shared log store (a file on the remote share, written by every
// machine) and, when that store is unreachable, to a durable local fallback.
// A sink failure never aborts a sync pass.
package journal

import (
	"fmt"
	"strings"
	"time"
)

// Level is the closed severity enumeration carried on every entry.
type Level int

const (
	Info Level = iota
	Warning
	Error
)

var levelNames = map[Level]string{
	Info:    "INFO",
	Warning: "WARNING",
	Error:   "ERROR",
}

func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel converts a severity name to a Level.
func ParseLevel(s string) (Level, error) {
	for l, name := range levelNames {
		if strings.EqualFold(s, name) {
			return l, nil
		}
	}
	return Info, fmt.Errorf("unknown journal level %q", s)
}

// Origin identifies the machine and session that produced an entry. The
// session tag is generated per sync pass and carried explicitly on the
// Recorder; there is no process-global session state.
type Origin struct {
	Host     string
	Platform string
	PID      int
	Session  string
}

func (o Origin) String() string {
	return fmt.Sprintf("%s:%d:%s", o.Host, o.PID, o.Session)
}

// Entry is one immutable journal record.
type Entry struct {
	Time    time.Time
	Origin  Origin
	Level   Level
	Message string
}

// Line renders the entry in the shared log store's text format:
//
//	[timestamp] [host:pid:session] [platform] [LEVEL] message
//
// The rendered record is a single line; newlines in the message are folded
// so one entry is always one atomic append.
func (e Entry) Line() string {
	msg := strings.ReplaceAll(e.Message, "\n", " ")
	return fmt.Sprintf("[%s] [%s] [%s] [%s] %s\n",
		e.Time.UTC().Format(time.RFC3339), e.Origin, e.Origin.Platform, e.Level, msg)
}

// Sink is an append-only destination for journal entries.
type Sink interface {
	Append(e Entry) error
	Close() error
}
