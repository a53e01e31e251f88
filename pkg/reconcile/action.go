package reconcile

import "fmt"

// Op is the kind of a sync action.
type Op int

const (
	OpCreateDir Op = iota
	OpCopyFile
	OpDeleteFile
)

func (o Op) String() string {
	switch o {
	case OpCreateDir:
		return "mkdir"
	case OpCopyFile:
		return "copy"
	case OpDeleteFile:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Reason explains why a CopyFile action was emitted.
type Reason string

const (
	// ReasonNew marks a file absent from the destination.
	ReasonNew Reason = "new"
	// ReasonUpdated marks a file whose source version won conflict
	// resolution. Overwrite is implicit; there is no separate update op.
	ReasonUpdated Reason = "updated"
)

// Action is the atomic unit of reconciliation, applied immediately when
// emitted and journaled exactly once.
type Action struct {
	Op      Op
	RelPath string
	Reason  Reason // set for OpCopyFile only
}

func (a Action) String() string {
	if a.Op == OpCopyFile {
		return fmt.Sprintf("%s %s (%s)", a.Op, a.RelPath, a.Reason)
	}
	return fmt.Sprintf("%s %s", a.Op, a.RelPath)
}
