package reconcile

import (
	"time"

	"github.com/ksp-modsync/modsync/pkg/snapshot"
)

// Decision is the outcome of comparing two versions of the same relative
// path, one on each side of a directed pass.
type Decision int

const (
	// Equal means both sides carry the same version; no action is taken.
	Equal Decision = iota
	// PreferSource means the source version wins and must be copied over.
	PreferSource
	// PreferDestination means the destination version is newer and is left
	// alone; the reverse pass will copy it back.
	PreferDestination
)

func (d Decision) String() string {
	switch d {
	case PreferSource:
		return "prefer-source"
	case PreferDestination:
		return "prefer-destination"
	default:
		return "equal"
	}
}

// Resolve decides which of two file versions wins. The primary key is the
// modification timestamp: strictly newer wins. Timestamps are truncated to
// the given window first, so filesystems with different timestamp
// resolutions (FAT on a share vs ext4 locally) do not produce phantom
// conflicts. On a timestamp tie, differing sizes resolve to the source, the
// authoritative side of whichever directed pass is executing; identical
// size and time is Equal.
func Resolve(src, dst snapshot.Entry, window time.Duration) Decision {
	srcTime := time.Unix(0, src.ModTime)
	dstTime := time.Unix(0, dst.ModTime)
	if window > 0 {
		srcTime = srcTime.Truncate(window)
		dstTime = dstTime.Truncate(window)
	}

	switch {
	case srcTime.After(dstTime):
		return PreferSource
	case dstTime.After(srcTime):
		return PreferDestination
	case src.Size != dst.Size:
		return PreferSource
	default:
		return Equal
	}
}
