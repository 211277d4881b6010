package capacity

import (
	"math"

	"github.com/fspropfaker/fspropfaker/internal/probe"
)

// Resolve applies the disk and free rules to a real snapshot. The total is
// resolved first; available is then capped at the resolved total, also when
// the free rule tracks the real value, so a result never reports more
// available than total blocks. Free keeps the real reserved margin on top of
// available.
func Resolve(live probe.Snapshot, disk, free Rule) probe.Snapshot {
	reserved := live.Reserved()

	total := live.TotalBlocks
	switch {
	case disk.Mode == ModeFixed:
		total = disk.Blocks
	case disk.Blocks != 0:
		total = max(0, addSat(live.TotalBlocks, disk.Blocks))
	}

	avail := min(live.AvailBlocks, total)
	switch {
	case free.Mode == ModeFixed:
		avail = min(free.Blocks, total)
	case free.Blocks != 0:
		avail = clamp(addSat(live.AvailBlocks, free.Blocks), 0, total)
	}

	out := live
	out.TotalBlocks = total
	out.AvailBlocks = avail
	out.FreeBlocks = addSat(avail, reserved)
	return out
}

func clamp(v, lo, hi int64) int64 {
	return max(lo, min(v, hi))
}

// addSat adds two int64 values, saturating at the int64 bounds.
func addSat(a, b int64) int64 {
	sum := a + b
	switch {
	case b > 0 && sum < a:
		return math.MaxInt64
	case b < 0 && sum > a:
		return math.MinInt64
	}
	return sum
}
