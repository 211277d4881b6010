package probe

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func statfs(path string) (Snapshot, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Snapshot{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	return fromStatfs(&st), nil
}

// fromStatfs uses the fragment size as block size; f_blocks, f_bfree and
// f_bavail are counted in fragments.
func fromStatfs(st *unix.Statfs_t) Snapshot {
	frsize := int64(st.Frsize)
	if frsize == 0 {
		frsize = int64(st.Bsize)
	}
	return Snapshot{
		BlockSize:   frsize,
		IOSize:      int64(st.Bsize),
		TotalBlocks: int64(st.Blocks),
		FreeBlocks:  int64(st.Bfree),
		AvailBlocks: int64(st.Bavail),
		Files:       int64(st.Files),
		FreeFiles:   int64(st.Ffree),
		NameLen:     int64(st.Namelen),
	}
}
