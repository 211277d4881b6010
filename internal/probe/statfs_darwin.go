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
	return Snapshot{
		BlockSize:   int64(st.Bsize),
		IOSize:      int64(st.Iosize),
		TotalBlocks: int64(st.Blocks),
		FreeBlocks:  int64(st.Bfree),
		AvailBlocks: int64(st.Bavail),
		Files:       int64(st.Files),
		FreeFiles:   int64(st.Ffree),
		NameLen:     255,
	}, nil
}
