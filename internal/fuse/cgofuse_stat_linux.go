//go:build cgofuse && linux
// +build cgofuse,linux

package fuse

import (
	"github.com/winfsp/cgofuse/fuse"
	"golang.org/x/sys/unix"
)

func copyStat(dst *fuse.Stat_t, src *unix.Stat_t) {
	*dst = fuse.Stat_t{
		Dev:     uint64(src.Dev),
		Ino:     uint64(src.Ino),
		Mode:    uint32(src.Mode),
		Nlink:   uint32(src.Nlink),
		Uid:     src.Uid,
		Gid:     src.Gid,
		Rdev:    uint64(src.Rdev),
		Size:    src.Size,
		Atim:    fuse.Timespec{Sec: int64(src.Atim.Sec), Nsec: int64(src.Atim.Nsec)},
		Mtim:    fuse.Timespec{Sec: int64(src.Mtim.Sec), Nsec: int64(src.Mtim.Nsec)},
		Ctim:    fuse.Timespec{Sec: int64(src.Ctim.Sec), Nsec: int64(src.Ctim.Nsec)},
		Blksize: int64(src.Blksize),
		Blocks:  src.Blocks,
	}
}
