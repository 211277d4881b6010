//go:build cgofuse && darwin
// +build cgofuse,darwin

package fuse

import (
	"github.com/winfsp/cgofuse/fuse"
	"golang.org/x/sys/unix"
)

func copyStat(dst *fuse.Stat_t, src *unix.Stat_t) {
	*dst = fuse.Stat_t{
		Dev:      uint64(src.Dev),
		Ino:      src.Ino,
		Mode:     uint32(src.Mode),
		Nlink:    uint32(src.Nlink),
		Uid:      src.Uid,
		Gid:      src.Gid,
		Rdev:     uint64(src.Rdev),
		Size:     src.Size,
		Atim:     fuse.Timespec{Sec: src.Atim.Sec, Nsec: src.Atim.Nsec},
		Mtim:     fuse.Timespec{Sec: src.Mtim.Sec, Nsec: src.Mtim.Nsec},
		Ctim:     fuse.Timespec{Sec: src.Ctim.Sec, Nsec: src.Ctim.Nsec},
		Birthtim: fuse.Timespec{Sec: src.Btim.Sec, Nsec: src.Btim.Nsec},
		Blksize:  int64(src.Blksize),
		Blocks:   src.Blocks,
		Flags:    src.Flags,
	}
}
