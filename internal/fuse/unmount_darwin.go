package fuse

import "golang.org/x/sys/unix"

// ForceUnmount detaches mountPoint even when it is busy.
func ForceUnmount(mountPoint string) error {
	return unix.Unmount(mountPoint, unix.MNT_FORCE)
}
