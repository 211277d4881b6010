package fuse

import (
	"os/exec"

	"golang.org/x/sys/unix"
)

// ForceUnmount detaches mountPoint even when it is busy. The fusermount
// helpers work unprivileged; the raw syscall is the fallback for root.
func ForceUnmount(mountPoint string) error {
	var lastErr error
	for _, helper := range []string{"fusermount3", "fusermount"} {
		path, err := exec.LookPath(helper)
		if err != nil {
			continue
		}
		if lastErr = exec.Command(path, "-u", "-z", mountPoint).Run(); lastErr == nil {
			return nil
		}
	}

	if err := unix.Unmount(mountPoint, unix.MNT_DETACH); err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}
