package fuse

import (
	stderrors "errors"
	"syscall"

	"github.com/fspropfaker/fspropfaker/pkg/errors"
)

// toErrno maps a StatfsSource error to the errno returned to the kernel.
// Invariant violations become EOVERFLOW, probe failures keep the errno of
// the failed statfs, anything else is EIO.
func toErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	if errors.HasCode(err, errors.ErrCodeBlockSizeChanged) {
		return syscall.EOVERFLOW
	}
	var errno syscall.Errno
	if stderrors.As(err, &errno) {
		return errno
	}
	return syscall.EIO
}
