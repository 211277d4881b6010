/*
Package fuse mounts a passthrough view of a real directory whose statfs answers
come from a StatfsSource instead of the real filesystem.

Every operation except statfs is forwarded unchanged to the directory behind
the mount. Statfs is answered by the source, which applies the session's
capacity-faking rules:

	┌──────────────────────────────┐
	│   Applications (df, cp, …)   │
	└──────────────────────────────┘
	               │ statfs, read, write, …
	┌──────────────────────────────┐
	│     Kernel VFS / FUSE        │
	└──────────────────────────────┘
	               │
	┌──────────────────────────────┐
	│   Dispatcher (this package)  │── statfs ──▶ StatfsSource
	└──────────────────────────────┘
	               │ everything else
	┌──────────────────────────────┐
	│      Real root directory     │
	└──────────────────────────────┘

# Platform Support

Default build (go-fuse):
  - Implementation: github.com/hanwen/go-fuse/v2, loopback nodes wrapped
    with a statfs override
  - Target: Linux, macOS with macFUSE

CGO build (cgofuse):
  - Build: go build -tags cgofuse
  - Implementation: github.com/winfsp/cgofuse, path-based passthrough
  - Target: macOS, FreeBSD and Windows via WinFsp

# Lifecycle

A Dispatcher is single-use. Serve mounts the filesystem, calls the init
callback once the kernel handshake has completed and then blocks until the
filesystem is unmounted. Unmount may be called from any goroutine, also before
Serve has finished mounting; the pending request is honored as soon as the
mount exists.

	d, err := fuse.New(fuse.MountConfig{Root: root, MountPoint: mnt}, source, logger)
	go func() { serveErr <- d.Serve(func() { close(ready) }) }()
	<-ready
	// ... use the mount ...
	_ = d.Unmount()

Failures of the normal unmount fall back to ForceUnmount, a lazy detach that
succeeds even when files below the mount point are still open.
*/
package fuse
