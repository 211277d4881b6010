//go:build cgofuse && (linux || darwin)
// +build cgofuse
// +build linux darwin

package fuse

import (
	"context"
	stderrors "errors"
	"os"
	"sync"
	"syscall"

	"github.com/winfsp/cgofuse/fuse"
	"golang.org/x/sys/unix"

	"github.com/fspropfaker/fspropfaker/pkg/errors"
	"github.com/fspropfaker/fspropfaker/pkg/utils"
)

// passthroughFS forwards path-based cgofuse calls to the real root and
// answers Statfs from the source. File handles are real file descriptors.
type passthroughFS struct {
	fuse.FileSystemBase

	root   string
	source StatfsSource
	logger *utils.StructuredLogger
	onInit func()
	once   sync.Once
}

func errc(err error) int {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if stderrors.As(err, &errno) {
		return -int(errno)
	}
	return -fuse.EIO
}

func (p *passthroughFS) real(path string) (string, int) {
	full, err := utils.SecureJoin(p.root, path)
	if err != nil {
		return "", -fuse.EACCES
	}
	return full, 0
}

func (p *passthroughFS) Init() {
	if p.onInit != nil {
		p.once.Do(p.onInit)
	}
}

func (p *passthroughFS) Statfs(path string, stat *fuse.Statfs_t) int {
	snap, err := p.source.Statfs(context.Background(), path)
	if err != nil {
		return -int(toErrno(err))
	}
	*stat = fuse.Statfs_t{
		Bsize:   uint64(snap.IOSize),
		Frsize:  uint64(snap.BlockSize),
		Blocks:  uint64(max(snap.TotalBlocks, 0)),
		Bfree:   uint64(max(snap.FreeBlocks, 0)),
		Bavail:  uint64(max(snap.AvailBlocks, 0)),
		Files:   uint64(max(snap.Files, 0)),
		Ffree:   uint64(max(snap.FreeFiles, 0)),
		Favail:  uint64(max(snap.FreeFiles, 0)),
		Namemax: uint64(snap.NameLen),
	}
	return 0
}

func (p *passthroughFS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	var st unix.Stat_t
	var err error
	if fh != ^uint64(0) {
		err = unix.Fstat(int(fh), &st)
	} else {
		full, e := p.real(path)
		if e != 0 {
			return e
		}
		err = unix.Lstat(full, &st)
	}
	if err != nil {
		return errc(err)
	}
	copyStat(stat, &st)
	return 0
}

func (p *passthroughFS) Access(path string, mask uint32) int {
	full, e := p.real(path)
	if e != 0 {
		return e
	}
	return errc(unix.Access(full, mask))
}

func (p *passthroughFS) Mknod(path string, mode uint32, dev uint64) int {
	full, e := p.real(path)
	if e != 0 {
		return e
	}
	return errc(unix.Mknod(full, mode, int(dev)))
}

func (p *passthroughFS) Mkdir(path string, mode uint32) int {
	full, e := p.real(path)
	if e != 0 {
		return e
	}
	return errc(unix.Mkdir(full, mode))
}

func (p *passthroughFS) Unlink(path string) int {
	full, e := p.real(path)
	if e != 0 {
		return e
	}
	return errc(unix.Unlink(full))
}

func (p *passthroughFS) Rmdir(path string) int {
	full, e := p.real(path)
	if e != 0 {
		return e
	}
	return errc(unix.Rmdir(full))
}

func (p *passthroughFS) Link(oldpath, newpath string) int {
	from, e := p.real(oldpath)
	if e != 0 {
		return e
	}
	to, e := p.real(newpath)
	if e != 0 {
		return e
	}
	return errc(unix.Link(from, to))
}

func (p *passthroughFS) Symlink(target, newpath string) int {
	full, e := p.real(newpath)
	if e != 0 {
		return e
	}
	return errc(unix.Symlink(target, full))
}

func (p *passthroughFS) Readlink(path string) (int, string) {
	full, e := p.real(path)
	if e != 0 {
		return e, ""
	}
	target, err := os.Readlink(full)
	if err != nil {
		return errc(err), ""
	}
	return 0, target
}

func (p *passthroughFS) Rename(oldpath, newpath string) int {
	from, e := p.real(oldpath)
	if e != 0 {
		return e
	}
	to, e := p.real(newpath)
	if e != 0 {
		return e
	}
	return errc(unix.Rename(from, to))
}

func (p *passthroughFS) Chmod(path string, mode uint32) int {
	full, e := p.real(path)
	if e != 0 {
		return e
	}
	return errc(unix.Chmod(full, mode))
}

func (p *passthroughFS) Chown(path string, uid, gid uint32) int {
	full, e := p.real(path)
	if e != 0 {
		return e
	}
	return errc(unix.Lchown(full, int(int32(uid)), int(int32(gid))))
}

func (p *passthroughFS) Utimens(path string, tmsp []fuse.Timespec) int {
	full, e := p.real(path)
	if e != 0 {
		return e
	}
	ts := []unix.Timespec{
		unix.NsecToTimespec(tmsp[0].Time().UnixNano()),
		unix.NsecToTimespec(tmsp[1].Time().UnixNano()),
	}
	return errc(unix.UtimesNanoAt(unix.AT_FDCWD, full, ts, unix.AT_SYMLINK_NOFOLLOW))
}

func (p *passthroughFS) Create(path string, flags int, mode uint32) (int, uint64) {
	full, e := p.real(path)
	if e != 0 {
		return e, ^uint64(0)
	}
	fd, err := unix.Open(full, flags|unix.O_CREAT, mode)
	if err != nil {
		return errc(err), ^uint64(0)
	}
	return 0, uint64(fd)
}

func (p *passthroughFS) Open(path string, flags int) (int, uint64) {
	full, e := p.real(path)
	if e != 0 {
		return e, ^uint64(0)
	}
	fd, err := unix.Open(full, flags, 0)
	if err != nil {
		return errc(err), ^uint64(0)
	}
	return 0, uint64(fd)
}

func (p *passthroughFS) Truncate(path string, size int64, fh uint64) int {
	if fh != ^uint64(0) {
		return errc(unix.Ftruncate(int(fh), size))
	}
	full, e := p.real(path)
	if e != 0 {
		return e
	}
	return errc(unix.Truncate(full, size))
}

func (p *passthroughFS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	n, err := unix.Pread(int(fh), buff, ofst)
	if err != nil {
		return errc(err)
	}
	return n
}

func (p *passthroughFS) Write(path string, buff []byte, ofst int64, fh uint64) int {
	n, err := unix.Pwrite(int(fh), buff, ofst)
	if err != nil {
		return errc(err)
	}
	return n
}

func (p *passthroughFS) Release(path string, fh uint64) int {
	return errc(unix.Close(int(fh)))
}

func (p *passthroughFS) Fsync(path string, datasync bool, fh uint64) int {
	return errc(unix.Fsync(int(fh)))
}

func (p *passthroughFS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool,
	ofst int64, fh uint64) int {
	full, e := p.real(path)
	if e != 0 {
		return e
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return errc(err)
	}
	fill(".", nil, 0)
	fill("..", nil, 0)
	for _, entry := range entries {
		if !fill(entry.Name(), nil, 0) {
			break
		}
	}
	return 0
}

func (p *passthroughFS) Setxattr(path string, name string, value []byte, flags int) int {
	full, e := p.real(path)
	if e != 0 {
		return e
	}
	return errc(unix.Setxattr(full, name, value, flags))
}

func (p *passthroughFS) Getxattr(path string, name string) (int, []byte) {
	full, e := p.real(path)
	if e != 0 {
		return e, nil
	}
	size, err := unix.Getxattr(full, name, nil)
	if err != nil {
		return errc(err), nil
	}
	buf := make([]byte, size)
	n, err := unix.Getxattr(full, name, buf)
	if err != nil {
		return errc(err), nil
	}
	return 0, buf[:n]
}

func (p *passthroughFS) Removexattr(path string, name string) int {
	full, e := p.real(path)
	if e != 0 {
		return e
	}
	return errc(unix.Removexattr(full, name))
}

func (p *passthroughFS) Listxattr(path string, fill func(name string) bool) int {
	full, e := p.real(path)
	if e != 0 {
		return e
	}
	size, err := unix.Listxattr(full, nil)
	if err != nil {
		return errc(err)
	}
	buf := make([]byte, size)
	n, err := unix.Listxattr(full, buf)
	if err != nil {
		return errc(err)
	}
	start := 0
	for i := 0; i < n; i++ {
		if buf[i] == 0 {
			if i > start && !fill(string(buf[start:i])) {
				break
			}
			start = i + 1
		}
	}
	return 0
}

type cgoFuseDispatcher struct {
	cfg    MountConfig
	source StatfsSource
	logger *utils.StructuredLogger

	mu        sync.Mutex
	host      *fuse.FileSystemHost
	unmounted bool
}

func newCgoFuseDispatcher(cfg MountConfig, source StatfsSource, logger *utils.StructuredLogger) *cgoFuseDispatcher {
	return &cgoFuseDispatcher{cfg: cfg, source: source, logger: logger}
}

func (d *cgoFuseDispatcher) options() []string {
	opts := []string{"-o", "fsname=" + d.cfg.Options.FSName}
	if d.cfg.Name != "" {
		opts = append(opts, "-o", "subtype="+d.cfg.Name)
	}
	if d.cfg.Options.AllowOther {
		opts = append(opts, "-o", "allow_other", "-o", "default_permissions")
	}
	if d.cfg.Options.Debug {
		opts = append(opts, "-d")
	}
	return opts
}

func (d *cgoFuseDispatcher) Serve(onInit func()) error {
	fsys := &passthroughFS{root: d.cfg.Root, source: d.source, logger: d.logger}

	d.mu.Lock()
	if d.host != nil {
		d.mu.Unlock()
		return errors.NewError(errors.ErrCodeMountFailed, "dispatcher already served").
			WithComponent("dispatcher")
	}
	host := fuse.NewFileSystemHost(fsys)
	d.host = host
	fsys.onInit = func() {
		d.logger.Info("mounted", map[string]interface{}{"root": d.cfg.Root, "mount_point": d.cfg.MountPoint})
		d.mu.Lock()
		pending := d.unmounted
		d.mu.Unlock()
		if pending {
			go host.Unmount()
		}
		if onInit != nil {
			onInit()
		}
	}
	d.mu.Unlock()

	if !host.Mount(d.cfg.MountPoint, d.options()) {
		return errors.NewError(errors.ErrCodeMountFailed, "mount failed").
			WithComponent("dispatcher").WithContext("mount_point", d.cfg.MountPoint)
	}
	d.logger.Info("serve loop exited", map[string]interface{}{"mount_point": d.cfg.MountPoint})
	return nil
}

func (d *cgoFuseDispatcher) Unmount() error {
	d.mu.Lock()
	host := d.host
	d.unmounted = true
	d.mu.Unlock()

	if host == nil || host.Unmount() {
		return nil
	}

	d.logger.Warn("normal unmount failed, trying forced unmount", nil)
	if err := ForceUnmount(d.cfg.MountPoint); err != nil {
		return errors.Wrap(err, errors.ErrCodeUnmountFailed, "unmount failed").
			WithComponent("dispatcher").WithContext("mount_point", d.cfg.MountPoint)
	}
	return nil
}
