//go:build !cgofuse
// +build !cgofuse

package fuse

import (
	"context"
	"sync"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/fspropfaker/fspropfaker/internal/probe"
	"github.com/fspropfaker/fspropfaker/pkg/errors"
	"github.com/fspropfaker/fspropfaker/pkg/utils"
)

// capacityNode is a loopback node whose Statfs is answered by a StatfsSource.
// Children created by the loopback code are wrapped the same way.
type capacityNode struct {
	*fs.LoopbackNode
	source StatfsSource
}

var (
	_ = (fs.NodeStatfser)((*capacityNode)(nil))
	_ = (fs.NodeWrapChilder)((*capacityNode)(nil))
)

func (n *capacityNode) WrapChild(ctx context.Context, ops fs.InodeEmbedder) fs.InodeEmbedder {
	return &capacityNode{LoopbackNode: ops.(*fs.LoopbackNode), source: n.source}
}

func (n *capacityNode) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	rel := n.Path(n.RootData.RootNode.EmbeddedInode())
	snap, err := n.source.Statfs(ctx, rel)
	if err != nil {
		return toErrno(err)
	}
	fillStatfsOut(out, snap)
	return fs.OK
}

// newCapacityRoot builds the loopback tree for root.
func newCapacityRoot(root string, source StatfsSource) (fs.InodeEmbedder, error) {
	var st syscall.Stat_t
	if err := syscall.Stat(root, &st); err != nil {
		return nil, err
	}

	data := &fs.LoopbackRoot{
		Path: root,
		Dev:  uint64(st.Dev),
	}
	node := &capacityNode{
		LoopbackNode: &fs.LoopbackNode{RootData: data},
		source:       source,
	}
	data.RootNode = node
	return node, nil
}

func fillStatfsOut(out *fuse.StatfsOut, snap probe.Snapshot) {
	out.Blocks = uint64(max(snap.TotalBlocks, 0))
	out.Bfree = uint64(max(snap.FreeBlocks, 0))
	out.Bavail = uint64(max(snap.AvailBlocks, 0))
	out.Files = uint64(max(snap.Files, 0))
	out.Ffree = uint64(max(snap.FreeFiles, 0))
	out.Bsize = uint32(snap.IOSize)
	out.Frsize = uint32(snap.BlockSize)
	out.NameLen = uint32(snap.NameLen)
}

// initHook fires onInit once, after the server has completed the INIT
// handshake with the kernel.
type initHook struct {
	fuse.RawFileSystem
	once   sync.Once
	onInit func()
}

func (h *initHook) Init(server *fuse.Server) {
	h.RawFileSystem.Init(server)
	if h.onInit != nil {
		h.once.Do(h.onInit)
	}
}

type goFuseDispatcher struct {
	cfg    MountConfig
	source StatfsSource
	logger *utils.StructuredLogger

	mu        sync.Mutex
	server    *fuse.Server
	served    bool
	unmounted bool
}

func newGoFuseDispatcher(cfg MountConfig, source StatfsSource, logger *utils.StructuredLogger) *goFuseDispatcher {
	return &goFuseDispatcher{cfg: cfg, source: source, logger: logger}
}

func (d *goFuseDispatcher) buildOptions() *fs.Options {
	o := d.cfg.Options
	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			Name:       d.cfg.Name,
			FsName:     o.FSName,
			AllowOther: o.AllowOther,
			Debug:      o.Debug,
			MaxWrite:   o.MaxWrite,
			Logger:     d.logger.StdLogger(utils.DEBUG),
		},
		Logger: d.logger.StdLogger(utils.WARN),
	}
	if o.AttrTimeout > 0 {
		opts.AttrTimeout = &o.AttrTimeout
	}
	if o.EntryTimeout > 0 {
		opts.EntryTimeout = &o.EntryTimeout
	}
	if o.AllowOther {
		// The kernel must check permissions when other users can enter the mount.
		opts.MountOptions.Options = append(opts.MountOptions.Options, "default_permissions")
	}
	return opts
}

func (d *goFuseDispatcher) Serve(onInit func()) error {
	d.mu.Lock()
	if d.served {
		d.mu.Unlock()
		return errors.NewError(errors.ErrCodeMountFailed, "dispatcher already served").
			WithComponent("dispatcher")
	}
	d.served = true
	d.mu.Unlock()

	root, err := newCapacityRoot(d.cfg.Root, d.source)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeMountFailed, "cannot open root directory").
			WithComponent("dispatcher").WithContext("root", d.cfg.Root)
	}

	opts := d.buildOptions()
	raw := fs.NewNodeFS(root, opts)
	server, err := fuse.NewServer(&initHook{RawFileSystem: raw, onInit: onInit}, d.cfg.MountPoint, &opts.MountOptions)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeMountFailed, "mount failed").
			WithComponent("dispatcher").WithContext("mount_point", d.cfg.MountPoint)
	}

	d.mu.Lock()
	d.server = server
	pending := d.unmounted
	d.mu.Unlock()

	d.logger.Info("mounted", map[string]interface{}{"root": d.cfg.Root, "mount_point": d.cfg.MountPoint})

	if pending {
		// Unmount was requested while NewServer was still mounting.
		go func() {
			if err := d.unmountServer(server); err != nil {
				d.logger.Error("deferred unmount failed", map[string]interface{}{"error": err})
			}
		}()
	}

	server.Serve()
	d.logger.Info("serve loop exited", map[string]interface{}{"mount_point": d.cfg.MountPoint})
	return nil
}

func (d *goFuseDispatcher) Unmount() error {
	d.mu.Lock()
	server := d.server
	d.unmounted = true
	d.mu.Unlock()

	if server == nil {
		return nil
	}
	return d.unmountServer(server)
}

func (d *goFuseDispatcher) unmountServer(server *fuse.Server) error {
	err := server.Unmount()
	if err == nil {
		return nil
	}

	d.logger.Warn("normal unmount failed, trying forced unmount", map[string]interface{}{"error": err})
	if ferr := ForceUnmount(d.cfg.MountPoint); ferr != nil {
		return errors.Wrap(err, errors.ErrCodeUnmountFailed, "unmount failed").
			WithComponent("dispatcher").
			WithContext("mount_point", d.cfg.MountPoint).
			WithDetail("force_error", ferr.Error())
	}
	return nil
}
