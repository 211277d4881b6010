package fuse

import (
	"context"
	"time"

	"github.com/fspropfaker/fspropfaker/internal/probe"
	"github.com/fspropfaker/fspropfaker/pkg/utils"
)

// StatfsSource answers statfs for a path relative to the mounted root.
type StatfsSource interface {
	Statfs(ctx context.Context, rel string) (probe.Snapshot, error)
}

// Dispatcher serves one FUSE mount.
type Dispatcher interface {
	// Serve mounts the filesystem, invokes onInit once the kernel handshake
	// completed and blocks until the filesystem is unmounted.
	Serve(onInit func()) error

	// Unmount detaches the filesystem, making Serve return.
	Unmount() error
}

// MountConfig describes a mount.
type MountConfig struct {
	Root       string       `yaml:"root"`
	MountPoint string       `yaml:"mount_point"`
	Name       string       `yaml:"name"`
	Options    MountOptions `yaml:"options"`
}

// MountOptions contains FUSE mount options
type MountOptions struct {
	AllowOther   bool          `yaml:"allow_other"`
	Debug        bool          `yaml:"debug"`
	FSName       string        `yaml:"fsname"`
	AttrTimeout  time.Duration `yaml:"attr_timeout"`
	EntryTimeout time.Duration `yaml:"entry_timeout"`
	MaxWrite     int           `yaml:"max_write"`
}

// DefaultMountOptions returns the options used when none are configured.
// Short attribute timeouts keep passthrough metadata close to the real tree.
func DefaultMountOptions() MountOptions {
	return MountOptions{
		AttrTimeout:  time.Second,
		EntryTimeout: time.Second,
		MaxWrite:     128 * 1024,
	}
}

// New returns the dispatcher for this build: go-fuse by default, cgofuse
// with the cgofuse build tag.
func New(cfg MountConfig, source StatfsSource, logger *utils.StructuredLogger) (Dispatcher, error) {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if cfg.Options.FSName == "" {
		cfg.Options.FSName = cfg.Root
	}
	return newDispatcher(cfg, source, logger.WithComponent("dispatcher"))
}
