package session

import (
	"context"
	"time"

	"golang.org/x/sys/unix"

	"github.com/fspropfaker/fspropfaker/internal/fuse"
	"github.com/fspropfaker/fspropfaker/internal/probe"
	"github.com/fspropfaker/fspropfaker/pkg/health"
	"github.com/fspropfaker/fspropfaker/pkg/retry"
	"github.com/fspropfaker/fspropfaker/pkg/utils"
)

const (
	// DefaultName is the filesystem name used when Options.Name is empty.
	DefaultName = "propfaker"

	// MaxNameLen is the longest accepted filesystem name, in bytes.
	MaxNameLen = 20

	mountDirPattern = "fspropfaker"
)

// Options configures Create.
type Options struct {
	// Name is the filesystem name shown in the mount table.
	Name string

	// RootPath is the existing directory exposed through the mount.
	RootPath string

	// MountPath is where the filesystem is mounted. When empty a temporary
	// directory is created and removed again by Close.
	MountPath string

	// LogPath, when set, makes the session write its own rotated log there.
	// It must not lie inside MountPath.
	LogPath string

	// LogLevel applies to the log at LogPath. Empty means INFO.
	LogLevel string

	// Debug traces every FUSE request into the log.
	Debug bool

	// AllowOther lets other users access the mount (needs user_allow_other
	// in /etc/fuse.conf).
	AllowOther bool

	// AttrTimeout and EntryTimeout override the kernel cache timeouts of
	// fuse.DefaultMountOptions when positive.
	AttrTimeout  time.Duration
	EntryTimeout time.Duration

	// Readiness bounds the poll that waits for the kernel to route statfs
	// to the session. The zero value uses retry.DefaultConfig().
	Readiness retry.Config

	// WatchInterval is how often the mount table is checked for an external
	// unmount. Zero means 10s; negative disables the watcher.
	WatchInterval time.Duration

	// Logger receives session logs when LogPath is empty. Nil discards them.
	Logger *utils.StructuredLogger

	// Metrics, when set, records every query and setter.
	Metrics Recorder

	// Health, when set, gets the probe and mount components registered.
	Health *health.Tracker
}

// Recorder receives operation and capacity measurements.
// *metrics.Collector implements it.
type Recorder interface {
	RecordOperation(operation string, duration time.Duration, err error)
	UpdateCapacity(real, fake probe.Snapshot)
}

// State is the lifecycle state of a session.
type State int32

const (
	StateCreated State = iota
	StateInitializing
	StateReady
	StateUnmounting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateUnmounting:
		return "unmounting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// deps are the operating system collaborators of Create, replaced in tests.
type deps struct {
	prober          probe.Prober
	newDispatcher   func(fuse.MountConfig, fuse.StatfsSource, *utils.StructuredLogger) (fuse.Dispatcher, error)
	isPrivileged    func() bool
	checkMountPoint func(path string) error
	statMount       func(ctx context.Context, path string) error
	isMounted       func(path string) (bool, error)
}

func defaultDeps() deps {
	return deps{
		prober:          probe.StatfsProber{},
		newDispatcher:   fuse.New,
		isPrivileged:    isPrivileged,
		checkMountPoint: fuse.CheckMountPoint,
		statMount:       statMount,
		isMounted:       fuse.IsMounted,
	}
}

func isPrivileged() bool {
	return unix.Getuid() == 0 || unix.Geteuid() == 0
}

func statMount(ctx context.Context, path string) error {
	var st unix.Statfs_t
	return unix.Statfs(path, &st)
}
