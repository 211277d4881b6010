package fuse

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/moby/sys/mountinfo"

	"github.com/fspropfaker/fspropfaker/pkg/errors"
	"github.com/fspropfaker/fspropfaker/pkg/utils"
)

// CheckMountPoint verifies that path is an existing directory that nothing is
// mounted on yet. A non-empty directory is allowed; its content is hidden
// while the faker is mounted.
func CheckMountPoint(path string) error {
	if path == "" {
		return errors.NewError(errors.ErrCodePathInvalid, "mount point cannot be empty").
			WithComponent("mount")
	}

	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodePathInvalid, "cannot access mount point").
			WithComponent("mount").WithContext("path", path)
	}
	if !info.IsDir() {
		return errors.NewError(errors.ErrCodeNotDirectory, "mount point is not a directory").
			WithComponent("mount").WithContext("path", path)
	}

	mounted, err := IsMounted(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodePathInvalid, "cannot read mount table").
			WithComponent("mount").WithContext("path", path)
	}
	if mounted {
		return errors.NewError(errors.ErrCodeAlreadyMounted, "mount point is already in use").
			WithComponent("mount").WithContext("path", path)
	}

	return nil
}

// IsMounted reports whether path is a mount point.
func IsMounted(path string) (bool, error) {
	return mountinfo.Mounted(filepath.Clean(path))
}

// MountWatcher polls the mount table and reports when the mount point
// appears or disappears, e.g. after an external "fusermount -u".
type MountWatcher struct {
	mountPoint string
	interval   time.Duration
	onChange   func(mounted bool)
	logger     *utils.StructuredLogger

	stopOnce sync.Once
	stopCh   chan struct{}
	stopped  chan struct{}
}

// NewMountWatcher creates a watcher for mountPoint. onChange is called from
// the watcher goroutine on every observed transition.
func NewMountWatcher(mountPoint string, interval time.Duration, onChange func(mounted bool),
	logger *utils.StructuredLogger) *MountWatcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	return &MountWatcher{
		mountPoint: mountPoint,
		interval:   interval,
		onChange:   onChange,
		logger:     logger.WithComponent("mount-watcher"),
		stopCh:     make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Start starts the watcher goroutine.
func (w *MountWatcher) Start() {
	go w.run()
}

// Stop stops the watcher and waits for it to exit. It is safe to call more than once.
func (w *MountWatcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.stopped
}

func (w *MountWatcher) run() {
	defer close(w.stopped)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	last := true
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			mounted, err := IsMounted(w.mountPoint)
			if err != nil {
				w.logger.Warn("mount table check failed", map[string]interface{}{"error": err})
				continue
			}
			if mounted == last {
				continue
			}
			last = mounted
			if mounted {
				w.logger.Info("mount point is back", map[string]interface{}{"mount_point": w.mountPoint})
			} else {
				w.logger.Warn("mount point disappeared", map[string]interface{}{"mount_point": w.mountPoint})
			}
			if w.onChange != nil {
				w.onChange(mounted)
			}
		}
	}
}
