package session

import (
	"context"
	stderrors "errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fspropfaker/fspropfaker/internal/capacity"
	"github.com/fspropfaker/fspropfaker/internal/fuse"
	"github.com/fspropfaker/fspropfaker/pkg/errors"
	"github.com/fspropfaker/fspropfaker/pkg/health"
	"github.com/fspropfaker/fspropfaker/pkg/retry"
	"github.com/fspropfaker/fspropfaker/pkg/utils"
)

// Session is one mounted, capacity-faking view of a directory.
type Session struct {
	name      string
	root      string
	mountPath string
	logPath   string
	autoMount bool
	blockSize int64

	engine     *capacity.Engine
	dispatcher fuse.Dispatcher
	watcher    *fuse.MountWatcher
	deps       deps

	logger    *utils.StructuredLogger
	ownLogger bool
	metrics   Recorder
	health    *health.Tracker

	state   atomic.Int32
	queries atomic.Int64

	readyOnce sync.Once
	ready     chan struct{}
	served    chan struct{}
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	errMu        sync.Mutex
	serveErr     error
	unmountErr   error
	unmountStart time.Time
}

// Create validates opts, mounts the filesystem and returns once the kernel
// routes statfs queries to the new session. On error nothing stays mounted.
func Create(ctx context.Context, opts Options) (*Session, error) {
	return create(ctx, opts, defaultDeps())
}

func create(ctx context.Context, opts Options, d deps) (*Session, error) {
	s, err := prepare(opts, d)
	if err != nil {
		return nil, err
	}

	dispatcher, err := d.newDispatcher(fuse.MountConfig{
		Root:       s.root,
		MountPoint: s.mountPath,
		Name:       s.name,
		Options:    s.mountOptions(opts),
	}, statfsSource{s}, s.logger)
	if err != nil {
		s.discard()
		return nil, errors.Wrap(err, errors.ErrCodeMountFailed, "cannot create dispatcher").
			WithComponent("session")
	}
	s.dispatcher = dispatcher

	s.start()

	if err := s.awaitInit(ctx); err != nil {
		s.abort()
		return nil, err
	}
	if err := s.settle(ctx, opts.Readiness); err != nil {
		s.abort()
		return nil, err
	}

	s.setState(StateReady)
	s.startWatcher(opts.WatchInterval)
	s.logger.Info("mount ready", map[string]interface{}{
		"root":       s.root,
		"mount_path": s.mountPath,
		"block_size": s.blockSize,
	})
	return s, nil
}

// prepare runs every validation step and builds the session without mounting.
func prepare(opts Options, d deps) (*Session, error) {
	if d.isPrivileged() {
		return nil, errors.NewError(errors.ErrCodePrivilegedCaller,
			"refusing to run as root: the faked filesystem would bypass permission checks").
			WithComponent("session")
	}

	root, err := resolveDir(opts.RootPath, "root")
	if err != nil {
		return nil, err
	}

	snap, err := d.prober.Probe(root)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeProbeFailed, "cannot statfs root").
			WithComponent("session").WithContext("path", root)
	}
	if snap.BlockSize <= 0 {
		return nil, errors.Newf(errors.ErrCodeBlockSizeInvalid, "root reports block size %d", snap.BlockSize).
			WithComponent("session").WithContext("path", root)
	}

	name := opts.Name
	if name == "" {
		name = DefaultName
	}
	if len(name) > MaxNameLen {
		return nil, errors.Newf(errors.ErrCodeNameTooLong, "name %q is %d bytes, at most %d allowed",
			name, len(name), MaxNameLen).WithComponent("session")
	}

	s := &Session{
		name:      name,
		root:      root,
		blockSize: snap.BlockSize,
		deps:      d,
		metrics:   opts.Metrics,
		health:    opts.Health,
		ready:     make(chan struct{}),
		served:    make(chan struct{}),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	if err := s.prepareMountPath(opts.MountPath); err != nil {
		return nil, err
	}
	if err := s.prepareLog(opts); err != nil {
		s.discard()
		return nil, err
	}

	s.engine = capacity.NewEngine(d.prober, root, snap.BlockSize)
	if s.health != nil {
		s.health.RegisterComponent(health.ComponentProbe)
		s.health.RegisterComponent(health.ComponentMount)
		s.health.SetComponentMetadata(health.ComponentMount, "mount_path", s.mountPath)
	}
	return s, nil
}

func resolveDir(path, what string) (string, error) {
	if path == "" {
		return "", errors.Newf(errors.ErrCodePathInvalid, "%s path is empty", what).WithComponent("session")
	}
	resolved, err := utils.ResolveDir(path)
	if stderrors.Is(err, utils.ErrNotDirectory) {
		return "", errors.Wrap(err, errors.ErrCodeNotDirectory, what+" is not a directory").
			WithComponent("session").WithContext("path", path)
	}
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodePathInvalid, "cannot resolve "+what).
			WithComponent("session").WithContext("path", path)
	}
	return resolved, nil
}

func (s *Session) prepareMountPath(path string) error {
	if path == "" {
		dir, err := os.MkdirTemp("", mountDirPattern)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodePathInvalid, "cannot create mount directory").
				WithComponent("session")
		}
		s.autoMount = true
		path = dir
	}

	mountPath, err := resolveDir(path, "mount path")
	if err != nil {
		if s.autoMount {
			s.removeMountDir(path)
		}
		return err
	}
	s.mountPath = mountPath

	// Either directory inside the other makes the passthrough loop into itself.
	if utils.ValidatePathWithinBase(s.root, mountPath) == nil ||
		utils.ValidatePathWithinBase(mountPath, s.root) == nil {
		s.discard()
		return errors.NewError(errors.ErrCodePathInvalid, "mount path and root must not contain each other").
			WithComponent("session").
			WithContext("root", s.root).
			WithContext("mount_path", mountPath)
	}

	if err := s.deps.checkMountPoint(mountPath); err != nil {
		s.discard()
		return err
	}
	return nil
}

func (s *Session) prepareLog(opts Options) error {
	if opts.LogPath == "" {
		s.logger = opts.Logger
		if s.logger == nil {
			s.logger = utils.NewNopLogger()
		}
		s.logger = s.logger.WithComponent("session").WithField("name", s.name)
		return nil
	}

	logPath, err := utils.ResolveFile(opts.LogPath)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodePathInvalid, "cannot resolve log path").
			WithComponent("session").WithContext("path", opts.LogPath)
	}
	// Writing the log through the faked mount would feed back into the dispatcher.
	if utils.ValidatePathWithinBase(s.mountPath, logPath) == nil {
		return errors.NewError(errors.ErrCodePathInvalid, "log path must not be inside the mount path").
			WithComponent("session").
			WithContext("log_path", logPath).
			WithContext("mount_path", s.mountPath)
	}

	level, err := utils.ParseLogLevel(opts.LogLevel)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeValidationFailed, "invalid log level").WithComponent("session")
	}
	logger, err := utils.NewStructuredLogger(&utils.StructuredLoggerConfig{
		Level:         level,
		Format:        utils.FormatText,
		IncludeCaller: level <= utils.DEBUG,
		Rotation:      &utils.RotationConfig{Filename: logPath, MaxSize: 100, MaxBackups: 3, Compress: true},
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodePathInvalid, "cannot open log file").
			WithComponent("session").WithContext("path", logPath)
	}

	s.logPath = logPath
	s.ownLogger = true
	s.logger = logger.WithComponent("session").WithField("name", s.name)
	return nil
}

func (s *Session) mountOptions(opts Options) fuse.MountOptions {
	mo := fuse.DefaultMountOptions()
	mo.AllowOther = opts.AllowOther
	mo.Debug = opts.Debug
	mo.FSName = s.root
	if opts.AttrTimeout > 0 {
		mo.AttrTimeout = opts.AttrTimeout
	}
	if opts.EntryTimeout > 0 {
		mo.EntryTimeout = opts.EntryTimeout
	}
	return mo
}

// start launches the serving goroutine and the stopper.
func (s *Session) start() {
	s.setState(StateInitializing)
	s.wg.Add(2)

	go func() {
		defer s.wg.Done()
		defer close(s.served)

		err := s.dispatcher.Serve(s.signalReady)
		if err != nil {
			s.logger.Error("serve failed", map[string]interface{}{"error": err})
		}
		s.errMu.Lock()
		s.serveErr = err
		s.errMu.Unlock()
	}()

	go s.stopper()

	go func() {
		s.wg.Wait()
		s.setState(StateStopped)
		close(s.done)
	}()
}

func (s *Session) signalReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// stopper performs the blocking unmount so Unmount never waits for it.
func (s *Session) stopper() {
	defer s.wg.Done()

	select {
	case <-s.stop:
	case <-s.served:
		if s.State() == StateReady {
			s.logger.Warn("filesystem was unmounted externally", nil)
		}
		return
	}

	s.setState(StateUnmounting)
	s.errMu.Lock()
	s.unmountStart = time.Now()
	s.errMu.Unlock()

	if err := s.dispatcher.Unmount(); err != nil {
		s.logger.Error("unmount failed", map[string]interface{}{"error": err})
		s.errMu.Lock()
		s.unmountErr = err
		s.errMu.Unlock()
		return
	}
	s.logger.Info("unmounted", map[string]interface{}{"mount_path": s.mountPath})
}

// awaitInit blocks until the kernel handshake completed, serving failed or ctx is done.
func (s *Session) awaitInit(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-s.served:
		s.errMu.Lock()
		err := s.serveErr
		s.errMu.Unlock()
		if err == nil {
			err = stderrors.New("serve returned before the mount was initialized")
		}
		return errors.Wrap(err, errors.ErrCodeMountFailed, "mount failed").
			WithComponent("session").WithContext("mount_path", s.mountPath)
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.ErrCodeMountTimeout, "mount did not initialize").
			WithComponent("session").WithContext("mount_path", s.mountPath)
	}
}

// settle polls statfs on the mount path until one succeeds and was answered
// by this session.
func (s *Session) settle(ctx context.Context, cfg retry.Config) error {
	if cfg.MaxAttempts == 0 {
		cfg = retry.DefaultConfig()
	}
	if len(cfg.RetryableErrors) == 0 {
		cfg.RetryableErrors = retry.DefaultConfig().RetryableErrors
	}
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.logger.Debug("mount not ready yet", map[string]interface{}{
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err,
		})
	}

	err := retry.New(cfg).DoWithContext(ctx, s.probeMount)
	if err == nil {
		return nil
	}
	if errors.HasCode(err, errors.ErrCodeMountFailed) {
		return err
	}
	return errors.Wrap(err, errors.ErrCodeMountTimeout, "mount did not answer statfs").
		WithComponent("session").
		WithContext("mount_path", s.mountPath).
		WithDetail("queries", s.queries.Load())
}

func (s *Session) probeMount(ctx context.Context) error {
	before := s.queries.Load()

	result := make(chan error, 1)
	go func() { result <- s.deps.statMount(ctx, s.mountPath) }()

	var err error
	select {
	case err = <-result:
	case <-s.served:
		return errors.NewError(errors.ErrCodeMountFailed, "serving stopped during readiness check").
			WithComponent("session")
	case <-ctx.Done():
		return ctx.Err()
	}

	if err != nil {
		return errors.Wrap(err, errors.ErrCodeMountNotReady, "statfs on mount path failed").
			WithComponent("session")
	}
	if s.queries.Load() == before {
		return errors.NewError(errors.ErrCodeMountNotReady, "statfs was not answered by the session").
			WithComponent("session")
	}
	return nil
}

func (s *Session) startWatcher(interval time.Duration) {
	if interval < 0 {
		return
	}
	if interval == 0 {
		interval = 10 * time.Second
	}
	s.watcher = fuse.NewMountWatcher(s.mountPath, interval, s.onMountChange, s.logger)
	s.watcher.Start()
}

func (s *Session) onMountChange(mounted bool) {
	if s.health == nil {
		return
	}
	if mounted {
		s.health.SetState(health.ComponentMount, health.StateHealthy, nil)
		return
	}
	s.health.SetState(health.ComponentMount, health.StateUnavailable,
		errors.NewError(errors.ErrCodeMountFailed, "mount point disappeared").WithComponent("session"))
}

// abort tears down a session whose creation failed.
func (s *Session) abort() {
	if err := s.Close(); err != nil {
		s.logger.Warn("teardown after failed creation reported an error", map[string]interface{}{"error": err})
	}
}

// discard releases what prepare acquired before anything was started.
func (s *Session) discard() {
	if s.autoMount {
		s.removeMountDir(s.mountPath)
	}
	if s.ownLogger {
		_ = s.logger.Close()
	}
}

func (s *Session) removeMountDir(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) && s.logger != nil {
		s.logger.Warn("cannot remove mount directory", map[string]interface{}{"path": path, "error": err})
	}
}

// Unmount asks the serving goroutine to stop and returns without waiting.
// Calls after the first return ALREADY_STOPPED.
func (s *Session) Unmount() error {
	first := false
	s.stopOnce.Do(func() {
		close(s.stop)
		first = true
	})
	if !first {
		return errors.NewError(errors.ErrCodeAlreadyStopped, "session is already stopping").
			WithComponent("session").WithOperation("unmount")
	}
	s.logger.Info("unmount requested", nil)
	return nil
}

// Done is closed once the filesystem is unmounted and serving has stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until Done is closed.
func (s *Session) Wait() {
	<-s.done
}

// Close unmounts if needed, waits for serving to stop, removes an
// automatically created mount directory and closes the session log. It
// returns the unmount or serve error, if any, and may be called repeatedly.
func (s *Session) Close() error {
	_ = s.Unmount()
	<-s.done

	s.closeOnce.Do(func() {
		if s.watcher != nil {
			s.watcher.Stop()
		}
		if s.health != nil {
			s.health.SetState(health.ComponentMount, health.StateUnavailable,
				errors.NewError(errors.ErrCodeAlreadyStopped, "session closed").WithComponent("session"))
		}

		s.errMu.Lock()
		elapsed := time.Duration(0)
		if !s.unmountStart.IsZero() {
			elapsed = time.Since(s.unmountStart)
		}
		s.errMu.Unlock()
		s.logger.Info("session closed", map[string]interface{}{"unmount_time": elapsed.String()})

		if s.autoMount {
			s.removeMountDir(s.mountPath)
		}
		if s.ownLogger {
			_ = s.logger.Close()
		}
	})

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.unmountErr != nil {
		return s.unmountErr
	}
	return s.serveErr
}

// State returns the lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(state State) {
	s.state.Store(int32(state))
}
