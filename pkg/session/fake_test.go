package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fspropfaker/fspropfaker/internal/fuse"
	"github.com/fspropfaker/fspropfaker/internal/probe"
	"github.com/fspropfaker/fspropfaker/pkg/retry"
	"github.com/fspropfaker/fspropfaker/pkg/utils"
)

type fakeProber struct {
	mu   sync.Mutex
	snap probe.Snapshot
	err  error
}

func (f *fakeProber) Probe(path string) (probe.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, f.err
}

func (f *fakeProber) set(fn func(s *probe.Snapshot)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.snap)
}

func (f *fakeProber) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// fakeDispatcher serves until Unmount, answering the kernel side of the
// readiness poll through the registered source.
type fakeDispatcher struct {
	cfg    fuse.MountConfig
	source fuse.StatfsSource

	serveErr   error
	skipInit   bool
	unmountErr error

	stop     chan struct{}
	stopOnce sync.Once
	unmounts atomic.Int32
}

func (f *fakeDispatcher) Serve(onInit func()) error {
	if f.serveErr != nil {
		return f.serveErr
	}
	if !f.skipInit {
		onInit()
	}
	<-f.stop
	return nil
}

func (f *fakeDispatcher) Unmount() error {
	f.unmounts.Add(1)
	f.external()
	return f.unmountErr
}

// external simulates "fusermount -u" run by someone else.
func (f *fakeDispatcher) external() {
	f.stopOnce.Do(func() { close(f.stop) })
}

type harness struct {
	prober     *fakeProber
	dispatcher *fakeDispatcher
	deps       deps

	created     atomic.Int32
	privileged  bool
	mountErr    error
	statFails   atomic.Int32
	statIgnores bool
}

func newHarness() *harness {
	h := &harness{
		prober: &fakeProber{snap: probe.Snapshot{
			BlockSize:   4096,
			IOSize:      4096,
			TotalBlocks: 1000,
			AvailBlocks: 500,
			FreeBlocks:  500,
			Files:       1000,
			FreeFiles:   900,
			NameLen:     255,
		}},
		dispatcher: &fakeDispatcher{stop: make(chan struct{})},
	}

	h.deps = deps{
		prober: h.prober,
		newDispatcher: func(cfg fuse.MountConfig, src fuse.StatfsSource, logger *utils.StructuredLogger) (fuse.Dispatcher, error) {
			h.created.Add(1)
			h.dispatcher.cfg = cfg
			h.dispatcher.source = src
			return h.dispatcher, nil
		},
		isPrivileged:    func() bool { return h.privileged },
		checkMountPoint: func(string) error { return h.mountErr },
		statMount: func(ctx context.Context, path string) error {
			if h.statFails.Load() > 0 {
				h.statFails.Add(-1)
				return context.DeadlineExceeded
			}
			if h.statIgnores {
				return nil
			}
			_, err := h.dispatcher.source.Statfs(ctx, "")
			return err
		},
		isMounted: func(string) (bool, error) { return true, nil },
	}
	return h
}

func fastReadiness() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = 5
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	return cfg
}

func (h *harness) options(t *testing.T) Options {
	return Options{
		RootPath:      t.TempDir(),
		MountPath:     t.TempDir(),
		Readiness:     fastReadiness(),
		WatchInterval: -1,
	}
}

func (h *harness) create(t *testing.T, opts Options) (*Session, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return create(ctx, opts, h.deps)
}

type fakeRecorder struct {
	mu       sync.Mutex
	ops      map[string]int
	errs     map[string]int
	lastFake probe.Snapshot
	lastReal probe.Snapshot
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{ops: make(map[string]int), errs: make(map[string]int)}
}

func (r *fakeRecorder) RecordOperation(operation string, duration time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[operation]++
	if err != nil {
		r.errs[operation]++
	}
}

func (r *fakeRecorder) UpdateCapacity(real, fake probe.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastReal = real
	r.lastFake = fake
}

func (r *fakeRecorder) count(op string) (ops, errs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ops[op], r.errs[op]
}
