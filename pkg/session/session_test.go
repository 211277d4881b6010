package session

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fspropfaker/fspropfaker/internal/probe"
	"github.com/fspropfaker/fspropfaker/pkg/errors"
	"github.com/fspropfaker/fspropfaker/pkg/health"
)

func TestCreate_Ready(t *testing.T) {
	h := newHarness()
	opts := h.options(t)

	s, err := h.create(t, opts)
	require.NoError(t, err)

	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, DefaultName, s.Name())
	assert.Equal(t, int64(4096), s.BlockSize())
	root, err := filepath.EvalSymlinks(opts.RootPath)
	require.NoError(t, err)
	assert.Equal(t, root, s.RootPath())
	assert.Empty(t, s.LogPath())
	assert.Greater(t, s.Info().Queries, int64(0))

	assert.Equal(t, s.RootPath(), h.dispatcher.cfg.Root)
	assert.Equal(t, s.MountPath(), h.dispatcher.cfg.MountPoint)
	assert.Equal(t, DefaultName, h.dispatcher.cfg.Name)
	assert.Equal(t, s.RootPath(), h.dispatcher.cfg.Options.FSName)

	require.NoError(t, s.Close())
	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, int32(1), h.dispatcher.unmounts.Load())
	assert.DirExists(t, opts.MountPath)

	require.NoError(t, s.Close())
}

func TestCreate_Validation(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))

	tests := []struct {
		name   string
		modify func(h *harness, o *Options)
		code   errors.ErrorCode
	}{
		{"privileged caller", func(h *harness, o *Options) { h.privileged = true }, errors.ErrCodePrivilegedCaller},
		{"empty root", func(h *harness, o *Options) { o.RootPath = "" }, errors.ErrCodePathInvalid},
		{"missing root", func(h *harness, o *Options) { o.RootPath = "/nonexistent/fspropfaker" }, errors.ErrCodePathInvalid},
		{"root is a file", func(h *harness, o *Options) { o.RootPath = file }, errors.ErrCodeNotDirectory},
		{"probe fails", func(h *harness, o *Options) { h.prober.fail(syscall.EIO) }, errors.ErrCodeProbeFailed},
		{"zero block size", func(h *harness, o *Options) {
			h.prober.set(func(s *probe.Snapshot) { s.BlockSize = 0 })
		}, errors.ErrCodeBlockSizeInvalid},
		{"name too long", func(h *harness, o *Options) { o.Name = strings.Repeat("n", MaxNameLen+1) }, errors.ErrCodeNameTooLong},
		{"mount path is a file", func(h *harness, o *Options) { o.MountPath = file }, errors.ErrCodeNotDirectory},
		{"mount inside root", func(h *harness, o *Options) {
			o.MountPath = filepath.Join(o.RootPath, "sub")
			require.NoError(t, os.Mkdir(o.MountPath, 0755))
		}, errors.ErrCodePathInvalid},
		{"root inside mount", func(h *harness, o *Options) {
			o.RootPath = filepath.Join(o.MountPath, "sub")
			require.NoError(t, os.Mkdir(o.RootPath, 0755))
		}, errors.ErrCodePathInvalid},
		{"already mounted", func(h *harness, o *Options) {
			h.mountErr = errors.NewError(errors.ErrCodeAlreadyMounted, "in use")
		}, errors.ErrCodeAlreadyMounted},
		{"log inside mount", func(h *harness, o *Options) {
			o.LogPath = filepath.Join(o.MountPath, "faker.log")
		}, errors.ErrCodePathInvalid},
		{"bad log level", func(h *harness, o *Options) {
			o.LogPath = filepath.Join(t.TempDir(), "faker.log")
			o.LogLevel = "LOUD"
		}, errors.ErrCodeValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			opts := h.options(t)
			tt.modify(h, &opts)

			s, err := h.create(t, opts)
			require.Error(t, err)
			assert.Nil(t, s)
			assert.True(t, errors.HasCode(err, tt.code), "want %s, got %v", tt.code, err)
			assert.Zero(t, h.created.Load(), "dispatcher must not be built when validation fails")
			assert.FileExists(t, file)
		})
	}
}

func TestCreate_RejectedMountPathLeftInPlace(t *testing.T) {
	file := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(file, []byte("keep me"), 0644))

	h := newHarness()
	opts := h.options(t)
	opts.MountPath = file

	s, err := h.create(t, opts)
	require.Error(t, err)
	assert.Nil(t, s)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotDirectory))

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(data))
}

func TestCreate_NameAtLimit(t *testing.T) {
	h := newHarness()
	opts := h.options(t)
	opts.Name = strings.Repeat("n", MaxNameLen)

	s, err := h.create(t, opts)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, opts.Name, s.Name())
}

func TestCreate_AutoMountDir(t *testing.T) {
	h := newHarness()
	opts := h.options(t)
	opts.MountPath = ""

	s, err := h.create(t, opts)
	require.NoError(t, err)

	mountPath := s.MountPath()
	assert.True(t, strings.HasPrefix(filepath.Base(mountPath), mountDirPattern))
	assert.DirExists(t, mountPath)

	require.NoError(t, s.Close())
	assert.NoDirExists(t, mountPath)
}

func TestCreate_AutoMountDirRemovedOnFailure(t *testing.T) {
	h := newHarness()
	h.mountErr = errors.NewError(errors.ErrCodeAlreadyMounted, "in use")
	opts := h.options(t)
	opts.MountPath = ""

	before, err := filepath.Glob(filepath.Join(os.TempDir(), mountDirPattern+"*"))
	require.NoError(t, err)

	_, err = h.create(t, opts)
	require.Error(t, err)

	after, err := filepath.Glob(filepath.Join(os.TempDir(), mountDirPattern+"*"))
	require.NoError(t, err)
	assert.Len(t, after, len(before))
}

func TestCreate_LogPath(t *testing.T) {
	h := newHarness()
	opts := h.options(t)
	opts.LogPath = filepath.Join(t.TempDir(), "logs", "faker.log")
	opts.LogLevel = "debug"

	s, err := h.create(t, opts)
	require.NoError(t, err)
	assert.Equal(t, opts.LogPath, s.LogPath())
	require.NoError(t, s.Close())

	data, err := os.ReadFile(opts.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "mount ready")
	assert.Contains(t, string(data), "session closed")
}

func TestCreate_ServeFails(t *testing.T) {
	h := newHarness()
	h.dispatcher.serveErr = stderrors.New("fusermount: permission denied")

	_, err := h.create(t, h.options(t))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeMountFailed), "got %v", err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestCreate_InitTimeout(t *testing.T) {
	h := newHarness()
	h.dispatcher.skipInit = true

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := create(ctx, h.options(t), h.deps)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeMountTimeout), "got %v", err)
	assert.Equal(t, int32(1), h.dispatcher.unmounts.Load())
}

func TestCreate_SettleExhausted(t *testing.T) {
	h := newHarness()
	h.statIgnores = true

	_, err := h.create(t, h.options(t))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeMountTimeout), "got %v", err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeMountNotReady), "got %v", err)
	assert.Equal(t, int32(1), h.dispatcher.unmounts.Load())
}

func TestCreate_SettleRetries(t *testing.T) {
	h := newHarness()
	h.statFails.Store(2)

	s, err := h.create(t, h.options(t))
	require.NoError(t, err)
	defer s.Close()

	assert.Zero(t, h.statFails.Load())
	assert.Equal(t, StateReady, s.State())
}

func TestUnmount(t *testing.T) {
	h := newHarness()
	s, err := h.create(t, h.options(t))
	require.NoError(t, err)

	require.NoError(t, s.Unmount())
	err = s.Unmount()
	assert.True(t, errors.HasCode(err, errors.ErrCodeAlreadyStopped), "got %v", err)

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop after Unmount")
	}
	s.Wait()
	assert.Equal(t, StateStopped, s.State())
	require.NoError(t, s.Close())
}

func TestUnmount_FailureSurfacesInClose(t *testing.T) {
	h := newHarness()
	h.dispatcher.unmountErr = errors.NewError(errors.ErrCodeUnmountFailed, "device busy")

	s, err := h.create(t, h.options(t))
	require.NoError(t, err)

	err = s.Close()
	assert.True(t, errors.HasCode(err, errors.ErrCodeUnmountFailed), "got %v", err)
}

func TestExternalUnmount(t *testing.T) {
	h := newHarness()
	s, err := h.create(t, h.options(t))
	require.NoError(t, err)

	h.dispatcher.external()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not notice the external unmount")
	}
	assert.Equal(t, StateStopped, s.State())
	assert.NoError(t, s.Close())
	assert.Zero(t, h.dispatcher.unmounts.Load())
}

func TestHealthTracking(t *testing.T) {
	h := newHarness()
	tracker := health.NewTracker(health.DefaultConfig())
	opts := h.options(t)
	opts.Health = tracker

	s, err := h.create(t, opts)
	require.NoError(t, err)

	assert.True(t, tracker.IsHealthy(health.ComponentProbe))
	assert.NoError(t, s.CheckHealth(health.ComponentMount))
	assert.NoError(t, s.CheckHealth(health.ComponentProbe))

	h.prober.set(func(snap *probe.Snapshot) { snap.BlockSize = 512 })
	_, err = s.Statfs(context.Background())
	assert.True(t, errors.HasCode(err, errors.ErrCodeBlockSizeChanged))
	assert.Equal(t, health.StateUnavailable, tracker.GetState(health.ComponentProbe))

	require.NoError(t, s.Close())
	assert.Equal(t, health.StateUnavailable, tracker.GetState(health.ComponentMount))
	assert.Error(t, s.CheckHealth(health.ComponentMount))
}

func TestConcurrentSessionAccess(t *testing.T) {
	h := newHarness()
	s, err := h.create(t, h.options(t))
	require.NoError(t, err)
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = s.SetFreeFixedMB(int64(i + 1))
			} else {
				s.SetDiskDelta(int64(-i * 10))
			}
		}(i)
		go func() {
			defer wg.Done()
			snap, err := h.dispatcher.source.Statfs(context.Background(), "")
			if assert.NoError(t, err) {
				assert.LessOrEqual(t, snap.AvailBlocks, snap.TotalBlocks)
			}
		}()
	}
	wg.Wait()
}
