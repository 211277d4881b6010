package session

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func requireFUSE(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping mount test in short mode")
	}
	if isPrivileged() {
		t.Skip("sessions refuse to run as root")
	}
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("/dev/fuse not available")
	}
	_, err3 := exec.LookPath("fusermount3")
	_, err := exec.LookPath("fusermount")
	if err3 != nil && err != nil {
		t.Skip("fusermount not installed")
	}
}

func TestMount_FakedStatfs(t *testing.T) {
	requireFUSE(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := Create(ctx, Options{
		RootPath:  t.TempDir(),
		MountPath: t.TempDir(),
		Name:      "mounttest",
	})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SetDiskFixed(100))
	require.NoError(t, s.SetFreeFixed(40))

	var st unix.Statfs_t
	require.NoError(t, unix.Statfs(s.MountPath(), &st))
	assert.Equal(t, uint64(100), uint64(st.Blocks))
	assert.Equal(t, uint64(40), uint64(st.Bavail))

	s.SetDiskDelta(0)
	s.SetFreeDelta(0)
	require.NoError(t, unix.Statfs(s.MountPath(), &st))
	assert.Equal(t, uint64(s.RealTotalBlocks()), uint64(st.Blocks))
}

func TestMount_Passthrough(t *testing.T) {
	requireFUSE(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	root := t.TempDir()
	s, err := Create(ctx, Options{RootPath: root})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(s.MountPath(), "hello.txt"), []byte("hello"), 0644))
	data, err := os.ReadFile(filepath.Join(root, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	mountPath := s.MountPath()
	require.NoError(t, s.Close())
	assert.NoDirExists(t, mountPath)
}
