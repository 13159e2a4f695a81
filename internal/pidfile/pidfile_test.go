package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/grovetools/remote-panel/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remote", "panel.pid")

	require.NoError(t, Acquire(path))
	pid, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	running, pid, err := IsRunning(path)
	require.NoError(t, err)
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), pid)

	// Re-acquiring from the same process is allowed.
	require.NoError(t, Acquire(path))

	require.NoError(t, Release(path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, Release(path))
}

func TestAcquireRejectsLiveOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel.pid")
	// The parent of the test binary is alive for the duration of the test.
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getppid())), 0644))

	err := Acquire(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeAlreadyRunning))

	// Release leaves another process's file alone.
	require.NoError(t, Release(path))
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestAcquireReplacesStaleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel.pid")
	require.NoError(t, os.WriteFile(path, []byte("999999999"), 0644))

	require.NoError(t, Acquire(path))
	pid, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestIsRunningWithoutFile(t *testing.T) {
	running, pid, err := IsRunning(filepath.Join(t.TempDir(), "missing.pid"))
	require.NoError(t, err)
	assert.False(t, running)
	assert.Zero(t, pid)

	stopped, _, err := Stop(filepath.Join(t.TempDir(), "missing.pid"))
	require.NoError(t, err)
	assert.False(t, stopped)
}
