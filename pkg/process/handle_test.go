//go:build !windows

package process

import (
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartStreamsLinesAndResolves(t *testing.T) {
	var mu sync.Mutex
	var lines []string

	cmd := exec.Command("/bin/sh", "-c", "echo out-1; echo err-1 1>&2; echo out-2; exit 3")
	h, err := Start(cmd, func(stream Stream, line string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, string(stream)+":"+line)
	})
	require.NoError(t, err)
	assert.Greater(t, h.PID, 0)

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}

	res := h.Result()
	assert.Equal(t, 3, res.ExitCode)
	assert.Empty(t, res.Signal)
	assert.NoError(t, res.Err)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"stdout:out-1", "stdout:out-2", "stderr:err-1"}, lines)
}

func TestKillTreeTerminatesGroup(t *testing.T) {
	// The shell spawns a grandchild; killing the group must take both down.
	cmd := exec.Command("/bin/sh", "-c", "sleep 30 & sleep 30; wait")
	h, err := Start(cmd, nil)
	require.NoError(t, err)
	assert.True(t, IsProcessAlive(h.PID))

	require.NoError(t, h.KillTree())

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process group survived KillTree")
	}

	res := h.Result()
	assert.Equal(t, -1, res.ExitCode)
	assert.Equal(t, "terminated", res.Signal)
	assert.True(t, h.Exited())
	assert.NoError(t, h.KillTree(), "killing an exited handle is a no-op")
}

func TestStartMissingBinary(t *testing.T) {
	_, err := Start(exec.Command("definitely-not-a-real-binary-xyz"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, exec.ErrNotFound)
}

func TestIsProcessAlive(t *testing.T) {
	assert.True(t, IsProcessAlive(os.Getpid()))
	assert.False(t, IsProcessAlive(0))
	assert.False(t, IsProcessAlive(-5))
}

func TestDoneDoesNotWaitForDescendantsHoldingPipes(t *testing.T) {
	// The background sleep inherits stdout/stderr and outlives the shell.
	cmd := exec.Command("/bin/sh", "-c", "sleep 5 & echo done; exit 0")
	var mu sync.Mutex
	var lines []string
	h, err := Start(cmd, func(_ Stream, line string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, line)
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ForceKillTree(h.PID) })

	started := time.Now()
	select {
	case <-h.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("Done waited for the background descendant")
	}
	assert.Less(t, time.Since(started), 2*time.Second)
	assert.Equal(t, 0, h.Result().ExitCode)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"done"}, lines)
}

func TestTerminateEscalatesWhenTermIsIgnored(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "trap '' TERM; sleep 10")
	h, err := Start(cmd, nil)
	require.NoError(t, err)
	// Give the shell time to install the trap.
	time.Sleep(200 * time.Millisecond)

	started := time.Now()
	assert.True(t, h.Terminate(300*time.Millisecond))
	assert.Less(t, time.Since(started), 2*time.Second)

	res := h.Result()
	assert.Equal(t, -1, res.ExitCode)
	assert.Equal(t, "killed", res.Signal)
	assert.True(t, h.Terminate(time.Second), "terminating an exited handle is a no-op")
}
