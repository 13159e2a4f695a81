// Package pidfile keeps one panel process per workspace.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/grovetools/remote-panel/errors"
	"github.com/grovetools/remote-panel/pkg/process"
)

// Acquire writes the current PID to path. It fails with an AlreadyRunning
// error when the recorded process is still alive; a stale file is replaced.
func Acquire(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create pid directory: %w", err)
	}

	if pid, err := Read(path); err == nil {
		if pid != os.Getpid() && process.IsProcessAlive(pid) {
			return errors.AlreadyRunning("Remote panel", pid).WithDetail("pidFile", path)
		}
		_ = os.Remove(path)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}

// Release removes path if it still names this process.
func Release(path string) error {
	pid, err := Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if pid != os.Getpid() {
		return nil
	}
	return os.Remove(path)
}

// Read returns the PID recorded in path.
func Read(path string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(content)))
}

// IsRunning reports whether the panel recorded in path is alive.
func IsRunning(path string) (bool, int, error) {
	pid, err := Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	return process.IsProcessAlive(pid), pid, nil
}

// Stop signals the panel recorded in path. It reports false when no live
// panel was found.
func Stop(path string) (bool, int, error) {
	running, pid, err := IsRunning(path)
	if err != nil || !running {
		return false, pid, err
	}
	if err := process.KillTree(pid); err != nil {
		return false, pid, err
	}
	return true, pid, nil
}
