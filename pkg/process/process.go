package process

import (
	"os"
	"syscall"
)

// IsProcessAlive checks if a process with the given PID is still running.
// It uses a signal-sending method that is cross-platform for Unix-like systems (macOS, Linux).
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 probes for existence. EPERM still means the process is alive.
	err = process.Signal(syscall.Signal(0))
	return err == nil || os.IsPermission(err)
}
