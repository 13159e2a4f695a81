//go:build windows

package process

import (
	"os/exec"
	"strconv"
)

func setProcessGroup(cmd *exec.Cmd) {}

// KillTree force-terminates pid and its descendants with taskkill.
func KillTree(pid int) error {
	if pid <= 0 {
		return nil
	}
	// taskkill exits non-zero when the tree is already gone.
	_ = exec.Command("taskkill", "/PID", strconv.Itoa(pid), "/T", "/F").Run()
	return nil
}

// ForceKillTree is KillTree; taskkill already forces termination.
func ForceKillTree(pid int) error {
	return KillTree(pid)
}
