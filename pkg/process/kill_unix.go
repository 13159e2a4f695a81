//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// KillTree sends SIGTERM to the process group led by pid, falling back to
// the single process when the group cannot be signalled.
func KillTree(pid int) error {
	return signalTree(pid, syscall.SIGTERM)
}

// ForceKillTree sends SIGKILL to the process group led by pid.
func ForceKillTree(pid int) error {
	return signalTree(pid, syscall.SIGKILL)
}

func signalTree(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	if err := syscall.Kill(-pid, sig); err == nil {
		return nil
	}
	err := syscall.Kill(pid, sig)
	if err == syscall.ESRCH {
		return nil
	}
	return err
}
