// Package paths provides path resolution for the remote panel.
//
// User-level configuration follows XDG:
// 1. REMOTE_PANEL_HOME (portable root) → $REMOTE_PANEL_HOME/config
// 2. XDG_CONFIG_HOME → $XDG_CONFIG_HOME/remote-panel
// 3. Platform default → ~/.config/remote-panel
//
// Runtime state lives with the workspace under .agency/ (see Workspace).
package paths

import (
	"os"
	"path/filepath"
)

const appName = "remote-panel"

// getConfigHome returns the base config home directory.
func getConfigHome() string {
	if home := os.Getenv("REMOTE_PANEL_HOME"); home != "" {
		return filepath.Join(home, "config")
	}
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return xdgConfigHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".config")
	}
	return ""
}

// ConfigDir returns the user configuration directory for panel.yml.
func ConfigDir() string {
	base := getConfigHome()
	if base == "" {
		return ""
	}
	if os.Getenv("REMOTE_PANEL_HOME") != "" {
		return base
	}
	return filepath.Join(base, appName)
}
