package paths

import (
	"path/filepath"
	"strings"
)

// Workspace resolves the state files the panel reads and writes relative to
// the directory it serves.
type Workspace struct {
	Root string
}

// NewWorkspace returns a Workspace rooted at an absolute form of root.
func NewWorkspace(root string) Workspace {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return Workspace{Root: root}
}

// RemoteDir is the directory holding all panel runtime state.
func (w Workspace) RemoteDir() string {
	return filepath.Join(w.Root, ".agency", "remote")
}

// InboxDir holds user → agent mailbox notes.
func (w Workspace) InboxDir() string {
	return filepath.Join(w.RemoteDir(), "inbox")
}

// OutboxDir holds agent → user mailbox replies.
func (w Workspace) OutboxDir() string {
	return filepath.Join(w.RemoteDir(), "outbox")
}

func (w Workspace) AgentStatusFile() string {
	return filepath.Join(w.RemoteDir(), "agent-status.json")
}

func (w Workspace) ActivityLogFile() string {
	return filepath.Join(w.RemoteDir(), "activity.jsonl")
}

func (w Workspace) CodexRegistryFile() string {
	return filepath.Join(w.RemoteDir(), "codex-sessions.json")
}

func (w Workspace) DefaultSessionStoreFile() string {
	return filepath.Join(w.RemoteDir(), "panel-sessions.json")
}

func (w Workspace) DefaultRuntimeConfigFile() string {
	return filepath.Join(w.RemoteDir(), "panel-runtime.json")
}

// PidFile is the single-instance guard for the panel process.
func (w Workspace) PidFile() string {
	return filepath.Join(w.RemoteDir(), "panel.pid")
}

// ManifestDir holds dev-server manifests written by the dev runner.
func (w Workspace) ManifestDir() string {
	return filepath.Join(w.Root, ".agency", "dev-servers")
}

// ChatSessionsDir holds folders produced by the chat prep pipeline.
func (w Workspace) ChatSessionsDir() string {
	return filepath.Join(w.Root, ".agency", "chat", "sessions")
}

func (w Workspace) ProjectsDir() string {
	return filepath.Join(w.Root, "projects")
}

func (w Workspace) AgencyConfigFile() string {
	return filepath.Join(w.Root, "agency.config.json")
}

// Resolve makes p absolute against the workspace root.
func (w Workspace) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(w.Root, p)
}

// Rel returns p relative to the workspace root with forward slashes, for
// display in API payloads.
func (w Workspace) Rel(p string) string {
	rel, err := filepath.Rel(w.Root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return strings.ReplaceAll(filepath.ToSlash(rel), "\\", "/")
}
