package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/grovetools/remote-panel/errors"
)

// RuntimeConfig is the document the panel rewrites while running, so
// security mode, public host and tunnel mode survive restarts.
type RuntimeConfig struct {
	UpdatedAt    string `json:"updatedAt,omitempty"`
	SecurityMode string `json:"securityMode,omitempty"`
	PublicHost   string `json:"publicHost"`
	TunnelMode   string `json:"tunnelMode,omitempty"`
}

// LoadRuntimeConfig reads the runtime config document. A missing file yields
// an empty document; unparseable JSON or unknown modes are errors.
func LoadRuntimeConfig(path string) (*RuntimeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &RuntimeConfig{}, nil
		}
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to read runtime config").
			WithDetail("path", path)
	}

	var rc RuntimeConfig
	if err := json.Unmarshal(data, &rc); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse runtime config").
			WithDetail("path", path)
	}

	if rc.SecurityMode != "" && ParseSecurityMode(rc.SecurityMode, "") == "" {
		return nil, errors.ConfigInvalid("unknown securityMode in runtime config: " + rc.SecurityMode).
			WithDetail("path", path)
	}
	if rc.TunnelMode != "" && ParseTunnelMode(rc.TunnelMode, "") == "" {
		return nil, errors.ConfigInvalid("unknown tunnelMode in runtime config: " + rc.TunnelMode).
			WithDetail("path", path)
	}
	rc.PublicHost = NormalizePublicHost(rc.PublicHost)
	return &rc, nil
}

// SaveRuntimeConfig stamps and atomically writes rc to path.
func SaveRuntimeConfig(path string, rc RuntimeConfig) error {
	rc.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.MarshalIndent(rc, "", "  ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, append(data, '\n'), 0644)
}

// RuntimeSnapshot returns the persisted subset of s.
func (s *Settings) RuntimeSnapshot() RuntimeConfig {
	return RuntimeConfig{
		SecurityMode: s.SecurityMode,
		PublicHost:   s.PublicHost,
		TunnelMode:   ParseTunnelMode(s.TunnelMode, TunnelQuick),
	}
}

// WriteFileAtomic writes data to a temp file beside path and renames it
// into place, creating parent directories as needed.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// RuntimeStore guards the live runtime settings and persists every change.
type RuntimeStore struct {
	mu      sync.RWMutex
	path    string
	current RuntimeConfig
}

// NewRuntimeStore seeds the store from resolved settings.
func NewRuntimeStore(path string, initial RuntimeConfig) *RuntimeStore {
	initial.SecurityMode = ParseSecurityMode(initial.SecurityMode, SecurityOff)
	initial.TunnelMode = ParseTunnelMode(initial.TunnelMode, TunnelQuick)
	initial.PublicHost = NormalizePublicHost(initial.PublicHost)
	return &RuntimeStore{path: path, current: initial}
}

// Get returns a copy of the current runtime settings.
func (r *RuntimeStore) Get() RuntimeConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// SecurityMode returns the configured (not per-client) security mode.
func (r *RuntimeStore) SecurityMode() string {
	return r.Get().SecurityMode
}

// Update applies fn under the lock and writes the result to disk. The
// in-memory value is kept even when persisting fails.
func (r *RuntimeStore) Update(fn func(rc *RuntimeConfig)) (RuntimeConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.current
	fn(&next)
	next.SecurityMode = ParseSecurityMode(next.SecurityMode, r.current.SecurityMode)
	next.TunnelMode = ParseTunnelMode(next.TunnelMode, TunnelQuick)
	next.PublicHost = NormalizePublicHost(next.PublicHost)
	r.current = next
	if r.path == "" {
		return next, nil
	}
	return next, SaveRuntimeConfig(r.path, next)
}
