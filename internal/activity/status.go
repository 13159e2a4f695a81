package activity

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/grovetools/remote-panel/config"
	"github.com/grovetools/remote-panel/errors"
)

const maxStatusMessageLen = 5000

// Status is the agent's current state as shown in the panel header.
type Status struct {
	State     string `json:"state"`
	Message   string `json:"message"`
	UpdatedAt string `json:"updatedAt"`
	Source    string `json:"source"`
}

// DefaultStatus is reported when no status document exists.
func DefaultStatus() Status {
	return Status{
		State:   StateIdle,
		Message: "No active Codex task.",
		Source:  "panel-default",
	}
}

// StatusStore reads and overwrites agent-status.json.
type StatusStore struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

func NewStatusStore(path string) *StatusStore {
	return &StatusStore{path: path, now: time.Now}
}

// Read returns the stored status, or DefaultStatus when the file is missing.
func (s *StatusStore) Read() (Status, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultStatus(), nil
		}
		return Status{}, errors.Wrap(err, errors.ErrCodeInternal, "failed to read agent status")
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Status{}, errors.Wrap(err, errors.ErrCodeInternal, "failed to parse agent status")
	}
	st := Status{
		State:     NormalizeState(stringField(raw, "state")),
		Message:   stringField(raw, "message"),
		UpdatedAt: stringField(raw, "updatedAt"),
		Source:    stringField(raw, "source"),
	}
	if st.Source == "" {
		st.Source = "unknown"
	}
	return st, nil
}

// Write replaces the status document.
func (s *StatusStore) Write(state, message, source string) (Status, error) {
	if source == "" {
		source = "panel"
	}
	st := Status{
		State:     NormalizeState(state),
		Message:   truncate(message, maxStatusMessageLen),
		UpdatedAt: Timestamp(s.now()),
		Source:    source,
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return st, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := config.WriteFileAtomic(s.path, append(data, '\n'), 0644); err != nil {
		return st, errors.Wrap(err, errors.ErrCodeInternal, "failed to write agent status")
	}
	return st, nil
}
