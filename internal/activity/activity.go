// Package activity records what the panel and its agent collaborator are
// doing: an append-only activity.jsonl event log and the agent-status.json
// document the agent overwrites as it works.
package activity

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/grovetools/remote-panel/errors"
	"github.com/grovetools/remote-panel/logging"
	"github.com/sirupsen/logrus"
)

// Agent states.
const (
	StateIdle     = "idle"
	StatePending  = "pending"
	StateThinking = "thinking"
	StateWorking  = "working"
	StateBlocked  = "blocked"
)

const (
	DefaultReadLimit = 180
	MaxReadLimit     = 800

	maxTypeLen    = 80
	maxMessageLen = 2000
	maxSourceLen  = 120
)

// TimeLayout is the millisecond UTC timestamp used in every persisted file.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Timestamp formats t with TimeLayout.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// NormalizeState maps unknown or empty states to idle.
func NormalizeState(state string) string {
	switch s := strings.ToLower(strings.TrimSpace(state)); s {
	case StateIdle, StatePending, StateThinking, StateWorking, StateBlocked:
		return s
	default:
		return StateIdle
	}
}

// Event is one line of activity.jsonl.
type Event struct {
	Time    string                 `json:"time"`
	Type    string                 `json:"type"`
	State   string                 `json:"state"`
	Message string                 `json:"message"`
	Source  string                 `json:"source"`
	Meta    map[string]interface{} `json:"meta"`
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// normalize applies the field limits and defaults used on both write and read.
func (e Event) normalize() Event {
	if e.Type == "" {
		e.Type = "event"
	}
	e.Type = truncate(e.Type, maxTypeLen)
	if e.State != "" {
		e.State = NormalizeState(e.State)
	}
	e.Message = truncate(e.Message, maxMessageLen)
	if e.Source == "" {
		e.Source = "panel"
	}
	e.Source = truncate(e.Source, maxSourceLen)
	if e.Meta == nil {
		e.Meta = map[string]interface{}{}
	}
	return e
}

// Log is the activity.jsonl event log.
type Log struct {
	path   string
	logger *logrus.Entry
	now    func() time.Time

	mu        sync.Mutex
	listeners []func(Event)
}

// NewLog opens the event log at path. The file is created on first append.
func NewLog(path string) *Log {
	return &Log{
		path:   path,
		logger: logging.NewLogger("activity"),
		now:    time.Now,
	}
}

// Path returns the log file location.
func (l *Log) Path() string {
	return l.path
}

// OnAppend registers fn to receive every event appended through this Log.
func (l *Log) OnAppend(fn func(Event)) {
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

// Append stamps e and writes it as one JSON line.
func (l *Log) Append(e Event) (Event, error) {
	e = e.normalize()
	e.Time = Timestamp(l.now())

	line, err := json.Marshal(e)
	if err != nil {
		return e, errors.Wrap(err, errors.ErrCodeInternal, "failed to encode activity event")
	}

	l.mu.Lock()
	err = appendLine(l.path, line)
	listeners := append([]func(Event){}, l.listeners...)
	l.mu.Unlock()
	if err != nil {
		return e, errors.Wrap(err, errors.ErrCodeInternal, "failed to append activity event")
	}

	for _, fn := range listeners {
		fn(e)
	}
	return e, nil
}

func appendLine(path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ClampLimit bounds a requested event count; zero selects the default.
func ClampLimit(limit int) int {
	switch {
	case limit == 0:
		return DefaultReadLimit
	case limit < 1:
		return 1
	case limit > MaxReadLimit:
		return MaxReadLimit
	}
	return limit
}

// Read returns the events on the last limit non-empty lines in file order.
// Lines that are not JSON objects are skipped. A missing file is empty.
func (l *Log) Read(limit int) ([]Event, error) {
	limit = ClampLimit(limit)

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, nil
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read activity log")
	}

	var lines [][]byte
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if line := bytes.TrimSpace(scanner.Bytes()); len(line) > 0 {
			lines = append(lines, append([]byte(nil), line...))
		}
	}
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}

	events := make([]Event, 0, len(lines))
	for _, line := range lines {
		if e, ok := ParseLine(line); ok {
			events = append(events, e)
		}
	}
	return events, nil
}

// ParseLine decodes one activity line. Non-object JSON is rejected.
func ParseLine(line []byte) (Event, bool) {
	var raw map[string]interface{}
	if err := json.Unmarshal(line, &raw); err != nil || raw == nil {
		return Event{}, false
	}
	e := Event{
		Time:    stringField(raw, "time"),
		Type:    stringField(raw, "type"),
		State:   stringField(raw, "state"),
		Message: stringField(raw, "message"),
		Source:  stringField(raw, "source"),
	}
	if e.Type == "" {
		e.Type = "event"
	}
	if meta, ok := raw["meta"].(map[string]interface{}); ok {
		e.Meta = meta
	} else {
		e.Meta = map[string]interface{}{}
	}
	return e, true
}

func stringField(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}
