package supervisor

import (
	"sync"
	"time"
)

// DefaultMaxLogLines bounds the in-memory log ring.
const DefaultMaxLogLines = 1500

// LogEntry is one line of child output or a supervisor notice.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Source  string    `json:"source"`
	Message string    `json:"message"`
}

// LogRing keeps the most recent log entries.
type LogRing struct {
	mu      sync.Mutex
	max     int
	entries []LogEntry
}

// NewLogRing creates a ring holding at most max entries.
func NewLogRing(max int) *LogRing {
	if max <= 0 {
		max = DefaultMaxLogLines
	}
	return &LogRing{max: max}
}

// Add stores a new entry and returns it.
func (r *LogRing) Add(source, message string) LogEntry {
	entry := LogEntry{Time: time.Now().UTC(), Source: source, Message: message}
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	if over := len(r.entries) - r.max; over > 0 {
		// Copy down so the backing array does not grow without bound.
		r.entries = append(r.entries[:0], r.entries[over:]...)
	}
	r.mu.Unlock()
	return entry
}

// Entries returns a copy of the buffered entries, oldest first.
func (r *LogRing) Entries() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LogEntry(nil), r.entries...)
}

// Len returns the number of buffered entries.
func (r *LogRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// tail keeps the last n output lines of a one-shot command.
type tail struct {
	mu    sync.Mutex
	n     int
	lines []string
}

func (t *tail) add(line string) {
	t.mu.Lock()
	t.lines = append(t.lines, line)
	if over := len(t.lines) - t.n; over > 0 {
		t.lines = append(t.lines[:0], t.lines[over:]...)
	}
	t.mu.Unlock()
}

func (t *tail) snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string{}, t.lines...)
}
