// Package mailbox implements the markdown-file mailbox shared with the
// agent collaborator. Each direction is a directory of timestamp-named
// files treated as an append-only log: a Writer appends entries and a
// Reader cursor yields the entries it has not consumed yet.
package mailbox

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grovetools/remote-panel/errors"
	"github.com/grovetools/remote-panel/internal/activity"
	"github.com/grovetools/remote-panel/pkg/paths"
)

// Role is the author side of a mailbox direction.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const bodyMarker = "## Message"

// Message is one mailbox file as shown in the chat timeline.
type Message struct {
	ID            string `json:"id"`
	Role          Role   `json:"role"`
	Text          string `json:"text"`
	NoteTimestamp string `json:"noteTimestamp"`
	FilePath      string `json:"filePath"`
}

// Entry identifies a file appended to a Log.
type Entry struct {
	FileName string `json:"fileName"`
	FilePath string `json:"filePath"`
}

// ExtractBody returns the text after the first "## Message" marker, or the
// whole document when there is none.
func ExtractBody(raw string) string {
	idx := strings.Index(raw, bodyMarker)
	if idx < 0 {
		return strings.TrimSpace(raw)
	}
	return strings.TrimSpace(raw[idx+len(bodyMarker):])
}

// FileStamp turns a time into the file-name stem used for mailbox entries.
func FileStamp(t time.Time) string {
	return strings.NewReplacer(":", "-", ".", "-").Replace(activity.Timestamp(t))
}

// Log is one direction of the mailbox.
type Log struct {
	dir  string
	role Role
	ws   paths.Workspace
	now  func() time.Time

	// mu serializes appends so two writes in the same millisecond get
	// distinct names.
	mu sync.Mutex
}

// NewLog returns the log stored in dir.
func NewLog(ws paths.Workspace, dir string, role Role) *Log {
	return &Log{dir: dir, role: role, ws: ws, now: time.Now}
}

func (l *Log) Dir() string { return l.dir }
func (l *Log) Role() Role  { return l.role }

// Append writes doc as a new entry. The name is the current timestamp,
// bumped by a millisecond while it collides with an existing file so the
// log stays strictly ordered.
func (l *Log) Append(doc string) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return Entry{}, errors.Wrap(err, errors.ErrCodeInternal, "failed to create mailbox directory")
	}

	t := l.now()
	for attempt := 0; attempt < 1000; attempt++ {
		name := FileStamp(t) + ".md"
		path := filepath.Join(l.dir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if os.IsExist(err) {
			t = t.Add(time.Millisecond)
			continue
		}
		if err != nil {
			return Entry{}, errors.Wrap(err, errors.ErrCodeInternal, "failed to create mailbox entry")
		}
		if _, err := f.WriteString(doc); err != nil {
			f.Close()
			os.Remove(path)
			return Entry{}, errors.Wrap(err, errors.ErrCodeInternal, "failed to write mailbox entry")
		}
		if err := f.Close(); err != nil {
			return Entry{}, errors.Wrap(err, errors.ErrCodeInternal, "failed to write mailbox entry")
		}
		return Entry{FileName: name, FilePath: l.ws.Rel(path)}, nil
	}
	return Entry{}, errors.New(errors.ErrCodeInternal, "could not allocate a mailbox file name")
}

// names lists the .md files in the log, oldest first.
func (l *Log) names() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list mailbox")
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(strings.ToLower(e.Name()), ".md") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (l *Log) message(name string) (Message, error) {
	path := filepath.Join(l.dir, name)
	raw, err := os.ReadFile(path)
	if err != nil {
		return Message{}, err
	}
	return Message{
		ID:            string(l.role) + ":" + name,
		Role:          l.role,
		Text:          ExtractBody(string(raw)),
		NoteTimestamp: strings.TrimSuffix(name, ".md"),
		FilePath:      l.ws.Rel(path),
	}, nil
}

func (l *Log) messages(names []string) ([]Message, error) {
	out := make([]Message, 0, len(names))
	for _, name := range names {
		m, err := l.message(name)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read mailbox entry")
		}
		if m.Text != "" {
			out = append(out, m)
		}
	}
	return out, nil
}

// Messages returns the non-empty messages among the last limit files.
func (l *Log) Messages(limit int) ([]Message, error) {
	names, err := l.names()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(names) > limit {
		names = names[len(names)-limit:]
	}
	return l.messages(names)
}

// Reader is a cursor over a Log. It is not safe for concurrent use.
type Reader struct {
	log  *Log
	last string
}

// NewReader returns a cursor positioned before the first entry. With
// fromLatest it starts after the newest existing entry instead.
func (l *Log) NewReader(fromLatest bool) (*Reader, error) {
	r := &Reader{log: l}
	if fromLatest {
		names, err := l.names()
		if err != nil {
			return nil, err
		}
		if len(names) > 0 {
			r.last = names[len(names)-1]
		}
	}
	return r, nil
}

// Next returns the messages appended since the previous call and advances
// the cursor past them.
func (r *Reader) Next() ([]Message, error) {
	names, err := r.log.names()
	if err != nil {
		return nil, err
	}
	start := sort.SearchStrings(names, r.last)
	if start < len(names) && names[start] == r.last {
		start++
	}
	fresh := names[start:]
	if len(fresh) == 0 {
		return nil, nil
	}
	msgs, err := r.log.messages(fresh)
	if err != nil {
		return nil, err
	}
	r.last = fresh[len(fresh)-1]
	return msgs, nil
}

// Position is the file name of the last consumed entry.
func (r *Reader) Position() string {
	return r.last
}
