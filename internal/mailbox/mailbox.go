package mailbox

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/grovetools/remote-panel/errors"
	"github.com/grovetools/remote-panel/internal/activity"
	"github.com/grovetools/remote-panel/pkg/paths"
	"golang.org/x/sync/errgroup"
)

const (
	// HistoryLimit bounds the chat timeline and each directory read.
	HistoryLimit = 120

	MaxNoteLen  = 5000
	MaxReplyLen = 50000

	latestContentLimit = 20000
)

// Mailbox is the inbox (user to agent) and outbox (agent to user) pair.
type Mailbox struct {
	Inbox  *Log
	Outbox *Log
	now    func() time.Time
}

// New opens the mailbox under the workspace's remote state directory.
func New(ws paths.Workspace) *Mailbox {
	return &Mailbox{
		Inbox:  NewLog(ws, ws.InboxDir(), RoleUser),
		Outbox: NewLog(ws, ws.OutboxDir(), RoleAssistant),
		now:    time.Now,
	}
}

// FormatNote renders an inbox note.
func FormatNote(message, ip string, at time.Time) string {
	return strings.Join([]string{
		"# Remote Request",
		"",
		"- Time: " + activity.Timestamp(at),
		"- Source IP: " + ip,
		"",
		bodyMarker,
		"",
		strings.TrimSpace(message),
		"",
	}, "\n")
}

// FormatReply renders an outbox reply.
func FormatReply(message, inReplyTo string, at time.Time) string {
	if inReplyTo == "" {
		inReplyTo = "(none)"
	}
	return strings.Join([]string{
		"# Codex Response",
		"",
		"- Time: " + activity.Timestamp(at),
		"- InReplyTo: " + inReplyTo,
		"",
		bodyMarker,
		"",
		strings.TrimSpace(message),
		"",
	}, "\n")
}

// ValidateNote trims message and checks its length.
func ValidateNote(message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", errors.InvalidInput("Message is required.")
	}
	if len(message) > MaxNoteLen {
		return "", errors.InvalidInput("Message too long.")
	}
	return message, nil
}

// ValidateReply trims message and checks its length.
func ValidateReply(message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", errors.InvalidInput("Reply message is required.")
	}
	if len(message) > MaxReplyLen {
		return "", errors.InvalidInput("Reply message too long.")
	}
	return message, nil
}

// AppendNote validates and stores a user note.
func (m *Mailbox) AppendNote(message, ip string) (Entry, error) {
	message, err := ValidateNote(message)
	if err != nil {
		return Entry{}, err
	}
	return m.Inbox.Append(FormatNote(message, ip, m.now()))
}

// AppendReply validates and stores an agent reply.
func (m *Mailbox) AppendReply(message, inReplyTo string) (Entry, error) {
	message, err := ValidateReply(message)
	if err != nil {
		return Entry{}, err
	}
	return m.Outbox.Append(FormatReply(message, inReplyTo, m.now()))
}

// Latest is the newest file of a mailbox direction.
type Latest struct {
	FileName         string `json:"fileName"`
	FilePath         string `json:"filePath"`
	Message          string `json:"message"`
	Content          string `json:"content"`
	ContentTruncated bool   `json:"contentTruncated"`
	NoteTimestamp    string `json:"noteTimestamp"`
}

// Latest returns the newest entry of l, or nil when the log is empty.
func (l *Log) Latest() (*Latest, error) {
	names, err := l.names()
	if err != nil || len(names) == 0 {
		return nil, err
	}
	name := names[len(names)-1]
	path := filepath.Join(l.dir, name)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read mailbox entry")
	}
	trimmed := strings.TrimSpace(string(raw))
	out := &Latest{
		FileName:      name,
		FilePath:      l.ws.Rel(path),
		Message:       ExtractBody(trimmed),
		Content:       trimmed,
		NoteTimestamp: strings.TrimSuffix(name, ".md"),
	}
	if len(trimmed) > latestContentLimit {
		out.Content = trimmed[:latestContentLimit] + "\n...[truncated]"
		out.ContentTruncated = true
	}
	return out, nil
}

// History merges both directions into one timeline ordered by timestamp,
// then id, keeping the last limit messages.
func (m *Mailbox) History(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = HistoryLimit
	}
	var inbox, outbox []Message
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		inbox, err = m.Inbox.Messages(limit)
		return err
	})
	g.Go(func() error {
		var err error
		outbox, err = m.Outbox.Messages(limit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return mergeTimeline(inbox, outbox, limit), nil
}

func mergeTimeline(inbox, outbox []Message, limit int) []Message {
	merged := make([]Message, 0, len(inbox)+len(outbox))
	merged = append(merged, inbox...)
	merged = append(merged, outbox...)
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].NoteTimestamp != merged[j].NoteTimestamp {
			return merged[i].NoteTimestamp < merged[j].NoteTimestamp
		}
		return merged[i].ID < merged[j].ID
	})
	if len(merged) > limit {
		merged = merged[len(merged)-limit:]
	}
	return merged
}

// Usage is a rough token estimate of the timeline at four characters per
// token.
type Usage struct {
	Estimated        bool   `json:"estimated"`
	Basis            string `json:"basis"`
	PromptTokens     int    `json:"promptTokens"`
	CompletionTokens int    `json:"completionTokens"`
	TotalTokens      int    `json:"totalTokens"`
	MessageCount     int    `json:"messageCount"`
}

// EstimateTokens returns ceil(len/4), at least 1 for non-empty text.
func EstimateTokens(text string) int {
	n := len(strings.TrimSpace(text))
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// EstimateUsage sums the token estimate per role.
func EstimateUsage(history []Message) Usage {
	u := Usage{Estimated: true, Basis: "chars_div_4", MessageCount: len(history)}
	for _, m := range history {
		tokens := EstimateTokens(m.Text)
		if m.Role == RoleAssistant {
			u.CompletionTokens += tokens
		} else {
			u.PromptTokens += tokens
		}
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

// Snapshot is the chat state pushed to WebSocket clients.
type Snapshot struct {
	Status  activity.Status `json:"status"`
	History []Message       `json:"history"`
	Usage   Usage           `json:"usage"`
}

// Signature changes whenever a client would render the snapshot differently.
func (s Snapshot) Signature() string {
	last := ""
	if n := len(s.History); n > 0 {
		last = s.History[n-1].ID
	}
	state := s.Status.State
	if state == "" {
		state = activity.StateIdle
	}
	b, _ := json.Marshal(struct {
		StatusState      string `json:"statusState"`
		StatusUpdatedAt  string `json:"statusUpdatedAt"`
		HistoryCount     int    `json:"historyCount"`
		LastMessageID    string `json:"lastMessageId"`
		UsageTotalTokens int    `json:"usageTotalTokens"`
	}{state, s.Status.UpdatedAt, len(s.History), last, s.Usage.TotalTokens})
	return string(b)
}

// BuildSnapshot reads the agent status and timeline together.
func (m *Mailbox) BuildSnapshot(ctx context.Context, statuses *activity.StatusStore) (Snapshot, error) {
	var snap Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap.Status, err = statuses.Read()
		return err
	})
	g.Go(func() error {
		var err error
		snap.History, err = m.History(gctx, HistoryLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	if snap.History == nil {
		snap.History = []Message{}
	}
	snap.Usage = EstimateUsage(snap.History)
	return snap, nil
}
