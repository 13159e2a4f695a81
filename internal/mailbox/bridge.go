package mailbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/grovetools/remote-panel/errors"
	"github.com/grovetools/remote-panel/internal/activity"
	"github.com/grovetools/remote-panel/logging"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Notifier pushes a fresh chat snapshot to connected clients.
type Notifier interface {
	BroadcastChat(ctx context.Context, reason string, force bool)
}

// LogSink receives panel log lines.
type LogSink interface {
	Log(source, message string)
}

// Channel names the surface a note arrived through. The names end up in
// the status document and activity log.
type Channel struct {
	StatusSource   string
	ActivitySource string
}

var (
	ChannelHTTP      = Channel{StatusSource: "panel-note", ActivitySource: "panel-note"}
	ChannelWebSocket = Channel{StatusSource: "panel-ws-note", ActivitySource: "panel-ws"}
)

const (
	maxInReplyToLen     = 500
	maxStatusMessageLen = 5000
)

// Bridge ties the mailbox to the status document and activity log so every
// message also moves the agent state and leaves an activity trail.
type Bridge struct {
	Mailbox  *Mailbox
	Activity *activity.Log
	Status   *activity.StatusStore

	logs     LogSink
	notifier Notifier
	logger   *logrus.Entry
}

// NewBridge wires the mailbox to its collaborators.
func NewBridge(mb *Mailbox, log *activity.Log, status *activity.StatusStore, logs LogSink) *Bridge {
	return &Bridge{
		Mailbox:  mb,
		Activity: log,
		Status:   status,
		logs:     logs,
		logger:   logging.NewLogger("mailbox"),
	}
}

// SetNotifier installs the chat broadcaster.
func (b *Bridge) SetNotifier(n Notifier) {
	b.notifier = n
}

func (b *Bridge) log(source, message string) {
	if b.logs != nil {
		b.logs.Log(source, message)
	}
}

// Broadcast forces a chat snapshot push, if a notifier is installed.
func (b *Bridge) Broadcast(ctx context.Context, reason string) {
	if b.notifier != nil {
		b.notifier.BroadcastChat(ctx, reason, true)
	}
}

// appendActivity records an event; failures are logged, never returned.
func (b *Bridge) appendActivity(e activity.Event) {
	if _, err := b.Activity.Append(e); err != nil {
		b.logger.WithError(err).WithField("type", e.Type).Warn("Failed to append activity event")
	}
}

// SubmitNote stores a user note and marks the agent pending. The caller
// decides when to broadcast.
func (b *Bridge) SubmitNote(message, ip string, via Channel) (Entry, error) {
	note, err := b.Mailbox.AppendNote(message, ip)
	if err != nil {
		return Entry{}, err
	}
	if _, err := b.Status.Write(activity.StatePending, "Queued inbox note: "+note.FileName, via.StatusSource); err != nil {
		return note, err
	}
	b.appendActivity(activity.Event{
		Type:    "user_message",
		State:   activity.StatePending,
		Message: fmt.Sprintf("Queued user message (%s)", note.FileName),
		Source:  via.ActivitySource,
		Meta:    map[string]interface{}{"file": note.FilePath},
	})
	b.log("note", "Stored remote note at "+note.FilePath)
	return note, nil
}

// SubmitReply stores an agent reply and sets the status that follows it,
// idle unless state says otherwise.
func (b *Bridge) SubmitReply(ctx context.Context, message, inReplyTo, state string) (Entry, activity.Status, error) {
	inReplyTo = strings.TrimSpace(inReplyTo)
	if len(inReplyTo) > maxInReplyToLen {
		inReplyTo = inReplyTo[:maxInReplyToLen]
	}
	if state == "" {
		state = activity.StateIdle
	}

	reply, err := b.Mailbox.AppendReply(message, inReplyTo)
	if err != nil {
		return Entry{}, activity.Status{}, err
	}
	status, err := b.Status.Write(state, "Reply published.", "panel-reply")
	if err != nil {
		return reply, activity.Status{}, err
	}
	b.appendActivity(activity.Event{
		Type:    "assistant_reply",
		State:   status.State,
		Message: fmt.Sprintf("Assistant reply stored (%s)", reply.FileName),
		Source:  "panel-reply",
		Meta:    map[string]interface{}{"file": reply.FilePath, "inReplyTo": inReplyTo},
	})
	b.log("agent", "Stored assistant reply at "+reply.FilePath)
	b.Broadcast(ctx, "agent:reply")
	return reply, status, nil
}

// SetStatus overwrites the agent status on the agent's behalf.
func (b *Bridge) SetStatus(ctx context.Context, state, message, source string) (activity.Status, error) {
	message = strings.TrimSpace(message)
	if len(message) > maxStatusMessageLen {
		return activity.Status{}, errors.InvalidInput("Status message too long.")
	}
	status, err := b.Status.Write(state, message, source)
	if err != nil {
		return activity.Status{}, err
	}
	msg := status.Message
	if msg == "" {
		msg = "Status set to " + status.State
	}
	b.appendActivity(activity.Event{
		Type:    "status",
		State:   status.State,
		Message: msg,
		Source:  "panel-status",
	})
	b.log("agent", "Status set to "+status.State)
	b.Broadcast(ctx, "agent:status")
	return status, nil
}

// RelaySnapshot is what the relay poller needs in one read.
type RelaySnapshot struct {
	Status      activity.Status `json:"status"`
	LatestInbox *Latest         `json:"latestInbox"`
	LatestReply *Latest         `json:"latestReply"`
}

// ReadRelaySnapshot reads status, latest note and latest reply in parallel.
func (b *Bridge) ReadRelaySnapshot(ctx context.Context) (RelaySnapshot, error) {
	var snap RelaySnapshot
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap.Status, err = b.Status.Read()
		return err
	})
	g.Go(func() error {
		var err error
		snap.LatestInbox, err = b.Mailbox.Inbox.Latest()
		return err
	})
	g.Go(func() error {
		var err error
		snap.LatestReply, err = b.Mailbox.Outbox.Latest()
		return err
	})
	if err := g.Wait(); err != nil {
		return RelaySnapshot{}, err
	}
	return snap, nil
}

// Snapshot builds the current chat snapshot.
func (b *Bridge) Snapshot(ctx context.Context) (Snapshot, error) {
	return b.Mailbox.BuildSnapshot(ctx, b.Status)
}
