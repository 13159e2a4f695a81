package broadcast

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/grovetools/remote-panel/internal/activity"
	"github.com/grovetools/remote-panel/internal/mailbox"
	"github.com/grovetools/remote-panel/logging"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce coalesces bursts of mailbox writes into one broadcast.
const DefaultDebounce = 100 * time.Millisecond

// MailboxWatcher pushes chat snapshots as soon as a mailbox file appears,
// instead of waiting for the next poll.
type MailboxWatcher struct {
	chat     *Chat
	mailbox  *mailbox.Mailbox
	logs     LogSink
	debounce time.Duration
	logger   *logrus.Entry
}

// NewMailboxWatcher creates a watcher over both mailbox directories.
func NewMailboxWatcher(chat *Chat, mb *mailbox.Mailbox, logs LogSink) *MailboxWatcher {
	return &MailboxWatcher{
		chat:     chat,
		mailbox:  mb,
		logs:     logs,
		debounce: DefaultDebounce,
		logger:   logging.NewLogger("broadcast"),
	}
}

func isMailboxFile(name string) bool {
	return strings.HasSuffix(name, ".md") && !strings.HasPrefix(filepath.Base(name), ".")
}

// Run watches until ctx is done.
func (w *MailboxWatcher) Run(ctx context.Context) error {
	for _, dir := range []string{w.mailbox.Inbox.Dir(), w.mailbox.Outbox.Dir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, dir := range []string{w.mailbox.Inbox.Dir(), w.mailbox.Outbox.Dir()} {
		if err := watcher.Add(dir); err != nil {
			return err
		}
	}

	replies, err := w.mailbox.Outbox.NewReader(true)
	if err != nil {
		return err
	}

	fire := make(chan struct{}, 1)
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	schedule := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Reset(w.debounce)
			return
		}
		timer = time.AfterFunc(w.debounce, func() {
			select {
			case fire <- struct{}{}:
			default:
			}
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 && isMailboxFile(event.Name) {
				w.logger.Debugf("Mailbox change: %s op=%v", filepath.Base(event.Name), event.Op)
				schedule()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Mailbox watcher error")
		case <-fire:
			w.reportReplies(replies)
			w.chat.BroadcastChat(ctx, "mailbox", false)
		}
	}
}

func (w *MailboxWatcher) reportReplies(r *mailbox.Reader) {
	msgs, err := r.Next()
	if err != nil {
		w.logger.WithError(err).Debug("Failed to read new replies")
		return
	}
	if w.logs == nil {
		return
	}
	for _, m := range msgs {
		w.logs.Log("agent", "Reply received at "+m.FilePath)
	}
}

// ConnectActivity forwards activity events to chat clients: events
// appended in-process immediately, and events written by other processes
// through a tail of the log file. It blocks until ctx is done.
func ConnectActivity(ctx context.Context, log *activity.Log, chat *Chat) error {
	log.OnAppend(chat.BroadcastActivity)
	return log.Follow(ctx, func(e activity.Event) {
		// Panel-originated events were already sent by the append hook.
		if strings.HasPrefix(e.Source, "panel") {
			return
		}
		chat.BroadcastActivity(e)
	})
}
