// Package session keeps the table of logged-in panel sessions and the signed
// cookies that refer to them.
package session

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/grovetools/remote-panel/config"
	"github.com/grovetools/remote-panel/internal/security"
	"github.com/grovetools/remote-panel/logging"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTTL            = 12 * time.Hour
	DefaultTouchThreshold = 5 * time.Minute
	DefaultSweepInterval  = 60 * time.Second
	DefaultPersistDelay   = 150 * time.Millisecond
)

// Session is one authenticated browser.
type Session struct {
	ID        string
	IP        string
	CSRFToken string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Options configures a Store.
type Options struct {
	Secret string
	// File is where sessions are persisted. Empty disables persistence.
	File           string
	BindIP         bool
	TTL            time.Duration
	TouchThreshold time.Duration
	PersistDelay   time.Duration
}

// Store holds sessions in memory and mirrors them to disk.
type Store struct {
	opts   Options
	secret []byte
	logger *logrus.Entry
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	timer    *time.Timer
}

// NewStore creates an empty store. Call Load to restore persisted sessions.
func NewStore(opts Options) *Store {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.TouchThreshold <= 0 {
		opts.TouchThreshold = DefaultTouchThreshold
	}
	if opts.PersistDelay <= 0 {
		opts.PersistDelay = DefaultPersistDelay
	}
	return &Store{
		opts:     opts,
		secret:   []byte(opts.Secret),
		logger:   logging.NewLogger("session"),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// TTL is the lifetime granted on creation and on every touch.
func (s *Store) TTL() time.Duration {
	return s.opts.TTL
}

func randomID() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		panic("session: crypto/rand failed: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

func (s *Store) sign(id string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Cookie returns the signed cookie value for a session id.
func (s *Store) Cookie(id string) string {
	return id + "." + s.sign(id)
}

// Create starts a new session for ip and flushes the table to disk.
func (s *Store) Create(ip string) (*Session, string) {
	now := s.now()
	sess := &Session{
		ID:        randomID(),
		IP:        ip,
		CSRFToken: randomID(),
		CreatedAt: now,
		ExpiresAt: now.Add(s.opts.TTL),
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	if err := s.Flush(); err != nil {
		s.logger.WithError(err).Warn("Failed to persist sessions")
	}
	copied := *sess
	return &copied, s.Cookie(sess.ID)
}

// Verify resolves a cookie value into a live session, touching it on
// success. It returns nil for bad signatures, unknown or expired ids, and
// (when IP binding is on) requests from a different address.
func (s *Store) Verify(cookie, ip string) *Session {
	id, sig, ok := strings.Cut(cookie, ".")
	if !ok || id == "" || sig == "" {
		return nil
	}
	if !security.ConstantTimeEqual(sig, s.sign(id)) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[id]
	if !exists {
		return nil
	}
	now := s.now()
	if !sess.ExpiresAt.After(now) {
		delete(s.sessions, id)
		s.schedulePersistLocked()
		return nil
	}
	if s.opts.BindIP && sess.IP != ip {
		return nil
	}

	next := now.Add(s.opts.TTL)
	if next.Sub(sess.ExpiresAt) > s.opts.TouchThreshold {
		s.schedulePersistLocked()
	}
	sess.ExpiresAt = next

	copied := *sess
	return &copied
}

// Delete removes a session and flushes the table.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	_, existed := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !existed {
		return
	}
	if err := s.Flush(); err != nil {
		s.logger.WithError(err).Warn("Failed to persist sessions")
	}
}

// Len returns the number of sessions currently held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops expired sessions and reports how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, sess := range s.sessions {
		if !sess.ExpiresAt.After(now) {
			delete(s.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		s.schedulePersistLocked()
	}
	return removed
}

// Run sweeps expired sessions on interval until ctx is cancelled.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.WithField("removed", n).Debug("Swept expired sessions")
			}
		}
	}
}

func (s *Store) schedulePersistLocked() {
	if s.opts.File == "" || s.timer != nil {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(s.opts.PersistDelay, func() {
		s.mu.Lock()
		if s.timer != t {
			// Flushed (or rescheduled) since this timer was armed.
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.mu.Unlock()
		if err := s.Flush(); err != nil {
			s.logger.WithError(err).Warn("Failed to persist sessions")
		}
	})
	s.timer = t
}

type persistedSession struct {
	ID        string `json:"id"`
	IP        string `json:"ip"`
	CSRFToken string `json:"csrfToken"`
	CreatedAt int64  `json:"createdAt"`
	ExpiresAt int64  `json:"expiresAt"`
}

type persistedStore struct {
	UpdatedAt string             `json:"updatedAt"`
	Sessions  []persistedSession `json:"sessions"`
}

// Flush writes the session table to disk immediately, cancelling any
// pending debounced write.
func (s *Store) Flush() error {
	if s.opts.File == "" {
		return nil
	}

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	doc := persistedStore{
		UpdatedAt: s.now().UTC().Format(time.RFC3339Nano),
		Sessions:  make([]persistedSession, 0, len(s.sessions)),
	}
	for _, sess := range s.sessions {
		doc.Sessions = append(doc.Sessions, persistedSession{
			ID:        sess.ID,
			IP:        sess.IP,
			CSRFToken: sess.CSRFToken,
			CreatedAt: sess.CreatedAt.UnixMilli(),
			ExpiresAt: sess.ExpiresAt.UnixMilli(),
		})
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return config.WriteFileAtomic(s.opts.File, append(data, '\n'), 0600)
}

// Load restores persisted sessions, skipping expired and malformed entries.
// A missing file is not an error.
func (s *Store) Load() (int, error) {
	if s.opts.File == "" {
		return 0, nil
	}
	data, err := os.ReadFile(s.opts.File)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	var doc persistedStore
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, err
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	loaded := 0
	for _, p := range doc.Sessions {
		if p.ID == "" || p.CSRFToken == "" || p.ExpiresAt == 0 {
			continue
		}
		expires := time.UnixMilli(p.ExpiresAt)
		if !expires.After(now) {
			continue
		}
		s.sessions[p.ID] = &Session{
			ID:        p.ID,
			IP:        p.IP,
			CSRFToken: p.CSRFToken,
			CreatedAt: time.UnixMilli(p.CreatedAt),
			ExpiresAt: expires,
		}
		loaded++
	}
	if loaded != len(doc.Sessions) {
		s.schedulePersistLocked()
	}
	return loaded, nil
}
