package security

import (
	"sync"
	"time"
)

const (
	DefaultMaxLoginAttempts = 8
	DefaultLoginWindow      = 15 * time.Minute
)

// LoginLimiter counts failed logins per IP over a sliding window. Only
// failures are recorded, so a successful login never consumes budget.
type LoginLimiter struct {
	mu       sync.Mutex
	max      int
	window   time.Duration
	attempts map[string][]time.Time
	now      func() time.Time
}

// NewLoginLimiter creates a limiter allowing max failures per window.
func NewLoginLimiter(max int, window time.Duration) *LoginLimiter {
	return &LoginLimiter{
		max:      max,
		window:   window,
		attempts: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// Allow reports whether ip may attempt another login.
func (l *LoginLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.prune(ip)) < l.max
}

// RegisterFailure records a failed attempt for ip.
func (l *LoginLimiter) RegisterFailure(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts[ip] = append(l.prune(ip), l.now())
}

// Failures returns the number of failures for ip still inside the window.
func (l *LoginLimiter) Failures(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.prune(ip))
}

// prune drops attempts that left the window. Callers hold l.mu.
func (l *LoginLimiter) prune(ip string) []time.Time {
	cutoff := l.now().Add(-l.window)
	kept := l.attempts[ip][:0]
	for _, stamp := range l.attempts[ip] {
		if stamp.After(cutoff) {
			kept = append(kept, stamp)
		}
	}
	if len(kept) == 0 {
		delete(l.attempts, ip)
		return nil
	}
	l.attempts[ip] = kept
	return kept
}
