package server

import (
	"context"
	"net/http"

	"github.com/grovetools/remote-panel/errors"
	"github.com/grovetools/remote-panel/internal/security"
	"github.com/grovetools/remote-panel/internal/session"
)

type contextKey int

const (
	clientIPKey contextKey = iota
	sessionKey
)

// clientIP returns the address the gate admitted the request with.
func clientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey).(string); ok {
		return ip
	}
	return security.ClientIP(r)
}

// currentSession returns the session attached by requireSession.
func currentSession(r *http.Request) *session.Session {
	sess, _ := r.Context().Value(sessionKey).(*session.Session)
	return sess
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		security.SetHeaders(w.Header())
		next.ServeHTTP(w, r)
	})
}

// gate applies the allowlist and HTTPS policy to every request.
func (s *Server) gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, err := s.rt.Gate.Check(r)
		if err != nil {
			s.logger.WithField("ip", ip).WithField("path", r.URL.Path).Debug(errors.Message(err))
			writeError(w, nil, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientIPKey, ip)))
	})
}

// requireSession rejects requests without a live session cookie.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := s.rt.Sessions.Verify(session.FromRequest(r), clientIP(r))
		if sess == nil {
			writeError(w, nil, errors.Unauthorized())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, sess)))
	})
}

// requireCSRF makes mutating requests echo the session's CSRF token.
func (s *Server) requireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := currentSession(r)
		if sess == nil {
			writeError(w, nil, errors.Unauthorized())
			return
		}
		if err := security.CheckCSRF(r, sess.CSRFToken); err != nil {
			writeError(w, nil, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
