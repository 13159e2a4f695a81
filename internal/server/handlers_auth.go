package server

import (
	"fmt"
	"net/http"

	"github.com/grovetools/remote-panel/config"
	"github.com/grovetools/remote-panel/errors"
	"github.com/grovetools/remote-panel/internal/activity"
	"github.com/grovetools/remote-panel/internal/security"
	"github.com/grovetools/remote-panel/internal/session"
	"github.com/grovetools/remote-panel/version"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	mode := s.rt.Config.SecurityMode()
	st := s.rt.State()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":  true,
		"now": st.Time,
		"panel": map[string]interface{}{
			"host":                  s.rt.Settings.Host,
			"port":                  s.rt.Settings.Port,
			"requireHttps":          mode == config.SecurityOn,
			"securityMode":          mode,
			"effectiveSecurityMode": s.rt.Gate.EffectiveMode(ip),
		},
		"activeDev":      st.ActiveDev,
		"activeRelay":    st.ActiveRelay,
		"activeTunnel":   st.ActiveTunnel,
		"commandRunning": st.CommandRunning,
		"version":        version.GetInfo().Version,
	})
}

type loginRequest struct {
	Password string `json:"password"`
}

// handleLogin checks the throttle before reading the password, so a
// throttled client learns nothing about it.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !s.rt.Limiter.Allow(ip) {
		s.rt.Metrics.Login("throttled")
		writeError(w, nil, errors.RateLimited())
		return
	}

	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, nil, err)
		return
	}
	if !security.ConstantTimeEqual(req.Password, s.rt.Settings.Password) {
		s.rt.Limiter.RegisterFailure(ip)
		s.rt.Metrics.Login("failure")
		s.logger.WithField("ip", ip).Warn("Failed login attempt")
		writeError(w, nil, errors.InvalidCredentials())
		return
	}

	sess, cookie := s.rt.Sessions.Create(ip)
	session.SetCookie(w, cookie, s.rt.Sessions.TTL(), s.rt.Gate.SecureCookie(r, ip))
	s.rt.Metrics.Login("success")
	s.rt.Metrics.SetSessions(s.rt.Sessions.Len())
	s.logger.WithField("ip", ip).Info("Operator logged in")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"csrfToken": sess.CSRFToken,
		"expiresAt": activity.Timestamp(sess.ExpiresAt),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := currentSession(r)
	s.rt.Sessions.Delete(sess.ID)
	s.rt.Metrics.SetSessions(s.rt.Sessions.Len())
	session.ClearCookie(w, s.rt.Gate.SecureCookie(r, clientIP(r)))
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess := currentSession(r)
	live := s.rt.Config.Get()
	st := s.rt.State()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":                    true,
		"csrfToken":             sess.CSRFToken,
		"expiresAt":             activity.Timestamp(sess.ExpiresAt),
		"commandRunning":        st.CommandRunning,
		"activeDev":             st.ActiveDev,
		"activeRelay":           st.ActiveRelay,
		"activeTunnel":          st.ActiveTunnel,
		"previewRefreshMs":      s.rt.Settings.PreviewRefreshMs,
		"bindSessionIp":         s.rt.Settings.ShouldBindSessionIP(),
		"securityMode":          live.SecurityMode,
		"tunnelMode":            live.TunnelMode,
		"effectiveSecurityMode": s.rt.Gate.EffectiveMode(clientIP(r)),
		"persistSessions":       s.rt.Settings.ShouldPersistSessions(),
	})
}

func (s *Server) handleConnectionHelp(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
		ConnectionHelp
	}{OK: true, ConnectionHelp: s.rt.connectionHelp()})
}

type securityModeRequest struct {
	Mode       string  `json:"mode"`
	PublicHost *string `json:"publicHost"`
}

// handleSecurityMode switches the security mode at runtime and persists it.
// publicHost is only changed when the field is present.
func (s *Server) handleSecurityMode(w http.ResponseWriter, r *http.Request) {
	var req securityModeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, nil, err)
		return
	}
	mode := config.ParseSecurityMode(req.Mode, "")
	if mode == "" {
		writeError(w, nil, errors.InvalidInput("Mode must be one of: on, off, auto."))
		return
	}

	next, err := s.rt.Config.Update(func(rc *config.RuntimeConfig) {
		rc.SecurityMode = mode
		if req.PublicHost != nil {
			rc.PublicHost = config.NormalizePublicHost(*req.PublicHost)
		}
	})
	if err != nil {
		writeError(w, s.logger, errors.Wrap(err, errors.ErrCodeInternal, "Failed to persist runtime security config."))
		return
	}

	msg := "Security mode updated to " + mode
	if next.PublicHost != "" {
		msg += " publicHost=" + next.PublicHost
	}
	s.rt.Supervisor.Log("system", msg)
	s.appendActivity(activity.Event{
		Type:    "security_mode",
		State:   activity.StateWorking,
		Message: fmt.Sprintf("Security mode set to %s", mode),
		Source:  "panel-security",
		Meta: map[string]interface{}{
			"mode":       mode,
			"publicHost": next.PublicHost,
			"byIp":       clientIP(r),
		},
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":         true,
		"mode":       mode,
		"publicHost": next.PublicHost,
		"help":       s.rt.connectionHelp(),
	})
}

// appendActivity records an event; failures are logged, never returned.
func (s *Server) appendActivity(e activity.Event) {
	if _, err := s.rt.Bridge.Activity.Append(e); err != nil {
		s.logger.WithError(err).WithField("type", e.Type).Warn("Failed to append activity event")
	}
}
