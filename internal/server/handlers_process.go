package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/grovetools/remote-panel/errors"
	"github.com/grovetools/remote-panel/internal/activity"
	"github.com/grovetools/remote-panel/internal/supervisor"
	"github.com/grovetools/remote-panel/internal/tunnel"
)

type projectRequest struct {
	Project string `json:"project"`
}

// detached keeps a supervised run alive when the requesting client goes
// away; the supervisor's own timeouts bound it.
func detached(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// writeOneShot renders a finished command as {ok, result}. A non-zero exit
// is a 500 carrying the same body.
func (s *Server) writeOneShot(w http.ResponseWriter, res *supervisor.OneShotResult, err error) {
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	status := http.StatusOK
	if !res.OK {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]interface{}{"ok": res.OK, "result": res})
}

func (s *Server) handleScaffold(w http.ResponseWriter, r *http.Request) {
	res, err := s.rt.Supervisor.Scaffold(detached(r))
	s.writeOneShot(w, res, err)
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, nil, err)
		return
	}
	res, err := s.rt.Supervisor.Build(detached(r), strings.TrimSpace(req.Project))
	s.writeOneShot(w, res, err)
}

func (s *Server) handleBuildAll(w http.ResponseWriter, r *http.Request) {
	res, err := s.rt.Supervisor.BuildAll(detached(r))
	s.writeOneShot(w, res, err)
}

func (s *Server) handleChatQuick(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, nil, err)
		return
	}
	res, err := s.rt.Supervisor.ChatQuick(detached(r), strings.TrimSpace(req.Project))
	s.writeOneShot(w, res, err)
}

func (s *Server) handleChatBriefing(w http.ResponseWriter, r *http.Request) {
	res, err := s.rt.Supervisor.ChatBriefing(detached(r))
	s.writeOneShot(w, res, err)
}

type devStartRequest struct {
	Mode    string `json:"mode"`
	Project string `json:"project"`
	Port    int    `json:"port"`
}

func (s *Server) handleDevStart(w http.ResponseWriter, r *http.Request) {
	var req devStartRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, nil, err)
		return
	}
	mode := strings.TrimSpace(req.Mode)
	if mode == "" {
		mode = supervisor.DevModeSingle
	}
	dev, err := s.rt.Supervisor.StartDev(mode, strings.TrimSpace(req.Project), req.Port)
	if err != nil {
		writeError(w, s.logger, asConflict(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "activeDev": dev})
}

func (s *Server) handleDevStop(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "stopped": s.rt.Supervisor.StopDev()})
}

func (s *Server) handleRelayStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":           true,
		"activeRelay":  s.rt.Supervisor.Relay(),
		"activeTunnel": s.rt.Tunnel.Active(),
	})
}

type relayStartRequest struct {
	SessionName     string `json:"sessionName"`
	Project         string `json:"project"`
	UseLast         bool   `json:"useLast"`
	DryRun          bool   `json:"dryRun"`
	StartFromLatest *bool  `json:"startFromLatest"`
	PollMs          int    `json:"pollMs"`
	History         int    `json:"history"`
}

func (s *Server) handleRelayStart(w http.ResponseWriter, r *http.Request) {
	var req relayStartRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, nil, err)
		return
	}
	opts := supervisor.RelayOptions{
		SessionName:     strings.TrimSpace(req.SessionName),
		Project:         strings.TrimSpace(req.Project),
		UseLast:         req.UseLast,
		DryRun:          req.DryRun,
		StartFromLatest: req.StartFromLatest == nil || *req.StartFromLatest,
		PollMs:          req.PollMs,
		History:         req.History,
	}
	relay, err := s.rt.Supervisor.StartRelay(opts)
	if err != nil {
		writeError(w, s.logger, asConflict(err))
		return
	}

	msg := fmt.Sprintf("Relay watcher started (%s)", relay.SessionName)
	if relay.Project != "" {
		msg += " for " + relay.Project
	}
	s.appendActivity(activity.Event{
		Type:    "relay_start",
		State:   activity.StateWorking,
		Message: msg,
		Source:  "panel-relay",
		Meta: map[string]interface{}{
			"sessionName":     relay.SessionName,
			"project":         relay.Project,
			"useLast":         relay.UseLast,
			"dryRun":          relay.DryRun,
			"startFromLatest": relay.StartFromLatest,
			"pollMs":          relay.PollMs,
			"history":         relay.History,
			"pid":             relay.PID,
			"byIp":            clientIP(r),
		},
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "activeRelay": relay})
}

func (s *Server) handleRelayStop(w http.ResponseWriter, r *http.Request) {
	previous := s.rt.Supervisor.Relay()
	stopped := s.rt.Supervisor.StopRelay()

	msg := "Relay watcher is not running."
	if stopped {
		msg = "Relay watcher stop requested."
	}
	meta := map[string]interface{}{"byIp": clientIP(r)}
	if previous != nil {
		meta["previousPid"] = previous.PID
		meta["sessionName"] = previous.SessionName
	}
	s.appendActivity(activity.Event{
		Type:    "relay_stop",
		State:   activity.StateIdle,
		Message: msg,
		Source:  "panel-relay",
		Meta:    meta,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":          true,
		"stopped":     stopped,
		"activeRelay": s.rt.Supervisor.Relay(),
	})
}

func (s *Server) tunnelBody(active *tunnel.State) map[string]interface{} {
	live := s.rt.Config.Get()
	provider, mode := s.rt.Settings.TunnelProvider, live.TunnelMode
	if active != nil {
		provider, mode = active.Provider, active.Mode
	}
	return map[string]interface{}{
		"ok":           true,
		"provider":     provider,
		"mode":         mode,
		"activeTunnel": active,
		"help":         s.rt.connectionHelp(),
	}
}

func (s *Server) handleTunnelStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tunnelBody(s.rt.Tunnel.Active()))
}

type tunnelStartRequest struct {
	Provider   string `json:"provider"`
	Mode       string `json:"mode"`
	TargetURL  string `json:"targetUrl"`
	Token      string `json:"token"`
	TunnelName string `json:"tunnelName"`
	Name       string `json:"name"`
	ConfigFile string `json:"configFile"`
	TimeoutMs  int    `json:"timeoutMs"`
}

// options fills empty request fields from the configured cloudflared
// settings.
func (req tunnelStartRequest) options(s *Server) tunnel.StartOptions {
	settings := s.rt.Settings
	or := func(v, fallback string) string {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
		return fallback
	}
	name := or(req.TunnelName, req.Name)
	return tunnel.StartOptions{
		Provider:   or(req.Provider, settings.TunnelProvider),
		Mode:       or(req.Mode, s.rt.Config.Get().TunnelMode),
		TargetURL:  strings.TrimSpace(req.TargetURL),
		Token:      or(req.Token, settings.Cloudflared.Token),
		TunnelName: or(name, settings.Cloudflared.TunnelName),
		ConfigFile: or(req.ConfigFile, settings.Cloudflared.ConfigFile),
		Timeout:    tunnel.ClampTimeout(time.Duration(req.TimeoutMs) * time.Millisecond),
	}
}

func (s *Server) handleTunnelStart(w http.ResponseWriter, r *http.Request) {
	var req tunnelStartRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, nil, err)
		return
	}
	opts := req.options(s)
	st, err := s.rt.Tunnel.Start(detached(r), opts)
	if err != nil {
		writeError(w, s.logger, asConflict(err))
		return
	}

	configFile := ""
	if opts.ConfigFile != "" {
		configFile = "provided"
	}
	s.appendActivity(activity.Event{
		Type:    "tunnel_start",
		State:   activity.StateWorking,
		Message: fmt.Sprintf("External tunnel started (%s, %s)", st.Provider, st.Mode),
		Source:  "panel-tunnel",
		Meta: map[string]interface{}{
			"provider":   st.Provider,
			"mode":       st.Mode,
			"targetUrl":  st.TargetURL,
			"timeoutMs":  opts.Timeout.Milliseconds(),
			"configFile": configFile,
			"pid":        st.PID,
			"url":        st.URL,
			"byIp":       clientIP(r),
		},
	})
	writeJSON(w, http.StatusOK, s.tunnelBody(st))
}

func (s *Server) handleTunnelStop(w http.ResponseWriter, r *http.Request) {
	previous := s.rt.Tunnel.Active()
	stopped := s.rt.Tunnel.Stop()

	msg := "External tunnel is not running."
	if stopped {
		msg = "External tunnel stop requested."
	}
	meta := map[string]interface{}{"byIp": clientIP(r), "previousUrl": "", "previousPid": 0}
	if previous != nil {
		meta["previousUrl"] = previous.URL
		meta["previousPid"] = previous.PID
	}
	s.appendActivity(activity.Event{
		Type:    "tunnel_stop",
		State:   activity.StateIdle,
		Message: msg,
		Source:  "panel-tunnel",
		Meta:    meta,
	})

	body := s.tunnelBody(s.rt.Tunnel.Active())
	body["stopped"] = stopped
	writeJSON(w, http.StatusOK, body)
}

// asConflict reports start failures of a singleton slot as 409. Validation
// errors keep their 400.
func asConflict(err error) error {
	switch errors.GetCode(err) {
	case errors.ErrCodeInvalidInput, errors.ErrCodeConflict, errors.ErrCodeAlreadyRunning,
		errors.ErrCodeCommandTimeout, errors.ErrCodeTunnelDiscovery:
		return err
	}
	return errors.Wrap(err, errors.ErrCodeConflict, errors.Message(err))
}
