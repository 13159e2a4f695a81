package server

import (
	"net/http"
	"strconv"

	"github.com/grovetools/remote-panel/errors"
	"github.com/grovetools/remote-panel/internal/activity"
	"github.com/grovetools/remote-panel/internal/mailbox"
)

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	list := s.rt.Discovery.Projects()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":            true,
		"activeProject": list.ActiveProject,
		"projects":      list.Projects,
	})
}

func (s *Server) handleManifests(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "manifests": s.rt.Discovery.Manifests()})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "logs": s.rt.Supervisor.Logs()})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	snap, err := s.rt.Bridge.Snapshot(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
		mailbox.Snapshot
	}{OK: true, Snapshot: snap})
}

type noteRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, nil, err)
		return
	}
	note, err := s.rt.Bridge.SubmitNote(req.Message, clientIP(r), mailbox.ChannelHTTP)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.rt.Chat.BroadcastChat(r.Context(), "note", true)
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "note": note})
}

func (s *Server) handleInboxLatest(w http.ResponseWriter, r *http.Request) {
	note, err := s.rt.Bridge.Mailbox.Inbox.Latest()
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "note": note})
}

func (s *Server) handleReplyLatest(w http.ResponseWriter, r *http.Request) {
	reply, err := s.rt.Bridge.Mailbox.Outbox.Latest()
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "reply": reply})
}

func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.rt.Bridge.Status.Read()
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "status": status})
}

type agentStatusRequest struct {
	State   string `json:"state"`
	Message string `json:"message"`
	Source  string `json:"source"`
}

func (s *Server) handleSetAgentStatus(w http.ResponseWriter, r *http.Request) {
	var req agentStatusRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, nil, err)
		return
	}
	status, err := s.rt.Bridge.SetStatus(r.Context(), req.State, req.Message, req.Source)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "status": status})
}

type agentReplyRequest struct {
	Message   string `json:"message"`
	InReplyTo string `json:"inReplyTo"`
	State     string `json:"state"`
}

func (s *Server) handleAgentReply(w http.ResponseWriter, r *http.Request) {
	var req agentReplyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, nil, err)
		return
	}
	reply, status, err := s.rt.Bridge.SubmitReply(r.Context(), req.Message, req.InReplyTo, req.State)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "reply": reply, "status": status})
}

func (s *Server) handleAgentPoller(w http.ResponseWriter, r *http.Request) {
	snap, err := s.rt.Bridge.ReadRelaySnapshot(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
		mailbox.RelaySnapshot
	}{OK: true, RelaySnapshot: snap})
}

// handleAgentActivity returns the status and the newest activity events.
// ?limit= overrides the default window.
func (s *Server) handleAgentActivity(w http.ResponseWriter, r *http.Request) {
	limit := activity.DefaultReadLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, nil, errors.InvalidInput("Invalid limit."))
			return
		}
		limit = n
	}
	status, err := s.rt.Bridge.Status.Read()
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	events, err := s.rt.Bridge.Activity.Read(limit)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "status": status, "events": events})
}
