package server

import (
	"net/http"

	"github.com/grovetools/remote-panel/internal/codex"
)

func (s *Server) handleCodexSessions(w http.ResponseWriter, r *http.Request) {
	listing, err := s.rt.Codex.Sessions()
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
		*codex.Listing
	}{OK: true, Listing: listing})
}

func (s *Server) writeMutation(w http.ResponseWriter, m *codex.Mutation, err error) {
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
		*codex.Mutation
	}{OK: true, Mutation: m})
}

func (s *Server) handleCodexUpsert(w http.ResponseWriter, r *http.Request) {
	var req codex.UpsertRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, nil, err)
		return
	}
	m, err := s.rt.Codex.Upsert(req)
	s.writeMutation(w, m, err)
}

type sessionRefRequest struct {
	Name    string `json:"name"`
	Project string `json:"project"`
}

func (s *Server) handleCodexDefault(w http.ResponseWriter, r *http.Request) {
	var req sessionRefRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, nil, err)
		return
	}
	m, err := s.rt.Codex.SetDefault(req.Name, req.Project)
	s.writeMutation(w, m, err)
}

func (s *Server) handleCodexRetire(w http.ResponseWriter, r *http.Request) {
	var req sessionRefRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, nil, err)
		return
	}
	m, err := s.rt.Codex.Retire(req.Name)
	s.writeMutation(w, m, err)
}

func (s *Server) handleCodexCreate(w http.ResponseWriter, r *http.Request) {
	var req codex.CreateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, nil, err)
		return
	}
	res, err := s.rt.Codex.Create(detached(r), req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
		*codex.CreateResult
	}{OK: true, CreateResult: res})
}

func (s *Server) handleCodexPrep(w http.ResponseWriter, r *http.Request) {
	var req codex.PrepRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, nil, err)
		return
	}
	res, err := s.rt.Codex.Prep(detached(r), req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
		*codex.PrepResult
	}{OK: true, PrepResult: res})
}
