package server

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// The /v2 surface is the HTTP polling transport for agents that cannot
// hold a WebSocket open: register once, poll /v2/check for commands,
// answer on each command's upload URL.

type v2RegisterRequest struct {
	ClientID    string `json:"client_id,omitempty"`
	Hostname    string `json:"hostname"`
	RootDirName string `json:"root_dir_name,omitempty"`
}

func (s *Server) handleV2Register(w http.ResponseWriter, r *http.Request) {
	var req v2RegisterRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Hostname == "" {
		writeError(w, http.StatusBadRequest, "hostname is required")
		return
	}

	id := req.ClientID
	if id == "" {
		id = s.newClientID()
	}
	if _, ok := s.reg.Get(id); !ok {
		s.reg.Add(id, remoteIP(r), "polling")
	}

	evicted, err := s.reg.Register(id, req.Hostname, req.RootDirName)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	if evicted != "" {
		s.evict(evicted)
	}
	s.record("register", id, map[string]string{"hostname": req.Hostname, "transport": "polling"}, nil, time.Now())

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "registered",
		"client_id": id,
	})
}

type v2DisconnectRequest struct {
	ClientID string `json:"client_id"`
}

func (s *Server) handleV2Disconnect(w http.ResponseWriter, r *http.Request) {
	var req v2DisconnectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !s.reg.Remove(req.ClientID) {
		writeError(w, http.StatusNotFound, "client not found")
		return
	}
	s.coord.DropClient(req.ClientID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (s *Server) handleV2Check(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("client_id")
	if _, ok := s.reg.Get(id); !ok {
		writeError(w, http.StatusNotFound, "client not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": s.coord.PollCommands(id)})
}

func (s *Server) handleV2Upload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	requestID := chi.URLParam(r, "request")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if !s.coord.HandleResponse(id, requestID, body) {
		writeError(w, http.StatusNotFound, "unknown request id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
