package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/litsync/litsync/context7"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorStatus maps operation errors to the API's status conventions:
// 400 caller mistakes, 404 unknown clients, 429 docs rate limits,
// 504 silent agents, 502 everything else downstream.
func errorStatus(err error) int {
	var rle *context7.RateLimitError
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnknownClient):
		return http.StatusNotFound
	case errors.As(err, &rle):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"clients": s.reg.Registered()})
}

type syncRequest struct {
	ClientID string `json:"client_id"`
	Message  string `json:"message"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, debug, err := s.Sync(r.Context(), req.ClientID, req.Message)
	if err != nil {
		if errors.Is(err, ErrBadRequest) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":      "no file changes found in message",
				"debug_info": debug,
			})
			return
		}
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSyncPreview(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if !decodeBody(w, r, &req) {
		return
	}

	changes, debug, err := s.PreviewSync(r.Context(), req.ClientID, req.Message)
	if err != nil {
		if errors.Is(err, ErrBadRequest) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":      "no file changes found in message",
				"debug_info": debug,
			})
			return
		}
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": changes})
}

func (s *Server) handleFileTree(w http.ResponseWriter, r *http.Request) {
	files, err := s.FileTree(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (s *Server) handleFileContent(w http.ResponseWriter, r *http.Request) {
	var req pathsPayload
	if !decodeBody(w, r, &req) {
		return
	}

	files, err := s.FileContent(r.Context(), chi.URLParam(r, "id"), req.Paths)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (s *Server) handleGeneratePrompt(w http.ResponseWriter, r *http.Request) {
	var req GeneratePromptRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := s.GeneratePrompt(r.Context(), req)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDocsSearch(w http.ResponseWriter, r *http.Request) {
	out, err := s.SearchDocs(r.Context(), r.URL.Query().Get("query"))
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDocsFetch(w http.ResponseWriter, r *http.Request) {
	libraryID := chi.URLParam(r, "*")
	tokens, _ := strconv.Atoi(r.URL.Query().Get("tokens"))

	text, err := s.FetchDocs(r.Context(), libraryID, context7.FetchOptions{
		Tokens: tokens,
		Topic:  r.URL.Query().Get("topic"),
	})
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	if text == "" {
		writeError(w, http.StatusNotFound, "documentation not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": libraryID, "content": text})
}
