package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"uni.edu.pe/chatbot-uni/internal/core"
)

// sessionResponse carries the session view together with the error of the
// command that produced it, since failed commands still change what the
// user sees.
type sessionResponse struct {
	core.SessionView
	Error string `json:"error,omitempty"`
}

func (h *APIHandler) writeSession(w http.ResponseWriter, r *http.Request, status int, view core.SessionView, err error) {
	if err == nil {
		writeJSON(w, status, sessionResponse{SessionView: view})
		return
	}
	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		requestLog(r).Error("session command failed", "sessionId", view.SessionID, "error", err)
	}
	writeJSON(w, status, sessionResponse{SessionView: view, Error: msg})
}

func (h *APIHandler) session(w http.ResponseWriter, r *http.Request) (*core.ChatSession, bool) {
	s, err := h.sessions.Get(claimsFrom(r).UserID, chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondError(w, r, err)
		return nil, false
	}
	return s, true
}

type CreateSessionRequest struct {
	TranscriptID string `json:"transcriptId,omitempty"`
}

func (h *APIHandler) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	_, view, err := h.sessions.Create(r.Context(), claimsFrom(r).UserID, req.TranscriptID)
	// A rejected transcript still leaves a usable blank session.
	resp := sessionResponse{SessionView: view}
	if err != nil {
		_, resp.Error = statusFor(err)
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *APIHandler) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{SessionView: s.View()})
}

type PostMessageRequest struct {
	Text string `json:"text"`
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req PostMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	// The answer belongs to the session, not the request: a client that
	// disconnects must not turn into a connectivity failure.
	view, err := s.Submit(context.WithoutCancel(r.Context()), req.Text)
	h.writeSession(w, r, http.StatusOK, view, err)
}

func (h *APIHandler) SubmitSuggestionHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		h.writeSession(w, r, http.StatusBadRequest, s.View(), core.ErrUnknownSuggestion)
		return
	}

	view, err := s.SubmitSuggestion(context.WithoutCancel(r.Context()), index)
	h.writeSession(w, r, http.StatusOK, view, err)
}

type OpenTranscriptRequest struct {
	TranscriptID string `json:"transcriptId"`
}

func (h *APIHandler) OpenTranscriptHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req OpenTranscriptRequest
	if err := decodeJSON(r, &req); err != nil || req.TranscriptID == "" {
		writeError(w, http.StatusBadRequest, "transcriptId is required")
		return
	}

	view, err := s.Open(r.Context(), req.TranscriptID)
	h.writeSession(w, r, http.StatusOK, view, err)
}

type ResetRequest struct {
	Token string `json:"token"`
}

func (h *APIHandler) ResetSessionHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req ResetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		writeError(w, http.StatusBadRequest, "Reset token is required")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{SessionView: s.Reset(req.Token)})
}

func (h *APIHandler) RetryHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{SessionView: s.Retry(r.Context())})
}

type DraftRequest struct {
	Text string `json:"text"`
}

func (h *APIHandler) SetDraftHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req DraftRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{SessionView: s.SetDraft(req.Text)})
}

func (h *APIHandler) CloseSessionHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Close(claimsFrom(r).UserID, chi.URLParam(r, "sessionID")); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
