package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/solagent/solagent/internal/agent"
	"github.com/solagent/solagent/internal/memory"
	"github.com/solagent/solagent/internal/models"
)

// RunHandler exposes the agent loop and session history over HTTP.
type RunHandler struct {
	loop  *agent.Loop
	store memory.Store
}

func NewRunHandler(loop *agent.Loop, store memory.Store) *RunHandler {
	return &RunHandler{loop: loop, store: store}
}

// Run handles POST /api/v1/agent/run
func (h *RunHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req models.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Message == "" {
		models.WriteError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	resp, err := h.loop.Run(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, agent.ErrSessionBusy):
			models.WriteError(w, http.StatusConflict, err.Error())
		case resp != nil:
			// terminal run failures still return the run envelope
			models.WriteJSON(w, http.StatusOK, resp)
		default:
			models.WriteError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	models.WriteJSON(w, http.StatusOK, resp)
}

// History handles GET /api/v1/sessions/{session_id}/history
func (h *RunHandler) History(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if sessionID == "" {
		models.WriteError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	messages, err := h.store.History(r.Context(), sessionID)
	if err != nil {
		models.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	models.WriteJSON(w, http.StatusOK, models.HistoryResponse{
		Status:    "success",
		SessionID: sessionID,
		Messages:  messages,
	})
}

// Compact handles POST /api/v1/sessions/{session_id}/compact
func (h *RunHandler) Compact(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if sessionID == "" {
		models.WriteError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	var req models.CompactRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			models.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	req.SessionID = sessionID
	req.SetDefaults()

	if err := h.loop.Compact(r.Context(), req.SessionID, req.UserID, req.KeepRecent); err != nil {
		if errors.Is(err, agent.ErrSessionBusy) {
			models.WriteError(w, http.StatusConflict, err.Error())
			return
		}
		models.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]string{
		"status":     "success",
		"session_id": sessionID,
	})
}

// Delete handles DELETE /api/v1/sessions/{session_id}
func (h *RunHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if sessionID == "" {
		models.WriteError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	if err := h.store.Clear(r.Context(), sessionID); err != nil {
		models.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]string{
		"status":     "success",
		"session_id": sessionID,
	})
}
