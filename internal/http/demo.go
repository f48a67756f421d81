package http

import (
	"errors"
	"net/http"

	"github.com/leadcrm/crm/internal/apperr"
	"github.com/leadcrm/crm/internal/demo"
)

const (
	MsgDemoSessionNotFound = "데모 세션을 찾을 수 없습니다."
	MsgDemoSessionFailed   = "데모 세션을 처리하지 못했습니다."
)

type createDemoSessionRequest struct {
	SessionName string `json:"session_name" validate:"max=100"`
}

type demoSessionResponse struct {
	SessionID string        `json:"session_id"`
	Template  bool          `json:"template"`
	Session   *demo.Session `json:"session,omitempty"`
}

// CreateDemoSession stores a new demo session and binds it to the caller's
// cookie.
func (h *Handler) CreateDemoSession(w http.ResponseWriter, r *http.Request) {
	var payload createDemoSessionRequest
	if !decodeJSON(w, r, &payload) {
		return
	}
	s, err := h.demo.Create(r.Context(), payload.SessionName)
	if err != nil {
		h.writeServiceError(w, r, apperr.Downstream(MsgDemoSessionFailed, err))
		return
	}
	demo.SetCookie(w, s.ID, h.production)
	WriteJSON(w, http.StatusCreated, s)
}

// CurrentDemoSession reports the session the request resolved to.
func (h *Handler) CurrentDemoSession(w http.ResponseWriter, r *http.Request) {
	id := demo.FromContext(r.Context())
	if !demo.Scoping(id) {
		WriteJSON(w, http.StatusOK, demoSessionResponse{SessionID: id, Template: true})
		return
	}
	s, err := h.demo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, demo.ErrSessionNotFound) {
			WriteError(w, http.StatusNotFound, MsgDemoSessionNotFound)
			return
		}
		h.writeServiceError(w, r, apperr.Downstream(MsgDemoSessionFailed, err))
		return
	}
	WriteJSON(w, http.StatusOK, demoSessionResponse{SessionID: id, Session: &s})
}
