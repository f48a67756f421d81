package http

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/leadcrm/crm/internal/access"
	"github.com/leadcrm/crm/internal/auth"
	"github.com/leadcrm/crm/internal/identity"
)

const (
	MsgInvalidCredentials = "이메일 또는 비밀번호가 올바르지 않습니다."
	MsgBanned             = "사용이 중지된 계정입니다."
	MsgRefreshInvalid     = "세션이 만료되었습니다. 다시 로그인해 주세요."
	MsgSignInFailed       = "로그인 처리 중 오류가 발생했습니다."
)

type signInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type signOutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// SignIn exchanges credentials for a session.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var payload signInRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	session, err := h.identity.SignIn(r.Context(), payload.Email, payload.Password)
	if err != nil {
		h.handleSessionError(w, err)
		return
	}

	h.principals.HandleEvent(r.Context(), access.Event{Kind: access.EventSignedIn, UserID: session.User.ID})
	WriteJSON(w, http.StatusOK, session)
}

// Refresh rotates the refresh token.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var payload refreshRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	session, err := h.identity.Refresh(r.Context(), payload.RefreshToken)
	if err != nil {
		h.handleSessionError(w, err)
		return
	}

	h.principals.HandleEvent(r.Context(), access.Event{Kind: access.EventTokenRefreshed, UserID: session.User.ID})
	WriteJSON(w, http.StatusOK, session)
}

// SignOut revokes the refresh token. Unknown tokens still succeed.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	var payload signOutRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	userID, err := h.identity.SignOut(r.Context(), payload.RefreshToken)
	if err != nil {
		log.Warn().Err(err).Msg("sign-out: revoking refresh token failed")
	}
	if userID != uuid.Nil {
		h.principals.HandleEvent(r.Context(), access.Event{Kind: access.EventSignedOut, UserID: userID})
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) handleSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		WriteError(w, http.StatusUnauthorized, MsgInvalidCredentials)
	case errors.Is(err, auth.ErrInvalidRefresh):
		WriteError(w, http.StatusUnauthorized, MsgRefreshInvalid)
	case errors.Is(err, identity.ErrBanned):
		WriteError(w, http.StatusForbidden, MsgBanned)
	default:
		log.Error().Err(err).Msg("session request failed")
		WriteError(w, http.StatusInternalServerError, MsgSignInFailed)
	}
}
