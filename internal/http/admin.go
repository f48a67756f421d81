package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/leadcrm/crm/internal/access"
	"github.com/leadcrm/crm/internal/auth"
	"github.com/leadcrm/crm/internal/service"
)

const MsgInvalidUserID = "유효하지 않은 사용자 ID입니다."

type createUserRequest struct {
	Email      string  `json:"email" validate:"required,email"`
	Password   string  `json:"password" validate:"required"`
	FullName   string  `json:"full_name" validate:"required,max=100"`
	Phone      *string `json:"phone" validate:"omitempty,max=30"`
	Department *string `json:"department" validate:"omitempty,max=100"`
	Role       string  `json:"role" validate:"required,oneof=admin counselor"`
}

type userIDRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
}

type permanentDeleteRequest struct {
	UserID           string `json:"user_id" validate:"required,uuid"`
	ConfirmationText string `json:"confirmation_text" validate:"required"`
}

type resetPasswordRequest struct {
	UserID      string `json:"userId" validate:"required,uuid"`
	NewPassword string `json:"newPassword"`
}

type updateUserRequest struct {
	UserID     string  `json:"user_id" validate:"required,uuid"`
	FullName   string  `json:"full_name" validate:"required,max=100"`
	Phone      *string `json:"phone" validate:"omitempty,max=30"`
	Department *string `json:"department" validate:"omitempty,max=100"`
}

type setPermissionRequest struct {
	Permission string `json:"permission" validate:"required"`
	Granted    bool   `json:"granted"`
}

// CreateUser creates an identity and its profile.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var payload createUserRequest
	if !decodeJSON(w, r, &payload) {
		return
	}
	if !auth.ValidPassword(payload.Password) {
		WriteError(w, http.StatusBadRequest, service.MsgPasswordTooShort)
		return
	}
	requester, ok := h.requester(w, r)
	if !ok {
		return
	}

	user, err := h.admin.CreateUser(r.Context(), requester, service.CreateUserInput{
		Email:      payload.Email,
		Password:   payload.Password,
		FullName:   payload.FullName,
		Phone:      payload.Phone,
		Department: payload.Department,
		Role:       payload.Role,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"success": true, "user": user})
}

// DeleteUser soft-deletes a user.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	var payload userIDRequest
	if !decodeJSON(w, r, &payload) {
		return
	}
	requester, ok := h.requester(w, r)
	if !ok {
		return
	}
	if err := h.admin.DeleteUser(r.Context(), requester, uuid.MustParse(payload.UserID)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

// PermanentlyDeleteUser purges a soft-deleted user.
func (h *Handler) PermanentlyDeleteUser(w http.ResponseWriter, r *http.Request) {
	var payload permanentDeleteRequest
	if !decodeJSON(w, r, &payload) {
		return
	}
	requester, ok := h.requester(w, r)
	if !ok {
		return
	}
	err := h.admin.PermanentlyDeleteUser(r.Context(), requester, uuid.MustParse(payload.UserID), payload.ConfirmationText)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

// ResetPassword sets a counselor's password. Short passwords are rejected
// before anything else is looked up.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var payload resetPasswordRequest
	if !decodeJSON(w, r, &payload) {
		return
	}
	if !auth.ValidPassword(payload.NewPassword) {
		WriteError(w, http.StatusBadRequest, service.MsgPasswordTooShort)
		return
	}
	requester, ok := h.requester(w, r)
	if !ok {
		return
	}
	if err := h.admin.ResetPassword(r.Context(), requester, uuid.MustParse(payload.UserID), payload.NewPassword); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

// RestoreUser reactivates a soft-deleted user.
func (h *Handler) RestoreUser(w http.ResponseWriter, r *http.Request) {
	var payload userIDRequest
	if !decodeJSON(w, r, &payload) {
		return
	}
	requester, ok := h.requester(w, r)
	if !ok {
		return
	}
	if err := h.admin.RestoreUser(r.Context(), requester, uuid.MustParse(payload.UserID)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

// ListDeletedUsers lists soft-deleted users.
func (h *Handler) ListDeletedUsers(w http.ResponseWriter, r *http.Request) {
	requester, ok := h.requester(w, r)
	if !ok {
		return
	}
	users, err := h.admin.ListDeletedUsers(r.Context(), requester)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"users": users})
}

// UpdateUser changes a user's contact details.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var payload updateUserRequest
	if !decodeJSON(w, r, &payload) {
		return
	}
	requester, ok := h.requester(w, r)
	if !ok {
		return
	}
	p, err := h.admin.UpdateUser(r.Context(), requester, service.UpdateUserInput{
		UserID:     uuid.MustParse(payload.UserID),
		FullName:   payload.FullName,
		Phone:      payload.Phone,
		Department: payload.Department,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"success": true, "user": p})
}

// ListPermissions returns the grants and effective set of an admin.
func (h *Handler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	requester, ok := h.requester(w, r)
	if !ok {
		return
	}
	perms, err := h.permissions.List(r.Context(), requester, userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, perms)
}

// SetPermission grants or revokes one permission.
func (h *Handler) SetPermission(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	var payload setPermissionRequest
	if !decodeJSON(w, r, &payload) {
		return
	}
	requester, ok := h.requester(w, r)
	if !ok {
		return
	}
	grant, err := h.permissions.Set(r.Context(), requester, userID, payload.Permission, payload.Granted)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]access.Grant{"grant": grant})
}

func userIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, MsgInvalidUserID)
		return uuid.Nil, false
	}
	return id, true
}
