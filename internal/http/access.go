package http

import (
	"net/http"
	"strings"

	"github.com/leadcrm/crm/internal/access"
	httpmiddleware "github.com/leadcrm/crm/internal/http/middleware"
)

type meResponse struct {
	Profile      access.Profile      `json:"profile"`
	Permissions  []access.Permission `json:"permissions"`
	IsSuperAdmin bool                `json:"is_super_admin"`
	Pages        []string            `json:"pages"`
}

// Me returns the profile and effective permissions of the caller.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := h.requester(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, meResponse{
		Profile:      p.Profile,
		Permissions:  p.Permissions.List(),
		IsSuperAdmin: p.IsSuperAdmin(),
		Pages:        p.AccessiblePages(),
	})
}

type accessCheckResponse struct {
	access.Decision
	Allowed bool `json:"allowed"`
}

// AccessCheck evaluates a route guard for the caller. With a path the page
// table decides; otherwise the permission and role parameters form the guard.
func (h *Handler) AccessCheck(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	g := access.Guard{DisableSuperAdminBypass: q.Get("bypass") == "false"}

	if raw := strings.TrimSpace(q.Get("permission")); raw != "" {
		perm, ok := access.ParsePermission(raw)
		if !ok {
			WriteError(w, http.StatusBadRequest, "알 수 없는 권한입니다.")
			return
		}
		g.Permission = perm
	}
	if raw := strings.TrimSpace(q.Get("role")); raw != "" {
		role, ok := access.ParseRole(raw)
		if !ok {
			WriteError(w, http.StatusBadRequest, "유효하지 않은 역할입니다.")
			return
		}
		g.Role = role
	}

	in := httpmiddleware.GuardInput(r.Context(), h.principals)
	var d access.Decision
	if path := q.Get("path"); path != "" {
		d = access.PathGuard(path, in)
	} else {
		d = g.Evaluate(in)
	}
	WriteJSON(w, http.StatusOK, accessCheckResponse{Decision: d, Allowed: d.Allowed()})
}

// requester resolves the caller's principal through the unrestricted guard.
// Missing profiles answer 401, inactive ones 403.
func (h *Handler) requester(w http.ResponseWriter, r *http.Request) (*access.Principal, bool) {
	in := httpmiddleware.GuardInput(r.Context(), h.principals)
	d := access.Guard{}.Evaluate(in)
	if !d.Allowed() {
		WriteError(w, httpmiddleware.GuardStatus(d.State), httpmiddleware.GuardMessage(d.State))
		return nil, false
	}
	return in.Principal, true
}
