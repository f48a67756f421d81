package access

// GuardState is the outcome of evaluating a route guard.
type GuardState string

const (
	StateAuthLoading      GuardState = "auth_loading"
	StateUnauthenticated  GuardState = "unauthenticated"
	StateProfileMissing   GuardState = "profile_missing"
	StateInactive         GuardState = "inactive"
	StatePermissionDenied GuardState = "permission_denied"
	StateAuthorized       GuardState = "authorized"
)

// Guard declares what a protected view requires. An explicit Permission wins
// over Role when both are set.
type Guard struct {
	Permission              Permission
	Role                    Role
	DisableSuperAdminBypass bool
}

// GuardInput is the authentication and permission state seen by a guard.
type GuardInput struct {
	Loading       bool
	Authenticated bool
	Principal     *Principal
}

// Decision is the result of a guard evaluation.
type Decision struct {
	State    GuardState `json:"state"`
	Redirect string     `json:"redirect,omitempty"`
}

// Allowed reports whether the protected content may render.
func (d Decision) Allowed() bool {
	return d.State == StateAuthorized
}

// Evaluate runs the guard state machine once. Callers re-evaluate whenever
// the authentication or permission inputs change.
func (g Guard) Evaluate(in GuardInput) Decision {
	switch {
	case in.Loading:
		return Decision{State: StateAuthLoading}
	case !in.Authenticated:
		return Decision{State: StateUnauthenticated, Redirect: loginRedirect}
	case in.Principal == nil:
		return Decision{State: StateProfileMissing, Redirect: loginRedirect}
	case !in.Principal.Profile.IsActive:
		return Decision{State: StateInactive, Redirect: deniedRedirect}
	}

	p := in.Principal
	if p.IsSuperAdmin() && !g.DisableSuperAdminBypass {
		return Decision{State: StateAuthorized}
	}

	allowed := true
	switch {
	case g.Permission != "":
		allowed = p.HasPermission(g.Permission)
	case g.Role != "":
		allowed = p.IsRoleMatch(g.Role)
	}
	if !allowed {
		return Decision{State: StatePermissionDenied, Redirect: deniedRedirect}
	}
	return Decision{State: StateAuthorized}
}

// PathGuard evaluates CanAccessPath behind the same state machine.
func PathGuard(path string, in GuardInput) Decision {
	d := Guard{}.Evaluate(in)
	if !d.Allowed() {
		return d
	}
	if !in.Principal.CanAccessPath(path) {
		return Decision{State: StatePermissionDenied, Redirect: deniedRedirect}
	}
	return d
}
