package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/leadcrm/crm/internal/access"
)

// PrincipalResolver loads the principal of an identity.
type PrincipalResolver interface {
	Resolve(ctx context.Context, userID uuid.UUID) (*access.Principal, error)
}

// guardMessages are the error bodies of the non-authorized guard states.
var guardMessages = map[access.GuardState]string{
	access.StateUnauthenticated:  "로그인이 필요합니다.",
	access.StateProfileMissing:   "사용자 프로필을 찾을 수 없습니다.",
	access.StateInactive:         "비활성화된 계정입니다.",
	access.StatePermissionDenied: "접근 권한이 없습니다.",
}

// GuardStatus maps a guard state to its HTTP status.
func GuardStatus(state access.GuardState) int {
	switch state {
	case access.StateAuthorized:
		return http.StatusOK
	case access.StateUnauthenticated, access.StateProfileMissing:
		return http.StatusUnauthorized
	case access.StateAuthLoading:
		return http.StatusServiceUnavailable
	default:
		return http.StatusForbidden
	}
}

// GuardMessage is the user-facing text of a rejected guard state.
func GuardMessage(state access.GuardState) string {
	return guardMessages[state]
}

// LoadPrincipal resolves the principal of the authenticated subject. A missing
// profile or a failed load yields nil, which guards treat as ProfileMissing.
func LoadPrincipal(ctx context.Context, principals PrincipalResolver) *access.Principal {
	if p := GetPrincipal(ctx); p != nil {
		return p
	}
	subject := GetSubject(ctx)
	if subject == uuid.Nil {
		return nil
	}
	p, err := principals.Resolve(ctx, subject)
	if err != nil {
		if !errors.Is(err, access.ErrNoProfile) {
			log.Error().Err(err).Str("user_id", subject.String()).Msg("loading principal failed")
		}
		return nil
	}
	return p
}

// GuardInput builds the guard input of the request.
func GuardInput(ctx context.Context, principals PrincipalResolver) access.GuardInput {
	return access.GuardInput{
		Authenticated: GetSubject(ctx) != uuid.Nil,
		Principal:     LoadPrincipal(ctx, principals),
	}
}

// RequireGuard evaluates g for every request and stores the principal in the
// context when authorized. Must run after Auth.
func RequireGuard(principals PrincipalResolver, g access.Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			in := GuardInput(r.Context(), principals)
			decision := g.Evaluate(in)
			if !decision.Allowed() {
				writeError(w, GuardStatus(decision.State), GuardMessage(decision.State))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), in.Principal)))
		})
	}
}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *access.Principal) context.Context {
	return context.WithValue(ctx, ContextKeyPrincipal, p)
}

// GetPrincipal returns the principal stored by RequireGuard.
func GetPrincipal(ctx context.Context) *access.Principal {
	val, _ := ctx.Value(ContextKeyPrincipal).(*access.Principal)
	return val
}
