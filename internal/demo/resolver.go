package demo

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/leadcrm/crm/internal/platform"
)

const (
	CookieName     = "demo_session_id"
	CookieMaxAge   = 7 * 24 * time.Hour
	QueryParam     = "session"
	maxSessionSize = 128
)

type contextKey struct{}

// WithSession stores the resolved session id in ctx.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, contextKey{}, sessionID)
}

// FromContext returns the resolved session id, or "" when none was resolved.
func FromContext(ctx context.Context) string {
	v, _ := ctx.Value(contextKey{}).(string)
	return v
}

// ClientFor binds base to the session of ctx.
func ClientFor(ctx context.Context, base platform.Client) *ScopedClient {
	return NewScopedClient(base, FromContext(ctx))
}

// Resolver picks the session of each request: URL first (persisted to a
// cookie), then the cookie, then the template fallback. Paths in Exempt
// (session creation, sign-in) get no fallback.
type Resolver struct {
	Exempt       []string
	SecureCookie bool
	// Observe is told about every request carrying a real session.
	Observe func(sessionID string)
}

// Resolve returns the session id for r and whether it came from the URL.
func (res *Resolver) Resolve(r *http.Request) (string, bool) {
	if id := cleanID(r.URL.Query().Get(QueryParam)); id != "" {
		return id, true
	}
	if c, err := r.Cookie(CookieName); err == nil {
		if id := cleanID(c.Value); id != "" {
			return id, false
		}
	}
	if res.exempt(r.URL.Path) {
		return "", false
	}
	return TemplateSession, false
}

// Middleware stores the resolved session in the request context.
func (res *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, fromURL := res.Resolve(r)
		if fromURL {
			SetCookie(w, id, res.SecureCookie)
		}
		if Scoping(id) && res.Observe != nil {
			res.Observe(id)
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), id)))
	})
}

// SetCookie persists sessionID for seven days.
func SetCookie(w http.ResponseWriter, sessionID string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(CookieMaxAge.Seconds()),
		Expires:  time.Now().Add(CookieMaxAge),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (res *Resolver) exempt(path string) bool {
	path = strings.TrimRight(path, "/")
	for _, p := range res.Exempt {
		if path == strings.TrimRight(p, "/") {
			return true
		}
	}
	return false
}

func cleanID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxSessionSize {
		return ""
	}
	for _, r := range raw {
		if !(r == '-' || r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
			return ""
		}
	}
	return raw
}
