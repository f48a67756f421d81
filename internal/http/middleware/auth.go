package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/leadcrm/crm/internal/auth"
)

type contextKey string

const (
	ContextKeySubject   contextKey = "subject"
	ContextKeyEmail     contextKey = "email"
	ContextKeyPrincipal contextKey = "principal"
)

const (
	MsgTokenMissing = "인증 토큰이 필요합니다."
	MsgTokenInvalid = "유효하지 않은 인증 토큰입니다."
)

// Auth validates the bearer access token and puts its subject into the context.
func Auth(jwtManager *auth.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, MsgTokenMissing)
				return
			}

			subject, claims, err := jwtManager.Parse(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, MsgTokenInvalid)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeySubject, subject)
			ctx = context.WithValue(ctx, ContextKeyEmail, claims.Email)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// GetSubject returns the authenticated identity id, or uuid.Nil.
func GetSubject(ctx context.Context) uuid.UUID {
	val, _ := ctx.Value(ContextKeySubject).(uuid.UUID)
	return val
}

// GetEmail returns the e-mail claim of the access token.
func GetEmail(ctx context.Context) string {
	val, _ := ctx.Value(ContextKeyEmail).(string)
	return val
}

// WithSubject is used by tests and internal callers that authenticate
// without a token.
func WithSubject(ctx context.Context, subject uuid.UUID) context.Context {
	return context.WithValue(ctx, ContextKeySubject, subject)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
