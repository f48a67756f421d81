package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadcrm/crm/internal/access"
	"github.com/leadcrm/crm/internal/auth"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type stubResolver struct {
	principals map[uuid.UUID]*access.Principal
	err        error
	calls      int
}

func (s *stubResolver) Resolve(ctx context.Context, id uuid.UUID) (*access.Principal, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.principals[id]
	if !ok {
		return nil, access.ErrNoProfile
	}
	return p, nil
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthRejectsMissingAndInvalidTokens(t *testing.T) {
	mgr := auth.NewJWTManager(testSecret, time.Minute)
	h := Auth(mgr)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"`+MsgTokenMissing+`"}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"`+MsgTokenInvalid+`"}`, rec.Body.String())
}

func TestAuthPutsSubjectInContext(t *testing.T) {
	mgr := auth.NewJWTManager(testSecret, time.Minute)
	id := uuid.New()
	token, _, err := mgr.Issue(id, "kim@example.com")
	require.NoError(t, err)

	var gotID uuid.UUID
	var gotEmail string
	h := Auth(mgr)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = GetSubject(r.Context())
		gotEmail = GetEmail(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, id, gotID)
	assert.Equal(t, "kim@example.com", gotEmail)
}

func TestRequireGuardStatuses(t *testing.T) {
	admin := uuid.New()
	inactive := uuid.New()
	counselor := uuid.New()
	res := &stubResolver{principals: map[uuid.UUID]*access.Principal{
		admin: access.NewPrincipal(access.Profile{ID: admin, Role: access.RoleAdmin, IsActive: true}, []access.Grant{
			{UserID: admin, Permission: access.PermLeads, IsActive: true},
		}),
		inactive:  access.NewPrincipal(access.Profile{ID: inactive, Role: access.RoleAdmin}, nil),
		counselor: access.NewPrincipal(access.Profile{ID: counselor, Role: access.RoleCounselor, IsActive: true}, nil),
	}}

	cases := []struct {
		name    string
		subject uuid.UUID
		guard   access.Guard
		want    int
	}{
		{"unauthenticated", uuid.Nil, access.Guard{Permission: access.PermLeads}, http.StatusUnauthorized},
		{"no profile", uuid.New(), access.Guard{Permission: access.PermLeads}, http.StatusUnauthorized},
		{"inactive", inactive, access.Guard{}, http.StatusForbidden},
		{"granted", admin, access.Guard{Permission: access.PermLeads}, http.StatusNoContent},
		{"missing permission", admin, access.Guard{Permission: access.PermUpload}, http.StatusForbidden},
		{"counselor never holds permissions", counselor, access.Guard{Permission: access.PermLeads}, http.StatusForbidden},
		{"role match", counselor, access.Guard{Role: access.RoleCounselor}, http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/leads", nil)
			if tc.subject != uuid.Nil {
				req = req.WithContext(WithSubject(req.Context(), tc.subject))
			}
			rec := httptest.NewRecorder()
			RequireGuard(res, tc.guard)(okHandler()).ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestRequireGuardStoresPrincipal(t *testing.T) {
	id := uuid.New()
	p := access.NewPrincipal(access.Profile{ID: id, Role: access.RoleAdmin, IsActive: true, IsSuperAdmin: true}, nil)
	res := &stubResolver{principals: map[uuid.UUID]*access.Principal{id: p}}

	var got *access.Principal
	h := RequireGuard(res, access.Guard{Permission: access.PermSettings})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetPrincipal(r.Context())
		assert.Same(t, p, LoadPrincipal(r.Context(), res))
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	h.ServeHTTP(httptest.NewRecorder(), req.WithContext(WithSubject(req.Context(), id)))

	assert.Same(t, p, got)
	assert.Equal(t, 1, res.calls)
}

func TestLoadPrincipalFailureIsProfileMissing(t *testing.T) {
	res := &stubResolver{err: errors.New("db down")}
	ctx := WithSubject(context.Background(), uuid.New())

	in := GuardInput(ctx, res)
	assert.True(t, in.Authenticated)
	assert.Nil(t, in.Principal)
	assert.Equal(t, access.StateProfileMissing, access.Guard{}.Evaluate(in).State)
}

func TestIPRateLimit(t *testing.T) {
	h := chimiddleware.RealIP(IPRateLimit(NewRateLimiter(1, 2))(okHandler()))

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Real-IP", "10.0.0.1")
		last = httptest.NewRecorder()
		h.ServeHTTP(last, req)
		codes = append(codes, last.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
	assert.Equal(t, "1", last.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"`+MsgRateLimited+`"}`, last.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.2, 10.0.0.1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRateLimiterRetryAfterAndSweep(t *testing.T) {
	l := NewRateLimiter(0.25, 1)
	now := time.Now()
	l.now = func() time.Time { return now }

	_, ok := l.wait("a")
	require.True(t, ok)
	delay, ok := l.wait("a")
	require.False(t, ok)
	assert.InDelta(t, 4*time.Second, delay, float64(10*time.Millisecond))

	_, ok = l.wait("b")
	require.True(t, ok)
	assert.Len(t, l.buckets, 2)

	now = now.Add(bucketIdle + time.Second)
	_, ok = l.wait("c")
	require.True(t, ok)
	assert.Len(t, l.buckets, 1)
}

func TestUserRateLimitSkipsAnonymous(t *testing.T) {
	h := UserRateLimit(NewRateLimiter(1, 1))(okHandler())
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithSubject(req.Context(), uuid.New()))
	codes := []int{}
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusTooManyRequests}, codes)
}

func TestRecoverWritesErrorBody(t *testing.T) {
	h := Recover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error"`)
}

func TestCORSAllowsConfiguredOrigins(t *testing.T) {
	h := CORS([]string{"https://crm.example.com", "*.example.org"})(okHandler())

	for origin, allowed := range map[string]bool{
		"https://crm.example.com":  true,
		"https://app.example.org":  true,
		"https://evil.example.net": false,
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", origin)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if allowed {
			assert.Equal(t, origin, rec.Header().Get("Access-Control-Allow-Origin"), origin)
		} else {
			assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"), origin)
		}
	}
}
