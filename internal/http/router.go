package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/leadcrm/crm/internal/access"
	"github.com/leadcrm/crm/internal/auth"
	"github.com/leadcrm/crm/internal/config"
	"github.com/leadcrm/crm/internal/demo"
	httpmiddleware "github.com/leadcrm/crm/internal/http/middleware"
	"github.com/leadcrm/crm/internal/identity"
	"github.com/leadcrm/crm/internal/lead"
	"github.com/leadcrm/crm/internal/platform"
	"github.com/leadcrm/crm/internal/service"
)

// Authenticator is the session surface of the identity backend.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (*identity.Session, error)
	Refresh(ctx context.Context, rawToken string) (*identity.Session, error)
	SignOut(ctx context.Context, rawToken string) (uuid.UUID, error)
}

// Principals resolves principals and receives authentication events.
type Principals interface {
	httpmiddleware.PrincipalResolver
	HandleEvent(ctx context.Context, ev access.Event)
}

// AdminOps is the account management surface.
type AdminOps interface {
	CreateUser(ctx context.Context, requester *access.Principal, in service.CreateUserInput) (*service.CreatedUser, error)
	DeleteUser(ctx context.Context, requester *access.Principal, userID uuid.UUID) error
	PermanentlyDeleteUser(ctx context.Context, requester *access.Principal, userID uuid.UUID, confirmation string) error
	ResetPassword(ctx context.Context, requester *access.Principal, userID uuid.UUID, newPassword string) error
	RestoreUser(ctx context.Context, requester *access.Principal, userID uuid.UUID) error
	ListDeletedUsers(ctx context.Context, requester *access.Principal) ([]access.Profile, error)
	UpdateUser(ctx context.Context, requester *access.Principal, in service.UpdateUserInput) (access.Profile, error)
}

// PermissionOps lists and changes permission grants.
type PermissionOps interface {
	List(ctx context.Context, requester *access.Principal, userID uuid.UUID) (*service.UserPermissions, error)
	Set(ctx context.Context, requester *access.Principal, userID uuid.UUID, rawPerm string, granted bool) (access.Grant, error)
}

// LeadOps is the lead surface. Implementations scope every call to the demo
// session of ctx.
type LeadOps interface {
	List(ctx context.Context, viewer *access.Principal, p lead.ListParams) ([]lead.Lead, error)
	Get(ctx context.Context, viewer *access.Principal, id string) (lead.Lead, error)
	Create(ctx context.Context, in lead.CreateInput) (lead.Lead, error)
	Update(ctx context.Context, id string, in lead.UpdateInput) (lead.Lead, error)
	Delete(ctx context.Context, id string) error
	Assign(ctx context.Context, leadID string, counselorID, assignedBy uuid.UUID) (lead.Lead, error)
	Assignments(ctx context.Context, leadID string) ([]lead.Assignment, error)
	CounselorLeads(ctx context.Context, counselorID uuid.UUID) ([]lead.Lead, error)
	Stats(ctx context.Context) lead.Stats
	Monitor(ctx context.Context) []lead.CounselorLoad
	Watch(ctx context.Context) (<-chan platform.Change, error)
	Import(ctx context.Context, filename string, data []byte) (lead.ImportResult, error)
}

// DemoSessions creates and looks up demo sessions.
type DemoSessions interface {
	Create(ctx context.Context, name string) (demo.Session, error)
	Get(ctx context.Context, id string) (demo.Session, error)
}

// CounselorDirectory lists counselor profiles.
type CounselorDirectory interface {
	ListCounselors(ctx context.Context, activeOnly bool) ([]access.Profile, error)
}

// ReadyCheck probes one dependency.
type ReadyCheck func(ctx context.Context) error

// Deps are the services the router serves.
type Deps struct {
	JWT         *auth.JWTManager
	Identity    Authenticator
	Principals  Principals
	Admin       AdminOps
	Permissions PermissionOps
	Leads       LeadOps
	Demo        DemoSessions
	Counselors  CounselorDirectory
	// Heartbeat is told about every request of a real demo session.
	Heartbeat   func(sessionID string)
	ReadyChecks map[string]ReadyCheck
}

type Handler struct {
	cfg           *config.Config
	production    bool
	jwt           *auth.JWTManager
	identity      Authenticator
	principals    Principals
	admin         AdminOps
	permissions   PermissionOps
	leads         LeadOps
	demo          DemoSessions
	counselors    CounselorDirectory
	resolver      *demo.Resolver
	readyChecks   map[string]ReadyCheck
	publicLimiter *httpmiddleware.RateLimiter
	authLimiter   *httpmiddleware.RateLimiter
	streamPing    time.Duration
}

const (
	demoSessionsPath = "/api/demo/sessions"
	signInPath       = "/api/auth/sign-in"
)

// NewRouter wires the handlers and middleware.
func NewRouter(cfg *config.Config, deps Deps) http.Handler {
	h := &Handler{
		cfg:         cfg,
		production:  cfg.Production(),
		jwt:         deps.JWT,
		identity:    deps.Identity,
		principals:  deps.Principals,
		admin:       deps.Admin,
		permissions: deps.Permissions,
		leads:       deps.Leads,
		demo:        deps.Demo,
		counselors:  deps.Counselors,
		resolver: &demo.Resolver{
			Exempt:       []string{demoSessionsPath, signInPath},
			SecureCookie: cfg.Production(),
			Observe:      deps.Heartbeat,
		},
		readyChecks:   deps.ReadyChecks,
		publicLimiter: httpmiddleware.NewRateLimiter(cfg.RateLimitPublic.RequestsPerSecond, cfg.RateLimitPublic.Burst),
		authLimiter:   httpmiddleware.NewRateLimiter(cfg.RateLimitAuth.RequestsPerSecond, cfg.RateLimitAuth.Burst),
		streamPing:    25 * time.Second,
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(httpmiddleware.Logging)
	r.Use(httpmiddleware.Recover)
	r.Use(httpmiddleware.CORS(cfg.AllowOrigins))
	r.Use(h.resolver.Middleware)

	r.Group(func(public chi.Router) {
		public.Use(httpmiddleware.IPRateLimit(h.publicLimiter))

		public.Get("/health", h.Health)
		public.Get("/ready", h.Ready)
		public.Get("/api/meta", h.Meta)

		public.Route("/api/auth", func(a chi.Router) {
			a.Post("/sign-in", h.SignIn)
			a.Post("/refresh", h.Refresh)
			a.Post("/sign-out", h.SignOut)
		})

		public.Post(demoSessionsPath, h.CreateDemoSession)
		public.Get("/api/demo/session", h.CurrentDemoSession)
	})

	r.Group(func(private chi.Router) {
		private.Use(httpmiddleware.Auth(h.jwt))
		private.Use(httpmiddleware.UserRateLimit(h.authLimiter))

		private.Get("/api/me", h.Me)
		private.Get("/api/access/check", h.AccessCheck)

		// Admin handlers authorize inside the service, after the body has
		// been validated.
		private.Route("/api/admin", func(a chi.Router) {
			a.Post("/create-user", h.CreateUser)
			a.Delete("/delete-user", h.DeleteUser)
			a.Delete("/permanently-delete-user", h.PermanentlyDeleteUser)
			a.Post("/reset-password", h.ResetPassword)
			a.Post("/restore-user", h.RestoreUser)
			a.Get("/restore-user", h.ListDeletedUsers)
			a.Patch("/update-user", h.UpdateUser)
			a.Get("/permissions/{userID}", h.ListPermissions)
			a.Put("/permissions/{userID}", h.SetPermission)
		})

		private.Route("/api/leads", func(l chi.Router) {
			l.With(h.guard(access.Guard{Permission: access.PermLeads})).Group(func(g chi.Router) {
				g.Get("/", h.ListLeads)
				g.Post("/", h.CreateLead)
				g.Get("/stream", h.StreamLeads)
				g.Get("/{id}", h.GetLead)
				g.Patch("/{id}", h.UpdateLead)
				g.Delete("/{id}", h.DeleteLead)
			})
			l.With(h.guard(access.Guard{Permission: access.PermUpload})).Post("/upload", h.UploadLeads)
			l.With(h.guard(access.Guard{Permission: access.PermAssignments})).Group(func(g chi.Router) {
				g.Post("/{id}/assign", h.AssignLead)
				g.Get("/{id}/assignments", h.LeadAssignments)
			})
		})

		private.With(h.guard(access.Guard{Permission: access.PermDashboard})).Get("/api/dashboard/stats", h.DashboardStats)
		private.With(h.guard(access.Guard{Permission: access.PermCounselors})).Get("/api/counselors", h.ListCounselors)
		private.With(h.guard(access.Guard{Permission: access.PermConsultingMonitor})).Get("/api/monitor/counselors", h.MonitorCounselors)
		private.With(h.guard(access.Guard{Role: access.RoleCounselor})).Get("/api/counselor/leads", h.CounselorLeads)
	})

	return r
}

func (h *Handler) guard(g access.Guard) func(http.Handler) http.Handler {
	return httpmiddleware.RequireGuard(h.principals, g)
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready probes every dependency.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, check := range h.readyChecks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		body := map[string]any{"error": "의존 서비스를 사용할 수 없습니다."}
		if !h.production {
			body["checks"] = failed
		}
		WriteJSON(w, http.StatusServiceUnavailable, body)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

// Meta returns the client cache marker. Clients drop local caches when it
// changes.
func (h *Handler) Meta(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"cache_version": h.cfg.CacheVersion})
}
