package demo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leadcrm/crm/internal/platform"
)

const sessionsTable = "demo_sessions"

var ErrSessionNotFound = errors.New("demo session not found")

// Session is a stored demo session.
type Session struct {
	ID             string     `json:"session_id"`
	Name           string     `json:"session_name"`
	CreatedAt      time.Time  `json:"created_at"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
}

// Service manages the demo_sessions table. It talks to the unscoped client.
type Service struct {
	client platform.Client
	now    func() time.Time
}

func NewService(client platform.Client) *Service {
	return &Service{client: client, now: time.Now}
}

// Create stores a new session named name and returns it.
func (s *Service) Create(ctx context.Context, name string) (Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Demo"
	}
	now := s.now().UTC()
	rows, err := s.client.Insert(ctx, sessionsTable, platform.Row{
		"session_id":       "demo_" + uuid.NewString(),
		"session_name":     name,
		"created_at":       now,
		"last_accessed_at": now,
	})
	if err != nil {
		return Session{}, fmt.Errorf("create demo session: %w", err)
	}
	if len(rows) == 0 {
		return Session{}, errors.New("create demo session: no row returned")
	}
	return sessionFromRow(rows[0]), nil
}

// Get returns the session with id.
func (s *Service) Get(ctx context.Context, id string) (Session, error) {
	rows, err := s.client.Select(ctx, sessionsTable, platform.Query{
		Filters: []platform.Filter{platform.Eq("session_id", id)},
		Limit:   1,
	})
	if err != nil {
		return Session{}, fmt.Errorf("get demo session: %w", err)
	}
	if len(rows) == 0 {
		return Session{}, ErrSessionNotFound
	}
	return sessionFromRow(rows[0]), nil
}

// List returns sessions, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.client.Select(ctx, sessionsTable, platform.Query{
		Order: []platform.Order{{Column: "created_at", Desc: true}},
		Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list demo sessions: %w", err)
	}
	out := make([]Session, 0, len(rows))
	for _, r := range rows {
		out = append(out, sessionFromRow(r))
	}
	return out, nil
}

func sessionFromRow(r platform.Row) Session {
	s := Session{}
	s.ID, _ = r["session_id"].(string)
	s.Name, _ = r["session_name"].(string)
	if t, ok := r["created_at"].(time.Time); ok {
		s.CreatedAt = t
	}
	if t, ok := r["last_accessed_at"].(time.Time); ok {
		s.LastAccessedAt = &t
	}
	return s
}
