package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/leadcrm/crm/internal/auth"
)

type store interface {
	GetByEmail(ctx context.Context, email string) (*Identity, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Identity, error)
	Create(ctx context.Context, email, passwordHash, fullName string) (*Identity, error)
	UpdateFullName(ctx context.Context, id uuid.UUID, fullName string) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	SetBanned(ctx context.Context, id uuid.UUID, banned bool) error
	TouchSignIn(ctx context.Context, id uuid.UUID, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type redisCommander interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	GetDel(ctx context.Context, key string) *redis.StringCmd
}

// Service signs identities in and out and exposes the admin surface used
// by account management.
type Service struct {
	store      store
	redis      redisCommander
	jwt        *auth.JWTManager
	refreshTTL time.Duration
	now        func() time.Time
}

func NewService(repo *Repository, redisClient *redis.Client, jwtMgr *auth.JWTManager, refreshTTL time.Duration) *Service {
	return newService(repo, redisClient, jwtMgr, refreshTTL)
}

func newService(s store, r redisCommander, jwtMgr *auth.JWTManager, refreshTTL time.Duration) *Service {
	return &Service{store: s, redis: r, jwt: jwtMgr, refreshTTL: refreshTTL, now: time.Now}
}

// JWT exposes the token manager for the auth middleware.
func (s *Service) JWT() *auth.JWTManager {
	return s.jwt
}

// SignIn checks the password and opens a session.
func (s *Service) SignIn(ctx context.Context, email, password string) (*Session, error) {
	ident, err := s.store.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Warn().Msg("sign-in: unknown email")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := auth.Verify(password, ident.PasswordHash)
	if err != nil {
		log.Warn().Err(err).Msg("sign-in: verify password failed")
		return nil, ErrInvalidCredentials
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if ident.Banned {
		return nil, ErrBanned
	}

	now := s.now().UTC()
	if err := s.store.TouchSignIn(ctx, ident.ID, now); err != nil {
		log.Warn().Err(err).Str("user_id", ident.ID.String()).Msg("sign-in: last sign-in not recorded")
	} else {
		ident.LastSignInAt = &now
	}
	return s.openSession(ctx, ident)
}

// Refresh rotates a refresh token. The old token is consumed even when the
// identity turns out to be banned.
func (s *Service) Refresh(ctx context.Context, rawToken string) (*Session, error) {
	if rawToken == "" {
		return nil, auth.ErrInvalidRefresh
	}
	key := auth.RefreshRedisKey(auth.HashRefreshToken(rawToken))
	// GETDEL consumes the token exactly once across concurrent refreshes.
	owner, err := s.redis.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, auth.ErrInvalidRefresh
	}
	if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(owner)
	if err != nil {
		return nil, auth.ErrInvalidRefresh
	}
	ident, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, auth.ErrInvalidRefresh
		}
		return nil, err
	}
	if ident.Banned {
		return nil, ErrBanned
	}
	return s.openSession(ctx, ident)
}

// SignOut drops the refresh token and returns its owner, or uuid.Nil when the
// token was unknown.
func (s *Service) SignOut(ctx context.Context, rawToken string) (uuid.UUID, error) {
	if rawToken == "" {
		return uuid.Nil, nil
	}
	key := auth.RefreshRedisKey(auth.HashRefreshToken(rawToken))
	owner, err := s.redis.GetDel(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return uuid.Nil, err
	}
	id, _ := uuid.Parse(owner)
	return id, nil
}

// Get returns the identity with id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Identity, error) {
	return s.store.GetByID(ctx, id)
}

// CreateUser registers a confirmed identity.
func (s *Service) CreateUser(ctx context.Context, p CreateParams) (*Identity, error) {
	if !auth.ValidPassword(p.Password) {
		return nil, fmt.Errorf("password shorter than %d characters", auth.MinPasswordLength)
	}
	hash, err := auth.Hash(p.Password)
	if err != nil {
		return nil, err
	}
	return s.store.Create(ctx, normalizeEmail(p.Email), hash, strings.TrimSpace(p.FullName))
}

func (s *Service) UpdateMetadata(ctx context.Context, id uuid.UUID, fullName string) error {
	return s.store.UpdateFullName(ctx, id, strings.TrimSpace(fullName))
}

func (s *Service) UpdatePassword(ctx context.Context, id uuid.UUID, password string) error {
	if !auth.ValidPassword(password) {
		return fmt.Errorf("password shorter than %d characters", auth.MinPasswordLength)
	}
	hash, err := auth.Hash(password)
	if err != nil {
		return err
	}
	return s.store.UpdatePassword(ctx, id, hash)
}

// SetBanned blocks or unblocks sign-in and refresh.
func (s *Service) SetBanned(ctx context.Context, id uuid.UUID, banned bool) error {
	return s.store.SetBanned(ctx, id, banned)
}

func (s *Service) DeleteUser(ctx context.Context, id uuid.UUID) error {
	return s.store.Delete(ctx, id)
}

func (s *Service) openSession(ctx context.Context, ident *Identity) (*Session, error) {
	token, exp, err := s.jwt.Issue(ident.ID, ident.Email)
	if err != nil {
		return nil, err
	}
	raw, hash, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	if err := s.redis.Set(ctx, auth.RefreshRedisKey(hash), ident.ID.String(), s.refreshTTL).Err(); err != nil {
		return nil, err
	}
	return &Session{
		AccessToken:  token,
		RefreshToken: raw,
		ExpiresAt:    exp,
		User:         *ident,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
