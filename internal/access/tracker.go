package access

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ErrNoProfile is returned when an authenticated identity has no profile row.
var ErrNoProfile = errors.New("profile not found")

// Loader fetches the rows a principal is built from.
type Loader interface {
	GetProfile(ctx context.Context, id uuid.UUID) (Profile, error)
	ListGrants(ctx context.Context, userID uuid.UUID) ([]Grant, error)
}

// EventKind enumerates authentication notifications.
type EventKind string

const (
	EventSignedIn           EventKind = "signed_in"
	EventTokenRefreshed     EventKind = "token_refreshed"
	EventSignedOut          EventKind = "signed_out"
	EventPermissionsChanged EventKind = "permissions_changed"
	EventProfileChanged     EventKind = "profile_changed"
)

// Event is an authentication notification for one user.
type Event struct {
	Kind   EventKind
	UserID uuid.UUID
}

const loadTimeout = 10 * time.Second

type trackedPrincipal struct {
	principal *Principal
	expireAt  time.Time
}

// Tracker owns the loaded principals of the process. It is created once in
// main, passed to whoever needs it, and emptied with Close on shutdown.
type Tracker struct {
	loader Loader
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time

	group singleflight.Group

	mu       sync.Mutex
	entries  map[uuid.UUID]trackedPrincipal
	inflight map[uuid.UUID]int
	// gen counts invalidations of users with a load in flight.
	gen map[uuid.UUID]uint64
}

// NewTracker creates an empty tracker.
func NewTracker(loader Loader, ttl time.Duration, logger zerolog.Logger) *Tracker {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Tracker{
		loader:   loader,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
		entries:  make(map[uuid.UUID]trackedPrincipal),
		inflight: make(map[uuid.UUID]int),
		gen:      make(map[uuid.UUID]uint64),
	}
}

// Resolve returns the principal of userID, loading it when not cached.
// Concurrent callers for the same user share one load.
func (t *Tracker) Resolve(ctx context.Context, userID uuid.UUID) (*Principal, error) {
	if p, ok := t.cached(userID); ok {
		return p, nil
	}

	// The shared load outlives any single caller; each caller still stops
	// waiting when its own ctx ends.
	ch := t.group.DoChan(userID.String(), func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return t.load(loadCtx, userID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Principal), nil
	}
}

// Loaded reports whether a fresh principal is cached for userID.
func (t *Tracker) Loaded(userID uuid.UUID) bool {
	_, ok := t.cached(userID)
	return ok
}

// Loading reports whether a load for userID is in flight.
func (t *Tracker) Loading(userID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inflight[userID] > 0
}

// HandleEvent reacts to an authentication notification.
func (t *Tracker) HandleEvent(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventSignedIn:
		if t.Loaded(ev.UserID) {
			return
		}
		t.preload(ctx, ev.UserID)
	case EventTokenRefreshed:
		if t.Loading(ev.UserID) || t.Loaded(ev.UserID) {
			return
		}
		t.preload(ctx, ev.UserID)
	case EventSignedOut, EventPermissionsChanged, EventProfileChanged:
		t.Invalidate(ev.UserID)
	}
}

// Invalidate drops the cached principal of userID. A load already in flight
// will not repopulate the cache.
func (t *Tracker) Invalidate(userID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, userID)
	if t.inflight[userID] > 0 {
		t.gen[userID]++
	}
}

// Close clears every principal.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range t.inflight {
		t.gen[id]++
	}
	t.entries = make(map[uuid.UUID]trackedPrincipal)
}

func (t *Tracker) preload(ctx context.Context, userID uuid.UUID) {
	if _, err := t.Resolve(ctx, userID); err != nil && !errors.Is(err, ErrNoProfile) {
		t.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("principal preload failed")
	}
}

func (t *Tracker) cached(userID uuid.UUID) (*Principal, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[userID]
	if !ok {
		return nil, false
	}
	if t.now().After(entry.expireAt) {
		delete(t.entries, userID)
		return nil, false
	}
	return entry.principal, true
}

// load fetches the profile and then the grants, in that order.
func (t *Tracker) load(ctx context.Context, userID uuid.UUID) (*Principal, error) {
	t.mu.Lock()
	t.inflight[userID]++
	startGen := t.gen[userID]
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.inflight[userID]--
		if t.inflight[userID] <= 0 {
			delete(t.inflight, userID)
			delete(t.gen, userID)
		}
		t.mu.Unlock()
	}()

	profile, err := t.loader.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	cacheable := true
	var grants []Grant
	if profile.Role == RoleAdmin && !profile.IsSuperAdmin {
		grants, err = t.loader.ListGrants(ctx, userID)
		if err != nil {
			t.logger.Error().Err(err).Str("user_id", userID.String()).Msg("loading permissions failed, using empty set")
			grants = nil
			cacheable = false
		}
	}

	principal := NewPrincipal(profile, grants)
	if !cacheable {
		return principal, nil
	}

	t.mu.Lock()
	if t.gen[userID] == startGen {
		t.entries[userID] = trackedPrincipal{principal: principal, expireAt: t.now().Add(t.ttl)}
	}
	t.mu.Unlock()

	return principal, nil
}
