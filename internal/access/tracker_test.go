package access

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLoader struct {
	mu        sync.Mutex
	profiles  map[uuid.UUID]Profile
	grants    map[uuid.UUID][]Grant
	grantErr  error
	block     chan struct{}
	profileN  atomic.Int32
	grantsN   atomic.Int32
	callOrder []string
	ctxErr    error
}

func (s *stubLoader) GetProfile(ctx context.Context, id uuid.UUID) (Profile, error) {
	s.profileN.Add(1)
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctxErr = ctx.Err()
	s.callOrder = append(s.callOrder, "profile")
	p, ok := s.profiles[id]
	if !ok {
		return Profile{}, ErrNoProfile
	}
	return p, nil
}

func (s *stubLoader) ListGrants(ctx context.Context, userID uuid.UUID) ([]Grant, error) {
	s.grantsN.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callOrder = append(s.callOrder, "grants")
	if s.grantErr != nil {
		return nil, s.grantErr
	}
	return s.grants[userID], nil
}

func newTrackerFixture(t *testing.T, perms ...Permission) (*Tracker, *stubLoader, uuid.UUID) {
	t.Helper()
	p, grants := adminProfile(perms...)
	loader := &stubLoader{
		profiles: map[uuid.UUID]Profile{p.ID: p},
		grants:   map[uuid.UUID][]Grant{p.ID: grants},
	}
	return NewTracker(loader, time.Minute, zerolog.Nop()), loader, p.ID
}

func TestTrackerResolveLoadsProfileThenGrants(t *testing.T) {
	tracker, loader, id := newTrackerFixture(t, PermLeads)

	principal, err := tracker.Resolve(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, principal.HasPermission(PermLeads))
	assert.Equal(t, []string{"profile", "grants"}, loader.callOrder)

	_, err = tracker.Resolve(context.Background(), id)
	require.NoError(t, err)
	assert.EqualValues(t, 1, loader.profileN.Load(), "second resolve is served from cache")
}

func TestTrackerMissingProfile(t *testing.T) {
	tracker, _, _ := newTrackerFixture(t)

	principal, err := tracker.Resolve(context.Background(), uuid.New())
	assert.Nil(t, principal)
	assert.ErrorIs(t, err, ErrNoProfile)
}

func TestTrackerGrantFailureFailsClosed(t *testing.T) {
	tracker, loader, id := newTrackerFixture(t, PermLeads)
	loader.grantErr = errors.New("db down")

	principal, err := tracker.Resolve(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, principal.Permissions)
	assert.False(t, tracker.Loaded(id), "degraded principal is not cached")

	loader.grantErr = nil
	principal, err = tracker.Resolve(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, principal.HasPermission(PermLeads))
}

func TestTrackerSharesInflightLoads(t *testing.T) {
	tracker, loader, id := newTrackerFixture(t, PermLeads)
	loader.block = make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tracker.Resolve(context.Background(), id)
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return tracker.Loading(id) }, time.Second, time.Millisecond)

	// A token refresh during the load must not start a second one.
	tracker.HandleEvent(context.Background(), Event{Kind: EventTokenRefreshed, UserID: id})

	close(loader.block)
	wg.Wait()

	assert.EqualValues(t, 1, loader.profileN.Load())
}

func TestTrackerCancelledCallerDoesNotFailSharedLoad(t *testing.T) {
	tracker, loader, id := newTrackerFixture(t, PermLeads)
	loader.block = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := tracker.Resolve(ctx, id)
		first <- err
	}()
	require.Eventually(t, func() bool { return tracker.Loading(id) }, time.Second, time.Millisecond)

	second := make(chan *Principal, 1)
	go func() {
		p, err := tracker.Resolve(context.Background(), id)
		assert.NoError(t, err)
		second <- p
	}()

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(loader.block)
	p := <-second
	require.NotNil(t, p)
	assert.True(t, p.HasPermission(PermLeads))
	assert.NoError(t, loader.ctxErr)
	assert.True(t, tracker.Loaded(id))
	assert.EqualValues(t, 1, loader.profileN.Load())
}

func TestTrackerInvalidateDuringLoadSkipsCache(t *testing.T) {
	tracker, loader, id := newTrackerFixture(t)
	loader.block = make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := tracker.Resolve(context.Background(), id)
		assert.NoError(t, err)
	}()
	require.Eventually(t, func() bool { return tracker.Loading(id) }, time.Second, time.Millisecond)

	tracker.Invalidate(id)
	close(loader.block)
	<-done

	assert.False(t, tracker.Loaded(id))
	tracker.mu.Lock()
	assert.Empty(t, tracker.gen)
	tracker.mu.Unlock()

	tracker.Invalidate(uuid.New())
	tracker.mu.Lock()
	assert.Empty(t, tracker.gen)
	tracker.mu.Unlock()
}

func TestTrackerSignedInForLoadedUserIsNoop(t *testing.T) {
	tracker, loader, id := newTrackerFixture(t)

	tracker.HandleEvent(context.Background(), Event{Kind: EventSignedIn, UserID: id})
	tracker.HandleEvent(context.Background(), Event{Kind: EventSignedIn, UserID: id})
	tracker.HandleEvent(context.Background(), Event{Kind: EventTokenRefreshed, UserID: id})

	assert.EqualValues(t, 1, loader.profileN.Load())
	assert.True(t, tracker.Loaded(id))
}

func TestTrackerSignOutAndInvalidation(t *testing.T) {
	tracker, loader, id := newTrackerFixture(t)

	_, err := tracker.Resolve(context.Background(), id)
	require.NoError(t, err)

	tracker.HandleEvent(context.Background(), Event{Kind: EventSignedOut, UserID: id})
	assert.False(t, tracker.Loaded(id))

	_, err = tracker.Resolve(context.Background(), id)
	require.NoError(t, err)
	tracker.HandleEvent(context.Background(), Event{Kind: EventPermissionsChanged, UserID: id})
	assert.False(t, tracker.Loaded(id))

	assert.EqualValues(t, 2, loader.profileN.Load())
}

func TestTrackerExpiry(t *testing.T) {
	tracker, loader, id := newTrackerFixture(t)
	now := time.Now()
	tracker.now = func() time.Time { return now }

	_, err := tracker.Resolve(context.Background(), id)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	assert.False(t, tracker.Loaded(id))

	_, err = tracker.Resolve(context.Background(), id)
	require.NoError(t, err)
	assert.EqualValues(t, 2, loader.profileN.Load())
}

func TestTrackerClose(t *testing.T) {
	tracker, _, id := newTrackerFixture(t)
	_, err := tracker.Resolve(context.Background(), id)
	require.NoError(t, err)

	tracker.Close()
	assert.False(t, tracker.Loaded(id))
}
