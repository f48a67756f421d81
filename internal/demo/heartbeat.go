package demo

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/leadcrm/crm/internal/platform"
)

// TouchFunction is the RPC that bumps a session's last access time.
const TouchFunction = "touch_demo_session"

const (
	// DefaultMaxActive bounds the number of running tickers.
	DefaultMaxActive = 1000
	missTTL          = time.Minute
	lookupTimeout    = 2 * time.Second
)

// SessionLookup confirms that a session id was created.
type SessionLookup interface {
	Get(ctx context.Context, id string) (Session, error)
}

type beat struct {
	cancel   context.CancelFunc
	lastSeen time.Time
}

// Heartbeats keeps one ticker per active session. Each tick touches the
// session through the scoped client; a session idle for longer than the idle
// timeout stops its ticker.
type Heartbeats struct {
	base      platform.Client
	sessions  SessionLookup
	interval  time.Duration
	idle      time.Duration
	maxActive int
	logger    zerolog.Logger
	now       func() time.Time

	mu     sync.Mutex
	beats  map[string]*beat
	misses map[string]time.Time
	parent context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
}

// NewHeartbeats creates the registry. Defaults: 5 minute interval, 30 minute idle timeout.
// Only ids that sessions knows about get a ticker; a nil lookup trusts every id.
func NewHeartbeats(base platform.Client, sessions SessionLookup, interval, idle time.Duration, logger zerolog.Logger) *Heartbeats {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if idle <= 0 {
		idle = 30 * time.Minute
	}
	parent, stop := context.WithCancel(context.Background())
	return &Heartbeats{
		base:      base,
		sessions:  sessions,
		interval:  interval,
		idle:      idle,
		maxActive: DefaultMaxActive,
		logger:    logger,
		now:       time.Now,
		beats:     make(map[string]*beat),
		misses:    make(map[string]time.Time),
		parent:    parent,
		stop:      stop,
	}
}

// Observe marks sessionID as active, starting its ticker when needed. Unknown
// ids are remembered for a minute and ignored; past maxActive tickers new
// sessions are not tracked.
func (h *Heartbeats) Observe(sessionID string) {
	if !Scoping(sessionID) || h.parent.Err() != nil {
		return
	}
	if h.touch(sessionID) {
		return
	}
	if !h.known(sessionID) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.parent.Err() != nil {
		return
	}
	if b, ok := h.beats[sessionID]; ok {
		b.lastSeen = h.now()
		return
	}
	if len(h.beats) >= h.maxActive {
		h.logger.Warn().Int("active", len(h.beats)).Msg("demo heartbeat limit reached")
		return
	}
	ctx, cancel := context.WithCancel(h.parent)
	h.beats[sessionID] = &beat{cancel: cancel, lastSeen: h.now()}
	h.wg.Add(1)
	go h.run(ctx, sessionID)
}

// touch bumps a running ticker and reports whether one existed.
func (h *Heartbeats) touch(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.beats[sessionID]
	if ok {
		b.lastSeen = h.now()
	}
	return ok
}

func (h *Heartbeats) known(sessionID string) bool {
	if h.sessions == nil {
		return true
	}

	h.mu.Lock()
	if at, ok := h.misses[sessionID]; ok && h.now().Sub(at) < missTTL {
		h.mu.Unlock()
		return false
	}
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(h.parent, lookupTimeout)
	defer cancel()
	_, err := h.sessions.Get(ctx, sessionID)
	if err == nil {
		return true
	}
	if !errors.Is(err, ErrSessionNotFound) {
		h.logger.Warn().Err(err).Str("session_id", sessionID).Msg("demo session lookup failed")
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.misses) >= h.maxActive {
		h.misses = make(map[string]time.Time)
	}
	h.misses[sessionID] = h.now()
	return false
}

// Active reports whether sessionID has a running ticker.
func (h *Heartbeats) Active(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.beats[sessionID]
	return ok
}

// Stop cancels the ticker of sessionID.
func (h *Heartbeats) Stop(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok := h.beats[sessionID]; ok {
		b.cancel()
		delete(h.beats, sessionID)
	}
}

// Shutdown stops every ticker and waits for them to exit.
func (h *Heartbeats) Shutdown() {
	h.mu.Lock()
	h.stop()
	h.beats = make(map[string]*beat)
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Heartbeats) run(ctx context.Context, sessionID string) {
	defer h.wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	client := NewScopedClient(h.base, sessionID)
	logger := h.logger.With().Str("session_id", sessionID).Logger()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if h.expired(sessionID) {
				logger.Debug().Msg("demo heartbeat stopped, session idle")
				h.Stop(sessionID)
				return
			}
			callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if _, err := client.Call(callCtx, TouchFunction, nil); err != nil {
				logger.Warn().Err(err).Msg("demo heartbeat failed")
			}
			cancel()
		}
	}
}

func (h *Heartbeats) expired(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.beats[sessionID]
	if !ok {
		return true
	}
	return h.now().Sub(b.lastSeen) > h.idle
}
