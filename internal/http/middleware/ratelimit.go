package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	MsgRateLimited = "요청이 너무 많습니다. 잠시 후 다시 시도해 주세요."

	bucketIdle    = 10 * time.Minute
	sweepInterval = time.Minute
)

// KeyFunc names the bucket of a request. An empty key is not limited.
type KeyFunc func(r *http.Request) string

// RateLimiter holds one token bucket per key. Buckets unused for ten minutes
// are swept at most once a minute.
type RateLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(reqPerSec float64, burst int) *RateLimiter {
	return &RateLimiter{
		limit:   rate.Limit(reqPerSec),
		burst:   burst,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// wait takes a token for key. When none is left it returns how long the
// caller should back off.
func (l *RateLimiter) wait(key string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= sweepInterval {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > bucketIdle {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	res := b.limiter.ReserveN(now, 1)
	if !res.OK() {
		return time.Second, false
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return delay, false
	}
	return 0, true
}

// Limit rejects requests whose bucket is empty with 429 and a Retry-After
// header in whole seconds.
func (l *RateLimiter) Limit(key KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}
			if delay, ok := l.wait(k); !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
				writeError(w, http.StatusTooManyRequests, MsgRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IPRateLimit keys by client address. chi's RealIP runs first and has already
// moved X-Real-IP / X-Forwarded-For into RemoteAddr.
func IPRateLimit(limiter *RateLimiter) func(http.Handler) http.Handler {
	return limiter.Limit(ClientIP)
}

// UserRateLimit keys by authenticated subject. Must run after Auth.
func UserRateLimit(limiter *RateLimiter) func(http.Handler) http.Handler {
	return limiter.Limit(func(r *http.Request) string {
		subject := GetSubject(r.Context())
		if subject == uuid.Nil {
			return ""
		}
		return "user:" + subject.String()
	})
}

// ClientIP is the host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
