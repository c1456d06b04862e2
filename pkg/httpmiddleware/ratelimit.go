package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the sliding window limiter.
type RateLimitConfig struct {
	// Max requests per Window.
	Max    int
	Window time.Duration
	// KeyFunc selects the bucket for a request. Defaults to ClientIP.
	KeyFunc func(*http.Request) string
}

// window counts requests in the current fixed window and remembers the
// previous window's count. The effective count interpolates between them.
type window struct {
	start time.Time
	curr  float64
	prev  float64
}

type limiter struct {
	max    int
	width  time.Duration
	mu     sync.Mutex
	active map[string]*window
}

func newLimiter(max int, width time.Duration) *limiter {
	return &limiter{max: max, width: width, active: make(map[string]*window)}
}

type verdict struct {
	allowed   bool
	remaining int
	reset     time.Time
}

func (l *limiter) take(key string, now time.Time) verdict {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := now.Truncate(l.width)
	w, ok := l.active[key]
	switch {
	case !ok:
		w = &window{start: start}
		l.active[key] = w
	case start.Sub(w.start) >= 2*l.width:
		w.start, w.prev, w.curr = start, 0, 0
	case start.After(w.start):
		w.start, w.prev, w.curr = start, w.curr, 0
	}

	weight := 1 - float64(now.Sub(w.start))/float64(l.width)
	used := w.prev*weight + w.curr
	v := verdict{reset: w.start.Add(l.width)}
	if used >= float64(l.max) {
		return v
	}
	w.curr++
	v.allowed = true
	v.remaining = max(0, int(float64(l.max)-used-1))
	return v
}

// evict drops buckets idle for two windows.
func (l *limiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.active {
		if now.Sub(w.start) >= 2*l.width {
			delete(l.active, key)
		}
	}
}

// RateLimit enforces cfg per key and reports X-RateLimit-* headers. Stale
// buckets are evicted in the background until ctx is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := newLimiter(cfg.Max, cfg.Window)
	keyOf := cfg.KeyFunc
	if keyOf == nil {
		keyOf = ClientIP
	}
	go func() {
		t := time.NewTicker(2 * cfg.Window)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				l.evict(now)
			}
		}
	}()

	limit := strconv.Itoa(cfg.Max)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			v := l.take(keyOf(r), now)

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(v.remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(v.reset.Unix(), 10))
			if !v.allowed {
				wait := max(0, v.reset.Sub(now).Seconds())
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait))))
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// KeyByHeader buckets requests by the named header, falling back to
// ClientIP when it is absent.
func KeyByHeader(name string) func(*http.Request) string {
	return func(r *http.Request) string {
		if v := r.Header.Get(name); v != "" {
			return name + ":" + v
		}
		return ClientIP(r)
	}
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP, or the remote
// host.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
