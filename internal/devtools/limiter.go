package devtools

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// Throttle is token-bucket rate limiting for the mutating routes. Each
// (route, client host) pair gets its own bucket holding up to two seconds
// worth of requests.
type Throttle struct {
	rate  float64
	burst float64
	now   func() time.Time

	mu      sync.Mutex
	buckets map[bucketKey]*bucket
}

type bucketKey struct {
	route string
	host  string
}

type bucket struct {
	tokens  float64
	updated time.Time
}

// NewThrottle returns a Throttle refilling rate tokens per second. A
// non-positive rate lets every request through.
func NewThrottle(rate float64) *Throttle {
	return &Throttle{
		rate:    rate,
		burst:   2 * rate,
		now:     time.Now,
		buckets: make(map[bucketKey]*bucket),
	}
}

// Take spends one token for host on route. When the bucket is empty it
// reports how long until the next token.
func (t *Throttle) Take(route, host string) (ok bool, wait time.Duration) {
	if t.rate <= 0 {
		return true, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	k := bucketKey{route: route, host: host}
	b, found := t.buckets[k]
	if !found {
		b = &bucket{tokens: t.burst, updated: now}
		t.buckets[k] = b
	}
	b.tokens = t.level(b, now)
	b.updated = now

	if b.tokens < 1 {
		return false, time.Duration((1 - b.tokens) / t.rate * float64(time.Second))
	}
	b.tokens--
	return true, 0
}

// level is the token count of b at now.
func (t *Throttle) level(b *bucket, now time.Time) float64 {
	return min(b.tokens+now.Sub(b.updated).Seconds()*t.rate, t.burst)
}

// Handler is chi middleware. Mount it with r.With so the matched route
// pattern is known; a denied request gets 429 with Retry-After.
func (t *Throttle) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		ok, wait := t.Take(route, clientHost(r))
		if !ok {
			secs := max(1, int(math.Ceil(wait.Seconds())))
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Sweep forgets buckets that have refilled completely, which behave exactly
// like missing ones. It returns the number removed.
func (t *Throttle) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	n := 0
	for k, b := range t.buckets {
		if t.level(b, now) >= t.burst {
			delete(t.buckets, k)
			n++
		}
	}
	return n
}

// SweepLoop calls Sweep every interval until done is closed.
func (t *Throttle) SweepLoop(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.Sweep()
		case <-done:
			return
		}
	}
}

func clientHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
