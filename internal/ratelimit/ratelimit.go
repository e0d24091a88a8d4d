// Package ratelimit keeps a token bucket per key.
//
// Two callers share it:
//   - the fetch API limits inbound requests per client ip (Middleware)
//   - the http loader limits outbound requests per upstream host (Wait)
//
// In-memory only, not shared between instances. Idle keys are evicted in the
// background and the number of tracked keys is capped so a flood of unique
// keys cannot grow the map without bound.
package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/linnemanlabs-fetch/internal/httpmw"
)

// ErrCapacity is returned by Wait when a new key arrives while the limiter
// is tracking its maximum number of keys.
var ErrCapacity = errors.New("rate limiter at capacity")

// ErrBurst is returned by Wait when the limiter is configured with a zero
// burst and can never grant a token.
var ErrBurst = errors.New("rate limiter burst is zero")

// bucket tracks a single key's limiter and last activity
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time

	// logged tracks whether the first-denial hook has fired; resets when the
	// bucket is evicted and re-created
	logged bool
}

// Limiter holds per-key rate limiters with background eviction.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	perSecond rate.Limit
	burst     int
	ttl       time.Duration

	// maxKeys caps the number of tracked keys; 0 disables the cap
	maxKeys     int
	capacityHit bool

	// OnFirstDenied is called once per key when it is first refused.
	OnFirstDenied func(key string)
	// OnDenied is called on every refusal.
	OnDenied func(key string)
	// OnWait is called when Wait has to delay a caller.
	OnWait func(key string, d time.Duration)
	// OnCapacity is called once each time the key cap is reached.
	OnCapacity func()
}

type Option func(*Limiter)

// WithRate sets the bucket size and refill rate. WithRate(10, 50) allows 50
// requests at once, then refills at 10 per second.
func WithRate(perSecond float64, burst int) Option {
	return func(l *Limiter) {
		l.perSecond = rate.Limit(perSecond)
		l.burst = burst
	}
}

// WithTTL controls how long an idle key is kept.
func WithTTL(d time.Duration) Option {
	return func(l *Limiter) {
		l.ttl = d
	}
}

// WithMaxKeys caps the number of tracked keys.
func WithMaxKeys(n int) Option {
	return func(l *Limiter) {
		l.maxKeys = n
	}
}

func WithOnFirstDenied(fn func(key string)) Option {
	return func(l *Limiter) {
		l.OnFirstDenied = fn
	}
}

func WithOnDenied(fn func(key string)) Option {
	return func(l *Limiter) {
		l.OnDenied = fn
	}
}

func WithOnWait(fn func(key string, d time.Duration)) Option {
	return func(l *Limiter) {
		l.OnWait = fn
	}
}

func WithOnCapacity(fn func()) Option {
	return func(l *Limiter) {
		l.OnCapacity = fn
	}
}

// New creates a Limiter and starts the cleanup goroutine, which stops when
// ctx is cancelled.
func New(ctx context.Context, opts ...Option) *Limiter {
	l := &Limiter{
		buckets:   make(map[string]*bucket),
		perSecond: 10,
		burst:     30,
		ttl:       5 * time.Minute,
		maxKeys:   100000,
	}
	for _, o := range opts {
		o(l)
	}
	go l.cleanup(ctx)
	return l
}

// lookup returns the bucket for key, creating it if there is room. Must be
// called with l.mu held. The second result reports whether the cap was
// newly reached.
func (l *Limiter) lookup(key string, now time.Time) (*bucket, bool) {
	b, ok := l.buckets[key]
	if !ok {
		if l.maxKeys > 0 && len(l.buckets) >= l.maxKeys {
			first := !l.capacityHit
			l.capacityHit = true
			return nil, first
		}
		b = &bucket{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b, false
}

// Allow reports whether a request for key may proceed now.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	b, capHit := l.lookup(key, time.Now())
	if b == nil {
		l.mu.Unlock()
		if capHit && l.OnCapacity != nil {
			l.OnCapacity()
		}
		if l.OnDenied != nil {
			l.OnDenied(key)
		}
		return false
	}

	allowed := b.limiter.Allow()
	first := !allowed && !b.logged
	if first {
		b.logged = true
	}
	// hooks may be slow, run them unlocked
	l.mu.Unlock()

	if first && l.OnFirstDenied != nil {
		l.OnFirstDenied(key)
	}
	if !allowed && l.OnDenied != nil {
		l.OnDenied(key)
	}
	return allowed
}

// Wait blocks until a request for key may proceed or ctx is done.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	l.mu.Lock()
	b, capHit := l.lookup(key, time.Now())
	if b == nil {
		l.mu.Unlock()
		if capHit && l.OnCapacity != nil {
			l.OnCapacity()
		}
		return ErrCapacity
	}
	r := b.limiter.Reserve()
	l.mu.Unlock()

	if !r.OK() {
		return ErrBurst
	}
	d := r.Delay()
	if d <= 0 {
		return nil
	}
	if l.OnWait != nil {
		l.OnWait(key, d)
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// cleanup evicts keys idle for longer than the TTL. Runs every TTL/2.
func (l *Limiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.mu.Lock()
			for k, b := range l.buckets {
				if now.Sub(b.lastSeen) > l.ttl {
					delete(l.buckets, k)
				}
			}
			if l.maxKeys <= 0 || len(l.buckets) < l.maxKeys {
				l.capacityHit = false
			}
			l.mu.Unlock()
		}
	}
}

// Middleware rejects requests over the per-client-ip limit with 429. The
// client ip comes from httpmw.ClientIP.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := httpmw.ClientIPFromContext(r.Context())
		if !l.Allow(ip) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"too many requests"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
