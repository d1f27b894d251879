package http

import (
	"sync"
	"time"
)

// Client classes. Requests carrying a bearer token draw from their own bucket per address,
// so a signed-in editor behind a shared address is not starved by anonymous readers.
const (
	classReader  = "reader"
	classSession = "session"
)

type limiterObserver interface {
	ObserveRateLimited(class string)
	SetRateLimitClients(n int)
}

type limitKey struct {
	class string
	ip    string
}

type bucket struct {
	tokens   float64
	refilled time.Time
	seen     time.Time
}

// RateLimiter is a token bucket limiter keyed by client address and class.
type RateLimiter struct {
	mu        sync.Mutex
	buckets   map[limitKey]*bucket
	burst     float64
	perSecond float64
	ttl       time.Duration
	observer  limiterObserver
	now       func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter starts a limiter that forgets clients idle for longer than the TTL. The
// observer may be nil.
func NewRateLimiter(settings RateLimiterSettings, observer limiterObserver) *RateLimiter {
	rl := &RateLimiter{
		buckets:   make(map[limitKey]*bucket),
		burst:     float64(settings.Burst),
		perSecond: settings.RequestsPerSecond,
		ttl:       settings.ClientTTL,
		observer:  observer,
		now:       time.Now,
		stop:      make(chan struct{}),
	}

	if rl.ttl > 0 {
		ticker := time.NewTicker(rl.ttl)
		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					rl.pruneStale()
				case <-rl.stop:
					return
				}
			}
		}()
	}

	return rl
}

// Allow takes a token from the bucket for ip and reports whether the request may proceed.
func (rl *RateLimiter) Allow(ip string, authenticated bool) bool {
	key := limitKey{class: classReader, ip: ip}
	if authenticated {
		key.class = classSession
	}
	if key.ip == "" {
		key.ip = "unknown"
	}

	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.burst, refilled: now}
		rl.buckets[key] = b
		rl.reportSize()
	}
	b.seen = now

	if elapsed := now.Sub(b.refilled).Seconds(); elapsed > 0 {
		b.tokens = min(rl.burst, b.tokens+elapsed*rl.perSecond)
		b.refilled = now
	}

	if b.tokens < 1 {
		if rl.observer != nil {
			rl.observer.ObserveRateLimited(key.class)
		}
		return false
	}

	b.tokens--
	return true
}

// Close stops the pruning loop. It is safe to call more than once.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// pruneStale drops idle buckets and returns how many were removed.
func (rl *RateLimiter) pruneStale() int {
	if rl.ttl <= 0 {
		return 0
	}

	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for key, b := range rl.buckets {
		if now.Sub(b.seen) > rl.ttl {
			delete(rl.buckets, key)
			removed++
		}
	}
	if removed > 0 {
		rl.reportSize()
	}
	return removed
}

func (rl *RateLimiter) reportSize() {
	if rl.observer != nil {
		rl.observer.SetRateLimitClients(len(rl.buckets))
	}
}
