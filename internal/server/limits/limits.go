// Package limits provides the per-identity request rate gate used by the
// sync coordinator. Checks are fail-fast: callers get a yes/no, never
// queuing or backpressure.
package limits

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter keys token buckets by identity. Buckets are created lazily and
// kept for the process lifetime; identity cardinality is bounded by the
// number of vaults the server hosts.
type Limiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New builds a limiter allowing rps requests per second with the given
// burst per identity.
func New(rps float64, burst int) *Limiter {
	return &Limiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether the identity may make one more request now.
func (l *Limiter) Allow(identity string) bool {
	l.mu.Lock()
	bucket, ok := l.buckets[identity]
	if !ok {
		bucket = rate.NewLimiter(l.rps, l.burst)
		l.buckets[identity] = bucket
	}
	l.mu.Unlock()
	return bucket.Allow()
}
