// Package ratelimit provides one token bucket per source tag.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limits supplies the bucket parameters for a source tag.
type Limits func(source string) (rps float64, burst int)

// Limiter holds one token bucket per source. Buckets are created lazily on
// first acquire and live for the process lifetime.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	limits  Limits
}

// New creates a Limiter drawing per-source parameters from limits.
func New(limits Limits) *Limiter {
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		limits:  limits,
	}
}

// Acquire blocks until one token is available for source, or until ctx is
// cancelled.
func (l *Limiter) Acquire(ctx context.Context, source string) error {
	return l.bucket(source).Wait(ctx)
}

// Allow reports whether a token is immediately available without blocking.
func (l *Limiter) Allow(source string) bool {
	return l.bucket(source).Allow()
}

func (l *Limiter) bucket(source string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[source]
	if !ok {
		rps, burst := l.limits(source)
		if rps <= 0 {
			rps = 1
		}
		if burst <= 0 {
			burst = 1
		}
		b = rate.NewLimiter(rate.Limit(rps), burst)
		l.buckets[source] = b
	}
	return b
}
