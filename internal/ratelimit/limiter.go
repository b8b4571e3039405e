package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter enforces a per-client request budget. Each client gets its own
// token bucket refilled at an hourly rate; buckets that have refilled
// completely are pruned so the map does not grow without bound.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*rate.Limiter
	rate    rate.Limit
	burst   int
}

// NewLimiter creates the limiter. requestsPerHour is the sustained
// budget per client, burst the short-term allowance.
func NewLimiter(requestsPerHour, burst int) *Limiter {
	return &Limiter{
		clients: make(map[string]*rate.Limiter),
		rate:    rate.Limit(float64(requestsPerHour) / 3600.0),
		burst:   burst,
	}
}

// Allow reports whether the client's request fits its budget, and how
// many tokens remain after the decision. Taking the decision and the
// remaining count under one lock keeps the two consistent.
func (l *Limiter) Allow(clientID string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.clients[clientID]
	if !ok {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.clients[clientID] = lim
	}
	allowed := lim.Allow()
	return allowed, int(lim.Tokens())
}

// Prune drops clients whose buckets have refilled completely. Dropping
// a full bucket is lossless: a fresh bucket starts full, so the client
// is indistinguishable from one never seen.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, lim := range l.clients {
		if lim.Tokens() >= float64(l.burst) {
			delete(l.clients, id)
			removed++
		}
	}
	return removed
}

// Size reports the number of clients currently tracked.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// StartPruning prunes refilled buckets on a fixed interval until the
// context is cancelled.
func (l *Limiter) StartPruning(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune()
		}
	}
}
