package ratelimiter

import (
	"sync"
	"time"
)

// Limiter provides simple time-based rate limiting.
// It allows one action per interval and is safe for concurrent use.
type Limiter struct {
	mu          sync.Mutex
	interval    time.Duration
	lastAllowed time.Time
	now         func() time.Time
}

// New creates a new rate limiter with the specified interval.
// A zero interval allows every action.
func New(interval time.Duration) *Limiter {
	return &Limiter{
		interval: interval,
		now:      time.Now,
	}
}

// Allow checks if an action is allowed at this time.
// Returns true if allowed (and records this as the last allowed time),
// or false with the remaining wait duration if rate-limited.
func (l *Limiter) Allow() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowAt(l.now())
}

func (l *Limiter) allowAt(now time.Time) (bool, time.Duration) {
	if l.lastAllowed.IsZero() || now.Sub(l.lastAllowed) >= l.interval {
		l.lastAllowed = now
		return true, 0
	}
	return false, l.interval - now.Sub(l.lastAllowed)
}

// Group rate-limits actions independently per key
type Group struct {
	mu       sync.Mutex
	interval time.Duration
	limiters map[string]*Limiter
	now      func() time.Time
}

// NewGroup creates a keyed limiter group
func NewGroup(interval time.Duration) *Group {
	return &Group{
		interval: interval,
		limiters: make(map[string]*Limiter),
		now:      time.Now,
	}
}

// Allow checks if an action for key is allowed at this time
func (g *Group) Allow(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.limiters[key]
	if !ok {
		l = New(g.interval)
		g.limiters[key] = l
	}
	allowed, _ := l.allowAt(g.now())
	return allowed
}

// Forget drops the state for key, so its next action is allowed
func (g *Group) Forget(key string) {
	g.mu.Lock()
	delete(g.limiters, key)
	g.mu.Unlock()
}

// Len returns the number of tracked keys
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.limiters)
}
