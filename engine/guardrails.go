package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Guardrails decides whether a user may start a turn and learns from turn
// outcomes.
type Guardrails interface {
	Check(ctx context.Context, userID string) (*GuardrailResult, error)
	RecordSuccess(ctx context.Context, userID string)
	RecordFailure(ctx context.Context, userID string)
}

type GuardrailResult struct {
	Allowed bool
	// Warning explains a refusal.
	Warning string
}

// Limiter is a process-local Guardrails: a token bucket per user plus a
// circuit breaker that pauses users whose turns keep failing.
type Limiter struct {
	limit       rate.Limit
	burst       int
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu    sync.Mutex
	users map[string]*userGuard
}

type userGuard struct {
	limiter   *rate.Limiter
	failures  int
	openUntil time.Time
}

type LimiterOption func(*Limiter)

// WithCircuitBreaker pauses a user for cooldown after maxFailures
// consecutive failed turns. Zero maxFailures disables the breaker.
func WithCircuitBreaker(maxFailures int, cooldown time.Duration) LimiterOption {
	return func(l *Limiter) {
		l.maxFailures = maxFailures
		l.cooldown = cooldown
	}
}

// NewLimiter allows each user requestsPerMinute turns with the given burst.
func NewLimiter(requestsPerMinute float64, burst int, opts ...LimiterOption) *Limiter {
	if burst < 1 {
		burst = 1
	}
	l := &Limiter{
		limit:       rate.Limit(requestsPerMinute / 60.0),
		burst:       burst,
		maxFailures: 5,
		cooldown:    time.Minute,
		now:         time.Now,
		users:       make(map[string]*userGuard),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) guard(userID string) *userGuard {
	g, ok := l.users[userID]
	if !ok {
		g = &userGuard{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.users[userID] = g
	}
	return g
}

func (l *Limiter) Check(_ context.Context, userID string) (*GuardrailResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	g := l.guard(userID)
	now := l.now()
	if now.Before(g.openUntil) {
		return &GuardrailResult{Warning: fmt.Sprintf("too many failed turns, retry after %s", g.openUntil.Sub(now).Round(time.Second))}, nil
	}
	if !g.limiter.AllowN(now, 1) {
		return &GuardrailResult{Warning: "rate limit exceeded"}, nil
	}
	return &GuardrailResult{Allowed: true}, nil
}

func (l *Limiter) RecordSuccess(_ context.Context, userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	g := l.guard(userID)
	g.failures = 0
}

func (l *Limiter) RecordFailure(_ context.Context, userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	g := l.guard(userID)
	g.failures++
	if l.maxFailures > 0 && g.failures >= l.maxFailures {
		g.openUntil = l.now().Add(l.cooldown)
		g.failures = 0
	}
}
