// Package ratelimit gates trip creation against daily per-agent and global quotas.
//
// Counters live in an external store and are reset lazily: the first request
// after a UTC day boundary observes a stale day marker, treats the count as
// zero, and persists the reset. Admit and RecordStart are separate calls, so
// two concurrent requests can both be admitted before either increment lands.
// The quota is therefore a soft ceiling; the increments themselves are atomic,
// so each started session is counted exactly once.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ashureev/tripsitter/internal/domain"
)

// Class is the caller class a quota applies to.
type Class string

const (
	ClassDemo  Class = "anonymous-demo"
	ClassAgent Class = "registered-agent"
)

// Counter scopes. Agent-protocol and human-demo scopes never share a counter.
const (
	ScopeAgentGlobal = "agent_global"
	ScopeDemoGlobal  = "demo_global"
	agentScopePrefix = "agent:"
)

// Denial reasons.
const (
	ReasonAgentDaily       = "agent_daily_limit"
	ReasonAgentGlobalDaily = "agent_global_daily_limit"
	ReasonDemoDaily        = "demo_daily_limit"
)

// ErrUnknownClass is returned for a Class outside ClassDemo/ClassAgent.
var ErrUnknownClass = errors.New("unknown caller class")

// AgentScope returns the per-agent counter scope.
func AgentScope(agentID string) string {
	return agentScopePrefix + agentID
}

// CounterStore persists daily counters keyed by scope.
type CounterStore interface {
	// Counter returns the stored counter, or nil if none exists yet.
	Counter(ctx context.Context, scope string) (*domain.RateCounter, error)
	// ResetCounter zeroes the counter unless its day marker already equals day.
	ResetCounter(ctx context.Context, scope, day string) error
	// IncrementCounter atomically adds one for day and returns the new count.
	IncrementCounter(ctx context.Context, scope, day string) (int, error)
}

// Quotas are the fixed daily ceilings.
type Quotas struct {
	AgentDaily       int
	AgentGlobalDaily int
	DemoDaily        int
}

// Decision is the outcome of Admit.
type Decision struct {
	Allowed           bool
	Reason            string
	RetryAfterMinutes int
	Remaining         int
}

// Limiter decides admission against daily quotas.
type Limiter struct {
	store  CounterStore
	quotas Quotas
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter over store.
func New(store CounterStore, quotas Quotas, opts ...Option) *Limiter {
	l := &Limiter{store: store, quotas: quotas, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Quotas returns the configured ceilings.
func (l *Limiter) Quotas() Quotas {
	return l.quotas
}

// Day formats t as the UTC day marker.
func Day(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// RetryAfterMinutes returns the minutes until the next UTC midnight, rounded up.
func RetryAfterMinutes(now time.Time) int {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	return int(math.Ceil(next.Sub(now).Minutes()))
}

// Admit decides whether callerKey of class may start a session today.
// callerKey is the agent id for ClassAgent and ignored for ClassDemo.
func (l *Limiter) Admit(ctx context.Context, class Class, callerKey string) (Decision, error) {
	now := l.now()
	day := Day(now)

	switch class {
	case ClassAgent:
		own, err := l.effectiveCount(ctx, AgentScope(callerKey), day)
		if err != nil {
			return Decision{}, err
		}
		if own >= l.quotas.AgentDaily {
			return l.deny(ReasonAgentDaily, now), nil
		}
		global, err := l.effectiveCount(ctx, ScopeAgentGlobal, day)
		if err != nil {
			return Decision{}, err
		}
		if global >= l.quotas.AgentGlobalDaily {
			return l.deny(ReasonAgentGlobalDaily, now), nil
		}
		return Decision{Allowed: true, Remaining: l.quotas.AgentDaily - own}, nil

	case ClassDemo:
		global, err := l.effectiveCount(ctx, ScopeDemoGlobal, day)
		if err != nil {
			return Decision{}, err
		}
		if global >= l.quotas.DemoDaily {
			return l.deny(ReasonDemoDaily, now), nil
		}
		return Decision{Allowed: true, Remaining: l.quotas.DemoDaily - global}, nil
	}
	return Decision{}, fmt.Errorf("%w: %q", ErrUnknownClass, class)
}

// RecordStart counts one started session for the caller and its scope's
// global counter. It returns the caller's remaining quota for today.
func (l *Limiter) RecordStart(ctx context.Context, class Class, callerKey string) (int, error) {
	day := Day(l.now())

	switch class {
	case ClassAgent:
		own, err := l.store.IncrementCounter(ctx, AgentScope(callerKey), day)
		if err != nil {
			return 0, fmt.Errorf("increment agent counter: %w", err)
		}
		if _, err := l.store.IncrementCounter(ctx, ScopeAgentGlobal, day); err != nil {
			return 0, fmt.Errorf("increment agent global counter: %w", err)
		}
		return max(l.quotas.AgentDaily-own, 0), nil

	case ClassDemo:
		global, err := l.store.IncrementCounter(ctx, ScopeDemoGlobal, day)
		if err != nil {
			return 0, fmt.Errorf("increment demo counter: %w", err)
		}
		return max(l.quotas.DemoDaily-global, 0), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownClass, class)
}

// Status reports today's usage for a caller without modifying any counter.
func (l *Limiter) Status(ctx context.Context, class Class, callerKey string) (used, remaining int, err error) {
	day := Day(l.now())
	scope, quota := ScopeDemoGlobal, l.quotas.DemoDaily
	if class == ClassAgent {
		scope, quota = AgentScope(callerKey), l.quotas.AgentDaily
	}

	c, err := l.store.Counter(ctx, scope)
	if err != nil {
		return 0, 0, fmt.Errorf("read counter %s: %w", scope, err)
	}
	if c != nil && c.Day == day {
		used = c.Count
	}
	return used, max(quota-used, 0), nil
}

// effectiveCount returns today's count for scope, persisting a reset when the
// stored day marker is stale.
func (l *Limiter) effectiveCount(ctx context.Context, scope, day string) (int, error) {
	c, err := l.store.Counter(ctx, scope)
	if err != nil {
		return 0, fmt.Errorf("read counter %s: %w", scope, err)
	}
	if c != nil && c.Day == day {
		return c.Count, nil
	}
	if err := l.store.ResetCounter(ctx, scope, day); err != nil {
		return 0, fmt.Errorf("reset counter %s: %w", scope, err)
	}
	return 0, nil
}

func (l *Limiter) deny(reason string, now time.Time) Decision {
	return Decision{
		Allowed:           false,
		Reason:            reason,
		RetryAfterMinutes: RetryAfterMinutes(now),
	}
}
