package ratelimit

import (
	"context"
	"errors"
	"strings"

	"github.com/ashureev/tripsitter/internal/domain"
	"github.com/ashureev/tripsitter/internal/store"
)

// ErrUnknownAgent is returned when a per-agent scope names a missing agent.
var ErrUnknownAgent = errors.New("unknown agent")

// RepositoryCounters adapts a store.Repository to CounterStore. Per-agent
// scopes map to the agents table, every other scope to rate_limits.
type RepositoryCounters struct {
	repo store.Repository
}

// NewRepositoryCounters wraps repo.
func NewRepositoryCounters(repo store.Repository) *RepositoryCounters {
	return &RepositoryCounters{repo: repo}
}

func agentIDFromScope(scope string) (string, bool) {
	return strings.CutPrefix(scope, agentScopePrefix)
}

// Counter returns the stored counter for scope.
func (c *RepositoryCounters) Counter(ctx context.Context, scope string) (*domain.RateCounter, error) {
	if id, ok := agentIDFromScope(scope); ok {
		agent, err := c.repo.GetAgent(ctx, id)
		if err != nil {
			return nil, err
		}
		if agent == nil {
			return nil, ErrUnknownAgent
		}
		return &domain.RateCounter{Scope: scope, Count: agent.TripsToday, Day: agent.LastTripDate}, nil
	}
	return c.repo.GetRateLimit(ctx, scope)
}

// ResetCounter zeroes the counter unless it is already dated day.
func (c *RepositoryCounters) ResetCounter(ctx context.Context, scope, day string) error {
	if id, ok := agentIDFromScope(scope); ok {
		return c.repo.ResetAgentTrips(ctx, id, day)
	}
	return c.repo.ResetRateLimit(ctx, scope, day)
}

// IncrementCounter adds one for day and returns the new count.
func (c *RepositoryCounters) IncrementCounter(ctx context.Context, scope, day string) (int, error) {
	if id, ok := agentIDFromScope(scope); ok {
		n, err := c.repo.IncrementAgentTrips(ctx, id, day)
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrUnknownAgent
		}
		return n, err
	}
	return c.repo.IncrementRateLimit(ctx, scope, day)
}

var _ CounterStore = (*RepositoryCounters)(nil)
