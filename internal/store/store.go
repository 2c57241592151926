// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/ashureev/tripsitter/internal/domain"
)

// ErrNotFound is returned by write paths that target a missing row.
var ErrNotFound = errors.New("not found")

// SortOrder selects how ListSessions orders records.
type SortOrder string

const (
	SortRecent    SortOrder = "recent"
	SortVotes     SortOrder = "votes"
	SortIntensity SortOrder = "intensity"
)

// ParseSortOrder maps a query value to a SortOrder, defaulting to recent.
func ParseSortOrder(s string) (SortOrder, bool) {
	switch SortOrder(s) {
	case "", SortRecent:
		return SortRecent, true
	case SortVotes:
		return SortVotes, true
	case SortIntensity:
		return SortIntensity, true
	}
	return SortRecent, false
}

// SessionFilter narrows ListSessions.
type SessionFilter struct {
	ScenarioID  string
	ModelID     string
	AgentID     string
	NotableOnly bool
	Sort        SortOrder
	Limit       int
	Offset      int
}

// PayloadMutator edits a record's free-form payload in place.
type PayloadMutator func(payload map[string]any) error

// Repository defines the interface for persisting trips, agents and rate limit counters.
type Repository interface {
	// InsertSession stores a finished trip and returns its generated id.
	InsertSession(ctx context.Context, rec *domain.Record) (string, error)

	// GetSession retrieves a trip by id. Returns (nil, nil) when absent.
	GetSession(ctx context.Context, id string) (*domain.Record, error)

	// ListSessions returns trips matching the filter.
	ListSessions(ctx context.Context, filter SessionFilter) ([]*domain.Record, error)

	// UpdatePayload applies mutate to the stored payload of a trip.
	// Returns ErrNotFound if the trip does not exist.
	UpdatePayload(ctx context.Context, id string, mutate PayloadMutator) error

	// CreateAgent stores a newly registered agent.
	CreateAgent(ctx context.Context, agent *domain.Agent) error

	// GetAgent retrieves an agent by id. Returns (nil, nil) when absent.
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)

	// GetAgentByKey retrieves an agent by credential. Returns (nil, nil) when absent.
	GetAgentByKey(ctx context.Context, key string) (*domain.Agent, error)

	// ResetAgentTrips zeroes an agent's daily count if its day marker differs from day.
	ResetAgentTrips(ctx context.Context, agentID, day string) error

	// IncrementAgentTrips adds one trip for day and returns the new count.
	IncrementAgentTrips(ctx context.Context, agentID, day string) (int, error)

	// GetRateLimit retrieves a global counter. Returns (nil, nil) when absent.
	GetRateLimit(ctx context.Context, scope string) (*domain.RateCounter, error)

	// ResetRateLimit zeroes a global counter if its day marker differs from day.
	ResetRateLimit(ctx context.Context, scope, day string) error

	// IncrementRateLimit adds one to a global counter for day and returns the new count.
	IncrementRateLimit(ctx context.Context, scope, day string) (int, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
