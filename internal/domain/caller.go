package domain

import "time"

// CallerKind distinguishes anonymous demo traffic from registered agents.
type CallerKind string

const (
	CallerDemo  CallerKind = "demo"
	CallerAgent CallerKind = "agent"
)

// Caller identifies who started a trip.
type Caller struct {
	Kind      CallerKind
	AgentID   string
	AgentName string
}

// DemoCaller returns the anonymous demo caller.
func DemoCaller() Caller {
	return Caller{Kind: CallerDemo}
}

// IsAgent returns true for registered agent callers.
func (c Caller) IsAgent() bool {
	return c.Kind == CallerAgent
}

// Agent is a registered agent identity holding a unique credential.
type Agent struct {
	ID           string    `json:"id"`
	Key          string    `json:"-"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	TripsToday   int       `json:"trips_today"`
	LastTripDate string    `json:"last_trip_date,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// RateCounter is a durable daily counter keyed by scope.
type RateCounter struct {
	Scope string
	Count int
	Day   string // YYYY-MM-DD, UTC
}
