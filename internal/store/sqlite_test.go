package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/tripsitter/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "trips.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleRecord(scenario, model string, intensity int, created time.Time) *domain.Record {
	return &domain.Record{
		ScenarioID:   scenario,
		ScenarioName: scenario,
		ModelID:      model,
		Onset:        "o",
		Peak:         "p",
		Comedown:     "c",
		Intensity:    intensity,
		Rating:       domain.Rating{Rating: 5, WouldRepeat: false, Summary: "s"},
		CreatedAt:    created,
		Payload:      map[string]any{"phases": map[string]any{"onset": "o"}},
	}
}

func TestInsertAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agentID := "agent-1"
	rec := sampleRecord("quantum-lsd", "openai/gpt-4o", 4, time.Now())
	rec.AgentID = &agentID
	rec.AgentName = "bot"

	id, err := s.InsertSession(ctx, rec)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.GetSession(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "quantum-lsd", got.ScenarioID)
	assert.Equal(t, 5, got.Rating.Rating)
	assert.False(t, got.Rating.WouldRepeat)
	require.NotNil(t, got.AgentID)
	assert.Equal(t, "agent-1", *got.AgentID)
	assert.Contains(t, got.Payload, "phases")

	missing, err := s.GetSession(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestInsertGeneratesDistinctIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.InsertSession(ctx, sampleRecord("a", "m", 1, time.Now()))
	require.NoError(t, err)
	b, err := s.InsertSession(ctx, sampleRecord("a", "m", 1, time.Now()))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestListSessionsFiltersAndSorts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	idLow, err := s.InsertSession(ctx, sampleRecord("quantum-lsd", "openai/gpt-4o", 1, base))
	require.NoError(t, err)
	idHigh, err := s.InsertSession(ctx, sampleRecord("quantum-lsd", "anthropic/claude", 5, base.Add(time.Minute)))
	require.NoError(t, err)
	idOther, err := s.InsertSession(ctx, sampleRecord("digital-dmt", "openai/gpt-4o", 3, base.Add(2*time.Minute)))
	require.NoError(t, err)

	recent, err := s.ListSessions(ctx, SessionFilter{})
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, idOther, recent[0].ID)

	byScenario, err := s.ListSessions(ctx, SessionFilter{ScenarioID: "quantum-lsd", Sort: SortIntensity})
	require.NoError(t, err)
	require.Len(t, byScenario, 2)
	assert.Equal(t, idHigh, byScenario[0].ID)
	assert.Equal(t, idLow, byScenario[1].ID)

	byModel, err := s.ListSessions(ctx, SessionFilter{ModelID: "openai/gpt-4o"})
	require.NoError(t, err)
	assert.Len(t, byModel, 2)

	require.NoError(t, s.UpdatePayload(ctx, idLow, func(p map[string]any) error {
		p[domain.PayloadUpvotes] = 10
		p[domain.PayloadNotable] = true
		return nil
	}))

	byVotes, err := s.ListSessions(ctx, SessionFilter{Sort: SortVotes})
	require.NoError(t, err)
	assert.Equal(t, idLow, byVotes[0].ID)

	notable, err := s.ListSessions(ctx, SessionFilter{NotableOnly: true})
	require.NoError(t, err)
	require.Len(t, notable, 1)
	assert.Equal(t, idLow, notable[0].ID)
	assert.Equal(t, 10, notable[0].Upvotes())

	page, err := s.ListSessions(ctx, SessionFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, idHigh, page[0].ID)
}

func TestUpdatePayload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.UpdatePayload(ctx, "missing", func(map[string]any) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)

	id, err := s.InsertSession(ctx, sampleRecord("a", "m", 1, time.Now()))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.UpdatePayload(ctx, id, func(p map[string]any) error {
				n, _ := p[domain.PayloadUpvotes].(float64)
				p[domain.PayloadUpvotes] = n + 1
				return nil
			}))
		}()
	}
	wg.Wait()

	got, err := s.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Upvotes())

	boom := errors.New("boom")
	err = s.UpdatePayload(ctx, id, func(map[string]any) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestAgentLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent := &domain.Agent{Key: "psy_0123456789abcdef0123456789abcdef", Name: "bot"}
	require.NoError(t, s.CreateAgent(ctx, agent))
	require.NotEmpty(t, agent.ID)

	byKey, err := s.GetAgentByKey(ctx, agent.Key)
	require.NoError(t, err)
	require.NotNil(t, byKey)
	assert.Equal(t, agent.ID, byKey.ID)
	assert.Equal(t, 0, byKey.TripsToday)

	n, err := s.IncrementAgentTrips(ctx, agent.ID, "2026-10-18")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.IncrementAgentTrips(ctx, agent.ID, "2026-10-18")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Same day: reset is a no-op.
	require.NoError(t, s.ResetAgentTrips(ctx, agent.ID, "2026-10-18"))
	got, err := s.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TripsToday)

	require.NoError(t, s.ResetAgentTrips(ctx, agent.ID, "2026-10-19"))
	got, err = s.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.TripsToday)
	assert.Equal(t, "2026-10-19", got.LastTripDate)

	_, err = s.IncrementAgentTrips(ctx, "ghost", "2026-10-19")
	assert.ErrorIs(t, err, ErrNotFound)

	dup := &domain.Agent{Key: agent.Key, Name: "copy"}
	assert.Error(t, s.CreateAgent(ctx, dup))
}

func TestRateLimitCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c, err := s.GetRateLimit(ctx, "demo_global")
	require.NoError(t, err)
	assert.Nil(t, c)

	n, err := s.IncrementRateLimit(ctx, "demo_global", "2026-10-18")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.IncrementRateLimit(ctx, "demo_global", "2026-10-18")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// A new day restarts the count even without an explicit reset.
	n, err = s.IncrementRateLimit(ctx, "demo_global", "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.ResetRateLimit(ctx, "demo_global", "2026-10-19"))
	c, err = s.GetRateLimit(ctx, "demo_global")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Count, "reset on the same day must not clear the count")

	require.NoError(t, s.ResetRateLimit(ctx, "demo_global", "2026-10-20"))
	c, err = s.GetRateLimit(ctx, "demo_global")
	require.NoError(t, err)
	assert.Equal(t, 0, c.Count)
	assert.Equal(t, "2026-10-20", c.Day)

	require.NoError(t, s.ResetRateLimit(ctx, "agent_global", "2026-10-20"))
	c, err = s.GetRateLimit(ctx, "agent_global")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, 0, c.Count)
}
