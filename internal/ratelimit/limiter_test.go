package ratelimit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ashureev/tripsitter/internal/domain"
	"github.com/ashureev/tripsitter/internal/store"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testQuotas = Quotas{AgentDaily: 5, AgentGlobalDaily: 500, DemoDaily: 100}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newRepoCounters(t *testing.T) (*RepositoryCounters, store.Repository) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "limits.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return NewRepositoryCounters(repo), repo
}

func newRedisCounters(t *testing.T) *RedisCounters {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCounters(client)
}

func createAgent(t *testing.T, repo store.Repository) string {
	t.Helper()
	a := &domain.Agent{Key: "psy_" + uuid.NewString(), Name: "bot"}
	require.NoError(t, repo.CreateAgent(context.Background(), a))
	return a.ID
}

func TestRetryAfterMinutes(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"two minutes before midnight", time.Date(2026, 10, 19, 23, 58, 0, 0, time.UTC), 2},
		{"partial minute rounds up", time.Date(2026, 10, 19, 23, 58, 30, 0, time.UTC), 2},
		{"at midnight", time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), 1440},
		{"non-UTC input", time.Date(2026, 10, 19, 19, 58, 0, 0, time.FixedZone("EDT", -4*3600)), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RetryAfterMinutes(tt.now))
		})
	}
}

func TestAgentQuotaExhaustion(t *testing.T) {
	counters, repo := newRepoCounters(t)
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 10, 19, 23, 58, 0, 0, time.UTC)}
	l := New(counters, testQuotas, WithClock(clock.now))
	agentID := createAgent(t, repo)

	for i := 0; i < testQuotas.AgentDaily-1; i++ {
		d, err := l.Admit(ctx, ClassAgent, agentID)
		require.NoError(t, err)
		require.True(t, d.Allowed)
		_, err = l.RecordStart(ctx, ClassAgent, agentID)
		require.NoError(t, err)
	}

	d, err := l.Admit(ctx, ClassAgent, agentID)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
	remaining, err := l.RecordStart(ctx, ClassAgent, agentID)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	d, err = l.Admit(ctx, ClassAgent, agentID)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonAgentDaily, d.Reason)
	assert.Equal(t, 2, d.RetryAfterMinutes)
}

func TestAgentCounterResetsOnNewDay(t *testing.T) {
	counters, repo := newRepoCounters(t)
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)}
	l := New(counters, testQuotas, WithClock(clock.now))
	agentID := createAgent(t, repo)

	for i := 0; i < testQuotas.AgentDaily; i++ {
		_, err := l.RecordStart(ctx, ClassAgent, agentID)
		require.NoError(t, err)
	}
	d, err := l.Admit(ctx, ClassAgent, agentID)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	clock.t = clock.t.Add(24 * time.Hour)
	d, err = l.Admit(ctx, ClassAgent, agentID)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, testQuotas.AgentDaily, d.Remaining)

	agent, err := repo.GetAgent(ctx, agentID)
	require.NoError(t, err)
	assert.Equal(t, 0, agent.TripsToday)
	assert.Equal(t, "2026-10-19", agent.LastTripDate)
}

func TestAgentGlobalQuota(t *testing.T) {
	counters, repo := newRepoCounters(t)
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)}
	l := New(counters, Quotas{AgentDaily: 5, AgentGlobalDaily: 2, DemoDaily: 100}, WithClock(clock.now))

	first, second := createAgent(t, repo), createAgent(t, repo)
	for _, id := range []string{first, second} {
		_, err := l.RecordStart(ctx, ClassAgent, id)
		require.NoError(t, err)
	}

	third := createAgent(t, repo)
	d, err := l.Admit(ctx, ClassAgent, third)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonAgentGlobalDaily, d.Reason)
	assert.Equal(t, 14*60, d.RetryAfterMinutes)
}

func TestDemoQuotaIndependentOfAgents(t *testing.T) {
	counters := newRedisCounters(t)
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)}
	l := New(counters, Quotas{AgentDaily: 5, AgentGlobalDaily: 1, DemoDaily: 2}, WithClock(clock.now))

	_, err := l.RecordStart(ctx, ClassAgent, "agent-1")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		d, err := l.Admit(ctx, ClassDemo, "")
		require.NoError(t, err)
		require.True(t, d.Allowed, "demo trip %d", i)
		_, err = l.RecordStart(ctx, ClassDemo, "")
		require.NoError(t, err)
	}

	d, err := l.Admit(ctx, ClassDemo, "")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDemoDaily, d.Reason)
}

func TestRedisCountersLazyReset(t *testing.T) {
	counters := newRedisCounters(t)
	ctx := context.Background()

	c, err := counters.Counter(ctx, ScopeDemoGlobal)
	require.NoError(t, err)
	assert.Nil(t, c)

	n, err := counters.IncrementCounter(ctx, ScopeDemoGlobal, "2026-10-18")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = counters.IncrementCounter(ctx, ScopeDemoGlobal, "2026-10-18")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, counters.ResetCounter(ctx, ScopeDemoGlobal, "2026-10-18"))
	c, err = counters.Counter(ctx, ScopeDemoGlobal)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Count)

	n, err = counters.IncrementCounter(ctx, ScopeDemoGlobal, "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, counters.ResetCounter(ctx, ScopeDemoGlobal, "2026-10-20"))
	c, err = counters.Counter(ctx, ScopeDemoGlobal)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Count)
	assert.Equal(t, "2026-10-20", c.Day)
}

func TestStatusDoesNotWrite(t *testing.T) {
	counters, repo := newRepoCounters(t)
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)}
	l := New(counters, testQuotas, WithClock(clock.now))
	agentID := createAgent(t, repo)

	_, err := l.RecordStart(ctx, ClassAgent, agentID)
	require.NoError(t, err)

	used, remaining, err := l.Status(ctx, ClassAgent, agentID)
	require.NoError(t, err)
	assert.Equal(t, 1, used)
	assert.Equal(t, 4, remaining)

	clock.t = clock.t.Add(24 * time.Hour)
	used, remaining, err = l.Status(ctx, ClassAgent, agentID)
	require.NoError(t, err)
	assert.Equal(t, 0, used)
	assert.Equal(t, 5, remaining)

	agent, err := repo.GetAgent(ctx, agentID)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-18", agent.LastTripDate)
}

func TestUnknownAgentScope(t *testing.T) {
	counters, _ := newRepoCounters(t)
	l := New(counters, testQuotas)

	_, err := l.Admit(context.Background(), ClassAgent, "ghost")
	assert.ErrorIs(t, err, ErrUnknownAgent)

	_, err = l.Admit(context.Background(), Class("robot"), "")
	assert.ErrorIs(t, err, ErrUnknownClass)
}
