package events

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ashureev/tripsitter/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() *domain.Record {
	return &domain.Record{
		ID:           "trip-1",
		ScenarioID:   "quantum-lsd",
		ScenarioName: "Quantum LSD",
		ModelID:      "openai/gpt-4o-mini",
		Intensity:    4,
		Rating:       domain.Rating{Rating: 5, WouldRepeat: true, Summary: "Luminous."},
		CreatedAt:    time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
	}
}

func TestNotifierFeedsListeners(t *testing.T) {
	ps, err := NewPubSub(nil, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ps.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := NewFeed()
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx, ps.Subscriber) }()

	ch, stop := feed.Listen()
	defer stop()
	assert.Equal(t, 1, feed.Listeners())

	notifier := NewNotifier(ps.Publisher)

	// The in-process channel drops messages published before the feed has
	// subscribed, so keep publishing until one arrives.
	var got TripCompleted
	require.Eventually(t, func() bool {
		assert.NoError(t, notifier.TripCompleted(ctx, sampleRecord()))
		select {
		case got = <-ch:
			return true
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "trip-1", got.ID)
	assert.Equal(t, "quantum-lsd", got.Substance)
	assert.Equal(t, 5, got.Rating)
	assert.Equal(t, 4, got.ChaosLevel)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop")
	}
}

func TestFeedDropsForSlowListener(t *testing.T) {
	feed := NewFeed()
	ch, stop := feed.Listen()

	for i := 0; i < listenerBuffer+5; i++ {
		feed.Broadcast(TripCompleted{ID: "t"})
	}
	assert.Len(t, ch, listenerBuffer)

	stop()
	stop()
	assert.Equal(t, 0, feed.Listeners())
	feed.Broadcast(TripCompleted{ID: "after"})
}

func TestRedisPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ps, err := NewPubSub(client, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ps.Close() })

	require.NoError(t, NewNotifier(ps.Publisher).TripCompleted(context.Background(), sampleRecord()))

	n, err := client.XLen(context.Background(), TopicTripCompleted).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
