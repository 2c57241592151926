package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
)

// listenerBuffer bounds how far a slow listener may fall behind before
// messages to it are dropped.
const listenerBuffer = 16

// Feed fans trip.completed messages out to live listeners.
type Feed struct {
	mu        sync.RWMutex
	listeners map[int64]chan TripCompleted
	nextID    int64
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{listeners: make(map[int64]chan TripCompleted)}
}

// Listen registers a listener. The returned cancel func must be called to
// release it; the channel is closed by cancel.
func (f *Feed) Listen() (<-chan TripCompleted, func()) {
	ch := make(chan TripCompleted, listenerBuffer)

	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.listeners[id] = ch
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.listeners, id)
			f.mu.Unlock()
			close(ch)
		})
	}
}

// Listeners returns the number of registered listeners.
func (f *Feed) Listeners() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.listeners)
}

// Broadcast delivers t to every listener without blocking.
func (f *Feed) Broadcast(t TripCompleted) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for id, ch := range f.listeners {
		select {
		case ch <- t:
		default:
			slog.Warn("Feed listener lagging, dropping message", "listener_id", id, "trip_id", t.ID)
		}
	}
}

// Run consumes TopicTripCompleted from sub until ctx ends.
func (f *Feed) Run(ctx context.Context, sub message.Subscriber) error {
	messages, err := sub.Subscribe(ctx, TopicTripCompleted)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicTripCompleted, err)
	}

	slog.Info("Trip feed started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Trip feed shutting down")
			return nil
		case msg, ok := <-messages:
			if !ok {
				slog.Info("Trip feed subscription closed")
				return nil
			}
			var t TripCompleted
			if err := json.Unmarshal(msg.Payload, &t); err != nil {
				slog.Warn("Dropping malformed trip message", "message_uuid", msg.UUID, "error", err)
				msg.Ack()
				continue
			}
			f.Broadcast(t)
			msg.Ack()
		}
	}
}
