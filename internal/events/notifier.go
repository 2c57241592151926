package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ashureev/tripsitter/internal/domain"
)

// TripCompleted is the body of a trip.completed message.
type TripCompleted struct {
	ID          string    `json:"id"`
	Substance   string    `json:"substance"`
	Model       string    `json:"model"`
	AgentName   string    `json:"agent_name,omitempty"`
	ChaosLevel  int       `json:"chaos_level"`
	Rating      int       `json:"rating"`
	WouldRepeat bool      `json:"would_repeat"`
	Summary     string    `json:"summary"`
	CreatedAt   time.Time `json:"created_at"`
}

// Notifier publishes stored trips.
type Notifier struct {
	publisher message.Publisher
}

// NewNotifier creates a notifier over publisher.
func NewNotifier(publisher message.Publisher) *Notifier {
	return &Notifier{publisher: publisher}
}

// TripCompleted publishes rec to TopicTripCompleted.
func (n *Notifier) TripCompleted(ctx context.Context, rec *domain.Record) error {
	payload, err := json.Marshal(TripCompleted{
		ID:          rec.ID,
		Substance:   rec.ScenarioID,
		Model:       rec.ModelID,
		AgentName:   rec.AgentName,
		ChaosLevel:  rec.Intensity,
		Rating:      rec.Rating.Rating,
		WouldRepeat: rec.Rating.WouldRepeat,
		Summary:     rec.Rating.Summary,
		CreatedAt:   rec.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal trip completed: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("substance", rec.ScenarioID)
	msg.Metadata.Set("model", rec.ModelID)

	if err := n.publisher.Publish(TopicTripCompleted, msg); err != nil {
		return fmt.Errorf("publish %s: %w", TopicTripCompleted, err)
	}
	return nil
}
