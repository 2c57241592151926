package orchestrator

import "github.com/ashureev/tripsitter/internal/domain"

// EventType names a trip stream event.
type EventType string

const (
	EventPhase    EventType = "phase"
	EventText     EventType = "text"
	EventRating   EventType = "rating"
	EventComplete EventType = "complete"
	// EventError is only produced by transports, for admission failures.
	EventError EventType = "error"
)

// Event is one element of a trip stream.
type Event struct {
	Type EventType `json:"event"`
	Data any       `json:"data"`
}

// PhaseData announces the start of a phase.
type PhaseData struct {
	Phase domain.Phase `json:"phase"`
}

// TextData carries one fragment, not the cumulative phase text.
type TextData struct {
	Phase domain.Phase `json:"phase"`
	Text  string       `json:"text"`
}

// CompleteData closes the stream. ID is nil when the record was not stored.
type CompleteData struct {
	ID                  *string `json:"id"`
	Agent               string  `json:"agent,omitempty"`
	TripsRemainingToday *int    `json:"trips_remaining_today,omitempty"`
}

// ErrorData describes a rejected trip.
type ErrorData struct {
	Error             string `json:"error"`
	Reason            string `json:"reason,omitempty"`
	RetryAfterMinutes int    `json:"retry_after_minutes,omitempty"`
}

func phaseEvent(p domain.Phase) Event {
	return Event{Type: EventPhase, Data: PhaseData{Phase: p}}
}

func textEvent(p domain.Phase, text string) Event {
	return Event{Type: EventText, Data: TextData{Phase: p, Text: text}}
}

func ratingEvent(r domain.Rating) Event {
	return Event{Type: EventRating, Data: r}
}

// ErrorEvent builds the event a transport sends for an admission failure.
func ErrorEvent(err *AdmissionError) Event {
	return Event{Type: EventError, Data: ErrorData{
		Error:             err.Message(),
		Reason:            err.Reason,
		RetryAfterMinutes: err.RetryAfterMinutes,
	}}
}
