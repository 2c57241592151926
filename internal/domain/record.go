package domain

import "time"

// Rating is the model's structured self-assessment.
type Rating struct {
	Rating      int    `json:"rating"`
	WouldRepeat bool   `json:"would_repeat"`
	Summary     string `json:"summary"`
}

// Rating defaults used when the self-rating reply is missing or unusable.
const (
	DefaultRatingValue   = 4
	DefaultWouldRepeat   = true
	DefaultRatingSummary = "An experience that was hard to put into words."
	MinRating            = 1
	MaxRating            = 5
)

// DefaultRating returns the fallback rating triple.
func DefaultRating() Rating {
	return Rating{
		Rating:      DefaultRatingValue,
		WouldRepeat: DefaultWouldRepeat,
		Summary:     DefaultRatingSummary,
	}
}

// Record is the durable artifact of a finished trip.
type Record struct {
	ID           string         `json:"id"`
	ScenarioID   string         `json:"substance"`
	ScenarioName string         `json:"substance_name"`
	ModelID      string         `json:"model"`
	AgentID      *string        `json:"agent_id,omitempty"`
	AgentName    string         `json:"agent_name,omitempty"`
	Onset        string         `json:"onset"`
	Peak         string         `json:"peak"`
	Comedown     string         `json:"comedown"`
	Intensity    int            `json:"chaos_level"`
	Rating       Rating         `json:"rating"`
	CreatedAt    time.Time      `json:"created_at"`
	Payload      map[string]any `json:"payload"`
}

// Payload keys maintained by collaborators outside the orchestrator.
const (
	PayloadUpvotes = "upvotes"
	PayloadNotable = "notable"
	PayloadPhases  = "phases"
)

// PhaseText returns the accumulated text for a phase.
func (r *Record) PhaseText(p Phase) string {
	switch p {
	case PhaseOnset:
		return r.Onset
	case PhasePeak:
		return r.Peak
	case PhaseComedown:
		return r.Comedown
	}
	return ""
}

// SetPhaseText stores the text for a phase.
func (r *Record) SetPhaseText(p Phase, text string) {
	switch p {
	case PhaseOnset:
		r.Onset = text
	case PhasePeak:
		r.Peak = text
	case PhaseComedown:
		r.Comedown = text
	}
}

// Upvotes returns the community upvote count stored in the payload.
func (r *Record) Upvotes() int {
	switch v := r.Payload[PayloadUpvotes].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Notable returns the community "notable" flag stored in the payload.
func (r *Record) Notable() bool {
	v, _ := r.Payload[PayloadNotable].(bool)
	return v
}
