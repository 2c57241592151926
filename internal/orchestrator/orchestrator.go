// Package orchestrator runs trips: three streamed phases against one model,
// a self-rating, and a persisted record.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/tripsitter/internal/domain"
	"github.com/ashureev/tripsitter/internal/provider"
	"github.com/ashureev/tripsitter/internal/ratelimit"
	"github.com/google/uuid"
)

// Limiter gates trip starts against daily quotas.
type Limiter interface {
	Admit(ctx context.Context, class ratelimit.Class, callerKey string) (ratelimit.Decision, error)
	RecordStart(ctx context.Context, class ratelimit.Class, callerKey string) (int, error)
}

// Sink persists finished trips.
type Sink interface {
	InsertSession(ctx context.Context, rec *domain.Record) (string, error)
}

// Notifier is told about every stored trip.
type Notifier interface {
	TripCompleted(ctx context.Context, rec *domain.Record) error
}

// Config holds orchestrator limits.
type Config struct {
	MaxOutputTokens int
	RatingMaxTokens int
	PhaseTimeout    time.Duration // 0 = no timeout
}

// AdmissionError rejects a trip before any provider call is made.
type AdmissionError struct {
	Status            int
	Reason            string
	RetryAfterMinutes int
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("trip rejected: %s", e.Reason)
}

// Message is the human-readable form of the rejection.
func (e *AdmissionError) Message() string {
	switch e.Status {
	case http.StatusTooManyRequests:
		return "daily trip limit reached"
	case http.StatusUnauthorized:
		return "invalid credential"
	}
	return "trip rejected"
}

// ReasonInvalidCaller rejects an agent caller without an identity.
const ReasonInvalidCaller = "invalid_caller"

// Ticket is an admitted, counted trip start.
type Ticket struct {
	SessionID string
	Caller    domain.Caller
	Remaining int
}

// Orchestrator drives trips.
type Orchestrator struct {
	gateway  provider.Gateway
	limiter  Limiter
	sink     Sink
	notifier Notifier
	cfg      Config
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithNotifier publishes stored trips to n.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithClock overrides the time source for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator.
func New(gateway provider.Gateway, limiter Limiter, sink Sink, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gateway: gateway,
		limiter: limiter,
		sink:    sink,
		cfg:     cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func classOf(c domain.Caller) ratelimit.Class {
	if c.IsAgent() {
		return ratelimit.ClassAgent
	}
	return ratelimit.ClassDemo
}

// Admit checks the caller's quota and counts the trip as started. It returns
// *AdmissionError when the caller may not start a trip.
func (o *Orchestrator) Admit(ctx context.Context, caller domain.Caller) (*Ticket, error) {
	if caller.IsAgent() && caller.AgentID == "" {
		return nil, &AdmissionError{Status: http.StatusUnauthorized, Reason: ReasonInvalidCaller}
	}

	class := classOf(caller)
	decision, err := o.limiter.Admit(ctx, class, caller.AgentID)
	if err != nil {
		return nil, fmt.Errorf("admit trip: %w", err)
	}
	if !decision.Allowed {
		slog.Info("Trip rejected",
			"caller", caller.Kind,
			"agent_id", caller.AgentID,
			"reason", decision.Reason,
			"retry_after_minutes", decision.RetryAfterMinutes,
		)
		return nil, &AdmissionError{
			Status:            http.StatusTooManyRequests,
			Reason:            decision.Reason,
			RetryAfterMinutes: decision.RetryAfterMinutes,
		}
	}

	remaining, err := o.limiter.RecordStart(ctx, class, caller.AgentID)
	if err != nil {
		return nil, fmt.Errorf("record trip start: %w", err)
	}

	return &Ticket{
		SessionID: uuid.NewString(),
		Caller:    caller,
		Remaining: remaining,
	}, nil
}

// session is the working state of one trip.
type session struct {
	ticket   *Ticket
	scenario *domain.Scenario
	model    domain.Model
	texts    map[domain.Phase]string
	rating   domain.Rating
}

// Run streams one trip. The sequence is phase, text..., for each phase in
// order, then rating and complete. If ctx is cancelled or the consumer stops
// iterating, the trip is abandoned and nothing is stored.
func (o *Orchestrator) Run(ctx context.Context, ticket *Ticket, scenario *domain.Scenario, model domain.Model) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		s := &session{
			ticket:   ticket,
			scenario: scenario,
			model:    model,
			texts:    make(map[domain.Phase]string, 3),
		}
		log := slog.With("session_id", ticket.SessionID, "substance", scenario.ID, "model", model.ID())
		log.Info("Trip started", "caller", ticket.Caller.Kind, "agent_id", ticket.Caller.AgentID)

		for _, phase := range domain.Phases() {
			if !yield(phaseEvent(phase)) || !o.runPhase(ctx, log, s, phase, yield) {
				log.Info("Trip abandoned", "phase", phase, "error", ctx.Err())
				return
			}
		}

		s.rating = o.rate(ctx, log, s)
		if ctx.Err() != nil || !yield(ratingEvent(s.rating)) {
			log.Info("Trip abandoned", "phase", "rating", "error", ctx.Err())
			return
		}

		yield(o.finalize(ctx, log, s))
	}
}

// runPhase streams one phase. It returns false when the trip must stop.
func (o *Orchestrator) runPhase(ctx context.Context, log *slog.Logger, s *session, phase domain.Phase, yield func(Event) bool) bool {
	pctx := ctx
	if o.cfg.PhaseTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, o.cfg.PhaseTimeout)
		defer cancel()
	}

	req := provider.Request{
		System:    systemPrompt(s.scenario, phase),
		User:      userPrompt(s.scenario, phase),
		Model:     s.model,
		MaxTokens: o.cfg.MaxOutputTokens,
	}

	var text strings.Builder
	var failure error
	for fragment, err := range o.gateway.Stream(pctx, req) {
		if err != nil {
			failure = err
			break
		}
		text.WriteString(fragment)
		if !yield(textEvent(phase, fragment)) {
			return false
		}
	}

	if ctx.Err() != nil {
		return false
	}
	if failure == nil && strings.TrimSpace(text.String()) == "" {
		failure = provider.ErrEmptyResponse
	}
	if failure != nil {
		log.Warn("Phase failed, using placeholder",
			"phase", phase,
			"provider", s.model.Provider,
			"error", failure,
			"timeout", errors.Is(failure, context.DeadlineExceeded),
		)
		s.texts[phase] = PlaceholderText
		return yield(textEvent(phase, PlaceholderText))
	}

	s.texts[phase] = text.String()
	return true
}

// rate asks the model for its self-rating. It never fails; defaults stand in
// for anything unusable.
func (o *Orchestrator) rate(ctx context.Context, log *slog.Logger, s *session) domain.Rating {
	rctx := ctx
	if o.cfg.PhaseTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, o.cfg.PhaseTimeout)
		defer cancel()
	}

	reply, err := o.gateway.Complete(rctx, provider.Request{
		System:    ratingSystem,
		User:      ratingUserPrompt(s.scenario, s.texts),
		Model:     s.model,
		MaxTokens: o.cfg.RatingMaxTokens,
	})
	if err != nil {
		log.Warn("Rating failed, using defaults", "provider", s.model.Provider, "error", err)
		return domain.DefaultRating()
	}

	rating := ParseRating(reply)
	log.Debug("Rating parsed", "rating", rating.Rating, "would_repeat", rating.WouldRepeat, "reply_length", len(reply))
	return rating
}

// finalize stores the record and builds the complete event.
func (o *Orchestrator) finalize(ctx context.Context, log *slog.Logger, s *session) Event {
	rec := s.record(o.now().UTC())

	data := CompleteData{}
	if s.ticket.Caller.IsAgent() {
		remaining := s.ticket.Remaining
		data.Agent = s.ticket.Caller.AgentName
		data.TripsRemainingToday = &remaining
	}

	id, err := o.sink.InsertSession(ctx, rec)
	if err != nil {
		log.Error("Failed to store trip", "error", err)
		return Event{Type: EventComplete, Data: data}
	}
	rec.ID = id
	data.ID = &id
	log.Info("Trip completed", "trip_id", id, "rating", rec.Rating.Rating)

	if o.notifier != nil {
		if err := o.notifier.TripCompleted(ctx, rec); err != nil {
			log.Warn("Failed to publish trip completion", "trip_id", id, "error", err)
		}
	}
	return Event{Type: EventComplete, Data: data}
}

func (s *session) record(now time.Time) *domain.Record {
	caller := s.ticket.Caller
	phases := make(map[string]any, len(s.texts))
	for p, text := range s.texts {
		phases[string(p)] = text
	}

	payload := map[string]any{
		domain.PayloadPhases: phases,
		"caller":             string(caller.Kind),
		"model":              s.model.Name,
		"provider":           s.model.Provider,
	}

	rec := &domain.Record{
		ScenarioID:   s.scenario.ID,
		ScenarioName: s.scenario.Name,
		ModelID:      s.model.ID(),
		Intensity:    s.scenario.Intensity,
		Rating:       s.rating,
		CreatedAt:    now,
		Payload:      payload,
	}
	for p, text := range s.texts {
		rec.SetPhaseText(p, text)
	}
	if caller.IsAgent() {
		id := caller.AgentID
		rec.AgentID = &id
		rec.AgentName = caller.AgentName
		payload["agent"] = map[string]any{"id": caller.AgentID, "name": caller.AgentName}
	}
	return rec
}
