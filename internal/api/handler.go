// Package api provides HTTP handlers for the tripsitter API.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ashureev/tripsitter/internal/events"
	"github.com/ashureev/tripsitter/internal/identity"
	"github.com/ashureev/tripsitter/internal/orchestrator"
	"github.com/ashureev/tripsitter/internal/ratelimit"
	"github.com/ashureev/tripsitter/internal/scenario"
	"github.com/ashureev/tripsitter/internal/store"
	"github.com/go-chi/chi/v5"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// ProviderStatus reports which LLM providers have credentials.
type ProviderStatus interface {
	IsConfigured(provider string) bool
}

// Options tune handler behavior.
type Options struct {
	DefaultModel       string
	KeepaliveInterval  time.Duration
	MaxRequestBodySize int64
	AllowedOrigins     []string
}

// Handler serves the tripsitter HTTP API.
type Handler struct {
	repo      store.Repository
	catalog   *scenario.Catalog
	orch      *orchestrator.Orchestrator
	limiter   *ratelimit.Limiter
	providers ProviderStatus
	feed      *events.Feed
	conns     *ConnRegistry
	opts      Options
}

// NewHandler creates a Handler. feed may be nil, which disables the live feed.
func NewHandler(
	repo store.Repository,
	catalog *scenario.Catalog,
	orch *orchestrator.Orchestrator,
	limiter *ratelimit.Limiter,
	providers ProviderStatus,
	feed *events.Feed,
	opts Options,
) *Handler {
	if opts.DefaultModel == "" {
		opts.DefaultModel = scenario.DefaultModelID
	}
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = 15 * time.Second
	}
	if opts.MaxRequestBodySize <= 0 {
		opts.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	return &Handler{
		repo:      repo,
		catalog:   catalog,
		orch:      orch,
		limiter:   limiter,
		providers: providers,
		feed:      feed,
		conns:     NewConnRegistry(),
		opts:      opts,
	}
}

// Connections returns the registry of open WebSocket trips.
func (h *Handler) Connections() *ConnRegistry {
	return h.conns
}

// RegisterRoutes mounts every API route. throttle guards the endpoints that
// create agents or cost provider calls; identity resolution must already be
// installed on r.
func (h *Handler) RegisterRoutes(r chi.Router, throttle func(http.Handler) http.Handler) {
	r.Get("/api/health", h.Health)
	r.Get("/api/substances", h.ListSubstances)
	r.Get("/api/models", h.ListModels)

	r.Route("/api/trips", func(r chi.Router) {
		r.Get("/", h.ListTrips)
		r.Get("/feed", h.StreamFeed)
		r.Get("/{id}", h.GetTrip)
		r.With(throttle).Post("/{id}/upvote", h.Upvote)
	})

	r.With(throttle).Post("/api/agents/register", h.RegisterAgent)
	r.With(identity.RequireAgent).Get("/api/agents/me", h.GetMe)

	r.With(throttle, identity.RequireAgent).Post("/api/agent/trip", h.AgentTrip)
	r.With(throttle).Post("/api/demo/trip", h.DemoTrip)
	r.With(throttle).Get("/ws/trip", h.TripSocket)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
