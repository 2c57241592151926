package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ashureev/tripsitter/internal/domain"
	"github.com/ashureev/tripsitter/internal/store"
	"github.com/go-chi/chi/v5"
)

const (
	defaultTripPageSize = 20
	maxTripPageSize     = 100
	// notableUpvotes is the upvote count at which a trip is flagged notable.
	notableUpvotes = 5
)

// ListTrips handles GET /api/trips.
func (h *Handler) ListTrips(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	sort, ok := store.ParseSortOrder(q.Get("sort"))
	if !ok {
		Error(w, http.StatusBadRequest, "sort must be recent, votes or intensity")
		return
	}
	limit, err := intParam(q.Get("limit"), defaultTripPageSize)
	if err != nil || limit < 1 || limit > maxTripPageSize {
		Error(w, http.StatusBadRequest, "limit must be between 1 and 100")
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		Error(w, http.StatusBadRequest, "offset must be >= 0")
		return
	}
	notable := false
	if v := q.Get("notable"); v != "" {
		if notable, err = strconv.ParseBool(v); err != nil {
			Error(w, http.StatusBadRequest, "notable must be a boolean")
			return
		}
	}

	trips, err := h.repo.ListSessions(r.Context(), store.SessionFilter{
		ScenarioID:  q.Get("substance"),
		ModelID:     q.Get("model"),
		AgentID:     q.Get("agent_id"),
		NotableOnly: notable,
		Sort:        sort,
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		slog.Error("Failed to list trips", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list trips")
		return
	}
	if trips == nil {
		trips = []*domain.Record{}
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"trips":  trips,
		"limit":  limit,
		"offset": offset,
	})
}

// GetTrip handles GET /api/trips/{id}.
func (h *Handler) GetTrip(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trip, err := h.repo.GetSession(r.Context(), id)
	if err != nil {
		slog.Error("Failed to get trip", "trip_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to get trip")
		return
	}
	if trip == nil {
		Error(w, http.StatusNotFound, "trip not found")
		return
	}
	JSON(w, http.StatusOK, trip)
}

// Upvote handles POST /api/trips/{id}/upvote. Trips that collect enough
// votes are flagged notable.
func (h *Handler) Upvote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var upvotes int
	var notable bool
	err := h.repo.UpdatePayload(r.Context(), id, func(p map[string]any) error {
		rec := domain.Record{Payload: p}
		upvotes = rec.Upvotes() + 1
		notable = rec.Notable() || upvotes >= notableUpvotes
		p[domain.PayloadUpvotes] = upvotes
		p[domain.PayloadNotable] = notable
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "trip not found")
		return
	}
	if err != nil {
		slog.Error("Failed to upvote trip", "trip_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to upvote trip")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"id":      id,
		"upvotes": upvotes,
		"notable": notable,
	})
}

func intParam(s string, fallback int) (int, error) {
	if s == "" {
		return fallback, nil
	}
	return strconv.Atoi(s)
}
