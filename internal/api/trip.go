package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ashureev/tripsitter/internal/domain"
	"github.com/ashureev/tripsitter/internal/identity"
	"github.com/ashureev/tripsitter/internal/orchestrator"
	"github.com/ashureev/tripsitter/internal/scenario"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

type tripRequest struct {
	Substance string `json:"substance"`
	Model     string `json:"model,omitempty"`
}

// resolveTrip validates the requested scenario and model.
func (h *Handler) resolveTrip(req tripRequest) (*domain.Scenario, domain.Model, error) {
	substance := strings.TrimSpace(req.Substance)
	if substance == "" {
		return nil, domain.Model{}, errors.New("substance is required")
	}
	sc, err := h.catalog.Lookup(substance)
	if err != nil {
		return nil, domain.Model{}, err
	}
	model, err := scenario.LookupModel(strings.TrimSpace(req.Model), h.opts.DefaultModel)
	if err != nil {
		return nil, domain.Model{}, err
	}
	return sc, model, nil
}

// AgentTrip handles POST /api/agent/trip for registered agents.
func (h *Handler) AgentTrip(w http.ResponseWriter, r *http.Request) {
	h.streamTrip(w, r, identity.CallerFromContext(r.Context()))
}

// DemoTrip handles POST /api/demo/trip. Credentials are ignored here.
func (h *Handler) DemoTrip(w http.ResponseWriter, r *http.Request) {
	h.streamTrip(w, r, domain.DemoCaller())
}

func (h *Handler) streamTrip(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxRequestBodySize)

	var req tripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sc, model, err := h.resolveTrip(req)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, ok := w.(http.Flusher); !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()
	ticket, err := h.orch.Admit(ctx, caller)
	if err != nil {
		writeAdmissionError(w, err)
		return
	}

	slog.Info("Trip stream opened",
		"session_id", ticket.SessionID,
		"request_id", chiMiddleware.GetReqID(ctx),
		"caller", caller.Kind,
		"agent_id", caller.AgentID,
		"substance", sc.ID,
		"model", model.ID(),
	)

	stream, _ := startSSE(w)
	kctx, stopKeepalive := context.WithCancel(ctx)
	defer stopKeepalive()
	go stream.keepalive(kctx, h.opts.KeepaliveInterval)

	for ev := range h.orch.Run(ctx, ticket, sc, model) {
		if err := stream.Event(string(ev.Type), ev.Data); err != nil {
			slog.Warn("Failed to write trip event", "session_id", ticket.SessionID, "event", ev.Type, "error", err)
			return
		}
	}
}

// writeAdmissionError maps an Admit failure to an HTTP response.
func writeAdmissionError(w http.ResponseWriter, err error) {
	var admission *orchestrator.AdmissionError
	if !errors.As(err, &admission) {
		slog.Error("Trip admission failed", "error", err)
		Error(w, http.StatusInternalServerError, "failed to start trip")
		return
	}
	if admission.RetryAfterMinutes > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(admission.RetryAfterMinutes*60))
	}
	JSON(w, admission.Status, orchestrator.ErrorEvent(admission).Data)
}
