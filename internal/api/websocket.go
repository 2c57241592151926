package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/tripsitter/internal/identity"
	"github.com/ashureev/tripsitter/internal/orchestrator"
	"github.com/coder/websocket"
)

// socketWriteTimeout bounds a single message write to a slow client.
const socketWriteTimeout = 10 * time.Second

// TripSocket handles GET /ws/trip?substance=..&model=.. and streams the trip
// as one JSON text message per event. Browsers cannot set an Authorization
// header on a WebSocket, so agents may also pass ?api_key=.
func (h *Handler) TripSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sc, model, err := h.resolveTrip(tripRequest{Substance: q.Get("substance"), Model: q.Get("model")})
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	caller := identity.CallerFromContext(r.Context())
	if key := q.Get("api_key"); key != "" && !caller.IsAgent() {
		caller, err = identity.Resolve(r.Context(), h.repo, key)
		if errors.Is(err, identity.ErrInvalidKey) {
			Error(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		if err != nil {
			slog.Error("Failed to resolve socket caller", "error", err)
			Error(w, http.StatusInternalServerError, "failed to resolve caller")
			return
		}
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(h.opts.AllowedOrigins),
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "trip ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	// The client never sends anything; CloseRead cancels ctx when it goes away.
	ctx := ws.CloseRead(r.Context())

	ticket, err := h.orch.Admit(ctx, caller)
	if err != nil {
		h.rejectSocket(ctx, ws, err)
		return
	}

	h.conns.Register(ticket.SessionID, ws)
	defer h.conns.Unregister(ticket.SessionID, ws)

	slog.Info("Trip socket opened",
		"session_id", ticket.SessionID,
		"caller", caller.Kind,
		"substance", sc.ID,
		"model", model.ID(),
	)

	for ev := range h.orch.Run(ctx, ticket, sc, model) {
		if err := writeSocketJSON(ctx, ws, ev); err != nil {
			slog.Debug("Trip socket write failed", "session_id", ticket.SessionID, "error", err)
			return
		}
	}
}

func (h *Handler) rejectSocket(ctx context.Context, ws *websocket.Conn, err error) {
	var admission *orchestrator.AdmissionError
	if !errors.As(err, &admission) {
		slog.Error("Trip admission failed", "error", err)
		_ = writeSocketJSON(ctx, ws, orchestrator.Event{
			Type: orchestrator.EventError,
			Data: orchestrator.ErrorData{Error: "failed to start trip"},
		})
		_ = ws.Close(websocket.StatusInternalError, "admission failed")
		return
	}
	_ = writeSocketJSON(ctx, ws, orchestrator.ErrorEvent(admission))
	_ = ws.Close(websocket.StatusPolicyViolation, admission.Reason)
}

func writeSocketJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, socketWriteTimeout)
	defer cancel()
	return ws.Write(wctx, websocket.MessageText, data)
}

// originPatterns converts configured origins to host patterns for Accept.
func originPatterns(origins []string) []string {
	var patterns []string
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, strings.TrimSpace(o))
	}
	return patterns
}
