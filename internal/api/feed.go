package api

import (
	"context"
	"log/slog"
	"net/http"
)

// StreamFeed handles GET /api/trips/feed: an event stream of trips as they
// complete, across every server instance sharing the message transport.
func (h *Handler) StreamFeed(w http.ResponseWriter, r *http.Request) {
	if h.feed == nil {
		Error(w, http.StatusNotFound, "live feed disabled")
		return
	}

	stream, ok := startSSE(w)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	trips, stop := h.feed.Listen()
	defer stop()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go stream.keepalive(ctx, h.opts.KeepaliveInterval)

	slog.Info("Feed stream connected", "ip", r.RemoteAddr)
	if err := stream.Event("connected", map[string]string{"status": "connected"}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("Feed stream disconnected", "ip", r.RemoteAddr)
			return
		case t, ok := <-trips:
			if !ok {
				return
			}
			if err := stream.Event("trip", t); err != nil {
				slog.Warn("Failed to write feed event", "trip_id", t.ID, "error", err)
				return
			}
		}
	}
}
