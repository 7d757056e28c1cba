package api

import (
	"net/http"

	"go.uber.org/zap"

	"roleplay-chat/internal/logger"
)

// EventsHandler serves the SSE stream of chat state changes.
type EventsHandler struct {
	broadcaster *EventBroadcaster
}

// NewEventsHandler creates a new handler.
func NewEventsHandler(broadcaster *EventBroadcaster) *EventsHandler {
	return &EventsHandler{broadcaster: broadcaster}
}

// HandleEvents handles GET /api/events.
func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	eventCh := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(eventCh)

	if _, err := w.Write([]byte("event: connected\ndata: {}\n\n")); err != nil {
		logger.Log.Warn("sse_connect_write_failed", zap.Error(err))
		return
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			data, err := FormatSSE(event)
			if err != nil {
				logger.Log.Warn("sse_format_failed", zap.Error(err))
				continue
			}
			if _, err := w.Write(data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
