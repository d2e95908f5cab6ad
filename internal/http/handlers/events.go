package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shelfarr/shelfarr/internal/events"
)

// EventsHandler streams bus events to clients over SSE.
type EventsHandler struct {
	bus               *events.Bus
	logger            *slog.Logger
	heartbeatInterval time.Duration
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(bus *events.Bus, logger *slog.Logger) *EventsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventsHandler{
		bus:               bus,
		logger:            logger,
		heartbeatInterval: 30 * time.Second,
	}
}

// SetHeartbeatInterval sets the SSE heartbeat interval (for testing).
func (h *EventsHandler) SetHeartbeatInterval(interval time.Duration) {
	h.heartbeatInterval = interval
}

// RegisterSSE registers the SSE endpoint on a chi router. This bypasses
// huma because SSE needs direct control of the response stream.
func (h *EventsHandler) RegisterSSE(router interface {
	Get(pattern string, handlerFn http.HandlerFunc)
}) {
	router.Get("/api/v1/events", h.HandleSSE)
}

// HandleSSE is the raw HTTP handler for the event stream. The optional
// "types" query parameter is a comma-separated list of event types to
// receive; without it the client gets everything.
func (h *EventsHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	subID, eventCh := h.bus.Subscribe(parseEventFilter(r))
	defer h.bus.Unsubscribe(subID)

	rc := http.NewResponseController(w)

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()

	fmt.Fprintf(w, ":connected\n\n")
	if err := rc.Flush(); err != nil {
		h.logger.Error("failed to flush initial SSE connection", slog.String("error", err.Error()))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ":heartbeat %d\n\n", time.Now().Unix())
			if err := rc.Flush(); err != nil {
				h.logger.Debug("heartbeat flush failed, client likely disconnected",
					slog.String("error", err.Error()))
				return
			}
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			if err := h.writeEvent(w, event); err != nil {
				h.logger.Error("failed to write SSE event",
					slog.String("event_type", string(event.Type)),
					slog.String("error", err.Error()))
				return
			}
			if err := rc.Flush(); err != nil {
				h.logger.Debug("event flush failed, client likely disconnected",
					slog.String("event_type", string(event.Type)),
					slog.String("error", err.Error()))
				return
			}
		}
	}
}

// parseEventFilter builds a bus filter from the "types" query parameter.
func parseEventFilter(r *http.Request) events.Filter {
	raw := r.URL.Query().Get("types")
	if raw == "" {
		return nil
	}

	var types []events.EventType
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, events.EventType(t))
		}
	}
	if len(types) == 0 {
		return nil
	}
	return events.TypeFilter(types...)
}

// writeEvent writes one event in SSE wire format as a single write.
func (h *EventsHandler) writeEvent(w http.ResponseWriter, event events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	message := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, data))
	n, err := w.Write(message)
	if err != nil {
		return err
	}
	if n < len(message) {
		return fmt.Errorf("short write: wrote %d of %d bytes", n, len(message))
	}
	return nil
}
