package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// DefaultHeartbeat is the idle interval between heartbeat events.
const DefaultHeartbeat = 30 * time.Second

// Handler streams events as server-sent events.
type Handler struct {
	Broadcaster *Broadcaster
	Logger      *slog.Logger
	Heartbeat   time.Duration
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	rc := http.NewResponseController(w)

	client := h.Broadcaster.Connect()
	if client == nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.Broadcaster.Disconnect(client.ID)
	logger = logger.With("domain", "events", "client_id", client.ID)

	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logger.Error("streaming not supported", "action", "stream", "error", err)
		return
	}

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	for {
		var ev Event
		select {
		case ev = <-client.Events:
		case <-ticker.C:
			ev = Event{Type: TypeHeartbeat, At: time.Now().UTC()}
		case <-client.Done:
			return
		case <-r.Context().Done():
			return
		}
		if err := writeEvent(w, rc, ev); err != nil {
			logger.Info("client gone", "action", "stream", "error", err)
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	return rc.Flush()
}
