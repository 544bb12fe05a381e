package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/solagent/solagent/internal/events"
	"github.com/solagent/solagent/internal/models"
)

// EventsHandler streams bus events to clients over server-sent events.
type EventsHandler struct {
	bus *events.Bus
}

func NewEventsHandler(bus *events.Bus) *EventsHandler {
	return &EventsHandler{bus: bus}
}

var streamTopics = []string{
	events.TopicAgentStatus,
	events.TopicAgentMessage,
	events.TopicToolCalled,
	events.TopicToolSucceeded,
	events.TopicToolFailed,
}

// Stream handles GET /api/v1/events?session_id=...
// Events published before the client connects are not replayed.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		models.WriteError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	sessionFilter := r.URL.Query().Get("session_id")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	relay := make(chan events.Event, 64)
	var subs []*events.Subscription
	for _, topic := range streamTopics {
		subs = append(subs, h.bus.Subscribe(topic, func(evt events.Event) {
			select {
			case relay <- evt:
			default:
			}
		}))
	}
	defer func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-relay:
			if sessionFilter != "" && sessionOf(evt.Payload) != sessionFilter {
				continue
			}
			data, err := json.Marshal(evt.Payload)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Topic, data)
			flusher.Flush()
		}
	}
}

func sessionOf(payload any) string {
	switch p := payload.(type) {
	case events.AgentStatus:
		return p.SessionID
	case events.AgentMessage:
		return p.SessionID
	case events.ToolCalled:
		return p.SessionID
	case events.ToolSucceeded:
		return p.SessionID
	case events.ToolFailed:
		return p.SessionID
	default:
		return ""
	}
}
