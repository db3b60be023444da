package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	zlog "github.com/rs/zerolog/log"

	"github.com/arai051/tunebox/internal/app/notification"
)

// handleEvents streams engine events as Server-Sent Events. The stream
// opens with the current status snapshot so a fresh observer can render
// immediately; after that every published event is forwarded with its
// sequence number as the SSE id.
func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub := s.events.Subscribe()
	defer s.events.Unsubscribe(sub.ID)
	zlog.Debug().Str("subscription", sub.ID).Msg("Event stream opened")

	greeting := notification.Event{Type: notification.TypeStatus, Payload: s.director.Snapshot()}
	if err := writeSSE(w, greeting); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			zlog.Debug().Str("subscription", sub.ID).Msg("Event stream closed")
			return
		case event := <-sub.C:
			if err := writeSSE(w, event); err != nil {
				zlog.Debug().Err(err).Str("subscription", sub.ID).Msg("Event stream write failed")
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSE renders one event in SSE framing. Seq 0 (the greeting)
// carries no id line; only hub events have sequence numbers.
func writeSSE(w io.Writer, event notification.Event) error {
	data, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}
	if event.Seq > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", event.Seq); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	return err
}
