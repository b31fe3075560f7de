package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dgnsrekt/sportscaster/internal/messages"
)

// eventPayload is the SSE data for one envelope.
type eventPayload struct {
	From    Endpoint        `json:"from"`
	To      Endpoint        `json:"to,omitempty"`
	TabID   string          `json:"tab_id,omitempty"`
	At      int64           `json:"at"`
	Message json.RawMessage `json:"message"`
}

// SSEHandler streams bus traffic as server-sent events named after the
// message type. Clients may filter with ?types=STATUS,COMMENTARY and
// ?endpoints=sidepanel.
func SSEHandler(bus *Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		typeFilter := parseFilter(r.URL.Query().Get("types"))
		endpointFilter := parseFilter(r.URL.Query().Get("endpoints"))

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		flusher.Flush()

		id, ch := bus.Subscribe()
		defer bus.Unsubscribe(id)

		for {
			select {
			case <-r.Context().Done():
				return
			case env, ok := <-ch:
				if !ok {
					return
				}
				kind := string(env.Msg.Kind())
				if typeFilter != nil && !typeFilter[kind] {
					continue
				}
				if endpointFilter != nil && !endpointFilter[string(env.To)] && !endpointFilter[string(env.From)] {
					continue
				}
				data, err := encodeEvent(env)
				if err != nil {
					slog.Debug("sse encode failed", "type", kind, "error", err)
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", kind, data)
				flusher.Flush()
			}
		}
	}
}

func encodeEvent(env Envelope) ([]byte, error) {
	msg, err := messages.Encode(env.Msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventPayload{
		From:    env.From,
		To:      env.To,
		TabID:   env.TabID,
		At:      env.At.UnixMilli(),
		Message: msg,
	})
}

func parseFilter(q string) map[string]bool {
	if q == "" {
		return nil
	}
	out := make(map[string]bool)
	for _, f := range strings.Split(q, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out[f] = true
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
