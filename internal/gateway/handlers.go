package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// RegisterRoutes registers the WebSocket endpoint and its REST companions.
func RegisterRoutes(mux *http.ServeMux, hub *Hub) {
	mux.HandleFunc("/ws", hub.ServeWS)

	mux.HandleFunc("GET /api/v1/ws/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, hub.Stats())
	})

	// backfill for clients that detected a channel_seq gap
	mux.HandleFunc("GET /api/v1/ws/replay", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		channel := q.Get("channel")
		if channel == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "channel is required"})
			return
		}
		from, err := strconv.ParseInt(q.Get("from"), 10, 64)
		if err != nil {
			from = 1
		}
		to, err := strconv.ParseInt(q.Get("to"), 10, 64)
		if err != nil {
			to = hub.ChannelSeq(channel)
		}

		envelopes := hub.Replay(channel, from, to)
		out := make([]json.RawMessage, len(envelopes))
		for i, e := range envelopes {
			out[i] = e
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"channel":     channel,
			"channel_seq": hub.ChannelSeq(channel),
			"envelopes":   out,
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
