// Package gateway pushes freshly computed analytics payloads to WebSocket
// subscribers.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"

	"marketdash/internal/metrics"
)

// SnapshotFunc returns the last computed payload for a channel, stale or not.
type SnapshotFunc func(ctx context.Context, channel string) (json.RawMessage, time.Time, bool)

// Hub manages WebSocket clients and fans refreshed payloads out to the
// clients subscribed to each channel.
type Hub struct {
	snapshot SnapshotFunc
	metrics  *metrics.Metrics
	now      func() time.Time

	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64

	channelSeqs map[string]int64
	replayBufs  map[string]*ReplayBuffer

	// Lag tracks the delay between a payload's computation and its broadcast.
	Lag *LatencyTracker

	Broadcaster *Broadcaster
	// Router relays refreshes through Redis so every instance pushes them.
	// Nil when running without Redis.
	Router *PubSubRouter
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64
}

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// NewHub creates a Hub. snapshot may be nil.
func NewHub(snapshot SnapshotFunc, m *metrics.Metrics) *Hub {
	h := &Hub{
		snapshot:    snapshot,
		metrics:     m,
		now:         time.Now,
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
		Lag:         NewLatencyTracker(1024),
	}
	h.Broadcaster = NewBroadcaster(h)
	return h
}

// UseRedis relays refreshes through a Redis PubSub channel.
func (h *Hub) UseRedis(rdb *goredis.Client, channel string) {
	h.Router = NewPubSubRouter(h, rdb, channel)
}

// Publish hands a refreshed payload to subscribers. Its signature matches
// cache.RefreshFunc so it can be registered with Service.OnRefresh.
func (h *Hub) Publish(channel string, data json.RawMessage, computedAt time.Time) {
	if h.Router != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := h.Router.Publish(ctx, channel, data, computedAt)
		cancel()
		if err == nil {
			return
		}
		slog.Warn("[gateway] redis relay failed, broadcasting locally", "channel", channel, "error", err)
	}
	h.Broadcaster.Broadcast(channel, data, computedAt)
}

// Run consumes relayed refreshes until ctx is cancelled. Without a relay it
// just waits.
func (h *Hub) Run(ctx context.Context) {
	if h.Router == nil {
		<-ctx.Done()
		return
	}
	h.Router.Run(ctx)
}

// ServeWS upgrades the request and registers the client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[gateway] ws upgrade error", "error", err)
		return
	}
	conn.EnableWriteCompression(true)

	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
		subs: make(map[string]struct{}),
	}

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.metrics.WSClient(1)

	slog.Info("[gateway] ws client connected", "clients", count)

	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub and closes its send queue.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.mu.Unlock()
	h.metrics.WSClient(-1)
}

// initialEnvelope builds the envelope sent right after a subscribe: the
// last broadcast for the channel, or the cached payload when nothing has
// been broadcast yet.
func (h *Hub) initialEnvelope(ctx context.Context, channel string) ([]byte, bool) {
	h.mu.RLock()
	entry, ok := h.latest[channel]
	seq := h.seq
	h.mu.RUnlock()

	if !ok {
		if h.snapshot == nil {
			return nil, false
		}
		data, computedAt, found := h.snapshot(ctx, channel)
		if !found {
			return nil, false
		}
		entry = latestEntry{Data: data, TS: computedAt}
	}

	env, err := json.Marshal(Envelope{
		Channel:    channel,
		Data:       entry.Data,
		TS:         entry.TS.UTC().Format(time.RFC3339Nano),
		Seq:        seq,
		ChannelSeq: entry.Seq,
		Initial:    true,
	})
	if err != nil {
		return nil, false
	}
	return env, true
}

// Replay returns buffered envelopes for a channel with seq in [fromSeq, toSeq].
func (h *Hub) Replay(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb, ok := h.replayBufs[channel]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return rb.Range(fromSeq, toSeq)
}

// ChannelSeq returns the current sequence number for a channel.
func (h *Hub) ChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats summarizes the hub for the stats endpoint.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	st := Stats{Clients: len(h.clients), Channels: len(h.latest), Seq: h.seq, Relay: "local"}
	h.mu.RUnlock()
	if h.Router != nil {
		st.Relay = "redis"
	}
	p50, p95, p99 := h.Lag.Percentiles()
	st.LagP50Ms = ms(p50)
	st.LagP95Ms = ms(p95)
	st.LagP99Ms = ms(p99)
	return st
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
