package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// DefaultRelayChannel is the Redis PubSub channel refreshes travel on.
const DefaultRelayChannel = "marketdash:refresh"

// PubSubRouter relays refreshes through Redis PubSub so that a payload
// recomputed on one instance reaches clients connected to any instance.
type PubSubRouter struct {
	hub     *Hub
	rdb     *goredis.Client
	channel string
}

type relayMsg struct {
	Key        string          `json:"key"`
	Payload    json.RawMessage `json:"payload"`
	ComputedAt int64           `json:"computedAt"`
}

// NewPubSubRouter creates a PubSubRouter backed by the given Hub.
func NewPubSubRouter(hub *Hub, rdb *goredis.Client, channel string) *PubSubRouter {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &PubSubRouter{hub: hub, rdb: rdb, channel: channel}
}

// Publish sends a refresh to every subscribed instance, this one included.
func (r *PubSubRouter) Publish(ctx context.Context, key string, payload json.RawMessage, computedAt time.Time) error {
	b, err := json.Marshal(relayMsg{Key: key, Payload: payload, ComputedAt: computedAt.UnixMilli()})
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, b).Err()
}

// Run subscribes to the relay channel and broadcasts what arrives.
// Blocks until ctx is cancelled.
func (r *PubSubRouter) Run(ctx context.Context) {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	slog.Info("[gateway] subscribed to relay channel", "channel", r.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var m relayMsg
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil || m.Key == "" {
				slog.Warn("[gateway] dropping malformed relay message", "error", err)
				continue
			}
			r.hub.Broadcaster.Broadcast(m.Key, m.Payload, time.UnixMilli(m.ComputedAt))
		}
	}
}
