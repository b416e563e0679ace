package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	maxChannels    = 64
	snapshotWait   = 2 * time.Second
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	subMu sync.RWMutex
	subs  map[string]struct{}
}

func (c *Client) subscribed(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, ok := c.subs[channel]
	return ok
}

// trySend queues msg without blocking. Only the read goroutine calls it, so
// it never races with RemoveClient closing the queue.
func (c *Client) trySend(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) sendJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.trySend(b)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// one envelope per frame: browsers JSON.parse each message
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		slog.Info("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var base struct {
			Type string `json:"type"`
			Ping int64  `json:"ping"`
		}
		if json.Unmarshal(raw, &base) != nil {
			c.sendJSON(ErrorMsg{Type: MsgError, Error: "invalid JSON"})
			continue
		}

		switch base.Type {
		case MsgSubscribe, MsgUnsubscribe:
			var msg SubscribeMsg
			if err := json.Unmarshal(raw, &msg); err != nil {
				c.sendJSON(ErrorMsg{Type: MsgError, Error: "invalid " + base.Type + ": " + err.Error()})
				continue
			}
			if base.Type == MsgSubscribe {
				c.handleSubscribe(msg)
			} else {
				c.handleUnsubscribe(msg)
			}
		default:
			if base.Ping > 0 {
				c.sendJSON(map[string]any{
					"type":      MsgPong,
					"ping":      base.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
				continue
			}
			c.sendJSON(ErrorMsg{Type: MsgError, Error: "unknown message type " + base.Type})
		}
	}
}

func (c *Client) handleSubscribe(msg SubscribeMsg) {
	if len(msg.Channels) == 0 {
		c.sendJSON(ErrorMsg{Type: MsgError, ReqID: msg.ReqID, Error: "channels are required"})
		return
	}

	c.subMu.Lock()
	for _, ch := range msg.Channels {
		if ch == "" || len(c.subs) >= maxChannels {
			continue
		}
		c.subs[ch] = struct{}{}
	}
	current := c.channels()
	c.subMu.Unlock()

	c.sendJSON(AckMsg{Type: MsgSubscribed, ReqID: msg.ReqID, Channels: current})
	slog.Debug("[gateway] client subscribed", "channels", msg.Channels)

	ctx, cancel := context.WithTimeout(context.Background(), snapshotWait)
	defer cancel()
	for _, ch := range msg.Channels {
		if !c.subscribed(ch) {
			continue
		}
		if env, ok := c.hub.initialEnvelope(ctx, ch); ok {
			c.trySend(env)
		}
	}
}

func (c *Client) handleUnsubscribe(msg SubscribeMsg) {
	c.subMu.Lock()
	for _, ch := range msg.Channels {
		delete(c.subs, ch)
	}
	current := c.channels()
	c.subMu.Unlock()

	c.sendJSON(AckMsg{Type: MsgSubscribed, ReqID: msg.ReqID, Channels: current})
}

// channels lists current subscriptions. Callers hold subMu.
func (c *Client) channels() []string {
	out := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}
