package gateway

import "encoding/json"

// WS message types.
const (
	MsgSubscribe   = "SUBSCRIBE"
	MsgUnsubscribe = "UNSUBSCRIBE"
	MsgSubscribed  = "SUBSCRIBED"
	MsgError       = "ERROR"
	MsgPong        = "pong"
)

// SubscribeMsg is the client → server SUBSCRIBE / UNSUBSCRIBE request.
// A channel is an analytics cache key such as
// "pi-cycle|exchange=binance|symbol=BTC/USDT".
type SubscribeMsg struct {
	Type     string   `json:"type"`
	ReqID    string   `json:"reqId,omitempty"`
	Channels []string `json:"channels"`
}

// AckMsg confirms the channels a client is now subscribed to.
type AckMsg struct {
	Type     string   `json:"type"`
	ReqID    string   `json:"reqId,omitempty"`
	Channels []string `json:"channels"`
}

// ErrorMsg reports a rejected client message.
type ErrorMsg struct {
	Type  string `json:"type"`
	ReqID string `json:"reqId,omitempty"`
	Error string `json:"error"`
}

// Envelope is one pushed payload.
type Envelope struct {
	Channel    string          `json:"channel"`
	Data       json.RawMessage `json:"data"`
	TS         string          `json:"ts"`
	Seq        int64           `json:"seq"`
	ChannelSeq int64           `json:"channel_seq"`
	Initial    bool            `json:"initial,omitempty"`
}

// Stats is the REST response for /api/v1/ws/stats.
type Stats struct {
	Clients  int     `json:"clients"`
	Channels int     `json:"channels"`
	Seq      int64   `json:"seq"`
	LagP50Ms float64 `json:"lag_p50_ms"`
	LagP95Ms float64 `json:"lag_p95_ms"`
	LagP99Ms float64 `json:"lag_p99_ms"`
	Relay    string  `json:"relay"`
}
