package gateway

import (
	"encoding/json"
	"strconv"
	"time"
)

const replayDepth = 64

// Broadcaster builds envelopes and sends them to subscribed clients.
type Broadcaster struct {
	hub *Hub
}

// NewBroadcaster creates a Broadcaster backed by the given Hub.
func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{hub: hub}
}

// Broadcast records data as the latest payload for channel and pushes it to
// every client subscribed to that channel. Sends never block: a client
// whose queue is full misses the message.
func (b *Broadcaster) Broadcast(channel string, data json.RawMessage, computedAt time.Time) {
	h := b.hub
	if lag := h.now().Sub(computedAt); lag >= 0 {
		h.Lag.Record(lag)
	}

	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.channelSeqs[channel]++
	channelSeq := h.channelSeqs[channel]
	h.latest[channel] = latestEntry{Data: data, TS: computedAt, Seq: channelSeq}
	rb, ok := h.replayBufs[channel]
	if !ok {
		rb = NewReplayBuffer(replayDepth)
		h.replayBufs[channel] = rb
	}
	h.mu.Unlock()

	buf := appendEnvelope(nil, channel, data, computedAt, seq, channelSeq)
	rb.Push(channelSeq, buf)

	dropped := 0
	h.mu.RLock()
	for client := range h.clients {
		if !client.subscribed(channel) {
			continue
		}
		select {
		case client.send <- buf:
		default:
			dropped++
		}
	}
	h.mu.RUnlock()
	h.metrics.WSBroadcast(dropped)
}

// appendEnvelope writes {"channel":..,"data":..,"ts":..,"seq":..,"channel_seq":..}
// without going through reflection.
func appendEnvelope(buf []byte, channel string, data json.RawMessage, ts time.Time, seq, channelSeq int64) []byte {
	quoted, _ := json.Marshal(channel)
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	buf = append(buf, `{"channel":`...)
	buf = append(buf, quoted...)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = ts.UTC().AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	buf = append(buf, '}')
	return buf
}
