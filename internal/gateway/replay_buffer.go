package gateway

import "sync"

type replayEntry struct {
	seq  int64
	data []byte
}

// ReplayBuffer keeps the most recent envelopes of one channel, oldest first,
// so a client that missed pushes can backfill by channel_seq.
type ReplayBuffer struct {
	mu      sync.RWMutex
	entries []replayEntry
	limit   int
}

// NewReplayBuffer creates a buffer holding at most limit envelopes.
func NewReplayBuffer(limit int) *ReplayBuffer {
	if limit <= 0 {
		limit = replayDepth
	}
	return &ReplayBuffer{entries: make([]replayEntry, 0, limit), limit: limit}
}

// Push appends an envelope, evicting the oldest when full.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	cp := append([]byte(nil), data...)

	rb.mu.Lock()
	defer rb.mu.Unlock()
	if len(rb.entries) == rb.limit {
		copy(rb.entries, rb.entries[1:])
		rb.entries = rb.entries[:rb.limit-1]
	}
	rb.entries = append(rb.entries, replayEntry{seq: seq, data: cp})
}

// Range returns the envelopes with seq in [fromSeq, toSeq], oldest first.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) [][]byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out [][]byte
	for _, e := range rb.entries {
		if e.seq >= fromSeq && e.seq <= toSeq {
			out = append(out, e.data)
		}
	}
	return out
}

// Len returns the number of buffered envelopes.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return len(rb.entries)
}
