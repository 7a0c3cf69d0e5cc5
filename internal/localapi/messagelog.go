package localapi

import (
	"sync"
	"time"

	"github.com/fogwarden/agent/internal/broker"
)

// messageLogCap bounds how many published messages each workload's
// history ring retains for /v2/messages/query.
const messageLogCap = 500

// MessageLog is a bounded, per-workload ring of recently published
// messages, queryable by time window. It exists purely for
// /v2/messages/query — the broker itself only ever holds undelivered
// messages, never history.
type MessageLog struct {
	mu  sync.Mutex
	buf map[string][]broker.Message
}

// NewMessageLog creates an empty MessageLog.
func NewMessageLog() *MessageLog {
	return &MessageLog{buf: make(map[string][]broker.Message)}
}

// Append records msg as published by uuid, evicting the oldest entry
// once the per-uuid ring reaches messageLogCap.
func (l *MessageLog) Append(uuid string, msg broker.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ring := l.buf[uuid]
	ring = append(ring, msg)
	if len(ring) > messageLogCap {
		ring = ring[len(ring)-messageLogCap:]
	}
	l.buf[uuid] = ring
}

// Query returns uuid's published messages with a timestamp in
// [from, to], oldest first.
func (l *MessageLog) Query(uuid string, from, to time.Time) []broker.Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []broker.Message
	for _, m := range l.buf[uuid] {
		if m.Timestamp.Before(from) || m.Timestamp.After(to) {
			continue
		}
		out = append(out, m)
	}
	return out
}
