package localapi

import "sync"

// configNotifierBuffer mirrors the teacher's events.Bus subscriber
// buffer: enough room that a control socket that's momentarily busy
// flushing a frame doesn't cause the publish side to block.
const configNotifierBuffer = 8

// configNotifier is a per-workload fan-out of "your configuration
// changed" pings, generalized from the teacher's events.Bus down to a
// single signal (the control socket's only job is to tell the workload
// to re-fetch /v2/config/get, not to carry a payload).
type configNotifier struct {
	mu   sync.Mutex
	subs map[string]map[uint64]chan struct{}
	next uint64
}

func newConfigNotifier() *configNotifier {
	return &configNotifier{subs: make(map[string]map[uint64]chan struct{})}
}

// publish wakes every control socket subscribed to uuid. Slow or absent
// subscribers never block the publisher.
func (n *configNotifier) publish(uuid string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs[uuid] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// subscribe returns a channel woken on every config change for uuid, and
// a cancel func the caller must invoke when done.
func (n *configNotifier) subscribe(uuid string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, configNotifierBuffer)

	n.mu.Lock()
	id := n.next
	n.next++
	if n.subs[uuid] == nil {
		n.subs[uuid] = make(map[uint64]chan struct{})
	}
	n.subs[uuid][id] = ch
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if subs, ok := n.subs[uuid]; ok {
			if c, ok := subs[id]; ok {
				delete(subs, id)
				close(c)
			}
			if len(subs) == 0 {
				delete(n.subs, uuid)
			}
		}
	}
	return ch, cancel
}
