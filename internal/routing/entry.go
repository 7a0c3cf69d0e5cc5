package routing

import (
	"sync"

	"github.com/fogwarden/agent/internal/broker"
	"github.com/fogwarden/agent/internal/connector"
	"github.com/fogwarden/agent/internal/registry"
)

// endpointState is the per-endpoint state machine (spec §4.2): INIT →
// OPEN ↔ BROKEN → OPEN (via supervisor) → CLOSED (terminal).
type endpointState int

const (
	stateInit endpointState = iota
	stateOpen
	stateBroken
	stateClosed
)

// publisherEntry wraps a route and the broker producer fanning messages
// to every receiver in it.
type publisherEntry struct {
	mu       sync.Mutex
	uuid     string
	route    registry.Route
	producer *broker.Producer
	state    endpointState
}

func (p *publisherEntry) setRoute(r registry.Route) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.route = r
}

func (p *publisherEntry) currentRoute() registry.Route {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.route
}

func (p *publisherEntry) markBroken() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == stateOpen {
		p.state = stateBroken
	}
}

func (p *publisherEntry) isBroken() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == stateBroken || p.producer == nil || p.producer.Closed()
}

func (p *publisherEntry) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = stateClosed
	if p.producer != nil {
		p.producer.Close()
	}
}

// receiverEntry wraps a receiving endpoint: always a broker consumer,
// plus — for non-local receivers — the connector session carrying
// messages to a remote broker.
type receiverEntry struct {
	mu             sync.Mutex
	uuid           string
	local          bool
	connConfigName string
	consumer       *broker.Consumer
	connClient     *connector.Client
	session        *connector.Session
	state          endpointState
}

func (r *receiverEntry) markBroken() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == stateOpen {
		r.state = stateBroken
	}
}

func (r *receiverEntry) isBroken() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == stateBroken || r.consumer == nil || r.consumer.Closed()
}

func (r *receiverEntry) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = stateClosed
	if r.consumer == nil {
		return
	}
	r.consumer.Close()
	if !r.local && r.connClient != nil {
		r.connClient.ejectSession(r.uuid)
	}
}

// dedupeReceivers collects the union of every route's receivers, keyed
// by workload uuid, matching spec §4.2's "deduplicated" initialization
// step.
func dedupeReceivers(routes []registry.Route) map[string]registry.Receiver {
	out := make(map[string]registry.Receiver)
	for _, route := range routes {
		for _, r := range route.Receivers {
			out[r.WorkloadUUID] = r
		}
	}
	return out
}
