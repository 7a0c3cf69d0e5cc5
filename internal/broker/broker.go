// Package broker implements the Broker Adapter: an in-process, keyed,
// multi-subscriber message fabric consumed by the Message Routing Core.
// It generalizes the teacher's SSE fan-out bus into per-workload producer
// and consumer handles with an explicit server lifecycle, so the Routing
// Core's liveness watchdog has something concrete to restart.
package broker

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrServerDown is returned by broker operations when the server has been
// stopped — the Routing Core's watchdog treats this as BrokerDown.
var ErrServerDown = errors.New("broker: server down")

// ErrEndpointClosed is returned by a producer's Publish after Close.
var ErrEndpointClosed = errors.New("broker: endpoint closed")

// defaultConsumerBuffer mirrors the teacher's subscriberBufferSize: a
// bounded per-consumer inbox so one slow receiver can't back-pressure the
// whole node.
const defaultConsumerBuffer = 256

// Broker is the in-process message fabric. It is safe for concurrent use.
type Broker struct {
	mu     sync.RWMutex
	active bool

	producers map[string]*Producer
	consumers map[string]*Consumer

	memoryLimit int64 // max buffered messages across all consumers, 0 = unbounded
	buffered    int64
}

// New creates a Broker. It starts inactive; call StartServer to bring it
// up, mirroring the teacher's pattern of constructing adapters before
// their backing resource is live.
func New() *Broker {
	return &Broker{
		producers: make(map[string]*Producer),
		consumers: make(map[string]*Consumer),
	}
}

// StartServer brings the broker server up. Idempotent.
func (b *Broker) StartServer() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = true
	return nil
}

// StopServer brings the broker server down and closes every producer and
// consumer. Idempotent.
func (b *Broker) StopServer() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = false
	for _, p := range b.producers {
		p.closeLocked()
	}
	for _, c := range b.consumers {
		c.closeLocked()
	}
	b.producers = make(map[string]*Producer)
	b.consumers = make(map[string]*Consumer)
	atomic.StoreInt64(&b.buffered, 0)
	return nil
}

// IsServerActive reports whether the broker server is up.
func (b *Broker) IsServerActive() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

// Initialize resets broker state without touching the server's
// active/inactive flag — used after a restart once the watchdog has
// brought the server back up and routing needs a clean slate.
func (b *Broker) Initialize() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.producers = make(map[string]*Producer)
	b.consumers = make(map[string]*Consumer)
	atomic.StoreInt64(&b.buffered, 0)
}

// SetMemoryLimit bounds the total number of buffered, undelivered
// messages across all consumers. Zero means unbounded.
func (b *Broker) SetMemoryLimit(n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.memoryLimit = n
}

// CreateProducer installs a new producer for uuid, replacing any existing
// one.
func (b *Broker) CreateProducer(uuid string) (*Producer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active {
		return nil, ErrServerDown
	}
	p := &Producer{uuid: uuid}
	b.producers[uuid] = p
	return p, nil
}

// GetProducer returns the existing producer for uuid, if any.
func (b *Broker) GetProducer(uuid string) (*Producer, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.producers[uuid]
	return p, ok
}

// RemoveProducer closes and drops the producer for uuid.
func (b *Broker) RemoveProducer(uuid string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.producers[uuid]; ok {
		p.closeLocked()
		delete(b.producers, uuid)
	}
}

// IsProducerClosed reports whether uuid's producer is closed or absent.
func (b *Broker) IsProducerClosed(uuid string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.producers[uuid]
	return !ok || p.Closed()
}

// CreateConsumer installs a new consumer for uuid, replacing any existing
// one.
func (b *Broker) CreateConsumer(uuid string) (*Consumer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active {
		return nil, ErrServerDown
	}
	c := &Consumer{
		uuid:   uuid,
		inbox:  make(chan Message, defaultConsumerBuffer),
		broker: b,
	}
	b.consumers[uuid] = c
	return c, nil
}

// GetConsumer returns the existing consumer for uuid, if any.
func (b *Broker) GetConsumer(uuid string) (*Consumer, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.consumers[uuid]
	return c, ok
}

// RemoveConsumer closes and drops the consumer for uuid.
func (b *Broker) RemoveConsumer(uuid string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.consumers[uuid]; ok {
		c.closeLocked()
		delete(b.consumers, uuid)
	}
}

// IsConsumerClosed reports whether uuid's consumer is closed or absent.
func (b *Broker) IsConsumerClosed(uuid string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.consumers[uuid]
	return !ok || c.Closed()
}

// Deliver places msg in uuid's consumer inbox, dropping it (non-blocking)
// if the consumer is absent, closed, or over the memory limit — the same
// drop-rather-than-block discipline as the teacher's events.Bus.
func (b *Broker) Deliver(uuid string, msg Message) bool {
	b.mu.RLock()
	c, ok := b.consumers[uuid]
	limit := b.memoryLimit
	b.mu.RUnlock()
	if !ok || c.Closed() {
		return false
	}
	if limit > 0 && atomic.LoadInt64(&b.buffered) >= limit {
		return false
	}
	if c.deliver(msg) {
		atomic.AddInt64(&b.buffered, 1)
		return true
	}
	return false
}

func (b *Broker) noteDrained(n int64) {
	atomic.AddInt64(&b.buffered, -n)
}
