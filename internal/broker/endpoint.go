package broker

import "sync"

// Producer wraps the publish side of a workload's broker session. The
// Routing Core calls Publish to account for outbound traffic; actual
// fan-out to receivers goes through Broker.Deliver against each
// receiver's own Consumer.
type Producer struct {
	mu     sync.Mutex
	uuid   string
	closed bool
	sent   int64
}

// Publish records a message as sent from this producer.
func (p *Producer) Publish(Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrEndpointClosed
	}
	p.sent++
	return nil
}

// Sent returns the count of messages published through this producer —
// the raw counter the speed sampler derives messages/second from.
func (p *Producer) Sent() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}

// Close marks the producer closed. Idempotent.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}

func (p *Producer) closeLocked() {
	p.closed = true
}

// Closed reports whether Close has been called.
func (p *Producer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Consumer wraps the subscribe side of a workload's broker session. It
// exposes a non-blocking pull API (Drain) plus an optional real-time push
// sink enabled on demand by the local API's websocket handler.
type Consumer struct {
	mu     sync.Mutex
	uuid   string
	closed bool
	inbox  chan Message
	sink   func(Message)
	broker *Broker
}

// deliver enqueues msg without blocking; returns false if the inbox is
// full or the consumer is closed, in which case the message is dropped.
func (c *Consumer) deliver(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if c.sink != nil {
		c.sink(msg)
	}
	select {
	case c.inbox <- msg:
		return true
	default:
		return false
	}
}

// Drain non-blockingly returns every message currently buffered.
func (c *Consumer) Drain() []Message {
	var out []Message
	for {
		select {
		case msg := <-c.inbox:
			out = append(out, msg)
		default:
			if len(out) > 0 && c.broker != nil {
				c.broker.noteDrained(int64(len(out)))
			}
			return out
		}
	}
}

// EnableRealtime registers sink to receive every message as it arrives,
// in addition to it remaining available via Drain.
func (c *Consumer) EnableRealtime(sink func(Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = sink
}

// DisableRealtime removes any registered real-time sink.
func (c *Consumer) DisableRealtime() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = nil
}

// Close marks the consumer closed. Idempotent.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

func (c *Consumer) closeLocked() {
	c.closed = true
}

// Closed reports whether Close has been called.
func (c *Consumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
