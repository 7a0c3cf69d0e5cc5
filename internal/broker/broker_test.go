package broker

import (
	"sync"
	"testing"
	"time"
)

func newActiveBroker(t *testing.T) *Broker {
	t.Helper()
	b := New()
	if err := b.StartServer(); err != nil {
		t.Fatalf("StartServer: %v", err)
	}
	return b
}

func TestCreateProducerBeforeStartFails(t *testing.T) {
	b := New()
	if _, err := b.CreateProducer("w1"); err != ErrServerDown {
		t.Fatalf("err = %v, want ErrServerDown", err)
	}
}

func TestDeliverToConsumer(t *testing.T) {
	b := newActiveBroker(t)
	c, err := b.CreateConsumer("w1")
	if err != nil {
		t.Fatalf("CreateConsumer: %v", err)
	}

	msg := Message{ID: "m1", Publisher: "w0", Tag: "demo"}
	if !b.Deliver("w1", msg) {
		t.Fatal("Deliver returned false, want true")
	}

	got := c.Drain()
	if len(got) != 1 || got[0].ID != "m1" {
		t.Errorf("Drain() = %v, want one message with ID m1", got)
	}
}

func TestDeliverToMissingConsumerIsFalse(t *testing.T) {
	b := newActiveBroker(t)
	if b.Deliver("ghost", Message{ID: "m1"}) {
		t.Error("Deliver to a missing consumer should return false")
	}
}

func TestDeliverRespectsMemoryLimit(t *testing.T) {
	b := newActiveBroker(t)
	b.SetMemoryLimit(2)
	c, _ := b.CreateConsumer("w1")

	if !b.Deliver("w1", Message{ID: "m1"}) {
		t.Fatal("first delivery should succeed")
	}
	if !b.Deliver("w1", Message{ID: "m2"}) {
		t.Fatal("second delivery should succeed")
	}
	if b.Deliver("w1", Message{ID: "m3"}) {
		t.Error("third delivery should be dropped once over the memory limit")
	}

	c.Drain()
}

func TestDrainThenRedeliverAfterLimitFrees(t *testing.T) {
	b := newActiveBroker(t)
	b.SetMemoryLimit(1)
	c, _ := b.CreateConsumer("w1")

	b.Deliver("w1", Message{ID: "m1"})
	if b.Deliver("w1", Message{ID: "m2"}) {
		t.Fatal("second delivery should be dropped while over the limit")
	}
	c.Drain()
	if !b.Deliver("w1", Message{ID: "m3"}) {
		t.Error("delivery should succeed again once the drain frees capacity")
	}
}

func TestClosedConsumerDropsDeliveries(t *testing.T) {
	b := newActiveBroker(t)
	c, _ := b.CreateConsumer("w1")
	c.Close()

	if b.Deliver("w1", Message{ID: "m1"}) {
		t.Error("Deliver to a closed consumer should return false")
	}
	if !c.Closed() {
		t.Error("Closed() should report true after Close")
	}
}

func TestStopServerClosesEverything(t *testing.T) {
	b := newActiveBroker(t)
	p, _ := b.CreateProducer("w1")
	c, _ := b.CreateConsumer("w1")

	if err := b.StopServer(); err != nil {
		t.Fatalf("StopServer: %v", err)
	}
	if b.IsServerActive() {
		t.Error("IsServerActive should be false after StopServer")
	}
	if !p.Closed() {
		t.Error("producer should be closed after StopServer")
	}
	if !c.Closed() {
		t.Error("consumer should be closed after StopServer")
	}
	if _, err := b.CreateProducer("w2"); err != ErrServerDown {
		t.Errorf("CreateProducer after stop: err = %v, want ErrServerDown", err)
	}

	// Double stop must not panic.
	if err := b.StopServer(); err != nil {
		t.Errorf("second StopServer: %v", err)
	}
}

func TestProducerPublishAfterCloseFails(t *testing.T) {
	b := newActiveBroker(t)
	p, _ := b.CreateProducer("w1")
	p.Close()

	if err := p.Publish(Message{ID: "m1"}); err != ErrEndpointClosed {
		t.Errorf("Publish after close: err = %v, want ErrEndpointClosed", err)
	}
	if p.Sent() != 0 {
		t.Errorf("Sent() = %d, want 0", p.Sent())
	}
}

func TestProducerSentCounter(t *testing.T) {
	b := newActiveBroker(t)
	p, _ := b.CreateProducer("w1")
	for range 3 {
		if err := p.Publish(Message{ID: "m"}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if p.Sent() != 3 {
		t.Errorf("Sent() = %d, want 3", p.Sent())
	}
}

func TestEnableRealtimeReceivesPushes(t *testing.T) {
	b := newActiveBroker(t)
	c, _ := b.CreateConsumer("w1")

	var mu sync.Mutex
	var received []Message
	c.EnableRealtime(func(m Message) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, m)
	})

	b.Deliver("w1", Message{ID: "m1"})

	mu.Lock()
	n := len(received)
	mu.Unlock()
	if n != 1 {
		t.Errorf("realtime sink received %d messages, want 1", n)
	}

	// The message should still be available via Drain too.
	if got := c.Drain(); len(got) != 1 {
		t.Errorf("Drain() = %v, want one message", got)
	}
}

func TestRemoveProducerAndConsumer(t *testing.T) {
	b := newActiveBroker(t)
	b.CreateProducer("w1")
	b.CreateConsumer("w1")

	b.RemoveProducer("w1")
	b.RemoveConsumer("w1")

	if !b.IsProducerClosed("w1") {
		t.Error("IsProducerClosed should be true after removal")
	}
	if !b.IsConsumerClosed("w1") {
		t.Error("IsConsumerClosed should be true after removal")
	}
	if _, ok := b.GetProducer("w1"); ok {
		t.Error("GetProducer should not find a removed producer")
	}
}

func TestInitializeResetsWithoutTouchingActiveFlag(t *testing.T) {
	b := newActiveBroker(t)
	b.CreateProducer("w1")
	b.CreateConsumer("w1")

	b.Initialize()

	if !b.IsServerActive() {
		t.Error("Initialize should not change the active flag")
	}
	if _, ok := b.GetProducer("w1"); ok {
		t.Error("Initialize should clear existing producers")
	}
}

func TestConcurrentDeliverAndDrain(t *testing.T) {
	b := newActiveBroker(t)
	c, _ := b.CreateConsumer("w1")

	const goroutines = 8
	const perGoroutine = 50

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := range goroutines {
		go func(id int) {
			defer wg.Done()
			for i := range perGoroutine {
				b.Deliver("w1", Message{ID: "m", Timestamp: time.Date(2026, 1, 1, 0, 0, id*perGoroutine+i, 0, time.UTC)})
			}
		}(g)
	}
	wg.Wait()

	got := c.Drain()
	if len(got) == 0 {
		t.Error("expected at least some delivered messages")
	}
	if len(got) > goroutines*perGoroutine {
		t.Errorf("drained %d messages, more than delivered (%d)", len(got), goroutines*perGoroutine)
	}
}
