package routing

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/fogwarden/agent/internal/registry"
)

// Run starts the speed sampler and liveness watchdog in their own
// goroutines and returns immediately; the loops run until ctx is
// cancelled or Stop is called.
func (c *Core) Run(ctx context.Context) {
	c.stopCh = make(chan struct{})
	c.wg.Add(2)
	go c.runSpeedSampler(ctx)
	go c.runWatchdog(ctx)
}

// Stop ends the supervisor loops and blocks until they exit.
func (c *Core) Stop() {
	if c.stopCh == nil {
		return
	}
	close(c.stopCh)
	c.wg.Wait()
}

// runSpeedSampler publishes messages/second since the previous tick,
// every SpeedSampleInterval (spec §4.2 Supervision).
func (c *Core) runSpeedSampler(ctx context.Context) {
	defer c.wg.Done()

	lastCount := atomic.LoadInt64(&c.processedMessages)
	lastTime := c.clk.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-c.clk.After(c.cfg.SpeedSampleInterval()):
			lastCount, lastTime = c.sampleSpeed(lastCount, lastTime)
		}
	}
}

// sampleSpeed reports messages/second since (lastCount, lastTime) and
// returns the new baseline for the next tick. Split out from
// runSpeedSampler so the math can be tested without a running loop.
func (c *Core) sampleSpeed(lastCount int64, lastTime time.Time) (newCount int64, newTime time.Time) {
	count := atomic.LoadInt64(&c.processedMessages)
	elapsed := c.clk.Since(lastTime)
	delta := count - lastCount

	var speed float32
	if elapsed > 0 {
		speed = float32(delta) / float32(elapsed.Seconds())
	}
	c.status.SetAverageSpeed(speed)
	c.status.SetProcessedMessages(delta)

	return count, c.clk.Now()
}

// runWatchdog checks the broker server's liveness every WatchdogInterval
// and, independently, each publisher/receiver endpoint for closure
// (spec §4.2 Supervision).
func (c *Core) runWatchdog(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-c.clk.After(c.cfg.WatchdogInterval()):
			if !c.brk.IsServerActive() {
				c.log.Error("broker down, restarting routing core")
				c.restartAfterBrokerDown(ctx)
				continue
			}
			c.checkEndpoints(ctx)
		}
	}
}

// restartAfterBrokerDown brings the broker server back up and replays
// the current routes snapshot through Initialize.
func (c *Core) restartAfterBrokerDown(ctx context.Context) {
	routes := c.snapshotRoutes()

	c.mu.Lock()
	for uuid := range c.publishers {
		delete(c.publishers, uuid)
	}
	for uuid := range c.receivers {
		delete(c.receivers, uuid)
	}
	c.mu.Unlock()

	if err := c.brk.StartServer(); err != nil {
		c.log.Error("failed to restart broker server", "error", err)
		return
	}
	c.brk.Initialize()
	c.Initialize(ctx, routes)
}

// checkEndpoints rebuilds any publisher or receiver whose broker
// endpoint has been closed out from under it.
func (c *Core) checkEndpoints(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for uuid, pub := range c.publishers {
		if !pub.isBroken() {
			continue
		}
		route := pub.currentRoute()
		if len(route.Receivers) == 0 {
			c.log.Info("dropping publisher whose route emptied while broken", "uuid", uuid)
			delete(c.publishers, uuid)
			continue
		}
		c.log.Warn("rebuilding broken publisher", "uuid", uuid)
		c.publishers[uuid] = c.newPublisherLocked(uuid, route)
	}

	for uuid, rcv := range c.receivers {
		if !rcv.isBroken() {
			continue
		}
		c.log.Warn("rebuilding broken receiver", "uuid", uuid)
		c.receivers[uuid] = c.newReceiverLocked(ctx, registry.Receiver{
			WorkloadUUID:          uuid,
			Local:                 rcv.local,
			ConnectorProducerName: rcv.connConfigName,
		})
	}
}
