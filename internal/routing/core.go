// Package routing implements the Message Routing Core: the component
// that turns a Workload Registry routes snapshot into live broker
// producers/consumers and connector sessions, delivers published
// messages to every receiver in a route, and supervises the broker and
// its endpoints for liveness.
package routing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/fogwarden/agent/internal/agentcfg"
	"github.com/fogwarden/agent/internal/agentlog"
	"github.com/fogwarden/agent/internal/broker"
	"github.com/fogwarden/agent/internal/clock"
	"github.com/fogwarden/agent/internal/connector"
	"github.com/fogwarden/agent/internal/registry"
	"github.com/fogwarden/agent/internal/status"
)

// ErrUnknownPublisher is returned by Publish when producerUUID has no
// installed publisher entry.
var ErrUnknownPublisher = errors.New("routing: unknown publisher")

// ErrPublisherBroken is returned by Publish when the publisher's broker
// endpoint is down; the supervisor will rebuild it on its next tick.
var ErrPublisherBroken = errors.New("routing: publisher broken")

// ConnectorConfigResolver resolves a receiver's named connector producer
// configuration to a concrete connector.Config, e.g. from the Workload
// Registry's registries table.
type ConnectorConfigResolver interface {
	ResolveConnectorConfig(name string) (connector.Config, bool)
}

// Core is the Message Routing Core. It owns the routes/publishers/
// receivers tables and performs every reconfiguration under a single
// mutex so readers never observe a partial update (spec §4.2).
type Core struct {
	mu sync.Mutex

	brk      *broker.Broker
	pool     *connector.Pool
	resolver ConnectorConfigResolver
	status   *status.Reporter
	cfg      *agentcfg.Config
	clk      clock.Clock
	log      *agentlog.Logger

	routes     map[string]registry.Route
	publishers map[string]*publisherEntry
	receivers  map[string]*receiverEntry

	processedMessages int64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Core. Call Initialize before Run to install the
// first routes snapshot, then Run to start the supervisor loops.
func New(brk *broker.Broker, pool *connector.Pool, resolver ConnectorConfigResolver, st *status.Reporter, cfg *agentcfg.Config, clk clock.Clock, log *agentlog.Logger) *Core {
	return &Core{
		brk:        brk,
		pool:       pool,
		resolver:   resolver,
		status:     st,
		cfg:        cfg,
		clk:        clk,
		log:        log.Module("routing"),
		routes:     make(map[string]registry.Route),
		publishers: make(map[string]*publisherEntry),
		receivers:  make(map[string]*receiverEntry),
	}
}

// Initialize installs the first routes snapshot: creates a publisher for
// every route with at least one receiver, and a deduplicated receiver
// for every distinct receiver across all routes (spec §4.2
// Initialization).
func (c *Core) Initialize(ctx context.Context, routes []registry.Route) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.routes = routeMap(routes)
	for uuid, route := range c.routes {
		if len(route.Receivers) == 0 {
			continue
		}
		c.publishers[uuid] = c.newPublisherLocked(uuid, route)
	}
	for uuid, rcv := range dedupeReceivers(routes) {
		c.receivers[uuid] = c.newReceiverLocked(ctx, rcv)
	}
}

// Reconfigure atomically replaces the routes table with newRoutes,
// reconciling publishers and receivers to match (spec §4.2 Update).
// workloadUUIDs is the latest full workload list, used to reconcile the
// per-workload published-message counters.
func (c *Core) Reconfigure(ctx context.Context, newRoutes []registry.Route, workloadUUIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	newRouteMap := routeMap(newRoutes)
	newReceiverSet := dedupeReceivers(newRoutes)

	// Step 2+3: close/drop publishers whose uuid left the route table;
	// hand the new route to survivors without reopening their producer.
	for uuid, pub := range c.publishers {
		if route, ok := newRouteMap[uuid]; ok {
			pub.setRoute(route)
			continue
		}
		pub.close()
		c.brk.RemoveProducer(uuid)
		delete(c.publishers, uuid)
	}

	// Step 4: create publishers for routes that are new.
	for uuid, route := range newRouteMap {
		if len(route.Receivers) == 0 {
			continue
		}
		if _, ok := c.publishers[uuid]; !ok {
			c.publishers[uuid] = c.newPublisherLocked(uuid, route)
		}
	}

	// Step 5: close/drop receivers no longer referenced by any route.
	for uuid, rcv := range c.receivers {
		if _, ok := newReceiverSet[uuid]; ok {
			continue
		}
		rcv.close()
		c.brk.RemoveConsumer(uuid)
		delete(c.receivers, uuid)
	}

	// Step 6: create receivers that are new.
	for uuid, rcv := range newReceiverSet {
		if _, ok := c.receivers[uuid]; !ok {
			c.receivers[uuid] = c.newReceiverLocked(ctx, rcv)
		}
	}

	// Step 7: commit.
	c.routes = newRouteMap

	// Step 8: reconcile published-message counters.
	c.status.ReconcilePublished(workloadUUIDs)
}

func routeMap(routes []registry.Route) map[string]registry.Route {
	out := make(map[string]registry.Route, len(routes))
	for _, r := range routes {
		out[r.Producer] = r
	}
	return out
}

func (c *Core) newPublisherLocked(uuid string, route registry.Route) *publisherEntry {
	p, err := c.brk.CreateProducer(uuid)
	if err != nil {
		c.log.Warn("create broker producer failed, publisher starts broken", "uuid", uuid, "error", err)
		return &publisherEntry{uuid: uuid, route: route, state: stateBroken}
	}
	return &publisherEntry{uuid: uuid, route: route, producer: p, state: stateOpen}
}

func (c *Core) newReceiverLocked(ctx context.Context, rcv registry.Receiver) *receiverEntry {
	consumer, err := c.brk.CreateConsumer(rcv.WorkloadUUID)
	if err != nil {
		c.log.Warn("create broker consumer failed, receiver starts broken", "uuid", rcv.WorkloadUUID, "error", err)
		return &receiverEntry{uuid: rcv.WorkloadUUID, local: rcv.Local, connConfigName: rcv.ConnectorProducerName, state: stateBroken}
	}
	entry := &receiverEntry{uuid: rcv.WorkloadUUID, local: rcv.Local, connConfigName: rcv.ConnectorProducerName, consumer: consumer, state: stateOpen}
	if !rcv.Local {
		c.attachConnectorLocked(ctx, entry)
	}
	return entry
}

func (c *Core) attachConnectorLocked(ctx context.Context, entry *receiverEntry) {
	cfg, ok := c.resolver.ResolveConnectorConfig(entry.connConfigName)
	if !ok {
		c.log.Warn("no connector config for receiver, staying local-only", "uuid", entry.uuid, "config", entry.connConfigName)
		return
	}
	client, err := c.pool.GetOrCreate(ctx, cfg)
	if err != nil {
		c.log.Warn("connector client unavailable, receiver starts broken", "uuid", entry.uuid, "error", err)
		entry.state = stateBroken
		return
	}
	session, err := client.startSession(entry.uuid)
	if err != nil {
		c.log.Warn("connector session start failed, receiver starts broken", "uuid", entry.uuid, "error", err)
		entry.state = stateBroken
		return
	}
	entry.connClient = client
	entry.session = session
}

// Publish enqueues msg on producerUUID's publisher and fans it out to
// every receiver in the owning route (spec §4.2 Delivery).
func (c *Core) Publish(producerUUID string, msg broker.Message) error {
	c.mu.Lock()
	pub, ok := c.publishers[producerUUID]
	c.mu.Unlock()
	if !ok {
		return ErrUnknownPublisher
	}

	if pub.isBroken() {
		return ErrPublisherBroken
	}
	if err := pub.producer.Publish(msg); err != nil {
		pub.markBroken()
		return err
	}
	atomic.AddInt64(&c.processedMessages, 1)
	c.status.IncrementPublished(producerUUID)

	route := pub.currentRoute()
	for _, rcv := range route.Receivers {
		c.mu.Lock()
		entry, ok := c.receivers[rcv.WorkloadUUID]
		c.mu.Unlock()
		if !ok {
			continue
		}
		c.deliverToReceiver(entry, msg)
	}
	return nil
}

func (c *Core) deliverToReceiver(entry *receiverEntry, msg broker.Message) {
	if entry.isBroken() {
		return
	}
	if entry.local || entry.connClient == nil {
		c.brk.Deliver(entry.uuid, msg)
		return
	}
	if err := entry.connClient.publish(entry.uuid, msg.Content); err != nil {
		c.log.Warn("connector fan-out failed, receiver will be re-initialized by the watchdog", "uuid", entry.uuid, "error", err)
		entry.markBroken()
	}
}

// NextMessages non-blockingly drains uuid's broker consumer.
func (c *Core) NextMessages(uuid string) []broker.Message {
	c.mu.Lock()
	entry, ok := c.receivers[uuid]
	c.mu.Unlock()
	if !ok || entry.consumer == nil {
		return nil
	}
	return entry.consumer.Drain()
}

// EnableRealtime registers sink to receive every message delivered to
// uuid as it arrives, in addition to NextMessages polling.
func (c *Core) EnableRealtime(uuid string, sink func(broker.Message)) bool {
	c.mu.Lock()
	entry, ok := c.receivers[uuid]
	c.mu.Unlock()
	if !ok || entry.consumer == nil {
		return false
	}
	entry.consumer.EnableRealtime(sink)
	return true
}

// DisableRealtime removes uuid's registered real-time sink, if any.
func (c *Core) DisableRealtime(uuid string) {
	c.mu.Lock()
	entry, ok := c.receivers[uuid]
	c.mu.Unlock()
	if ok && entry.consumer != nil {
		entry.consumer.DisableRealtime()
	}
}

// snapshotRoutes returns the routes currently installed, for use by the
// watchdog when re-initializing after a broker restart.
func (c *Core) snapshotRoutes() []registry.Route {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]registry.Route, 0, len(c.routes))
	for _, r := range c.routes {
		out = append(out, r)
	}
	return out
}
