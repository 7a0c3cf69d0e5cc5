// Package status implements the Status Reporter: the single sink for
// workload state transitions and message-throughput metrics, exposed
// both as an in-memory snapshot (for the local API) and as Prometheus
// gauges/counters (for external scraping), grounded on the teacher's
// promauto metrics idiom.
package status

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fogwarden/agent/internal/registry"
)

var (
	workloadState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fogwarden_workload_state",
		Help: "Current lifecycle state of each workload, one-hot per state label.",
	}, []string{"workload", "state"})

	averageSpeed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fogwarden_messages_per_second",
		Help: "Average messages processed per second since the last sample.",
	})

	processedMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fogwarden_messages_processed_total",
		Help: "Total number of messages processed by the routing core.",
	})

	publishedMessagesByWorkload = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fogwarden_messages_published_total",
		Help: "Total messages published per workload.",
	}, []string{"workload"})

	componentStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fogwarden_component_status",
		Help: "Current status of each supervised component, one-hot per status label.",
	}, []string{"component", "status"})
)

// Reporter is the Status Reporter. It is safe for concurrent use.
type Reporter struct {
	mu             sync.RWMutex
	states         map[string]registry.WorkloadState
	published      map[string]int64
	lastSpeed      float32
	totalProcessed int64
	components     map[string]string
}

// New creates an empty Reporter.
func New() *Reporter {
	return &Reporter{
		states:     make(map[string]registry.WorkloadState),
		published:  make(map[string]int64),
		components: make(map[string]string),
	}
}

// SetComponentStatus records the Supervisor's current view of a
// top-level component (e.g. "local_api", "broker", "routing_core") —
// the per-module status spec §2's Supervisor row calls for. Mirrors
// SetWorkloadState's one-hot gauge idiom.
func (r *Reporter) SetComponentStatus(name, status string) {
	r.mu.Lock()
	prev, hadPrev := r.components[name]
	r.components[name] = status
	r.mu.Unlock()

	if hadPrev && prev != status {
		componentStatus.WithLabelValues(name, prev).Set(0)
	}
	componentStatus.WithLabelValues(name, status).Set(1)
}

// ComponentStatus returns the last-reported status for a component.
func (r *Reporter) ComponentStatus(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.components[name]
	return s, ok
}

// ComponentStatuses returns a snapshot of every tracked component's
// current status.
func (r *Reporter) ComponentStatuses() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.components))
	for k, v := range r.components {
		out[k] = v
	}
	return out
}

// SetWorkloadState records uuid's current lifecycle state. The engine is
// the sole writer (spec §3); this also updates the one-hot Prometheus
// gauge for the previous state back to zero.
func (r *Reporter) SetWorkloadState(uuid string, state registry.WorkloadState) {
	r.mu.Lock()
	prev, hadPrev := r.states[uuid]
	r.states[uuid] = state
	r.mu.Unlock()

	if hadPrev && prev != state {
		workloadState.WithLabelValues(uuid, string(prev)).Set(0)
	}
	workloadState.WithLabelValues(uuid, string(state)).Set(1)
}

// WorkloadState returns the last-reported state for uuid.
func (r *Reporter) WorkloadState(uuid string) (registry.WorkloadState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.states[uuid]
	return s, ok
}

// SetAverageSpeed records the routing core's messages/second since the
// last speed-sampler tick.
func (r *Reporter) SetAverageSpeed(f float32) {
	r.mu.Lock()
	r.lastSpeed = f
	r.mu.Unlock()
	averageSpeed.Set(float64(f))
}

// AverageSpeed returns the last-reported messages/second figure.
func (r *Reporter) AverageSpeed() float32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSpeed
}

// SetProcessedMessages adds n, the number of messages the routing core
// processed since the previous sample, to the cumulative count.
func (r *Reporter) SetProcessedMessages(n int64) {
	r.mu.Lock()
	r.totalProcessed += n
	r.mu.Unlock()
	processedMessagesTotal.Add(float64(n))
}

// ProcessedMessages returns the cumulative processed-message count.
func (r *Reporter) ProcessedMessages() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.totalProcessed
}

// IncrementPublished records one message published by uuid — the
// per-workload counter the routing core's reconfiguration step
// reconciles against the current workload list (spec §4.2 step 8).
func (r *Reporter) IncrementPublished(uuid string) {
	r.mu.Lock()
	r.published[uuid]++
	n := r.published[uuid]
	r.mu.Unlock()
	publishedMessagesByWorkload.WithLabelValues(uuid).Set(float64(n))
}

// GetPublishedMessagesPerWorkload returns a snapshot of the published
// counter for every tracked workload.
func (r *Reporter) GetPublishedMessagesPerWorkload() map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int64, len(r.published))
	for k, v := range r.published {
		out[k] = v
	}
	return out
}

// ReconcilePublished adds zero-entries for any uuid in workloadUUIDs not
// yet tracked, and drops entries for uuids no longer present — the
// counter-table half of spec §4.2 step 8.
func (r *Reporter) ReconcilePublished(workloadUUIDs []string) {
	want := make(map[string]struct{}, len(workloadUUIDs))
	for _, u := range workloadUUIDs {
		want[u] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for u := range want {
		if _, ok := r.published[u]; !ok {
			r.published[u] = 0
		}
	}
	for u := range r.published {
		if _, ok := want[u]; !ok {
			delete(r.published, u)
			publishedMessagesByWorkload.DeleteLabelValues(u)
		}
	}
}
