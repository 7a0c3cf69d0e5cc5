package status

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fogwarden/agent/internal/registry"
)

func TestMetricsRegistered(t *testing.T) {
	workloadState.WithLabelValues("w1", string(registry.StateRunning))
	publishedMessagesByWorkload.WithLabelValues("w1")
	componentStatus.WithLabelValues("local_api", "running")

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	expected := map[string]bool{
		"fogwarden_workload_state":           false,
		"fogwarden_messages_per_second":      false,
		"fogwarden_messages_processed_total": false,
		"fogwarden_messages_published_total": false,
		"fogwarden_component_status":         false,
	}
	for _, mf := range mfs {
		if _, ok := expected[mf.GetName()]; ok {
			expected[mf.GetName()] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestSetWorkloadStateTracksLatest(t *testing.T) {
	r := New()
	r.SetWorkloadState("w1", registry.StatePulling)
	r.SetWorkloadState("w1", registry.StateRunning)

	got, ok := r.WorkloadState("w1")
	if !ok || got != registry.StateRunning {
		t.Errorf("WorkloadState = %v, %v, want RUNNING, true", got, ok)
	}
}

func TestIncrementPublishedAndSnapshot(t *testing.T) {
	r := New()
	r.IncrementPublished("w1")
	r.IncrementPublished("w1")
	r.IncrementPublished("w2")

	snap := r.GetPublishedMessagesPerWorkload()
	if snap["w1"] != 2 {
		t.Errorf("w1 count = %d, want 2", snap["w1"])
	}
	if snap["w2"] != 1 {
		t.Errorf("w2 count = %d, want 1", snap["w2"])
	}
}

func TestReconcilePublishedAddsAndDrops(t *testing.T) {
	r := New()
	r.IncrementPublished("stale")

	r.ReconcilePublished([]string{"w1", "w2"})

	snap := r.GetPublishedMessagesPerWorkload()
	if _, ok := snap["stale"]; ok {
		t.Error("reconcile should drop departed workloads")
	}
	if _, ok := snap["w1"]; !ok {
		t.Error("reconcile should zero-seed new workloads")
	}
	if snap["w1"] != 0 || snap["w2"] != 0 {
		t.Errorf("newly seeded counters should be zero, got %v", snap)
	}
}

func TestSetComponentStatusTracksLatest(t *testing.T) {
	r := New()
	r.SetComponentStatus("local_api", "starting")
	r.SetComponentStatus("local_api", "running")

	got, ok := r.ComponentStatus("local_api")
	if !ok || got != "running" {
		t.Errorf("ComponentStatus = %v, %v, want running, true", got, ok)
	}

	snap := r.ComponentStatuses()
	if snap["local_api"] != "running" {
		t.Errorf("ComponentStatuses()[local_api] = %q, want running", snap["local_api"])
	}
}
