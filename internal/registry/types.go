// Package registry implements the Workload Registry: the in-memory store
// of current and latest-desired workloads, registries, and routes that
// the Lifecycle Engine and Routing Core read snapshots from.
package registry

import "time"

// WorkloadState is the reported lifecycle state of a workload. The
// Lifecycle Engine is the sole writer; Status Reporter and the local API
// are readers.
type WorkloadState string

const (
	StateQueued   WorkloadState = "QUEUED"
	StatePulling  WorkloadState = "PULLING"
	StateStarting WorkloadState = "STARTING"
	StateRunning  WorkloadState = "RUNNING"
	StateStopping WorkloadState = "STOPPING"
	StateStopped  WorkloadState = "STOPPED"
	StateDeleting WorkloadState = "DELETING"
	StateFailed   WorkloadState = "FAILED"
	StateUnknown  WorkloadState = "UNKNOWN"
)

// Workload is a user-supplied containerized process managed by the agent
// (a.k.a. microservice). Identified by a stable opaque uuid.
type Workload struct {
	UUID        string `json:"uuid"`
	Image       string `json:"image"`
	RegistryID  string `json:"registryId"`
	Rebuild     bool   `json:"rebuild"`
	ContainerID string `json:"containerId,omitempty"`
	ImageID     string `json:"imageId,omitempty"`
	IPAddress   string `json:"ipAddress,omitempty"`
	Updating    bool   `json:"updating"`
}

// CacheRegistryID is the sentinel registry id meaning "local cache only."
const CacheRegistryID = "from_cache"

// Registry is a remote image store plus credentials, or the cache
// sentinel. Immutable after creation; replaced wholesale on refresh.
type Registry struct {
	ID             string `json:"id"`
	URL            string `json:"url"`
	Username       string `json:"username,omitempty"`
	Password       string `json:"password,omitempty"`
	TLSCert        string `json:"tlsCert,omitempty"`
	DevModeEnabled bool   `json:"devModeEnabled"`
}

// FromCache reports whether this registry means "never contact a remote
// registry, only use the local image cache."
func (r Registry) FromCache() bool {
	return r.ID == CacheRegistryID || r.URL == "" || r.URL == "from_cache"
}

// Receiver is a consuming endpoint of a route, either in-process or
// behind a remote connector.
type Receiver struct {
	WorkloadUUID          string `json:"workloadUuid"`
	Local                 bool   `json:"local"`
	ConnectorProducerName string `json:"connectorProducerConfig,omitempty"`
}

// Route maps one producing workload to a set of receivers.
type Route struct {
	Producer  string     `json:"producer"`
	Receivers []Receiver `json:"receivers"`
}

// TaskAction is the Container Task command taxonomy consumed by the
// Lifecycle Engine.
type TaskAction string

const (
	ActionAdd               TaskAction = "ADD"
	ActionUpdate            TaskAction = "UPDATE"
	ActionRemove            TaskAction = "REMOVE"
	ActionRemoveWithCleanUp TaskAction = "REMOVE_WITH_CLEAN_UP"
	ActionStop              TaskAction = "STOP"
)

// Task is a Container Task: produced by a planner outside the core,
// consumed in FIFO order by the Lifecycle Engine.
type Task struct {
	Action       TaskAction
	WorkloadUUID string
}

// HistoryEntry records one completed Container Task, for diagnostics and
// the Status Reporter's "last seen" views. Not part of spec.md's hard
// core; mirrors the teacher's update-history bookkeeping.
type HistoryEntry struct {
	WorkloadUUID string        `json:"workloadUuid"`
	Action       TaskAction    `json:"action"`
	Outcome      string        `json:"outcome"` // "ok" or the error text
	StartedAt    time.Time     `json:"startedAt"`
	Duration     time.Duration `json:"durationNanos"`
}
