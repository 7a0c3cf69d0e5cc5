// Package runtime provides the Runtime Adapter: a thin capability surface
// over the container runtime consumed by the Workload Lifecycle Engine.
package runtime

import "context"

// WorkloadLabel is set on every container the agent creates so a
// container can be found again by workload uuid without a side table.
const WorkloadLabel = "fogwarden.workload.uuid"

// Container is the subset of runtime container state the Lifecycle Engine
// cares about.
type Container struct {
	ID      string
	ImageID string // resolved image ID the container was created from
	Status  string // "running", "exited", "unknown", ...
	IP      string
}

// Spec describes the container the Lifecycle Engine wants created. It is
// deliberately decoupled from any specific runtime's config types so the
// adapter can be swapped without touching engine code.
type Spec struct {
	WorkloadUUID string
	Image        string
	Env          []string
	Labels       map[string]string
	Ports        []string // "hostPort:containerPort/proto"
	Binds        []string // "hostPath:containerPath[:ro]"
	Networks     []string
}

// Runtime is the capability surface over the container runtime. It names
// operations directly rather than returning a caller-must-remember-to-run
// supplier — every call either blocks or is invoked from inside a task the
// Lifecycle Engine already owns.
type Runtime interface {
	ListContainers(ctx context.Context) ([]Container, error)
	GetContainer(ctx context.Context, workloadUUID string) (Container, bool, error)
	FindLocalImage(ctx context.Context, image string) (bool, error)

	PullImage(ctx context.Context, image string, reg RegistryAuth) error

	CreateContainer(ctx context.Context, spec Spec, hostIP string) (containerID string, imageID string, err error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string) error
	IsContainerRunning(ctx context.Context, containerID string) (bool, error)
	GetContainerStatus(ctx context.Context, containerID string) (string, bool, error)
	GetContainerIPAddress(ctx context.Context, containerID string) (string, error)

	RemoveContainer(ctx context.Context, containerID, imageID string, withCleanUp bool) error
	RemoveImageByID(ctx context.Context, imageID string) error

	Close() error
}

// RegistryAuth carries the credentials needed to pull from a non-cache
// registry. The zero value means anonymous/unauthenticated pull.
type RegistryAuth struct {
	URL      string
	Username string
	Password string
}

// FromCache reports whether this registry means "local cache only, never
// contact a remote registry" — spec §3's cache sentinel.
func (r RegistryAuth) FromCache() bool {
	return r.URL == "" || r.URL == "from_cache"
}
