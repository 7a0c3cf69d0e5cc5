// Package lifecycle implements the Workload Lifecycle Engine: it turns a
// stream of declarative desired-state transitions into idempotent,
// concurrency-safe operations against a container runtime.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/fogwarden/agent/internal/agentlog"
	"github.com/fogwarden/agent/internal/registry"
	"github.com/fogwarden/agent/internal/runtime"
)

// StateReporter is the Status Reporter sink the engine drives as the sole
// writer of workload state (spec §3).
type StateReporter interface {
	SetWorkloadState(uuid string, state registry.WorkloadState)
}

type noopReporter struct{}

func (noopReporter) SetWorkloadState(string, registry.WorkloadState) {}

// Engine drives per-workload state machines against the Runtime Adapter.
// It exposes a single operation, Execute, which returns a channel the
// caller may await for completion — never a lazy action the caller must
// remember to run.
type Engine struct {
	rt     runtime.Runtime
	reg    *registry.Store
	status StateReporter
	log    *agentlog.Logger

	// deleteMu serializes all removals process-wide (spec §5).
	deleteMu sync.Mutex

	// perUUID serializes commands targeting the same workload so that
	// command ordering for a given uuid is preserved even when Execute
	// is called concurrently by the planner.
	perUUID sync.Map // uuid -> *sync.Mutex
}

// New constructs an Engine. status may be nil, in which case state
// transitions are simply not reported (useful in tests that don't care).
func New(rt runtime.Runtime, reg *registry.Store, status StateReporter, log *agentlog.Logger) *Engine {
	if status == nil {
		status = noopReporter{}
	}
	return &Engine{rt: rt, reg: reg, status: status, log: log.Module("lifecycle")}
}

func (e *Engine) lockFor(uuid string) *sync.Mutex {
	mu := &sync.Mutex{}
	actual, _ := e.perUUID.LoadOrStore(uuid, mu)
	return actual.(*sync.Mutex)
}

// Execute consumes one Container Task and drives the workload's state
// machine. The returned channel receives exactly one value (nil on
// success) and is then closed.
func (e *Engine) Execute(ctx context.Context, task registry.Task) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		mu := e.lockFor(task.WorkloadUUID)
		mu.Lock()
		defer mu.Unlock()
		done <- e.dispatch(ctx, task)
	}()
	return done
}

func (e *Engine) dispatch(ctx context.Context, task registry.Task) error {
	uuid := task.WorkloadUUID
	started := time.Now()

	var err error
	switch task.Action {
	case registry.ActionAdd:
		err = e.add(ctx, uuid)
	case registry.ActionUpdate:
		err = e.update(ctx, uuid)
	case registry.ActionRemove:
		err = e.removeContainerByUUID(ctx, uuid, false)
	case registry.ActionRemoveWithCleanUp:
		err = e.removeContainerByUUID(ctx, uuid, true)
	case registry.ActionStop:
		err = e.stopContainer(ctx, uuid)
	default:
		e.log.Warn("unknown task action", "action", task.Action, "uuid", uuid)
		return nil
	}

	e.recordHistory(uuid, task.Action, started, err)
	return err
}

// recordHistory appends the task's outcome to the registry's update
// history. Best-effort: a history-write failure never fails the task
// itself, only gets logged.
func (e *Engine) recordHistory(uuid string, action registry.TaskAction, started time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = err.Error()
	}
	entry := registry.HistoryEntry{
		WorkloadUUID: uuid,
		Action:       action,
		Outcome:      outcome,
		StartedAt:    started,
		Duration:     time.Since(started),
	}
	if recErr := e.reg.RecordUpdate(entry); recErr != nil {
		e.log.Warn("failed to record update history", "uuid", uuid, "error", recErr)
	}
}

// add looks up the latest desired workload by uuid; if absent, no-op.
// Otherwise, if no container exists for the uuid, createContainer.
func (e *Engine) add(ctx context.Context, uuid string) error {
	workload, ok := e.reg.FindLatestByUUID(uuid)
	if !ok {
		return nil
	}
	if _, exists, err := e.rt.GetContainer(ctx, uuid); err != nil {
		return err
	} else if exists {
		return nil
	}
	return e.createContainer(ctx, workload, true)
}

// update sets updating=true, removes the container (with clean-up only
// when rebuild is requested against a non-cache registry) then recreates
// it, clearing updating on completion regardless of outcome.
func (e *Engine) update(ctx context.Context, uuid string) error {
	workload, ok := e.reg.FindLatestByUUID(uuid)
	if !ok {
		return nil
	}
	workload.Updating = true
	if err := e.reg.UpdateCurrent(workload); err != nil {
		e.log.Warn("failed to persist updating flag", "uuid", uuid, "error", err)
	}
	defer func() {
		workload.Updating = false
		if err := e.reg.UpdateCurrent(workload); err != nil {
			e.log.Warn("failed to clear updating flag", "uuid", uuid, "error", err)
		}
	}()

	reg, hasRegistry := e.reg.FindRegistry(workload.RegistryID)
	withCleanUp := workload.Rebuild && hasRegistry && !reg.FromCache()

	if err := e.removeContainerByUUID(ctx, uuid, withCleanUp); err != nil {
		return err
	}
	latest, ok := e.reg.FindLatestByUUID(uuid)
	if !ok {
		return nil
	}
	return e.createContainer(ctx, latest, true)
}

// removeContainerByUUID is serialized under the process-wide delete mutex
// so two removal attempts for the same uuid cannot race.
func (e *Engine) removeContainerByUUID(ctx context.Context, uuid string, withCleanUp bool) error {
	e.deleteMu.Lock()
	defer e.deleteMu.Unlock()

	c, exists, err := e.rt.GetContainer(ctx, uuid)
	if err != nil {
		return err
	}
	if !exists {
		e.setState(uuid, registry.StateStopped)
		return nil
	}

	e.setState(uuid, registry.StateDeleting)

	if err := e.rt.StopContainer(ctx, c.ID); err != nil {
		e.log.Warn("stop before remove failed, proceeding with force remove", "uuid", uuid, "error", err)
	}

	if err := e.rt.RemoveContainer(ctx, c.ID, c.ImageID, withCleanUp); err != nil {
		e.log.Error("remove failed", "uuid", uuid, "error", err)
		e.setState(uuid, registry.StateFailed)
		return &TaskError{WorkloadUUID: uuid, Err: err}
	}

	if withCleanUp {
		if c.ImageID == "" {
			e.log.Warn("skipping image cleanup: no image id recorded for container", "uuid", uuid, "containerId", c.ID)
		} else if err := e.rt.RemoveImageByID(ctx, c.ImageID); err != nil {
			e.log.Warn("image cleanup failed", "uuid", uuid, "error", err)
		}
	}

	if err := e.reg.RemoveCurrent(uuid); err != nil {
		e.log.Warn("failed to clear current-state record", "uuid", uuid, "error", err)
	}
	e.setState(uuid, registry.StateStopped)
	return nil
}

func (e *Engine) stopContainer(ctx context.Context, uuid string) error {
	c, exists, err := e.rt.GetContainer(ctx, uuid)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	e.setState(uuid, registry.StateStopping)
	if err := e.rt.StopContainer(ctx, c.ID); err != nil {
		e.log.Warn("stop failed", "uuid", uuid, "error", err)
		return &TaskError{WorkloadUUID: uuid, Err: err}
	}
	e.setState(uuid, registry.StateStopped)
	return nil
}

// createContainer resolves the registry, pulls the image (falling back to
// the local cache on transient pull failure), creates, then starts the
// container. pullImage is set exactly once per call: a failed pull is
// retried from cache within this same invocation, never recursively.
func (e *Engine) createContainer(ctx context.Context, workload registry.Workload, pullImage bool) error {
	uuid := workload.UUID
	e.setState(uuid, registry.StatePulling)

	reg, ok := e.reg.FindRegistry(workload.RegistryID)
	if !ok {
		e.setState(uuid, registry.StateFailed)
		return &TaskError{WorkloadUUID: uuid, Err: ErrConfigError}
	}

	auth := runtime.RegistryAuth{URL: reg.URL, Username: reg.Username, Password: reg.Password}

	attemptPull := pullImage && !reg.FromCache()
	if attemptPull {
		if err := e.rt.PullImage(ctx, workload.Image, auth); err != nil {
			e.log.Warn("pull failed, falling back to local cache", "uuid", uuid, "image", workload.Image, "error", err)
			attemptPull = false
		}
	}
	if !attemptPull {
		found, err := e.rt.FindLocalImage(ctx, workload.Image)
		if err != nil {
			e.log.Warn("local image check failed", "uuid", uuid, "error", err)
		}
		if !found {
			e.setState(uuid, registry.StateFailed)
			return &TaskError{WorkloadUUID: uuid, Err: ErrImageUnavailable}
		}
	}

	e.setState(uuid, registry.StateStarting)
	spec := runtime.Spec{WorkloadUUID: uuid, Image: workload.Image}
	containerID, imageID, err := e.rt.CreateContainer(ctx, spec, "")
	if err != nil {
		e.log.Error("create failed", "uuid", uuid, "error", err)
		e.setState(uuid, registry.StateFailed)
		return &TaskError{WorkloadUUID: uuid, Err: ErrFatalRuntime}
	}

	workload.ContainerID = containerID
	workload.ImageID = imageID
	workload.Rebuild = false
	if ip, err := e.rt.GetContainerIPAddress(ctx, containerID); err == nil {
		workload.IPAddress = ip
	}
	if err := e.reg.UpdateCurrent(workload); err != nil {
		e.log.Warn("failed to persist created container", "uuid", uuid, "error", err)
	}

	return e.startContainer(ctx, workload)
}

// startContainer starts the container if not already running. Failure is
// logged and surfaced as FAILED state; it does not abort enclosing
// composites because the supervisor re-drives from desired state.
func (e *Engine) startContainer(ctx context.Context, workload registry.Workload) error {
	uuid := workload.UUID
	running, err := e.rt.IsContainerRunning(ctx, workload.ContainerID)
	if err != nil {
		e.log.Warn("running check failed", "uuid", uuid, "error", err)
	}
	if !running {
		if err := e.rt.StartContainer(ctx, workload.ContainerID); err != nil {
			e.log.Error("start failed", "uuid", uuid, "error", err)
			e.setState(uuid, registry.StateFailed)
			return nil
		}
	}

	status, _, _ := e.rt.GetContainerStatus(ctx, workload.ContainerID)
	if ip, err := e.rt.GetContainerIPAddress(ctx, workload.ContainerID); err == nil {
		workload.IPAddress = ip
	}
	if err := e.reg.UpdateCurrent(workload); err != nil {
		e.log.Warn("failed to persist started container", "uuid", uuid, "error", err)
	}

	switch status {
	case "running":
		e.setState(uuid, registry.StateRunning)
	case "exited":
		e.setState(uuid, registry.StateFailed)
	default:
		e.setState(uuid, registry.StateUnknown)
	}
	return nil
}

func (e *Engine) setState(uuid string, state registry.WorkloadState) {
	e.status.SetWorkloadState(uuid, state)
}
