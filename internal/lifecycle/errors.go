package lifecycle

import "errors"

// Error kinds from spec §7. The engine never catches-and-discards
// silently; every recoverable path logs at WARNING with the workload
// uuid and the operation that failed before returning one of these.
var (
	// ErrConfigError means required config (e.g. the workload's
	// registry) is missing. Fatal to the task.
	ErrConfigError = errors.New("config error")

	// ErrImageUnavailable means the image could not be pulled and is
	// not present in the local cache either. Fatal to the task.
	ErrImageUnavailable = errors.New("image unavailable")

	// ErrFatalRuntime means the runtime rejected the operation
	// definitively (create failed). The workload is marked FAILED.
	ErrFatalRuntime = errors.New("fatal runtime error")
)

// TaskError wraps an underlying cause with the workload uuid it occurred
// against, so callers can log/report without string-parsing the message.
type TaskError struct {
	WorkloadUUID string
	Err          error
}

func (e *TaskError) Error() string {
	return e.WorkloadUUID + ": " + e.Err.Error()
}

func (e *TaskError) Unwrap() error {
	return e.Err
}
