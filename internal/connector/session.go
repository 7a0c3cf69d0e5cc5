package connector

// Session represents one workload's presence on a connector client. It
// carries no connection state of its own — publish/subscribe go through
// the owning Client — but gives the Routing Core a handle to track
// which workloads are currently attached to which broker.
type Session struct {
	WorkloadUUID string
	topic        string
}

func sessionTopic(workloadUUID string) string {
	return "fogwarden/workload/" + workloadUUID
}
