package localapi

import (
	"encoding/json"
	"net/http"
)

type configGetRequest struct {
	WorkloadUUID string `json:"workloadUuid"`
}

// handleConfigGet returns a workload's desired configuration blob.
func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	var req configGetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.WorkloadUUID == "" {
		writeError(w, http.StatusBadRequest, "workloadUuid required")
		return
	}

	workload, ok := s.deps.Registry.FindLatestByUUID(req.WorkloadUUID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown workload")
		return
	}
	writeJSON(w, http.StatusOK, workload)
}
