package localapi

import (
	"net/http"
	"os"
	"runtime"
	"time"
)

// handleLog serves recently buffered line-delimited log records.
func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	if s.deps.LogBuffer == nil {
		writeError(w, http.StatusNotImplemented, "log buffering disabled")
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	for _, line := range s.deps.LogBuffer.Lines() {
		w.Write(line)
		w.Write([]byte("\n"))
	}
}

type commandlineResponse struct {
	Args      []string `json:"args"`
	Version   string   `json:"version"`
	GoVersion string   `json:"goVersion"`
}

// handleCommandline reports how this agent process was launched, for
// operator diagnostics.
func (s *Server) handleCommandline(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, commandlineResponse{
		Args:      os.Args,
		Version:   s.deps.Version,
		GoVersion: runtime.Version(),
	})
}

type restBlueResponse struct {
	Status string        `json:"status"`
	Uptime time.Duration `json:"uptimeNanos"`
}

// handleRestBlue is the auxiliary liveness/diagnostic probe named in
// spec §6 alongside /v2/log and /v2/commandline.
func (s *Server) handleRestBlue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, restBlueResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime),
	})
}
