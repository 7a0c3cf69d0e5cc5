package localapi

import (
	"bytes"
	"sync"
)

// logBufferCap bounds how many raw log lines GET /v2/log can return.
const logBufferCap = 1000

// LogBuffer is an io.Writer ring of recent line-delimited log records;
// /v2/log serves whatever has been written to it. The supervisor hands a
// LogBuffer to the server but does not route the agent's log output into
// it, so in the assembled agent /v2/log returns no lines. Mirrors the teacher's
// EventLogger (ListLogs) in spirit but over raw wire-format lines
// instead of structured UpdateRecords.
type LogBuffer struct {
	mu    sync.Mutex
	lines [][]byte
}

// NewLogBuffer creates an empty LogBuffer.
func NewLogBuffer() *LogBuffer {
	return &LogBuffer{}
}

// Write implements io.Writer, splitting p into complete lines and
// appending each to the ring.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, line := range bytes.Split(bytes.TrimRight(p, "\n"), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		cp := append([]byte(nil), line...)
		b.lines = append(b.lines, cp)
	}
	if len(b.lines) > logBufferCap {
		b.lines = b.lines[len(b.lines)-logBufferCap:]
	}
	return len(p), nil
}

// Lines returns a snapshot of the buffered log lines, oldest first.
func (b *LogBuffer) Lines() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.lines))
	copy(out, b.lines)
	return out
}
