package agentlog

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestWireHandlerEmitsFixedSchema(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, true)
	log = log.Module("routing").Thread("watchdog")

	log.Warn("broker down", "error", errors.New("dial tcp: refused"))

	var line wireLine
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}

	if line.LogLevel != "WARN" {
		t.Errorf("logLevel = %q, want WARN", line.LogLevel)
	}
	if line.ModuleName != "routing" {
		t.Errorf("moduleName = %q, want routing", line.ModuleName)
	}
	if line.ThreadName != "watchdog" {
		t.Errorf("threadName = %q, want watchdog", line.ThreadName)
	}
	if line.ExceptionMessage != "dial tcp: refused" {
		t.Errorf("exceptionMessage = %q, want dial tcp: refused", line.ExceptionMessage)
	}
	if !strings.Contains(line.Message, "broker down") {
		t.Errorf("message = %q, want it to contain %q", line.Message, "broker down")
	}
	// Timestamp must match MM/dd/yyyy hh:mm:ss.SSS shape: two slashes, one space, two colons, one dot.
	if strings.Count(line.Timestamp, "/") != 2 || strings.Count(line.Timestamp, ":") != 2 {
		t.Errorf("timestamp %q does not match MM/dd/yyyy hh:mm:ss.SSS", line.Timestamp)
	}
}

func TestWireHandlerDefaultsModuleFromLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, true).Module("lifecycle")
	log.Info("queued")

	var line wireLine
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if line.ModuleName != "lifecycle" {
		t.Errorf("moduleName = %q, want lifecycle", line.ModuleName)
	}
}
