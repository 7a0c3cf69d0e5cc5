package localapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fogwarden/agent/internal/agentcfg"
	"github.com/fogwarden/agent/internal/agentlog"
	"github.com/fogwarden/agent/internal/broker"
	"github.com/fogwarden/agent/internal/clock"
	"github.com/fogwarden/agent/internal/connector"
	"github.com/fogwarden/agent/internal/registry"
	"github.com/fogwarden/agent/internal/routing"
	"github.com/fogwarden/agent/internal/status"
)

type noConnectorResolver struct{}

func (noConnectorResolver) ResolveConnectorConfig(string) (connector.Config, bool) {
	return connector.Config{}, false
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	b := broker.New()
	if err := b.StartServer(); err != nil {
		t.Fatalf("StartServer: %v", err)
	}
	pool := connector.New(t.TempDir(), agentlog.New(false))
	reg := registry.New()
	cfg := agentcfg.NewTestConfig()
	core := routing.New(b, pool, noConnectorResolver{}, status.New(), cfg, clock.Real{}, agentlog.New(false))
	core.Initialize(context.Background(), []registry.Route{
		{Producer: "pub1", Receivers: []registry.Receiver{{WorkloadUUID: "rcv1", Local: true}}},
	})

	return NewServer(Dependencies{
		Routing:  core,
		Registry: reg,
		Config:   cfg,
		Version:  "test",
		Log:      agentlog.New(false),
	})
}

func TestHandleConfigGetReturnsWorkload(t *testing.T) {
	s := newTestServer(t)
	s.deps.Registry.ReplaceLatest([]registry.Workload{{UUID: "w1", Image: "nginx:latest"}})

	body, _ := json.Marshal(configGetRequest{WorkloadUUID: "w1"})
	req := httptest.NewRequest(http.MethodPost, "/v2/config/get", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got registry.Workload
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Image != "nginx:latest" {
		t.Errorf("Image = %q, want nginx:latest", got.Image)
	}
}

func TestHandleConfigGetUnknownWorkload(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(configGetRequest{WorkloadUUID: "ghost"})
	req := httptest.NewRequest(http.MethodPost, "/v2/config/get", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestRequireBearerRejectsMissingOrWrongToken(t *testing.T) {
	s := newTestServer(t)
	s.deps.Config.APIToken = "secret-token"
	s.deps.Registry.ReplaceLatest([]registry.Workload{{UUID: "w1", Image: "nginx:latest"}})

	body, _ := json.Marshal(configGetRequest{WorkloadUUID: "w1"})

	req := httptest.NewRequest(http.MethodPost, "/v2/config/get", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no Authorization header: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v2/config/get", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec = httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v2/config/get", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret-token")
	rec = httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("correct token: status = %d, want 200", rec.Code)
	}
}

func TestRequireBearerDisabledWhenTokenUnset(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v2/restblue", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 when no token is configured", rec.Code)
	}
}

func TestHandleMessagesNewAndNext(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(messagesNewRequest{PublisherUUID: "pub1", Content: []byte("hello")})
	req := httptest.NewRequest(http.MethodPost, "/v2/messages/new", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("messages/new status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/v2/messages/next?uuid=rcv1", nil)
	rec = httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("messages/next status = %d, want 200", rec.Code)
	}
	var msgs []broker.Message
	if err := json.NewDecoder(rec.Body).Decode(&msgs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msgs) != 1 || string(msgs[0].Content) != "hello" {
		t.Errorf("NextMessages = %v, want one message with content hello", msgs)
	}
}

func TestHandleMessagesNewUnknownPublisher(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(messagesNewRequest{PublisherUUID: "ghost", Content: []byte("x")})
	req := httptest.NewRequest(http.MethodPost, "/v2/messages/new", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleMessagesQueryReturnsPublishedHistory(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(messagesNewRequest{PublisherUUID: "pub1", Content: []byte("a")})
	req := httptest.NewRequest(http.MethodPost, "/v2/messages/new", bytes.NewReader(body))
	s.mux.ServeHTTP(httptest.NewRecorder(), req)

	qBody, _ := json.Marshal(messagesQueryRequest{
		WorkloadUUID: "pub1",
		From:         time.Now().Add(-time.Hour),
	})
	qReq := httptest.NewRequest(http.MethodPost, "/v2/messages/query", bytes.NewReader(qBody))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, qReq)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var msgs []broker.Message
	if err := json.NewDecoder(rec.Body).Decode(&msgs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("query returned %d messages, want 1", len(msgs))
	}
}

func TestHandleCommandlineReportsVersion(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v2/commandline", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	var got commandlineResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Version != "test" {
		t.Errorf("Version = %q, want test", got.Version)
	}
}

func TestHandleRestBlueReportsOK(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v2/restblue", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	var got restBlueResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != "ok" {
		t.Errorf("Status = %q, want ok", got.Status)
	}
}
