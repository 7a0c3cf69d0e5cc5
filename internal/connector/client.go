package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/fogwarden/agent/internal/agentlog"
)

// Client owns one authenticated connection to a connector broker (the
// spec's "session factory") plus the set of per-workload sessions
// currently riding on it. All public methods are mutually exclusive —
// single-writer per client instance.
type Client struct {
	mu       sync.Mutex
	cfg      Config
	log      *agentlog.Logger
	conn     mqtt.Client
	sessions map[string]*Session
}

func connectClient(ctx context.Context, cfg Config, trustDir string, log *agentlog.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.brokerURL()).
		SetConnectTimeout(10 * time.Second).
		SetWriteTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30 * time.Second)
	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if !cfg.DevMode {
		tlsConf, err := materializeTrustStore(trustDir, cfg)
		if err != nil {
			return nil, fmt.Errorf("materialize trust store: %w", err)
		}
		opts.SetTLSConfig(tlsConf)
	}

	conn := mqtt.NewClient(opts)
	bo := newBackoff()
	for {
		token := conn.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if err := token.Error(); err == nil {
				return conn, nil
			} else {
				log.Warn("connector connect failed", "broker", cfg.brokerURL(), "error", err)
			}
		} else {
			log.Warn("connector connect timed out", "broker", cfg.brokerURL())
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(bo.next()):
		}
	}
}

func newClient(ctx context.Context, cfg Config, trustDir string, log *agentlog.Logger) (*Client, error) {
	conn, err := connectClient(ctx, cfg, trustDir, log)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:      cfg,
		log:      log.Module("connector"),
		conn:     conn,
		sessions: make(map[string]*Session),
	}, nil
}

// startSession attaches workloadUUID to this client, subscribing to its
// topic if this is the first attachment. Idempotent.
func (c *Client) startSession(workloadUUID string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.sessions[workloadUUID]; ok {
		return s, nil
	}
	topic := sessionTopic(workloadUUID)
	token := c.conn.Subscribe(topic, 1, nil)
	if !token.WaitTimeout(10*time.Second) || token.Error() != nil {
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", topic, err)
		}
		return nil, fmt.Errorf("subscribe %s: timeout", topic)
	}
	s := &Session{WorkloadUUID: workloadUUID, topic: topic}
	c.sessions[workloadUUID] = s
	return s, nil
}

// ejectSession detaches workloadUUID from this client. No-op if absent.
func (c *Client) ejectSession(workloadUUID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[workloadUUID]
	if !ok {
		return
	}
	if token := c.conn.Unsubscribe(s.topic); token.WaitTimeout(5 * time.Second) {
		if err := token.Error(); err != nil {
			c.log.Warn("unsubscribe failed", "workload", workloadUUID, "error", err)
		}
	}
	delete(c.sessions, workloadUUID)
}

// publish sends payload on workloadUUID's topic. The workload must
// already have an active session.
func (c *Client) publish(workloadUUID string, payload []byte) error {
	c.mu.Lock()
	s, ok := c.sessions[workloadUUID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("connector: no session for workload %s", workloadUUID)
	}
	token := c.conn.Publish(s.topic, 1, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("publish %s: timeout", s.topic)
	}
	return token.Error()
}

// close terminates the underlying connection, transitively ending every
// session riding on it, and empties the session map.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.Disconnect(250)
	c.sessions = make(map[string]*Session)
}

func (c *Client) isConnected() bool {
	return c.conn.IsConnected()
}
