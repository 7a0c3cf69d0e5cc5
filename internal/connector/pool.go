package connector

import (
	"context"
	"sync"

	"github.com/fogwarden/agent/internal/agentlog"
)

// Pool is the Connector Client Pool: a registry of Clients keyed by
// (host, port, tlsCertFingerprint). Reinit of a client is always
// close-then-recreate, never in-place mutation.
type Pool struct {
	mu       sync.Mutex
	trustDir string
	log      *agentlog.Logger
	clients  map[string]*Client
}

// New creates an empty Pool. trustDir is where per-connector trust-store
// files are materialized (ignored for dev-mode connectors).
func New(trustDir string, log *agentlog.Logger) *Pool {
	return &Pool{
		trustDir: trustDir,
		log:      log.Module("connector"),
		clients:  make(map[string]*Client),
	}
}

// GetOrCreate returns the existing client for cfg's key, connecting a
// new one if none exists yet.
func (p *Pool) GetOrCreate(ctx context.Context, cfg Config) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := cfg.key()
	if c, ok := p.clients[key]; ok {
		return c, nil
	}
	c, err := newClient(ctx, cfg, p.trustDir, p.log)
	if err != nil {
		return nil, err
	}
	p.clients[key] = c
	return c, nil
}

// Reinit closes and discards any existing client for cfg's key, then
// establishes a fresh connection in its place — the only supported way
// to pick up a rotated certificate or changed broker address.
func (p *Pool) Reinit(ctx context.Context, cfg Config) (*Client, error) {
	p.mu.Lock()
	if c, ok := p.clients[cfg.key()]; ok {
		c.close()
		delete(p.clients, cfg.key())
	}
	p.mu.Unlock()
	return p.GetOrCreate(ctx, cfg)
}

// Eject removes workloadUUID's session from whichever client serves cfg,
// if that client exists.
func (p *Pool) Eject(cfg Config, workloadUUID string) {
	p.mu.Lock()
	c, ok := p.clients[cfg.key()]
	p.mu.Unlock()
	if ok {
		c.ejectSession(workloadUUID)
	}
}

// Close terminates every client in the pool and empties the registry.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, c := range p.clients {
		c.close()
		delete(p.clients, key)
	}
}

// Len reports how many distinct connector clients are currently pooled.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}
