// Package agentcfg loads agent configuration from environment variables.
package agentcfg

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// Config holds all agent configuration. Mutable fields (those with
// getter/setter pairs) are protected by an RWMutex because the
// Supervisor's long-lived goroutines read them while the local API may
// write them at runtime.
type Config struct {
	// Runtime connection
	RuntimeSock string

	// Storage
	DBPath string

	// Logging
	LogJSON bool

	// Connector / broker
	TrustStoreDir string
	DevMode       bool // plaintext connector sessions, no mTLS

	// Local API
	HTTPAddr string
	APIToken string // bearer token workloads must present; empty disables the check

	mu               sync.RWMutex
	speedSampleEvery time.Duration // Routing Core speed sampler period
	watchdogEvery    time.Duration // Routing Core liveness watchdog period
	shutdownGrace    time.Duration // grace period before abandoning in-flight calls
}

// NewTestConfig returns a Config with sensible defaults for tests.
func NewTestConfig() *Config {
	return &Config{
		RuntimeSock:      "/var/run/docker.sock",
		DBPath:           ":memory:",
		speedSampleEvery: time.Minute,
		watchdogEvery:    5 * time.Second,
		shutdownGrace:    5 * time.Second,
	}
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		RuntimeSock:      envStr("FOGWARDEN_RUNTIME_SOCK", "/var/run/docker.sock"),
		DBPath:           envStr("FOGWARDEN_DB_PATH", "/data/fogwarden.db"),
		LogJSON:          envBool("FOGWARDEN_LOG_JSON", true),
		TrustStoreDir:    envStr("FOGWARDEN_TRUSTSTORE_DIR", "/data/truststores"),
		DevMode:          envBool("FOGWARDEN_DEV_MODE", false),
		HTTPAddr:         envStr("FOGWARDEN_HTTP_ADDR", ":8090"),
		APIToken:         envStr("FOGWARDEN_API_TOKEN", ""),
		speedSampleEvery: envDuration("FOGWARDEN_SPEED_SAMPLE_INTERVAL", time.Minute),
		watchdogEvery:    envDuration("FOGWARDEN_WATCHDOG_INTERVAL", 5*time.Second),
		shutdownGrace:    envDuration("FOGWARDEN_SHUTDOWN_GRACE", 5*time.Second),
	}
}

// Validate checks configuration for invalid values.
func (c *Config) Validate() error {
	c.mu.RLock()
	sample := c.speedSampleEvery
	watchdog := c.watchdogEvery
	c.mu.RUnlock()

	var errs []error
	if sample <= 0 {
		errs = append(errs, fmt.Errorf("FOGWARDEN_SPEED_SAMPLE_INTERVAL must be > 0, got %s", sample))
	}
	if watchdog <= 0 {
		errs = append(errs, fmt.Errorf("FOGWARDEN_WATCHDOG_INTERVAL must be > 0, got %s", watchdog))
	}
	if len(errs) == 0 {
		return nil
	}
	joined := errs[0]
	for _, e := range errs[1:] {
		joined = fmt.Errorf("%w; %w", joined, e)
	}
	return joined
}

// Values returns all configuration as a string map for display, with
// secrets redacted.
func (c *Config) Values() map[string]string {
	return map[string]string{
		"FOGWARDEN_RUNTIME_SOCK":          c.RuntimeSock,
		"FOGWARDEN_DB_PATH":               c.DBPath,
		"FOGWARDEN_LOG_JSON":              fmt.Sprintf("%t", c.LogJSON),
		"FOGWARDEN_TRUSTSTORE_DIR":        c.TrustStoreDir,
		"FOGWARDEN_DEV_MODE":              fmt.Sprintf("%t", c.DevMode),
		"FOGWARDEN_HTTP_ADDR":             c.HTTPAddr,
		"FOGWARDEN_API_TOKEN":             redactedIfSet(c.APIToken),
		"FOGWARDEN_SPEED_SAMPLE_INTERVAL": c.SpeedSampleInterval().String(),
		"FOGWARDEN_WATCHDOG_INTERVAL":     c.WatchdogInterval().String(),
		"FOGWARDEN_SHUTDOWN_GRACE":        c.ShutdownGrace().String(),
	}
}

// SpeedSampleInterval returns the Routing Core speed sampler period.
func (c *Config) SpeedSampleInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.speedSampleEvery
}

// SetSpeedSampleInterval updates the speed sampler period at runtime.
func (c *Config) SetSpeedSampleInterval(d time.Duration) {
	c.mu.Lock()
	c.speedSampleEvery = d
	c.mu.Unlock()
}

// WatchdogInterval returns the Routing Core liveness watchdog period.
func (c *Config) WatchdogInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.watchdogEvery
}

// SetWatchdogInterval updates the watchdog period at runtime.
func (c *Config) SetWatchdogInterval(d time.Duration) {
	c.mu.Lock()
	c.watchdogEvery = d
	c.mu.Unlock()
}

// ShutdownGrace returns the grace period given to in-flight runtime/broker
// calls before they are abandoned at shutdown.
func (c *Config) ShutdownGrace() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.shutdownGrace
}

func redactedIfSet(v string) string {
	if v == "" {
		return ""
	}
	return "***"
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
