package connector

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
)

// materializeTrustStore writes config.Cert to a PEM file under dir named
// after the config's fingerprint, so rotating the cert produces a new
// file rather than overwriting one a live connection may still be
// reading, and returns a *tls.Config trusting only that CA.
func materializeTrustStore(dir string, cfg Config) (*tls.Config, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create trust store dir: %w", err)
	}
	path := filepath.Join(dir, cfg.fingerprint()+".pem")
	if err := os.WriteFile(path, []byte(cfg.Cert), 0600); err != nil {
		return nil, fmt.Errorf("write trust store file: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM([]byte(cfg.Cert)) {
		return nil, fmt.Errorf("parse connector CA cert for %s", cfg.key())
	}
	return &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}, nil
}
