// Package tls builds the client-side TLS configuration used for the implicit
// TLS IMAP session.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
)

// ClientConfig returns a tls.Config for dialing serverName. When caFile is
// set, its PEM certificates are trusted in addition to the system pool, which
// lets the relay talk to servers with a private or self-signed certificate.
// insecureSkipVerify disables verification entirely and is logged loudly.
func ClientConfig(serverName, caFile string, insecureSkipVerify bool) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}

	if caFile != "" {
		pool, err := loadCertPool(caFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}

	if insecureSkipVerify {
		slog.Warn("IMAP certificate verification disabled", "server", serverName)
		cfg.InsecureSkipVerify = true
	}

	return cfg, nil
}

// loadCertPool returns the system pool extended with the certificates in
// caFile.
func loadCertPool(caFile string) (*x509.CertPool, error) {
	pemData, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}

	if !pool.AppendCertsFromPEM(pemData) {
		return nil, fmt.Errorf("no PEM certificates found in %s", caFile)
	}

	return pool, nil
}
