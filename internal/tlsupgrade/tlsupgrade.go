// Package tlsupgrade wraps crypto/tls for the STARTTLS and implicit-TLS
// upgrade path (spec.md §4.1, §6): it resolves a per-SNI-name certificate,
// falling back to a configured default when the client requests no SNI
// name or one the table doesn't have, and enforces a handshake timeout.
//
// Grounded on foxcpp-maddy's framework/config/tls.TLSConfig, whose
// *tls.Config.GetConfigForClient hook is the same mechanism used here,
// simplified to a direct certificate table instead of maddy's
// hot-reloadable module.TLSLoader indirection.
package tlsupgrade

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"
)

var ErrNoCertificates = errors.New("tlsupgrade: no certificates configured")

// Table resolves a TLS server certificate by the SNI name the client
// presented, or a configured default when it presented none (or an
// unrecognized one).
type Table struct {
	byName  map[string]*tls.Certificate
	Default *tls.Certificate
}

// NewTable builds a Table, keying certs by every DNS name in its leaf
// certificate (case-insensitive), and designating def as the fallback.
func NewTable(certs []tls.Certificate, def *tls.Certificate) (*Table, error) {
	t := &Table{byName: make(map[string]*tls.Certificate), Default: def}
	for i := range certs {
		c := &certs[i]
		names, err := leafNames(c)
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			t.byName[n] = c
		}
	}
	if t.Default == nil && len(certs) > 0 {
		t.Default = &certs[0]
	}
	if t.Default == nil {
		return nil, ErrNoCertificates
	}
	return t, nil
}

func leafNames(c *tls.Certificate) ([]string, error) {
	if len(c.Certificate) == 0 {
		return nil, fmt.Errorf("tlsupgrade: certificate has no leaf")
	}
	leaf, err := parseLeaf(c)
	if err != nil {
		return nil, err
	}
	var names []string
	if leaf.Subject.CommonName != "" {
		names = append(names, normalizeName(leaf.Subject.CommonName))
	}
	for _, n := range leaf.DNSNames {
		names = append(names, normalizeName(n))
	}
	return names, nil
}

func normalizeName(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Config builds a *tls.Config whose GetConfigForClient resolves the
// certificate per t's table, defaulting minimum version to TLS 1.2.
func (t *Table) Config() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		GetConfigForClient: func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
			cert := t.byName[normalizeName(hello.ServerName)]
			if cert == nil {
				cert = t.Default
			}
			return &tls.Config{
				MinVersion:   tls.VersionTLS12,
				Certificates: []tls.Certificate{*cert},
			}, nil
		},
	}
}

// Upgrade performs the server-side TLS handshake over raw, within timeout,
// and returns the resulting connection plus the SNI name the client
// requested (empty if none). Used for both STARTTLS (raw already carries
// a few commands of plaintext SMTP state) and implicit TLS listeners.
func Upgrade(ctx context.Context, raw net.Conn, cfg *tls.Config, timeout time.Duration) (*tls.Conn, string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tlsConn := tls.Server(raw, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, "", fmt.Errorf("tlsupgrade: handshake: %w", err)
	}
	return tlsConn, tlsConn.ConnectionState().ServerName, nil
}
