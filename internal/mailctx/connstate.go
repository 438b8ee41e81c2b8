package mailctx

import (
	"net"
	"time"
)

// Credentials records the identity a client authenticated with via AUTH.
// Password is populated only transiently, while a PLAIN/LOGIN exchange is
// being checked against policy — Encode never copies it into the wire
// format, so a credential never reaches the on-disk queue.
type Credentials struct {
	Username string
	Password string
}

// ConnState is the connection-level context carried alongside the
// envelope and body for the lifetime of one SMTP session (spec.md §3).
type ConnState struct {
	Timestamp  time.Time
	ClientAddr net.Addr

	TLS bool
	// ServerName is the SNI name the client requested during the TLS
	// handshake, or the listener's configured default certificate's name
	// when the client sent no SNI / the connection is plaintext.
	ServerName string

	Authenticated bool
	Credentials   *Credentials
}

// NewConnState builds the initial ConnState for a freshly accepted
// connection, before TLS negotiation or authentication.
func NewConnState(remote net.Addr, now time.Time, defaultServerName string) ConnState {
	return ConnState{
		Timestamp:  now,
		ClientAddr: remote,
		ServerName: defaultServerName,
	}
}

// Authenticate records a successful AUTH exchange.
func (c ConnState) Authenticate(username string) ConnState {
	c.Authenticated = true
	c.Credentials = &Credentials{Username: username}
	return c
}

// UpgradeTLS records a completed STARTTLS/implicit-TLS handshake and the
// negotiated SNI server name (empty if the client sent none, in which case
// ServerName keeps its default).
func (c ConnState) UpgradeTLS(negotiatedServerName string) ConnState {
	c.TLS = true
	if negotiatedServerName != "" {
		c.ServerName = negotiatedServerName
	}
	return c
}
