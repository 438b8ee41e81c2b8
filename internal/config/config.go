// Package config loads mtaserv's single TOML configuration document into
// typed structs for listeners, the queue root, TLS certificates, SASL,
// the policy script path, and transport settings.
//
// Grounded on infodancer-pop3d's internal/config (Default/Load/Config
// shape) using the same library, github.com/pelletier/go-toml/v2 — the
// infodancer-smtpd manifest depends on it for exactly this job. Config
// validation semantics beyond type-correctness are out of scope, so this
// stays a thin loader: Load rejects a file only when it cannot be read or
// does not decode (a TOML syntax error or a value of the wrong type).
package config

import (
	"fmt"
	"os"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// ListenerKind names one of the three listener roles spec.md §6 defines.
type ListenerKind string

const (
	// Relay is the plain-or-STARTTLS MTA-to-MTA listener, conventionally
	// port 25.
	Relay ListenerKind = "relay"
	// Submission is the plain-or-STARTTLS submission listener,
	// conventionally port 587, where AUTH is typically required.
	Submission ListenerKind = "submission"
	// Submissions is the implicit-TLS submission listener, conventionally
	// port 465.
	Submissions ListenerKind = "submissions"
)

// ListenerConfig is one bound address and the role it plays.
type ListenerConfig struct {
	Address string       `toml:"address"`
	Kind    ListenerKind `toml:"kind"`
}

// TLSCertConfig is one certificate/key pair, optionally restricted to a
// set of SNI names; a blank Names list makes it the default certificate.
type TLSCertConfig struct {
	CertFile string   `toml:"cert_file"`
	KeyFile  string   `toml:"key_file"`
	Names    []string `toml:"names"`
}

// TLSConfigSection configures the certificate table shared by every
// listener (internal/tlsupgrade.Table is built from it at startup).
type TLSConfigSection struct {
	Certs            []TLSCertConfig `toml:"certs"`
	HandshakeTimeout string          `toml:"handshake_timeout"`
}

// SASLConfig controls which mechanisms are advertised and under what
// conditions (spec.md §6: "only when configured and, for TLS-required
// mechanisms, when the session is already secured or dangerous mode is
// on").
type SASLConfig struct {
	Mechanisms             []string `toml:"mechanisms"`
	DangerousPlaintextAuth bool     `toml:"dangerous_plaintext_auth"`
	AuthAttemptCap         int      `toml:"auth_attempt_cap"`
}

// PolicyConfig names the Lua script internal/policy/luapolicy loads.
type PolicyConfig struct {
	ScriptPath string `toml:"script_path"`
}

// TimeoutsConfig carries the session receive timeouts. Command bounds the
// wait for each command line and is shared by every command stage
// (connect, helo, mail, rcpt); Data bounds the wait for each DATA body
// line. There is no separate timeout per command stage. The TLS handshake
// timeout lives in TLSConfigSection.HandshakeTimeout, and Delivery is
// decoded but no code reads it.
type TimeoutsConfig struct {
	Command  string `toml:"command"`
	Data     string `toml:"data"`
	Delivery string `toml:"delivery"`
}

// LimitsConfig bounds a single session's envelope.
type LimitsConfig struct {
	MaxRecipients  int   `toml:"max_recipients"`
	MaxMessageSize int64 `toml:"max_message_size"`
	// MaxConnections caps concurrently live SMTP sessions (spec.md §5's
	// "Connection cap"); zero disables the cap.
	MaxConnections int `toml:"max_connections"`
	// MaxReceivedHops rejects a message already carrying at least this
	// many Received headers as a probable forwarding loop, checked by
	// the working stage; zero disables the check.
	MaxReceivedHops int `toml:"max_received_hops"`
}

// ErrorBudgetConfig configures the soft/hard protocol-error thresholds a
// session tolerates before being dropped.
type ErrorBudgetConfig struct {
	SoftThreshold int    `toml:"soft_threshold"`
	HardThreshold int    `toml:"hard_threshold"`
	Backoff       string `toml:"backoff"`
}

// BackoffConfig is the deferred->deliver retry schedule (Open Question #1:
// delay = initial * scale^(tries-1)).
type BackoffConfig struct {
	Initial  string  `toml:"initial"`
	Scale    float64 `toml:"scale"`
	MaxTries int     `toml:"max_tries"`
}

// RemoteTransportConfig configures the MX-routed outbound backend.
type RemoteTransportConfig struct {
	Nameserver    string `toml:"nameserver"`
	DNSTimeout    string `toml:"dns_timeout"`
	DialTimeout   string `toml:"dial_timeout"`
}

// MboxTransportConfig configures the local mbox backend.
type MboxTransportConfig struct {
	Dir   string `toml:"dir"`
	Group string `toml:"group"`
}

// MaildirTransportConfig configures the local Maildir backend.
type MaildirTransportConfig struct {
	Group string `toml:"group"`
}

// TransportsConfig groups every delivery backend's settings.
type TransportsConfig struct {
	Remote  RemoteTransportConfig  `toml:"remote"`
	Mbox    MboxTransportConfig    `toml:"mbox"`
	Maildir MaildirTransportConfig `toml:"maildir"`
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Path    string `toml:"path"`
}

// Config is the top-level document.
type Config struct {
	Hostname  string           `toml:"hostname"`
	LogLevel  string           `toml:"log_level"`
	QueueRoot string           `toml:"queue_root"`
	Listeners []ListenerConfig `toml:"listeners"`

	TLS      TLSConfigSection  `toml:"tls"`
	SASL     SASLConfig        `toml:"sasl"`
	Policy   PolicyConfig      `toml:"policy"`
	Timeouts TimeoutsConfig    `toml:"timeouts"`
	Limits   LimitsConfig      `toml:"limits"`
	Errors   ErrorBudgetConfig `toml:"errors"`
	Backoff  BackoffConfig     `toml:"backoff"`

	Transports TransportsConfig `toml:"transports"`
	Metrics    MetricsConfig    `toml:"metrics"`
}

// Default returns a Config with sensible values for a standalone install.
func Default() Config {
	return Config{
		Hostname:  "localhost",
		LogLevel:  "info",
		QueueRoot: "/var/spool/mtaserv",
		Listeners: []ListenerConfig{
			{Address: ":25", Kind: Relay},
			{Address: ":587", Kind: Submission},
			{Address: ":465", Kind: Submissions},
		},
		TLS: TLSConfigSection{HandshakeTimeout: "10s"},
		SASL: SASLConfig{
			Mechanisms:     []string{"PLAIN", "LOGIN", "CRAM-MD5"},
			AuthAttemptCap: 3,
		},
		Timeouts: TimeoutsConfig{
			Command:  "1m",
			Data:     "10m",
			Delivery: "5m",
		},
		Limits: LimitsConfig{
			MaxRecipients:   100,
			MaxMessageSize:  32 << 20,
			MaxConnections:  1024,
			MaxReceivedHops: 50,
		},
		Errors: ErrorBudgetConfig{
			SoftThreshold: 3,
			HardThreshold: 10,
			Backoff:       "1s",
		},
		Backoff: BackoffConfig{
			Initial:  "5m",
			Scale:    2,
			MaxTries: 5,
		},
		Transports: TransportsConfig{
			Remote: RemoteTransportConfig{
				DNSTimeout:  "5s",
				DialTimeout: "30s",
			},
			Mbox: MboxTransportConfig{Dir: "/var/mail"},
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9154",
			Path:    "/metrics",
		},
	}
}

// Load parses the TOML document at path over a Default Config. A missing
// file is not an error — it returns the defaults, letting mtaserv run
// out of the box.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Duration parses s as a time.Duration, returning def if s is empty or
// malformed. Every *Config string timeout/delay field is resolved through
// this helper rather than failing startup over one bad value.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
