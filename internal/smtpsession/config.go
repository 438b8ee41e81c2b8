package smtpsession

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/emersion/go-sasl"

	"github.com/mtaserv/mtaserv/internal/mailctx"
	"github.com/mtaserv/mtaserv/internal/policy"
)

// MailHandler receives a completed MailContext once PreQ policy has
// accepted it (spec.md §4.3's "handed to the caller via a mail-handler
// interface"). The supervisor wires this to the queue writer.
type MailHandler interface {
	Handle(ctx context.Context, mc mailctx.MailContext) error
}

// SASLProvider builds a sasl.Server for mech, or an error if the mechanism
// is unavailable given the session's current TLS state. onSuccess is
// called by the returned server's underlying Authenticator once
// credentials check out, reporting the identity back to the session.
type SASLProvider func(mech string, tlsActive bool, onSuccess func(username string)) (sasl.Server, error)

// MechanismLister lists the mechanism names to advertise given TLS state.
type MechanismLister func(tlsActive bool) []string

// Config holds everything the session needs beyond the wire connection
// itself. Every field is a plain value or a narrow collaborator interface,
// never the concrete subsystem types, keeping the state machine ignorant
// of queue/TLS-table/policy-script wiring details (spec.md §4.8: "The
// policy engine is opaque").
type Config struct {
	Hostname string

	MaxRecipients  int
	MaxMessageSize int64

	CommandTimeout time.Duration
	DataTimeout    time.Duration

	ErrorSoftThreshold int
	ErrorHardThreshold int
	ErrorBackoff       time.Duration

	TLSConfig           *tls.Config
	TLSHandshakeTimeout time.Duration

	DangerousPlaintextAuth bool
	AuthAttemptCap         int
	SASLMechanisms         MechanismLister
	NewSASLServer          SASLProvider

	GenerateMsgID func() (string, error)

	Policy policy.Engine
	// Handler receives a MailContext accepted at PreQ, to spool to the
	// working queue. DeadHandler, if set, receives one denied at PreQ
	// instead, per spec.md §4.8's "for DATA and later stages, write the
	// context to the dead queue instead of working".
	Handler     MailHandler
	DeadHandler MailHandler
}
