// Package smtpsession implements the SMTP session state machine
// (spec.md §4.3): command parsing and ordering, the TLS (§4.4) and SASL
// (§4.5) upgrades, the error budget, and DATA-mode body accumulation,
// bridging to the policy engine (internal/policy) before committing each
// transition.
//
// There is no single teacher analogue — foxcpp-maddy hands this whole
// layer to github.com/emersion/go-smtp — so this package is grounded on
// maddy's internal/endpoint/smtp/session.go for logging/structuring
// conventions and vSMTP's original src/smtp/state.rs for the transition
// table itself, hand-written the way spec.md's component budget requires.
package smtpsession

// State is one node of the SMTP session state machine (spec.md §4.3).
type State int

const (
	Connect State = iota
	Helo
	MailFrom
	RcptTo
	Data
	NegotiationTLS
	Authenticate
	Stop
)

func (s State) String() string {
	switch s {
	case Connect:
		return "connect"
	case Helo:
		return "helo"
	case MailFrom:
		return "mail_from"
	case RcptTo:
		return "rcpt_to"
	case Data:
		return "data"
	case NegotiationTLS:
		return "negotiation_tls"
	case Authenticate:
		return "authenticate"
	case Stop:
		return "stop"
	default:
		return "unknown"
	}
}
