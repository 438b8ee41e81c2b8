// Package policy defines the external policy-evaluation contract
// (spec.md §4.8): one opaque operation, Run(stage, ctx) -> Status, invoked
// at each checkpoint the SMTP state machine and the working-stage pass
// through. The concrete engine (internal/policy/luapolicy) is just one
// collaborator behind this interface.
package policy

import (
	"context"

	"github.com/mtaserv/mtaserv/internal/mailctx"
	"github.com/mtaserv/mtaserv/internal/reply"
)

// Stage names a policy checkpoint. Checkpoints line up with the SMTP
// session's command stages plus the two queue-pipeline checkpoints
// (PostQ, Delivery) that run outside any single client command.
type Stage int

const (
	Connect Stage = iota
	Helo
	MailFrom
	RcptTo
	PreQueue
	PostQueue
	Delivery
	Authenticate
)

func (s Stage) String() string {
	switch s {
	case Connect:
		return "connect"
	case Helo:
		return "helo"
	case MailFrom:
		return "mail_from"
	case RcptTo:
		return "rcpt_to"
	case PreQueue:
		return "pre_queue"
	case PostQueue:
		return "post_queue"
	case Delivery:
		return "delivery"
	case Authenticate:
		return "authenticate"
	default:
		return "unknown"
	}
}

// StatusKind tags which Status variant a policy verdict carries.
type StatusKind int

const (
	StatusNext StatusKind = iota
	StatusAccept
	StatusDeny
	StatusInfo
	StatusFaccept
)

// Status is the closed sum type a policy Run returns (spec.md §4.8).
type Status struct {
	kind   StatusKind
	reply  *reply.Reply
	packet string
}

func Next() Status   { return Status{kind: StatusNext} }
func Accept() Status { return Status{kind: StatusAccept} }
func Faccept() Status { return Status{kind: StatusFaccept} }

// Deny aborts the current checkpoint with an explicit reply. A zero-value
// reply.Reply (Code == 0) means "use the stage default", resolved by the
// caller via reply.Default(stage) per spec.md §4.2.
func Deny(r reply.Reply) Status { return Status{kind: StatusDeny, reply: &r} }

// DenyDefault aborts with no explicit reply, letting the caller fall back
// to the stage's default 5xx.
func DenyDefault() Status { return Status{kind: StatusDeny} }

// Info carries a stage-specific side-channel payload (e.g. a password
// supplied to the SASL callback) rather than a protocol reply.
func Info(packet string) Status { return Status{kind: StatusInfo, packet: packet} }

func (s Status) Kind() StatusKind    { return s.kind }
func (s Status) Packet() string      { return s.packet }
func (s Status) Reply() *reply.Reply { return s.reply }

// Engine is the opaque policy-evaluation collaborator.
type Engine interface {
	// Run evaluates the policy for stage against ctx and returns a
	// verdict. ctx may be mutated in place (e.g. a rule adding a header or
	// changing a recipient's TransferMethod) before Run returns.
	Run(ctx context.Context, stage Stage, mc *mailctx.MailContext) (Status, error)
}

// NoPolicy is an Engine that always returns Next, used when no policy
// script is configured.
type NoPolicy struct{}

func (NoPolicy) Run(context.Context, Stage, *mailctx.MailContext) (Status, error) {
	return Next(), nil
}
