// Package mailctx implements the in-memory (and, via (MailContext).Encode,
// on-disk) representation of one in-flight message: the MailContext
// aggregate of spec.md §3 — connection context, envelope, body, and
// metadata — plus the Recipient/Envelope/Body sum types it is built from.
//
// Grounded on foxcpp-maddy/framework/module.DeliveryContext and
// vsmtp-common/src/rcpt.rs (the TransferMethod/status taxonomy), reworked
// into closed Go sum types per spec.md §9 ("Inheritance in the original
// transport family becomes a small closed sum type").
package mailctx

import (
	"fmt"

	"github.com/mtaserv/mtaserv/internal/address"
)

// TransferMethod selects which delivery backend (internal/transport) is
// responsible for a Recipient.
type TransferMethod struct {
	kind   transferKind
	target string // only meaningful for KindForward
}

type transferKind int

const (
	KindDeliver transferKind = iota
	KindForward
	KindMbox
	KindMaildir
	KindNone
)

func Deliver() TransferMethod          { return TransferMethod{kind: KindDeliver} }
func Forward(target string) TransferMethod { return TransferMethod{kind: KindForward, target: target} }
func Mbox() TransferMethod             { return TransferMethod{kind: KindMbox} }
func Maildir() TransferMethod          { return TransferMethod{kind: KindMaildir} }
func None() TransferMethod             { return TransferMethod{kind: KindNone} }

// Kind reports which backend this method selects.
func (m TransferMethod) Kind() transferKind { return m.kind }

// Target is the configured static host for KindForward; empty otherwise.
func (m TransferMethod) Target() string { return m.target }

func (m TransferMethod) String() string {
	switch m.kind {
	case KindDeliver:
		return "deliver"
	case KindForward:
		return fmt.Sprintf("forward(%s)", m.target)
	case KindMbox:
		return "mbox"
	case KindMaildir:
		return "maildir"
	case KindNone:
		return "none"
	default:
		return "unknown"
	}
}

// RecipientStatus is the delivery-attempt status of one Recipient.
type RecipientStatus struct {
	kind    statusKind
	attempt int // only meaningful for StatusHeldBack
}

type statusKind int

const (
	StatusWaiting statusKind = iota
	StatusHeldBack
	StatusSent
	StatusFailed
)

func Waiting() RecipientStatus { return RecipientStatus{kind: StatusWaiting} }
func HeldBack(attempt int) RecipientStatus {
	return RecipientStatus{kind: StatusHeldBack, attempt: attempt}
}
func Sent() RecipientStatus  { return RecipientStatus{kind: StatusSent} }
func Failed() RecipientStatus { return RecipientStatus{kind: StatusFailed} }

func (s RecipientStatus) Kind() statusKind { return s.kind }
func (s RecipientStatus) Attempt() int     { return s.attempt }

func (s RecipientStatus) String() string {
	switch s.kind {
	case StatusWaiting:
		return "waiting"
	case StatusHeldBack:
		return fmt.Sprintf("held_back(%d)", s.attempt)
	case StatusSent:
		return "sent"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Recipient pairs an Address with how it should be delivered and its
// current delivery status.
type Recipient struct {
	Addr   address.Address
	Method TransferMethod
	Status RecipientStatus
}

// Equal implements spec.md §3: "Equality on recipients is equality on
// Address alone (used for de-duplication in the envelope)."
func (r Recipient) Equal(o Recipient) bool {
	return r.Addr.Equal(o.Addr)
}
