// Package transport implements the four delivery backends plus the no-op
// spec.md §4.12 describes, all behind one contract:
//
//	deliver(config, metadata, from, rcpts, body) -> mutated rcpts
//
// Grounded on the closed Transfer sum type spec.md §9 calls for (mirroring
// vSMTP original_source's vsmtp-delivery Transport trait, one impl per
// transport/{deliver,mbox,maildir}.rs file) and on foxcpp-maddy's
// remote.go for the MX-grouped remote-SMTP half.
package transport

import (
	"context"
	"io"

	"github.com/mtaserv/mtaserv/internal/buffer"
	"github.com/mtaserv/mtaserv/internal/mailctx"
)

// Transport delivers body from from to every recipient in rcpts, mutating
// each Recipient's Status in place and returning the updated slice. A
// Transport is only ever called with recipients that share its own
// TransferMethod.Kind() — the Dispatcher enforces the grouping spec.md
// §4.11 requires ("group recipients by transfer method").
//
// body is a buffer.Buffer rather than a raw []byte so a large spooled
// message can be delivered (or delivered repeatedly to several candidate
// MXs) without holding the whole thing in memory at once, mirroring
// foxcpp-maddy's target.Delivery body handling.
type Transport interface {
	Deliver(ctx context.Context, meta mailctx.MsgMetadata, from string, rcpts []mailctx.Recipient, body buffer.Buffer) []mailctx.Recipient
}

// readAll fully materializes a buffer.Buffer, for backends (mbox) that
// need the whole message to scan or frame it rather than streaming it
// straight through.
func readAll(body buffer.Buffer) ([]byte, error) {
	r, err := body.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// holdBack marks every recipient in rcpts HeldBack, bumping any existing
// attempt count by one (spec.md §4.11/§7: transient transport failure).
func holdBack(rcpts []mailctx.Recipient) []mailctx.Recipient {
	for i, r := range rcpts {
		rcpts[i] = holdBackOne(r)
	}
	return rcpts
}

// sent marks every recipient in rcpts Sent.
func sent(rcpts []mailctx.Recipient) []mailctx.Recipient {
	for i := range rcpts {
		rcpts[i].Status = mailctx.Sent()
	}
	return rcpts
}

// failed marks every recipient in rcpts permanently Failed (spec.md §7:
// permanent transport failure).
func failed(rcpts []mailctx.Recipient) []mailctx.Recipient {
	for i := range rcpts {
		rcpts[i].Status = mailctx.Failed()
	}
	return rcpts
}
