package transport

import (
	"context"

	"github.com/mtaserv/mtaserv/internal/buffer"
	"github.com/mtaserv/mtaserv/internal/mailctx"
)

// None is the no-op backend for mailctx.KindNone recipients: spec.md §4.12
// calls for it to leave delivery status untouched, distinct from Sent, so a
// message with only None recipients is not mistaken for having been
// delivered anywhere.
type None struct{}

func (None) Deliver(_ context.Context, _ mailctx.MsgMetadata, _ string, rcpts []mailctx.Recipient, _ buffer.Buffer) []mailctx.Recipient {
	return rcpts
}
