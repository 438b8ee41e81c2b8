package transport

import (
	"context"

	"github.com/mtaserv/mtaserv/internal/buffer"
	"github.com/mtaserv/mtaserv/internal/mailctx"
)

// Forward delivers every recipient to one statically configured host
// instead of resolving MX records for the recipient's own domain —
// spec.md §4.12's "static forward" backend, used for smart-host relaying.
// It reuses Remote's connection and retry machinery against a fixed
// single-host candidate list.
type Forward struct {
	Config RemoteConfig
}

func (f Forward) Deliver(ctx context.Context, meta mailctx.MsgMetadata, from string, rcpts []mailctx.Recipient, body buffer.Buffer) []mailctx.Recipient {
	target := ""
	if len(rcpts) > 0 {
		target = rcpts[0].Method.Target()
	}

	rt := Remote{Config: f.Config}
	addrs := make([]string, len(rcpts))
	for i, r := range rcpts {
		addrs[i] = r.Addr.String()
	}

	if err := rt.attempt(ctx, target, from, addrs, body); err != nil {
		rt.Config.Log.Error("forward target failed, deferring", err, "target", target)
		idxs := make([]int, len(rcpts))
		for i := range rcpts {
			idxs[i] = i
		}
		applyFailure(rcpts, idxs)
		return rcpts
	}
	return sent(rcpts)
}
