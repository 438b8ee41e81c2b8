package transport

import (
	"context"

	"github.com/mtaserv/mtaserv/internal/buffer"
	"github.com/mtaserv/mtaserv/internal/mailctx"
)

// Dispatcher routes each recipient to the Transport matching its
// TransferMethod, per spec.md §4.11 ("group recipients by transfer
// method"). Forward recipients are further split by their configured
// target host, since two Forward recipients with different targets must
// not be delivered as one group.
type Dispatcher struct {
	Deliver Transport
	Mbox    Transport
	Maildir Transport
	None    Transport
	// NewForward builds a Forward-kind Transport bound to one static
	// target host; called once per distinct target seen in a batch.
	NewForward func(target string) Transport
}

// Dispatch groups rcpts by transfer method, hands each group to its
// Transport, and returns the merged, mutated slice in the caller's
// original order.
func (d Dispatcher) Dispatch(ctx context.Context, meta mailctx.MsgMetadata, from string, rcpts []mailctx.Recipient, body buffer.Buffer) []mailctx.Recipient {
	groups := make(map[string][]int)
	for i, r := range rcpts {
		groups[groupKey(r.Method)] = append(groups[groupKey(r.Method)], i)
	}

	for key, idxs := range groups {
		tr := d.transportFor(rcpts[idxs[0]].Method, key)
		if tr == nil {
			continue
		}
		batch := extractAt(rcpts, idxs)
		result := tr.Deliver(ctx, meta, from, batch, body)
		scatterBack(rcpts, idxs, result)
	}
	return rcpts
}

func groupKey(m mailctx.TransferMethod) string {
	if m.Kind() == mailctx.KindForward {
		return "forward:" + m.Target()
	}
	return m.String()
}

func (d Dispatcher) transportFor(m mailctx.TransferMethod, key string) Transport {
	switch m.Kind() {
	case mailctx.KindDeliver:
		return d.Deliver
	case mailctx.KindMbox:
		return d.Mbox
	case mailctx.KindMaildir:
		return d.Maildir
	case mailctx.KindNone:
		return d.None
	case mailctx.KindForward:
		if d.NewForward == nil {
			return nil
		}
		return d.NewForward(m.Target())
	default:
		return nil
	}
}

func extractAt(rcpts []mailctx.Recipient, idxs []int) []mailctx.Recipient {
	out := make([]mailctx.Recipient, len(idxs))
	for i, idx := range idxs {
		out[i] = rcpts[idx]
	}
	return out
}

func scatterBack(rcpts []mailctx.Recipient, idxs []int, result []mailctx.Recipient) {
	for i, idx := range idxs {
		rcpts[idx] = result[i]
	}
}
