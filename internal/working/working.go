// Package working implements the working-stage pipeline step (spec.md
// §4.10): parse the MIME body of every message sitting in the working
// queue, run the PostQueue policy checkpoint over it, and route the
// result either into the deliver queue or, on any failure, into dead.
//
// Grounded on foxcpp-maddy's queue.go Start goroutine (the "pick up
// spooled messages, run Prepare, hand to target" loop), reworked around
// this core's single self-describing JSON record per message instead of
// maddy's split header/body/meta files.
package working

import (
	"context"
	"fmt"
	"time"

	"github.com/mtaserv/mtaserv/internal/logging"
	"github.com/mtaserv/mtaserv/internal/mailctx"
	"github.com/mtaserv/mtaserv/internal/policy"
	"github.com/mtaserv/mtaserv/internal/queue"
	"github.com/mtaserv/mtaserv/internal/trace"
)

// Stage processes messages sitting in queue.Working.
type Stage struct {
	Queue  *queue.Manager
	Policy policy.Engine
	Log    logging.Logger

	// Hostname is recorded in the Received trace header this stage
	// prepends to every accepted message.
	Hostname string
	// MaxReceivedHops rejects a message already carrying at least this
	// many Received headers as a probable forwarding loop. Zero disables
	// the check.
	MaxReceivedHops int
}

// ProcessAll runs ProcessOne over every id currently listed in the working
// queue, logging (but not aborting on) a per-message failure.
func (s Stage) ProcessAll(ctx context.Context) {
	ids, err := s.Queue.List(queue.Working)
	if err != nil {
		s.Log.Error("listing working queue", err)
		return
	}
	for _, id := range ids {
		if _, err := s.ProcessOne(ctx, id); err != nil {
			s.Log.Error("working stage failed", err, "id", id)
		}
	}
}

// ProcessOne carries one message through the working stage. It never
// returns an error for a problem with the message itself (a malformed
// record, a PostQueue deny, an all-None recipient set) — those are
// terminal outcomes recorded by moving the message to dead. A returned
// error means the queue filesystem itself misbehaved (disk full, missing
// permissions) and the message was left untouched in working for retry.
//
// The returned bool reports whether the message actually advanced into
// the deliver queue; it is false whenever the message was instead routed
// to dead (or a filesystem error left it in working), so a caller must
// not publish its id on a delivery channel in that case (spec.md §6
// scenario S6).
func (s Stage) ProcessOne(ctx context.Context, id string) (bool, error) {
	data, err := s.Queue.Read(queue.Working, id)
	if err != nil {
		return false, fmt.Errorf("working: read %s: %w", id, err)
	}

	mc, err := mailctx.Decode(data)
	if err != nil {
		return false, s.toDead(id, data, "unreadable record: "+err.Error())
	}

	if s.MaxReceivedHops > 0 {
		hops, err := trace.CountReceived(mc.Body.RawBytes())
		if err == nil && hops >= s.MaxReceivedHops {
			return false, s.toDead(id, data, "too many Received headers, possible forwarding loop")
		}
	}

	clientAddr := ""
	if mc.Conn.ClientAddr != nil {
		clientAddr = mc.Conn.ClientAddr.String()
	}
	if traced, err := trace.Prepend(mc.Body.RawBytes(), clientAddr, s.Hostname, mc.Meta.ID, mc.Meta.CreatedAt); err == nil {
		mc.Body = mailctx.Raw(traced)
	}

	if mc.Body.State() == mailctx.BodyRaw {
		parsed, err := mc.Body.Parse()
		if err != nil {
			return false, s.toDead(id, data, "MIME parse failed: "+err.Error())
		}
		mc.Body = parsed
	}

	if s.Policy != nil && !mc.Meta.SkipFurtherChecks {
		status, err := s.Policy.Run(ctx, policy.PostQueue, &mc)
		if err != nil {
			return false, s.toDead(id, data, "post-queue policy error: "+err.Error())
		}
		switch status.Kind() {
		case policy.StatusDeny:
			return false, s.toDead(id, data, "post-queue policy denied")
		case policy.StatusFaccept:
			mc.Meta = mc.Meta.Faccept(policy.PostQueue.String(), "forced accept")
		}
	}

	if allNone(mc.Envelope.Rcpts) {
		return false, s.toDead(id, data, "no deliverable recipients")
	}

	encoded, err := mc.Encode()
	if err != nil {
		return false, fmt.Errorf("working: re-encode %s: %w", id, err)
	}
	if err := s.Queue.Write(queue.Deliver, id, encoded); err != nil && err != queue.ErrExists {
		return false, fmt.Errorf("working: write %s to deliver: %w", id, err)
	}
	if err := s.Queue.Remove(queue.Working, id); err != nil {
		return false, fmt.Errorf("working: remove %s from working: %w", id, err)
	}
	return true, nil
}

// toDead moves id into the dead queue, preferring the original record
// bytes so a malformed message is preserved verbatim for inspection. It
// reports a filesystem error, never the reason text itself (that reason
// is only logged; dead doesn't carry a structured "why" field per the
// wire format in spec.md §4.6).
func (s Stage) toDead(id string, data []byte, reason string) error {
	s.Log.Msg("moving message to dead", "id", id, "reason", reason)
	if err := s.Queue.Write(queue.Dead, id, data); err != nil && err != queue.ErrExists {
		return fmt.Errorf("working: write %s to dead: %w", id, err)
	}
	if err := s.Queue.Remove(queue.Working, id); err != nil {
		return fmt.Errorf("working: remove %s from working: %w", id, err)
	}
	return nil
}

func allNone(rcpts []mailctx.Recipient) bool {
	for _, r := range rcpts {
		if r.Method.Kind() != mailctx.KindNone {
			return false
		}
	}
	return len(rcpts) > 0
}
