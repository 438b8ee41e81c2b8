// Package delivery implements the delivery-stage pipeline step (spec.md
// §4.11): group a deliver-queue message's recipients by transfer method,
// dispatch each group to its backend, and partition the outcome across
// the deliver/deferred/dead queues.
//
// Grounded on foxcpp-maddy's queue.go Start goroutine's "attempt delivery,
// inspect per-recipient results, requeue or bounce" loop and its
// TimeWheel-driven deferred retry (internal/target/queue/timewheel.go),
// adapted to this core's single JSON-record-per-message queue instead of
// maddy's per-recipient delivery slots.
package delivery

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/mtaserv/mtaserv/internal/buffer"
	"github.com/mtaserv/mtaserv/internal/logging"
	"github.com/mtaserv/mtaserv/internal/mailctx"
	"github.com/mtaserv/mtaserv/internal/metrics"
	"github.com/mtaserv/mtaserv/internal/policy"
	"github.com/mtaserv/mtaserv/internal/queue"
	"github.com/mtaserv/mtaserv/internal/transport"
)

// BackoffConfig parameterizes the deferred->deliver retry schedule, per
// SPEC_FULL.md's Open Question #1: delay = Initial * Scale^(attempt-1),
// capped at MaxTries attempts before a message is declared dead.
type BackoffConfig struct {
	Initial  time.Duration
	Scale    float64
	MaxTries int
}

// NextDelay returns how long to wait before the attempt'th retry
// (attempt is 1 for the first retry after the initial failure).
func (b BackoffConfig) NextDelay(attempt int) time.Duration {
	scale := b.Scale
	if scale <= 0 {
		scale = 1
	}
	factor := math.Pow(scale, float64(attempt-1))
	return time.Duration(float64(b.Initial) * factor)
}

// Stage processes messages sitting in queue.Deliver and schedules
// deferred retries.
type Stage struct {
	Queue      *queue.Manager
	Dispatcher transport.Dispatcher
	Backoff    BackoffConfig
	// Policy runs the per-message Delivery checkpoint (spec.md §4.8) before
	// any transport is attempted. A nil Policy skips the checkpoint
	// entirely, same as policy.NoPolicy would.
	Policy policy.Engine
	Log    logging.Logger

	wheel *queue.TimeWheel
}

// Start arms the deferred-retry scheduler. Every currently-queued deferred
// message is scheduled to promote immediately, since the exact remaining
// delay from before a restart is not itself persisted (SPEC_FULL.md §9
// open question scope; see DESIGN.md). Call Stop to release the scheduler.
func (s *Stage) Start(ctx context.Context) error {
	s.wheel = queue.NewTimeWheel(func(d queue.DueMessage) {
		if err := s.promote(ctx, d.ID); err != nil {
			s.Log.Error("promoting deferred message", err, "id", d.ID)
		}
	})

	ids, err := s.Queue.List(queue.Deferred)
	if err != nil {
		return fmt.Errorf("delivery: listing deferred queue: %w", err)
	}
	for _, id := range ids {
		s.wheel.Add(time.Now(), id)
	}
	return nil
}

// Stop releases the deferred-retry scheduler's background goroutine.
func (s *Stage) Stop() {
	if s.wheel != nil {
		s.wheel.Close()
	}
}

func (s *Stage) promote(ctx context.Context, id string) error {
	if err := s.Queue.Move(id, queue.Deferred, queue.Deliver); err != nil {
		return err
	}
	return s.ProcessOne(ctx, id)
}

// ProcessAll runs ProcessOne over every id currently listed in the deliver
// queue.
func (s *Stage) ProcessAll(ctx context.Context) {
	ids, err := s.Queue.List(queue.Deliver)
	if err != nil {
		s.Log.Error("listing deliver queue", err)
		return
	}
	for _, id := range ids {
		if err := s.ProcessOne(ctx, id); err != nil {
			s.Log.Error("delivery stage failed", err, "id", id)
		}
	}
}

// ProcessOne attempts delivery of one message and routes it to exactly one
// of delete (fully sent), deferred (retryable failure remains), or dead
// (an unreadable record, a Delivery-stage policy Deny or error, or no
// retryable recipient left because retries ran out or a recipient failed
// permanently), per spec.md §4.11.
func (s *Stage) ProcessOne(ctx context.Context, id string) error {
	start := time.Now()
	defer func() { metrics.DeliveryDuration.Observe(time.Since(start).Seconds()) }()

	data, err := s.Queue.Read(queue.Deliver, id)
	if err != nil {
		return fmt.Errorf("delivery: read %s: %w", id, err)
	}

	mc, err := mailctx.Decode(data)
	if err != nil {
		return s.toDead(id, data, "unreadable record: "+err.Error())
	}

	if s.Policy != nil && !mc.Meta.SkipFurtherChecks {
		status, err := s.Policy.Run(ctx, policy.Delivery, &mc)
		if err != nil {
			return s.toDead(id, data, "delivery policy error: "+err.Error())
		}
		switch status.Kind() {
		case policy.StatusDeny:
			return s.toDead(id, data, "delivery policy denied")
		case policy.StatusFaccept:
			mc.Meta = mc.Meta.Faccept(policy.Delivery.String(), "forced accept")
		}
	}

	pending, alreadySent := splitSent(mc.Envelope.Rcpts)
	if len(pending) > 0 {
		body := buffer.Memory{Bytes: mc.Body.RawBytes()}
		pending = s.Dispatcher.Dispatch(ctx, mc.Meta, mc.Envelope.MailFrom, pending, body)
		observeOutcomes(pending)
	}
	mc.Envelope.Rcpts = append(alreadySent, pending...)

	switch {
	case allSent(mc.Envelope.Rcpts):
		return s.Queue.Remove(queue.Deliver, id)

	case anyRetryable(mc.Envelope.Rcpts, s.Backoff.MaxTries):
		return s.toDeferred(id, mc)

	default:
		encoded, err := mc.Encode()
		if err != nil {
			encoded = data
		}
		return s.toDead(id, encoded, "recipient retries exhausted or permanently failed")
	}
}

func (s *Stage) toDeferred(id string, mc mailctx.MailContext) error {
	encoded, err := mc.Encode()
	if err != nil {
		return fmt.Errorf("delivery: re-encode %s: %w", id, err)
	}
	if err := s.Queue.Write(queue.Deferred, id, encoded); err != nil && err != queue.ErrExists {
		return fmt.Errorf("delivery: write %s to deferred: %w", id, err)
	}
	if err := s.Queue.Remove(queue.Deliver, id); err != nil {
		return fmt.Errorf("delivery: remove %s from deliver: %w", id, err)
	}

	attempt := maxAttempt(mc.Envelope.Rcpts)
	if s.wheel != nil {
		s.wheel.Add(time.Now().Add(s.Backoff.NextDelay(attempt)), id)
	}
	return nil
}

func (s *Stage) toDead(id string, data []byte, reason string) error {
	s.Log.Msg("moving message to dead", "id", id, "reason", reason)
	if err := s.Queue.Write(queue.Dead, id, data); err != nil && err != queue.ErrExists {
		return fmt.Errorf("delivery: write %s to dead: %w", id, err)
	}
	if err := s.Queue.Remove(queue.Deliver, id); err != nil {
		return fmt.Errorf("delivery: remove %s from deliver: %w", id, err)
	}
	return nil
}

// observeOutcomes tallies DeliveryAttempts by recipient status after one
// Dispatch call, grouped by transfer method rather than the underlying
// Transport value (the Dispatcher does not report which concrete
// transport handled a group back to the caller).
func observeOutcomes(rcpts []mailctx.Recipient) {
	for _, r := range rcpts {
		outcome := "held_back"
		switch r.Status.Kind() {
		case mailctx.StatusSent:
			outcome = "sent"
		case mailctx.StatusFailed:
			outcome = "failed"
		}
		metrics.DeliveryAttempts.WithLabelValues(transportLabel(r.Method), outcome).Inc()
	}
}

// transportLabel collapses TransferMethod to a bounded label set,
// dropping Forward's per-target suffix to keep the metric's cardinality
// fixed regardless of how many distinct forward targets are configured.
func transportLabel(m mailctx.TransferMethod) string {
	switch m.Kind() {
	case mailctx.KindForward:
		return "forward"
	default:
		return m.String()
	}
}

func splitSent(rcpts []mailctx.Recipient) (pending, sent []mailctx.Recipient) {
	for _, r := range rcpts {
		if r.Status.Kind() == mailctx.StatusSent {
			sent = append(sent, r)
		} else {
			pending = append(pending, r)
		}
	}
	return pending, sent
}

func allSent(rcpts []mailctx.Recipient) bool {
	for _, r := range rcpts {
		if r.Status.Kind() != mailctx.StatusSent {
			return false
		}
	}
	return true
}

func anyRetryable(rcpts []mailctx.Recipient, maxTries int) bool {
	for _, r := range rcpts {
		if r.Status.Kind() == mailctx.StatusHeldBack && r.Status.Attempt() < maxTries {
			return true
		}
	}
	return false
}

func maxAttempt(rcpts []mailctx.Recipient) int {
	highest := 0
	for _, r := range rcpts {
		if r.Status.Kind() == mailctx.StatusHeldBack && r.Status.Attempt() > highest {
			highest = r.Status.Attempt()
		}
	}
	return highest
}
