package smtpsession

import (
	"bytes"
	"context"
	"time"

	"github.com/mtaserv/mtaserv/internal/mailctx"
	"github.com/mtaserv/mtaserv/internal/policy"
	"github.com/mtaserv/mtaserv/internal/reply"
)

// cmdData implements the DATA command and the DATA-mode read loop
// (spec.md §4.3's "DATA mode" paragraph).
func (s *Session) cmdData(ctx context.Context, args string) error {
	_ = args
	if s.state != RcptTo {
		s.writeReply(reply.New(503, "Bad sequence of commands"))
		return nil
	}

	s.writeReply(reply.New(354, "Start mail input; end with <CRLF>.<CRLF>"))
	s.state = Data

	var body bytes.Buffer
	timeout := s.cfg.DataTimeout
	if timeout == 0 {
		timeout = s.cfg.CommandTimeout
	}

	for {
		line, err := s.conn.NextLine(timeout)
		if err != nil {
			return err
		}
		if line == "." {
			break
		}

		// Undo dot-stuffing: a line starting with ".." loses one dot.
		if len(line) >= 2 && line[0] == '.' && line[1] == '.' {
			line = line[1:]
		}

		if s.cfg.MaxMessageSize > 0 && int64(body.Len()+len(line)+2) > s.cfg.MaxMessageSize {
			s.drainUntilDot(timeout)
			s.writeReply(reply.New(552, "Message size exceeds fixed maximum message size"))
			s.state = Helo
			return nil
		}

		body.WriteString(line)
		body.WriteString("\r\n")
	}

	id, err := s.cfg.GenerateMsgID()
	if err != nil {
		s.writeReply(reply.New(554, "Transaction failed"))
		s.state = Helo
		return nil
	}

	s.mc.Body = mailctx.Raw(body.Bytes())
	meta := mailctx.NewMsgMetadata(id, time.Now())
	meta.SkipFurtherChecks = s.mc.Meta.SkipFurtherChecks
	meta.SkipReason = s.mc.Meta.SkipReason
	s.mc.Meta = meta

	if err := s.runPolicy(ctx, policy.PreQueue); err != nil {
		return err
	}
	if s.denied() {
		if s.cfg.DeadHandler != nil {
			_ = s.cfg.DeadHandler.Handle(ctx, s.mc)
		}
		s.state = Helo
		return nil
	}

	if s.cfg.Handler != nil {
		if err := s.cfg.Handler.Handle(ctx, s.mc); err != nil {
			s.writeReply(reply.New(451, "Requested action aborted: local error in processing"))
			s.state = Helo
			return nil
		}
	}

	s.writeReply(reply.New(250, "Ok: queued as "+id))
	s.state = Helo
	return nil
}

// drainUntilDot consumes and discards lines until the terminating "." so
// the connection stays in sync with the client after a mid-DATA abort.
func (s *Session) drainUntilDot(timeout time.Duration) {
	for {
		line, err := s.conn.NextLine(timeout)
		if err != nil {
			return
		}
		if line == "." {
			return
		}
	}
}
