package smtpsession

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/mtaserv/mtaserv/internal/logging"
	"github.com/mtaserv/mtaserv/internal/mailctx"
	"github.com/mtaserv/mtaserv/internal/policy"
	"github.com/mtaserv/mtaserv/internal/reply"
	"github.com/mtaserv/mtaserv/internal/wireio"
)

// Session drives one client connection through the state machine until it
// reaches Stop.
type Session struct {
	cfg  Config
	conn *wireio.Conn
	raw  net.Conn
	log  logging.Logger

	state State
	mc    mailctx.MailContext

	errCount     int
	authAttempts int
	lastDenied   bool

	// dataBytes is cleared on RSET; cmdData enforces MaxMessageSize against
	// its own body buffer, not against this field.
	dataBytes int64
}

// New builds a Session for a freshly accepted connection. implicitTLS, if
// true, means the handshake already happened (tunneled port) and the
// session starts already secured.
func New(rawConn net.Conn, cfg Config, now time.Time, implicitTLS bool, negotiatedServerName string) *Session {
	s := &Session{
		cfg:  cfg,
		conn: wireio.New(rawConn),
		raw:  rawConn,
		log:  logging.New("smtpsession"),
		state: Connect,
	}
	s.mc.Conn = mailctx.NewConnState(rawConn.RemoteAddr(), now, cfg.Hostname)
	if implicitTLS {
		s.mc.Conn = s.mc.Conn.UpgradeTLS(negotiatedServerName)
	}
	s.mc.Body = mailctx.Empty()
	return s
}

// Serve runs the session loop until QUIT, a fatal error, or ctx is
// cancelled. It always returns after writing a final reply if possible.
func (s *Session) Serve(ctx context.Context) error {
	if err := s.runPolicy(ctx, policy.Connect); err != nil {
		return err
	}
	if s.state == Stop {
		return nil // Connect-stage Deny already replied and closed
	}

	s.writeReply(reply.New(220, s.cfg.Hostname+" ESMTP ready"))

	for s.state != Stop {
		line, err := s.conn.NextLine(s.cfg.CommandTimeout)
		if err != nil {
			if errors.Is(err, wireio.ErrTimeout) {
				s.writeReply(reply.New(421, "Timeout waiting for command"))
			}
			return err
		}

		if err := s.dispatch(ctx, line); err != nil {
			return err
		}
	}
	return nil
}

// writeReply folds and writes r, tracking the error budget (spec.md
// §4.3's "Error budget") when r is an error reply.
func (s *Session) writeReply(r reply.Reply) {
	if !r.IsError() {
		s.conn.WriteString(r.Fold())
		return
	}

	s.errCount++
	if s.errCount >= s.cfg.ErrorHardThreshold {
		combined := r.Text + "\n" + "too many errors"
		hard := reply.New(r.Code, combined)
		if !r.Enhanced.Zero() {
			hard = reply.NewEnhanced(r.Code, r.Enhanced, combined)
		}
		s.conn.WriteString(hard.Fold())
		s.conn.WriteString(reply.New(451, "too many errors").Fold())
		s.state = Stop
		return
	}

	s.conn.WriteString(r.Fold())
	if s.errCount >= s.cfg.ErrorSoftThreshold && s.cfg.ErrorBackoff > 0 {
		time.Sleep(s.cfg.ErrorBackoff)
	}
}

// runPolicy invokes the policy bridge for stage, applying its verdict to
// session state. It always returns nil: a policy Deny or a policy error is
// handled entirely by replying and is not an error.
//
// Callers check denied() afterwards to learn whether their default
// protocol action should still run.
func (s *Session) runPolicy(ctx context.Context, stage policy.Stage) error {
	if s.mc.Meta.SkipFurtherChecks {
		return nil
	}
	if s.cfg.Policy == nil {
		return nil
	}

	status, err := s.cfg.Policy.Run(ctx, stage, &s.mc)
	if err != nil {
		s.log.Error("policy run failed", err, "stage", stage.String())
		s.writeReply(reply.Default(stage.String()))
		s.state = Stop
		return nil
	}

	switch status.Kind() {
	case policy.StatusDeny:
		r := status.Reply()
		if r == nil || r.Code == 0 {
			d := reply.Default(stage.String())
			r = &d
		}
		s.writeReply(*r)
		s.lastDenied = true
		// Connect has no earlier state to fall back to: a Deny there
		// rejects the whole connection. Every later stage only aborts
		// the current transaction; the client may RSET or try again.
		if stage == policy.Connect {
			s.state = Stop
		}
		return nil
	case policy.StatusFaccept:
		s.mc.Meta = s.mc.Meta.Faccept(stage.String(), "forced accept")
	}
	return nil
}

// denied reports whether the most recent runPolicy call returned a Deny,
// letting command handlers skip their own success reply and state
// transition. Reading it clears the recorded Deny.
func (s *Session) denied() bool {
	denied := s.lastDenied
	s.lastDenied = false
	return denied || s.state == Stop
}
