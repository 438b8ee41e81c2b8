package smtpsession

import (
	"context"

	"github.com/mtaserv/mtaserv/internal/mailctx"
	"github.com/mtaserv/mtaserv/internal/reply"
	"github.com/mtaserv/mtaserv/internal/tlsupgrade"
)

func (s *Session) cmdStartTLS(ctx context.Context, args string) error {
	_ = args
	if s.state == Connect {
		s.writeReply(reply.New(503, "Bad sequence of commands"))
		return nil
	}
	if s.mc.Conn.TLS {
		s.writeReply(reply.NewEnhanced(554, reply.Enhanced{5, 5, 1}, "Error: TLS already active"))
		return nil
	}
	if s.cfg.TLSConfig == nil {
		s.writeReply(reply.New(454, "TLS not available due to temporary reason"))
		return nil
	}

	s.writeReply(reply.New(220, "Ready to start TLS"))

	tlsConn, serverName, err := tlsupgrade.Upgrade(ctx, s.raw, s.cfg.TLSConfig, s.cfg.TLSHandshakeTimeout)
	if err != nil {
		s.state = Stop
		return err
	}

	s.raw = tlsConn
	s.conn.Rebind(tlsConn)
	s.mc.Conn = s.mc.Conn.UpgradeTLS(serverName)

	// After a successful STARTTLS the client must re-EHLO (spec.md §4.4):
	// the session resets to Connect, discarding HELO/envelope state.
	s.mc.Envelope.Helo = ""
	s.mc.Envelope.Reset()
	s.mc.Body = mailctx.Empty()
	s.state = Connect
	return nil
}
