package smtpsession

import (
	"context"
	"strconv"
	"strings"

	"github.com/mtaserv/mtaserv/internal/mailctx"
	"github.com/mtaserv/mtaserv/internal/policy"
	"github.com/mtaserv/mtaserv/internal/reply"
)

// dispatch parses one command line and runs its handler. Errors returned
// are transport-level (the connection should be torn down); protocol-level
// rejections are handled internally via writeReply.
func (s *Session) dispatch(ctx context.Context, line string) error {
	verb, args := splitCommand(line)

	switch strings.ToUpper(verb) {
	case "HELO":
		return s.cmdHelo(ctx, args, false)
	case "EHLO":
		return s.cmdHelo(ctx, args, true)
	case "MAIL":
		return s.cmdMailFrom(ctx, args)
	case "RCPT":
		return s.cmdRcptTo(ctx, args)
	case "DATA":
		return s.cmdData(ctx, args)
	case "RSET":
		return s.cmdRset(args)
	case "NOOP":
		s.writeReply(reply.New(250, "Ok"))
		return nil
	case "QUIT":
		s.writeReply(reply.New(221, "Bye"))
		s.state = Stop
		return nil
	case "STARTTLS":
		return s.cmdStartTLS(ctx, args)
	case "AUTH":
		return s.cmdAuth(ctx, args)
	case "HELP":
		s.writeReply(reply.New(214, "See https://www.rfc-editor.org/rfc/rfc5321"))
		return nil
	default:
		s.writeReply(reply.New(500, "Unknown command"))
		return nil
	}
}

func splitCommand(line string) (verb, args string) {
	line = strings.TrimSpace(line)
	sp := strings.IndexAny(line, " :")
	if sp == -1 {
		return line, ""
	}
	return line[:sp], strings.TrimSpace(line[sp:])
}

func (s *Session) inState(states ...State) bool {
	for _, st := range states {
		if s.state == st {
			return true
		}
	}
	return false
}

func (s *Session) cmdHelo(ctx context.Context, args string, extended bool) error {
	if s.inState(Data) {
		s.writeReply(reply.New(503, "Bad sequence of commands"))
		return nil
	}
	domain := strings.TrimSpace(args)
	if domain == "" {
		s.writeReply(reply.New(501, "Syntax error in parameters"))
		return nil
	}

	s.mc.Envelope.Helo = domain
	s.mc.Envelope.Reset()

	if err := s.runPolicy(ctx, policy.Helo); err != nil {
		return err
	}
	if s.denied() {
		return nil
	}

	s.state = Helo

	if !extended {
		s.writeReply(reply.New(250, s.cfg.Hostname))
		return nil
	}

	lines := []string{s.cfg.Hostname, "PIPELINING", "8BITMIME", "ENHANCEDSTATUSCODES"}
	if s.cfg.TLSConfig != nil && !s.mc.Conn.TLS {
		lines = append(lines, "STARTTLS")
	}
	if s.cfg.SASLMechanisms != nil {
		if mechs := s.cfg.SASLMechanisms(s.mc.Conn.TLS); len(mechs) > 0 {
			lines = append(lines, "AUTH "+strings.Join(mechs, " "))
		}
	}
	if s.cfg.MaxMessageSize > 0 {
		lines = append(lines, "SIZE "+strconv.FormatInt(s.cfg.MaxMessageSize, 10))
	}
	s.writeReply(reply.New(250, strings.Join(lines, "\n")))
	return nil
}

func (s *Session) cmdMailFrom(ctx context.Context, args string) error {
	if s.state != Helo {
		s.writeReply(reply.New(503, "Bad sequence of commands"))
		return nil
	}
	addr, ok := parseMailFromArg(args)
	if !ok {
		s.writeReply(reply.New(501, "Syntax error in MAIL FROM parameter"))
		return nil
	}

	s.mc.Envelope.MailFrom = addr
	s.mc.Envelope.Rcpts = nil

	if err := s.runPolicy(ctx, policy.MailFrom); err != nil {
		return err
	}
	if s.denied() {
		return nil
	}

	s.state = MailFrom
	s.writeReply(reply.New(250, "Ok"))
	return nil
}

func (s *Session) cmdRcptTo(ctx context.Context, args string) error {
	if !s.inState(MailFrom, RcptTo) {
		s.writeReply(reply.New(503, "Bad sequence of commands"))
		return nil
	}
	raw, ok := parseRcptToArg(args)
	if !ok {
		s.writeReply(reply.New(501, "Syntax error in RCPT TO parameter"))
		return nil
	}

	addr, err := mailctx.NewAddress(raw)
	if err != nil {
		s.writeReply(reply.New(553, "Malformed recipient address"))
		return nil
	}

	limit := s.cfg.MaxRecipients
	if limit > 0 && len(s.mc.Envelope.Rcpts) >= limit {
		s.writeReply(reply.New(452, "Too many recipients"))
		return nil
	}

	added := s.mc.Envelope.AddRcpt(mailctx.Recipient{
		Addr:   addr,
		Method: mailctx.Deliver(),
		Status: mailctx.Waiting(),
	})
	_ = added // duplicates are silently accepted per spec.md §3/§8.3

	if err := s.runPolicy(ctx, policy.RcptTo); err != nil {
		return err
	}
	if s.denied() {
		return nil
	}

	s.state = RcptTo
	s.writeReply(reply.New(250, "Ok"))
	return nil
}

func (s *Session) cmdRset(args string) error {
	_ = args
	s.mc.Envelope.Reset()
	s.mc.Body = mailctx.Empty()
	s.dataBytes = 0
	if s.mc.Envelope.Helo != "" {
		s.state = Helo
	} else {
		s.state = Connect
	}
	s.writeReply(reply.New(250, "Ok"))
	return nil
}
