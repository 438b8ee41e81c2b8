package smtpsession

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/emersion/go-sasl"

	"github.com/mtaserv/mtaserv/internal/reply"
)

// cmdAuth implements the AUTH exchange (spec.md §4.5).
func (s *Session) cmdAuth(ctx context.Context, args string) error {
	if s.state == Connect {
		s.writeReply(reply.New(503, "Bad sequence of commands"))
		return nil
	}
	if s.mc.Conn.Authenticated {
		s.writeReply(reply.New(503, "Already authenticated"))
		return nil
	}
	if s.cfg.NewSASLServer == nil {
		s.writeReply(reply.New(500, "Unknown command"))
		return nil
	}

	mech, iresp, ok := parseAuthArg(args)
	if !ok {
		s.writeReply(reply.New(501, "Syntax error in parameters"))
		return nil
	}
	mech = strings.ToUpper(mech)

	requiresTLS := mech == sasl.Plain || mech == sasl.Login
	if requiresTLS && !s.mc.Conn.TLS && !s.cfg.DangerousPlaintextAuth {
		s.writeReply(reply.NewEnhanced(538, reply.Enhanced{5, 7, 11}, "Encryption required for requested authentication mechanism"))
		return nil
	}

	var authedUsername string
	srv, err := s.cfg.NewSASLServer(mech, s.mc.Conn.TLS, func(username string) { authedUsername = username })
	if err != nil {
		s.writeReply(reply.New(504, "Unrecognized authentication mechanism"))
		return nil
	}

	// PLAIN/LOGIN are client-first in this corpus's usage; a non-empty
	// initial response is accepted. A server-first mechanism (CRAM-MD5)
	// must not receive one.
	if mech == sasl.CramMD5 && iresp != "" {
		s.writeReply(reply.New(501, "Syntax error: initial response not allowed for this mechanism"))
		return nil
	}

	var response []byte
	if iresp != "" {
		decoded, err := base64.StdEncoding.DecodeString(iresp)
		if err != nil {
			s.writeReply(reply.New(501, "Invalid base64 data"))
			return nil
		}
		response = decoded
	}

	for {
		challenge, done, err := srv.Next(response)
		if err != nil {
			return s.authFailed(mech)
		}
		if done {
			s.mc.Conn = s.mc.Conn.Authenticate(authedUsername)
			s.writeReply(reply.NewEnhanced(235, reply.Enhanced{2, 7, 0}, "Authentication succeeded"))
			s.authAttempts = 0
			return nil
		}

		s.writeReply(reply.New(334, base64.StdEncoding.EncodeToString(challenge)))

		line, err := s.conn.NextLine(s.cfg.CommandTimeout)
		if err != nil {
			return err
		}
		if line == "*" {
			s.writeReply(reply.New(501, "Authentication cancelled"))
			return s.authFailed(mech)
		}
		decoded, err := base64.StdEncoding.DecodeString(line)
		if err != nil {
			s.writeReply(reply.New(501, "Invalid base64 data"))
			return s.authFailed(mech)
		}
		response = decoded
	}
}

// authFailed increments the attempt counter and enforces the cap
// (spec.md §4.5: "once the counter exceeds the configured cap the
// session is closed with 530").
func (s *Session) authFailed(mech string) error {
	s.authAttempts++
	if s.authAttempts > s.cfg.AuthAttemptCap && s.cfg.AuthAttemptCap > 0 {
		s.writeReply(reply.New(530, "Authentication attempts exceeded"))
		s.state = Stop
		return nil
	}
	s.writeReply(reply.NewEnhanced(535, reply.Enhanced{5, 7, 8}, "Authentication failed"))
	return nil
}

func parseAuthArg(args string) (mech, iresp string, ok bool) {
	args = strings.TrimSpace(args)
	if args == "" {
		return "", "", false
	}
	parts := strings.SplitN(args, " ", 2)
	mech = parts[0]
	if len(parts) == 2 {
		iresp = strings.TrimSpace(parts[1])
	}
	return mech, iresp, true
}
