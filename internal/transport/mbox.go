package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mtaserv/mtaserv/internal/buffer"
	"github.com/mtaserv/mtaserv/internal/mailctx"
)

// MboxConfig points Mbox at the mailbox directory and group ownership to
// apply to newly touched mbox files.
type MboxConfig struct {
	// Dir is the directory holding one mbox file per local-part, defaulting
	// to /var/mail when empty.
	Dir string
	// Group, when non-empty, overrides the delivered-to user's primary
	// group for chown, mirroring vsmtp-delivery's configurable mail group.
	Group string
}

// Mbox appends messages to a single flat file per recipient local-part,
// grounded on original_source's vsmtp-delivery transport/mbox.rs: one
// "From <sender> <ctime>" separator line followed by the raw message, with
// ownership handed to the resolved system user.
type Mbox struct {
	Config MboxConfig
}

func (m Mbox) Deliver(_ context.Context, _ mailctx.MsgMetadata, from string, rcpts []mailctx.Recipient, body buffer.Buffer) []mailctx.Recipient {
	dir := m.Config.Dir
	if dir == "" {
		dir = "/var/mail"
	}

	raw, err := readAll(body)
	if err != nil {
		return holdBack(rcpts)
	}

	for i, r := range rcpts {
		u, ok := lookupSystemUser(r.Addr.Local())
		if !ok {
			rcpts[i] = holdBackOne(r)
			continue
		}

		path := filepath.Join(dir, r.Addr.Local())
		if err := appendMbox(path, from, raw); err != nil {
			rcpts[i] = holdBackOne(r)
			continue
		}
		if err := chownTo(path, u, m.Config.Group); err != nil {
			rcpts[i] = holdBackOne(r)
			continue
		}
		rcpts[i].Status = mailctx.Sent()
	}
	return rcpts
}

// appendMbox writes one mbox-format entry: a "From " separator line (the
// envelope sender and a ctime-style timestamp, per the classic mbox format
// vsmtp's mbox.rs reproduces) followed by the message body and a trailing
// blank line.
func appendMbox(path, from string, body []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o660)
	if err != nil {
		return fmt.Errorf("mbox: open %s: %w", path, err)
	}
	defer f.Close()

	sender := from
	if sender == "" {
		sender = "MAILER-DAEMON"
	}
	header := fmt.Sprintf("From %s %s\n", sender, time.Now().Format("Mon Jan 02 15:04:05 2006"))
	if _, err := f.WriteString(header); err != nil {
		return err
	}
	if _, err := f.Write(escapeFromLines(body)); err != nil {
		return err
	}
	if _, err := f.WriteString("\n"); err != nil {
		return err
	}
	return f.Sync()
}

// escapeFromLines prefixes any body line starting with "From " with ">",
// the standard mbox quoting rule so such a line is not mistaken for the
// next message's separator.
func escapeFromLines(body []byte) []byte {
	if !strings.Contains(string(body), "\nFrom ") {
		return body
	}
	lines := strings.Split(string(body), "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, "From ") {
			lines[i] = ">" + line
		}
	}
	return []byte(strings.Join(lines, "\n"))
}

func holdBackOne(r mailctx.Recipient) mailctx.Recipient {
	prev := 0
	if r.Status.Kind() == mailctx.StatusHeldBack {
		prev = r.Status.Attempt()
	}
	r.Status = mailctx.HeldBack(prev + 1)
	return r
}
