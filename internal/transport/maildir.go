package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"

	"github.com/mtaserv/mtaserv/internal/buffer"
	"github.com/mtaserv/mtaserv/internal/mailctx"
)

// MaildirConfig names the group ownership to apply to newly created
// Maildir entries; the home directory itself comes from the resolved
// system user.
type MaildirConfig struct {
	Group string
}

// Maildir writes each message as one file under "<home>/Maildir/new/",
// grounded on original_source's vsmtp-delivery transport/maildir.rs: create
// the new/cur/tmp tree if absent, write "<id>.eml" straight into new/, and
// chown each newly created new/cur/tmp directory and the written file to
// the resolved system user (the Maildir directory itself is not chowned).
type Maildir struct {
	Config MaildirConfig
}

func (md Maildir) Deliver(_ context.Context, meta mailctx.MsgMetadata, _ string, rcpts []mailctx.Recipient, body buffer.Buffer) []mailctx.Recipient {
	for i, r := range rcpts {
		u, ok := lookupSystemUser(r.Addr.Local())
		if !ok {
			rcpts[i] = holdBackOne(r)
			continue
		}

		root := filepath.Join(u.HomeDir, "Maildir")
		if err := ensureMaildirTree(root, u, md.Config.Group); err != nil {
			rcpts[i] = holdBackOne(r)
			continue
		}

		path := filepath.Join(root, "new", meta.ID+".eml")
		if err := writeMaildirEntry(path, body); err != nil {
			rcpts[i] = holdBackOne(r)
			continue
		}
		if err := chownTo(path, u, md.Config.Group); err != nil {
			rcpts[i] = holdBackOne(r)
			continue
		}
		rcpts[i].Status = mailctx.Sent()
	}
	return rcpts
}

// writeMaildirEntry streams body straight into path, avoiding a full
// in-memory copy for large spooled messages.
func writeMaildirEntry(path string, body buffer.Buffer) error {
	r, err := body.Open()
	if err != nil {
		return fmt.Errorf("maildir: open source: %w", err)
	}
	defer r.Close()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o660)
	if err != nil {
		return fmt.Errorf("maildir: create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("maildir: write %s: %w", path, err)
	}
	return f.Sync()
}

// ensureMaildirTree creates the standard new/cur/tmp layout under root if
// it does not already exist, chowning each created directory to u.
func ensureMaildirTree(root string, u *user.User, group string) error {
	for _, sub := range []string{"new", "cur", "tmp"} {
		dir := filepath.Join(root, sub)
		if _, err := os.Stat(dir); err == nil {
			continue
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("maildir: mkdir %s: %w", dir, err)
		}
		if err := chownTo(dir, u, group); err != nil {
			return fmt.Errorf("maildir: chown %s: %w", dir, err)
		}
	}
	return nil
}
