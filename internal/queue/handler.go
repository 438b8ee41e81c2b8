package queue

import (
	"context"
	"fmt"

	"github.com/mtaserv/mtaserv/internal/mailctx"
)

// Handler adapts a Manager into the smtpsession.MailHandler shape (the
// interface is structural, so no import back to smtpsession is needed):
// it encodes the MailContext and writes it into one fixed destination
// queue, used to wire Config.Handler to Working and Config.DeadHandler to
// Dead (spec.md §4.8). When Signal is set, the message-id is also pushed
// onto it once the write lands, so a worker pool draining Signal picks
// the message up without waiting for its own directory scan (spec.md §2:
// "the context is written atomically to the working queue and its id is
// pushed on the working channel").
type Handler struct {
	Manager *Manager
	Dest    Name
	Signal  chan<- string
}

func (h Handler) Handle(ctx context.Context, mc mailctx.MailContext) error {
	data, err := mc.Encode()
	if err != nil {
		return fmt.Errorf("queue: encode %s: %w", mc.Meta.ID, err)
	}
	if err := h.Manager.Write(h.Dest, mc.Meta.ID, data); err != nil {
		return fmt.Errorf("queue: write %s to %s: %w", mc.Meta.ID, h.Dest, err)
	}
	if h.Signal != nil {
		select {
		case h.Signal <- mc.Meta.ID:
		case <-ctx.Done():
		}
	}
	return nil
}
