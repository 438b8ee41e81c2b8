package supervisor

import (
	"fmt"

	"github.com/mtaserv/mtaserv/internal/queue"
)

// reconcile lists the working and deliver queues at startup and seeds the
// corresponding channels with every message-id already sitting there,
// recovering from a crash that happened between a write and its in-memory
// signal (spec.md §9: "on a missed signal or crashed worker, a directory
// scan at startup re-discovers pending work").
func (sv *Supervisor) reconcile() error {
	workingIDs, err := sv.Queue.List(queue.Working)
	if err != nil {
		return fmt.Errorf("list working: %w", err)
	}
	for _, id := range workingIDs {
		sv.workingCh <- id
	}

	deliverIDs, err := sv.Queue.List(queue.Deliver)
	if err != nil {
		return fmt.Errorf("list deliver: %w", err)
	}
	for _, id := range deliverIDs {
		sv.deliveryCh <- id
	}
	return nil
}
