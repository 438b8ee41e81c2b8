package supervisor

import (
	"testing"

	"github.com/mtaserv/mtaserv/internal/queue"
)

func TestReconcileSeedsChannelsFromDisk(t *testing.T) {
	qm := queue.New(t.TempDir())
	if err := qm.Write(queue.Working, "w1", []byte("a")); err != nil {
		t.Fatalf("write working: %v", err)
	}
	if err := qm.Write(queue.Deliver, "d1", []byte("b")); err != nil {
		t.Fatalf("write deliver: %v", err)
	}

	sv := &Supervisor{
		Queue:      qm,
		workingCh:  make(chan string, 4),
		deliveryCh: make(chan string, 4),
	}

	if err := sv.reconcile(); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	select {
	case id := <-sv.workingCh:
		if id != "w1" {
			t.Fatalf("workingCh = %q, want w1", id)
		}
	default:
		t.Fatal("workingCh empty, want w1 seeded")
	}

	select {
	case id := <-sv.deliveryCh:
		if id != "d1" {
			t.Fatalf("deliveryCh = %q, want d1", id)
		}
	default:
		t.Fatal("deliveryCh empty, want d1 seeded")
	}
}
