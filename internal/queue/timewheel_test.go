package queue

import (
	"testing"
	"time"
)

func TestTimeWheelFiresInOrder(t *testing.T) {
	fired := make(chan string, 3)
	tw := NewTimeWheel(func(d DueMessage) { fired <- d.ID })
	defer tw.Close()

	now := time.Now()
	tw.Add(now.Add(150*time.Millisecond), "late")
	tw.Add(now.Add(30*time.Millisecond), "early")
	tw.Add(now.Add(80*time.Millisecond), "middle")

	var order []string
	for i := 0; i < 3; i++ {
		select {
		case id := <-fired:
			order = append(order, id)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for entry %d, got %v so far", i, order)
		}
	}

	want := []string{"early", "middle", "late"}
	for i, id := range want {
		if order[i] != id {
			t.Fatalf("fire order = %v, want %v", order, want)
		}
	}
}

func TestTimeWheelCloseStopsDelivery(t *testing.T) {
	fired := make(chan string, 1)
	tw := NewTimeWheel(func(d DueMessage) { fired <- d.ID })
	tw.Close()

	tw.Add(time.Now(), "after-close")
	select {
	case id := <-fired:
		t.Fatalf("expected no delivery after Close, got %s", id)
	case <-time.After(100 * time.Millisecond):
	}
}
