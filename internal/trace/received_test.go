package trace

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestCountReceivedZeroWhenAbsent(t *testing.T) {
	n, err := CountReceived([]byte("Subject: hi\r\n\r\nbody\r\n"))
	if err != nil {
		t.Fatalf("CountReceived: %v", err)
	}
	if n != 0 {
		t.Fatalf("got %d, want 0", n)
	}
}

func TestCountReceivedCountsEach(t *testing.T) {
	raw := []byte("Received: from a by b; now\r\n" +
		"Received: from c by d; now\r\n" +
		"Subject: hi\r\n\r\nbody\r\n")
	n, err := CountReceived(raw)
	if err != nil {
		t.Fatalf("CountReceived: %v", err)
	}
	if n != 2 {
		t.Fatalf("got %d, want 2", n)
	}
}

func TestPrependAddsFieldFirst(t *testing.T) {
	raw := []byte("Subject: hi\r\n\r\nbody\r\n")
	when := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	out, err := Prepend(raw, "client.example", "mx.example", "msg1", when)
	if err != nil {
		t.Fatalf("Prepend: %v", err)
	}

	lines := strings.Split(string(out), "\r\n")
	if !strings.HasPrefix(lines[0], "Received:") {
		t.Fatalf("first header line = %q, want Received", lines[0])
	}
	if !strings.Contains(string(out), "from client.example by mx.example with ESMTP id msg1") {
		t.Fatalf("missing expected Received content: %q", out)
	}
	if !bytes.Contains(out, []byte("Subject: hi")) {
		t.Fatal("original Subject header lost")
	}
	if !bytes.HasSuffix(out, []byte("body\r\n")) {
		t.Fatal("original body lost or reordered")
	}
}

func TestPrependPreservesExistingFieldOrder(t *testing.T) {
	raw := []byte("Received: from a by b; now\r\nSubject: hi\r\nX-Tag: one\r\n\r\nbody\r\n")
	out, err := Prepend(raw, "c", "d", "id2", time.Now())
	if err != nil {
		t.Fatalf("Prepend: %v", err)
	}

	idxNew := bytes.Index(out, []byte("from c by d"))
	idxOld := bytes.Index(out, []byte("from a by b"))
	idxSubject := bytes.Index(out, []byte("Subject: hi"))
	idxTag := bytes.Index(out, []byte("X-Tag: one"))
	if idxNew < 0 || idxOld < 0 || idxSubject < 0 || idxTag < 0 {
		t.Fatalf("missing expected fields: %q", out)
	}
	if !(idxNew < idxOld && idxOld < idxSubject && idxSubject < idxTag) {
		t.Fatalf("field order not preserved: %q", out)
	}
}

func TestPrependThenCountIncreasesByOne(t *testing.T) {
	raw := []byte("Received: from a by b; now\r\nSubject: hi\r\n\r\nbody\r\n")
	before, err := CountReceived(raw)
	if err != nil {
		t.Fatalf("CountReceived before: %v", err)
	}

	out, err := Prepend(raw, "c", "d", "id3", time.Now())
	if err != nil {
		t.Fatalf("Prepend: %v", err)
	}

	after, err := CountReceived(out)
	if err != nil {
		t.Fatalf("CountReceived after: %v", err)
	}
	if after != before+1 {
		t.Fatalf("count after Prepend = %d, want %d", after, before+1)
	}
}
