package queue

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	m := New(t.TempDir())
	if err := m.Write(Working, "msg1", []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := m.Read(Working, "msg1")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("got %q", data)
	}
}

func TestWriteExistingIsError(t *testing.T) {
	m := New(t.TempDir())
	if err := m.Write(Working, "msg1", []byte("a")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := m.Write(Working, "msg1", []byte("b")); err != ErrExists {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func TestMoveTransfersOwnership(t *testing.T) {
	m := New(t.TempDir())
	if err := m.Write(Working, "msg1", []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := m.Move("msg1", Working, Deliver); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if m.Exists(Working, "msg1") {
		t.Fatal("msg1 still present in working after move")
	}
	if !m.Exists(Deliver, "msg1") {
		t.Fatal("msg1 not present in deliver after move")
	}
}

func TestMoveOutOfDeadIsRefused(t *testing.T) {
	m := New(t.TempDir())
	if err := m.Write(Dead, "msg1", []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := m.Move("msg1", Dead, Deliver); err == nil {
		t.Fatal("expected error moving out of dead")
	}
	if !m.Exists(Dead, "msg1") {
		t.Fatal("msg1 should remain in dead")
	}
}

func TestListIgnoresTempFiles(t *testing.T) {
	m := New(t.TempDir())
	if err := m.Write(Working, "msg1", []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := m.Write(Working, "msg2", []byte("y")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(m.dir(Working), ".msg1.tmp-leftover"), []byte("z"), 0o644); err != nil {
		t.Fatalf("seed temp file: %v", err)
	}
	ids, err := m.List(Working)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "msg1" || ids[1] != "msg2" {
		t.Fatalf("got %v", ids)
	}
}

func TestListOnMissingQueueReturnsEmpty(t *testing.T) {
	m := New(t.TempDir())
	ids, err := m.List(Deferred)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty, got %v", ids)
	}
}

func TestQueueDisjointnessAcrossMoves(t *testing.T) {
	m := New(t.TempDir())
	if err := m.Write(Working, "msg1", []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	stages := []Name{Deliver, Deferred, Dead}
	cur := Working
	for _, next := range stages {
		if err := m.Move("msg1", cur, next); err != nil {
			t.Fatalf("Move %s->%s: %v", cur, next, err)
		}
		count := 0
		for _, q := range []Name{Working, Deliver, Deferred, Dead} {
			if m.Exists(q, "msg1") {
				count++
			}
		}
		if count != 1 {
			t.Fatalf("expected msg1 in exactly one queue, found in %d", count)
		}
		cur = next
	}
}
