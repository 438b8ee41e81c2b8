// Package queue implements the filesystem-backed queue manager described
// in spec.md §4.7: atomic write/list/move of MailContext records across
// the four named queue directories (working, deliver, deferred, dead)
// rooted at a configured path. The filesystem is the authoritative state
// (spec.md §3, §9) — callers pass message-ids across goroutines only as
// hints, never the decoded MailContext itself.
//
// Grounded on foxcpp-maddy's queue.go (the older, single-file Queue type):
// removeFromDisk/readDiskQueue/storeNewMessage's pattern of one file per
// message under a directory, read back by directory listing on start-up.
// Unlike maddy's split header/body/meta files, spec.md §4.6 calls for one
// self-describing record per message, so Write/Read here move a single
// JSON blob (mailctx.MailContext.Encode/Decode) instead of three.
package queue

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Name identifies one of the four queue stages.
type Name string

const (
	Working  Name = "working"
	Deliver  Name = "deliver"
	Deferred Name = "deferred"
	Dead     Name = "dead"
)

// ErrExists is returned by Write and Move when the target message-id is
// already present in the destination queue (spec.md §4.7 invariant 2).
var ErrExists = errors.New("queue: message-id already exists in destination queue")

// Manager performs atomic write/list/move/read operations against the
// queue directories rooted at Root. It carries no other state: the
// directory listing is always re-derived from disk, so a Manager is safe
// to share across every worker goroutine in the supervisor's pools.
type Manager struct {
	Root string
}

// New builds a Manager rooted at root. It does not create root itself;
// the first Write into a given queue creates that queue's subdirectory.
func New(root string) *Manager {
	return &Manager{Root: root}
}

func (m *Manager) dir(q Name) string {
	return filepath.Join(m.Root, string(q))
}

func (m *Manager) path(q Name, id string) string {
	return filepath.Join(m.dir(q), id)
}

// Write stores data under id in queue q, creating q's directory if
// needed. The write is atomic from a reader's perspective: data lands in
// a temp file first, fsynced, then hard-linked into place under id and
// the temp name removed, so a concurrent
// List/Read never observes a partially-written file (spec.md §4.6).
//
// Write fails with ErrExists if id is already present in q (invariant 2).
func (m *Manager) Write(q Name, id string, data []byte) error {
	dir := m.dir(q)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("queue: mkdir %s: %w", dir, err)
	}

	dest := m.path(q, id)
	if _, err := os.Stat(dest); err == nil {
		return ErrExists
	}

	tmp, err := os.CreateTemp(dir, "."+id+".tmp-*")
	if err != nil {
		return fmt.Errorf("queue: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("queue: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("queue: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("queue: close: %w", err)
	}

	if err := os.Link(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		if os.IsExist(err) {
			return ErrExists
		}
		return fmt.Errorf("queue: link into place: %w", err)
	}
	return os.Remove(tmpPath)
}

// Read returns the raw bytes stored under id in queue q.
func (m *Manager) Read(q Name, id string) ([]byte, error) {
	return os.ReadFile(m.path(q, id))
}

// List returns every message-id currently present in q. A transient
// absence during a concurrent Move is not an error here; the caller only
// sees whatever directory snapshot readdir returns (spec.md §4.7
// invariant 1: "readers must tolerate transient absence during a
// rename").
func (m *Manager) List(q Name) ([]string, error) {
	entries, err := os.ReadDir(m.dir(q))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || isTempName(e.Name()) {
			continue
		}
		ids = append(ids, e.Name())
	}
	return ids, nil
}

// Move renames id from one queue to another. Both sides are on the same
// filesystem (the queue root), so this is a single atomic rename per
// spec.md §4.7 — ownership transfers as a point event to any reader using
// rename-retry (spec.md §8.1).
//
// Move refuses to overwrite an existing id already in the destination
// queue (ErrExists), and to moving out of Dead, which is terminal
// (spec.md §4.7 invariant 3, §8.2).
func (m *Manager) Move(id string, from, to Name) error {
	if from == Dead {
		return fmt.Errorf("queue: dead is terminal, cannot move %s out of it", id)
	}
	dir := m.dir(to)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("queue: mkdir %s: %w", dir, err)
	}
	dest := m.path(to, id)
	if _, err := os.Stat(dest); err == nil {
		return ErrExists
	}
	if err := os.Rename(m.path(from, id), dest); err != nil {
		return fmt.Errorf("queue: move %s from %s to %s: %w", id, from, to, err)
	}
	return nil
}

// Remove deletes id from q outright (used by the CLI's "msg remove" and
// by the delivery stage once every recipient is Sent).
func (m *Manager) Remove(q Name, id string) error {
	return os.Remove(m.path(q, id))
}

// Exists reports whether id is present in q.
func (m *Manager) Exists(q Name, id string) bool {
	_, err := os.Stat(m.path(q, id))
	return err == nil
}

func isTempName(name string) bool {
	return len(name) > 0 && name[0] == '.'
}
