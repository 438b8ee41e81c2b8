// Package buffer provides abstract temporary storage for message bodies,
// used so the same Delivery/MIME code can operate over either an in-memory
// blob (small messages, tests) or a spooled file (large messages) without
// caring which.
//
// Grounded on foxcpp-maddy/framework/buffer.
package buffer

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
)

// Buffer is an immutable blob of bytes that can be reopened for reading
// multiple times. Callers that create a Buffer own it and must call Remove
// once it is no longer needed.
type Buffer interface {
	Open() (io.ReadCloser, error)
	Len() int
	Remove() error
}

// Memory implements Buffer over a byte slice.
type Memory struct {
	Bytes []byte
}

func (m Memory) Open() (io.ReadCloser, error) { return io.NopCloser(&byteReader{b: m.Bytes}), nil }
func (m Memory) Len() int                     { return len(m.Bytes) }
func (m Memory) Remove() error                { return nil }

// InMemory buffers the entirety of r into a Memory buffer.
func InMemory(r io.Reader) (Buffer, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Memory{Bytes: b}, nil
}

// File implements Buffer backed by a file on disk, for message bodies too
// large (or too numerous in flight) to justify holding in memory.
type File struct {
	Path    string
	LenHint int
}

func (f File) Open() (io.ReadCloser, error) { return os.Open(f.Path) }

func (f File) Len() int {
	if f.LenHint != 0 {
		return f.LenHint
	}
	info, err := os.Stat(f.Path)
	if err != nil {
		return 0
	}
	return int(info.Size())
}

func (f File) Remove() error { return os.Remove(f.Path) }

// InFile copies r into a new file with a random name under dir.
func InFile(r io.Reader, dir string) (Buffer, error) {
	name := make([]byte, 16)
	if _, err := rand.Read(name); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, hex.EncodeToString(name))
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return File{Path: path, LenHint: int(n)}, nil
}

type byteReader struct {
	b   []byte
	pos int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}
