package wireio

import (
	"net"
	"testing"
	"time"
)

func TestNextLineBasic(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := New(server)
	go client.Write([]byte("HELO foo\r\n"))

	line, err := c.NextLine(time.Second)
	if err != nil {
		t.Fatalf("NextLine: %v", err)
	}
	if line != "HELO foo" {
		t.Errorf("line = %q", line)
	}
}

func TestNextLineTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := New(server)
	_, err := c.NextLine(20 * time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestNextLineTooLong(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := New(server)
	big := make([]byte, MaxLineLength+100)
	for i := range big {
		big[i] = 'a'
	}
	big = append(big, '\r', '\n')
	go client.Write(big)

	_, err := c.NextLine(time.Second)
	if err != ErrLineTooLong {
		t.Fatalf("expected ErrLineTooLong, got %v", err)
	}
}
