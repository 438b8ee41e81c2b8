// Package trace builds and inspects the "Received:" trace headers RFC 5321
// §4.4 has every relaying MTA prepend, and counts existing ones to catch a
// forwarding loop before it retries forever.
//
// Grounded on foxcpp-maddy's internal/endpoint/smtp/session.go, which
// counts "Received" fields via emersion/go-message/textproto's
// Header.FieldsByKey to reject a message with too many hops; building the
// header itself uses the same library's Header/WriteHeader so the line is
// folded and escaped the way every other header in the message already is.
package trace

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/textproto"
)

// CountReceived parses the header block of raw and reports how many
// "Received" fields are already present.
func CountReceived(raw []byte) (int, error) {
	h, _, err := splitHeader(raw)
	if err != nil {
		return 0, err
	}
	n := 0
	for f := h.FieldsByKey("Received"); f.Next(); {
		n++
	}
	return n, nil
}

// Prepend returns raw with one new "Received" field inserted ahead of
// every existing header, recording the hop described by from/by/id at
// when.
func Prepend(raw []byte, from, by, id string, when time.Time) ([]byte, error) {
	h, body, err := splitHeader(raw)
	if err != nil {
		return nil, err
	}

	var out textproto.Header
	out.Add("Received", fmt.Sprintf(
		"from %s by %s with ESMTP id %s; %s",
		from, by, id, when.Format(time.RFC1123Z),
	))
	for f := h.Fields(); f.Next(); {
		out.Add(f.Key(), f.Value())
	}

	var buf bytes.Buffer
	if err := textproto.WriteHeader(&buf, out); err != nil {
		return nil, fmt.Errorf("trace: write header: %w", err)
	}
	buf.Write(body)
	return buf.Bytes(), nil
}

func splitHeader(raw []byte) (textproto.Header, []byte, error) {
	r := bufio.NewReader(bytes.NewReader(raw))
	h, err := textproto.ReadHeader(r)
	if err != nil {
		return textproto.Header{}, nil, fmt.Errorf("trace: read header: %w", err)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return textproto.Header{}, nil, fmt.Errorf("trace: read body: %w", err)
	}
	return h, body, nil
}
