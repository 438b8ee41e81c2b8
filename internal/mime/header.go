package mime

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message/textproto"
)

var ErrMalformedHeader = errors.New("mime: malformed header field")

// parseHeaders reads the header block at the start of raw (terminated by a
// blank line per RFC 822) and returns the parsed Headers plus the remaining
// bytes as the body. The low-level ordered header bag and its continuation
// folding come from emersion/go-message/textproto.ReadHeader, the same
// package the teacher uses throughout its delivery/check path for this
// concern; this layer only adds what spec.md §4.9 needs on top of that:
// lowercased names for case-insensitive lookup and stripped parenthesized
// comments (honoring backslash-escapes and nesting), neither of which
// textproto.Header does on its own.
func parseHeaders(raw []byte) (Headers, []byte, error) {
	br := bufio.NewReader(bytes.NewReader(raw))
	th, err := textproto.ReadHeader(br)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}

	var headers Headers
	fields := th.Fields()
	for fields.Next() {
		name := strings.ToLower(fields.Key())
		value := stripComments(strings.TrimSpace(fields.Value()))
		headers = append(headers, HeaderField{Name: name, Value: value})
	}

	body, readErr := io.ReadAll(br)
	if readErr != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedHeader, readErr)
	}
	if len(body) == 0 {
		body = nil
	}

	return headers, body, nil
}

// stripComments removes RFC 822 parenthesized comments from value,
// honoring backslash-escaped characters and nested parentheses.
func stripComments(value string) string {
	var out []byte
	depth := 0
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case depth > 0 && c == '\\' && i+1 < len(value):
			i++
			continue
		case c == '(':
			depth++
		case c == ')' && depth > 0:
			depth--
			if depth == 0 && len(out) > 0 && out[len(out)-1] == ' ' && i+1 < len(value) && value[i+1] == ' ' {
				i++
			}
		case depth == 0:
			out = append(out, c)
		}
	}
	return string(bytes.TrimSpace(out))
}
