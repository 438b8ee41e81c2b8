// Package mime implements the MIME parser described in spec.md §4.9: an
// ordered, case-insensitive header bag read by
// emersion/go-message/textproto.ReadHeader (lowercased and with
// parenthesized comments stripped on top), recursive multipart splitting
// with preamble/epilogue capture, and message/rfc822 (or multipart/digest
// member) recursion into embedded messages.
//
// No library in the retrieval pack exposes the preamble/epilogue text or
// the recursive multipart/embedded-message tree spec.md §4.9's round-trip
// law (§8.6) requires, so that part is written directly against the
// algorithm spec.md describes, the same way vSMTP's original src/mime/
// (see original_source's mime1.rs test) hand-rolls its own recursive-descent
// splitter rather than delegating the whole parse to a MIME library.
package mime

import (
	"bytes"
	"errors"
	"strings"
)

// HeaderField is one (lowercased name, value) pair. Order is preserved for
// round-trip; lookup is case-insensitive on name (spec.md §3: Mail).
type HeaderField struct {
	Name  string
	Value string
}

// Headers is an ordered list of HeaderField. Name lookups are
// case-insensitive; Name is stored already-lowercased by the parser.
type Headers []HeaderField

// Get returns the value of the first header matching name (case-insensitive)
// and whether it was found.
func (h Headers) Get(name string) (string, bool) {
	name = strings.ToLower(name)
	for _, f := range h {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// GetAll returns every value of headers matching name (case-insensitive).
func (h Headers) GetAll(name string) []string {
	name = strings.ToLower(name)
	var out []string
	for _, f := range h {
		if f.Name == name {
			out = append(out, f.Value)
		}
	}
	return out
}

// Param extracts a "; key=value" parameter from a header's value, e.g. the
// boundary of a Content-Type, case-insensitive on the key.
func Param(headerValue, key string) (string, bool) {
	parts := strings.Split(headerValue, ";")
	key = strings.ToLower(key)
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		eq := strings.IndexByte(p, '=')
		if eq == -1 {
			continue
		}
		k := strings.ToLower(strings.TrimSpace(p[:eq]))
		if k != key {
			continue
		}
		v := strings.TrimSpace(p[eq+1:])
		v = strings.Trim(v, `"`)
		return v, true
	}
	return "", false
}

// MainValue returns the part of a header value before the first ';',
// trimmed, lower-cased (used for Content-Type's "type/subtype" token).
func MainValue(headerValue string) string {
	if i := strings.IndexByte(headerValue, ';'); i != -1 {
		headerValue = headerValue[:i]
	}
	return strings.ToLower(strings.TrimSpace(headerValue))
}

// BodyKind tags which variant of Mail.Body/MimePart.Body is populated.
type BodyKind int

const (
	BodyUndefined BodyKind = iota
	BodyRegular
	BodyMultipart
	BodyEmbedded
)

// Multipart holds the three pieces of a split multipart body (spec.md §3).
type Multipart struct {
	Preamble string
	Parts    []MimePart
	Epilogue string
}

// MimePart is a (possibly nested) MIME body part: headers plus exactly one
// populated body variant, selected by Kind.
type MimePart struct {
	Headers Headers
	Kind    BodyKind

	Regular   []string // BodyRegular
	Multipart Multipart // BodyMultipart
	Embedded  *Mail     // BodyEmbedded
}

// Mail is a fully parsed top-level message (spec.md §3).
type Mail struct {
	Headers Headers
	Kind    BodyKind // BodyRegular or BodyMultipart or BodyUndefined

	Regular   []string
	Multipart Multipart
}

var ErrMissingBoundary = errors.New("mime: multipart/* header with no boundary parameter")

// Parse parses raw into a Mail per spec.md §4.9.
func Parse(raw []byte) (Mail, error) {
	headers, body, err := parseHeaders(raw)
	if err != nil {
		return Mail{}, err
	}

	m := Mail{Headers: headers}

	ct, hasCT := headers.Get("content-type")
	mainType := MainValue(ct)
	switch {
	case hasCT && strings.HasPrefix(mainType, "multipart/"):
		boundary, ok := Param(ct, "boundary")
		if !ok {
			return Mail{}, ErrMissingBoundary
		}
		mp, err := splitMultipart(body, boundary, mainType == "multipart/digest")
		if err != nil {
			return Mail{}, err
		}
		m.Kind = BodyMultipart
		m.Multipart = mp
	default:
		m.Kind = BodyRegular
		m.Regular = splitLines(body)
	}

	return m, nil
}

// parsePart parses one multipart member, given whether its parent was
// multipart/digest (which defaults member Content-Type to message/rfc822).
func parsePart(raw []byte, parentIsDigest bool) (MimePart, error) {
	headers, body, err := parseHeaders(raw)
	if err != nil {
		return MimePart{}, err
	}

	p := MimePart{Headers: headers}

	ct, hasCT := headers.Get("content-type")
	mainType := ""
	if hasCT {
		mainType = MainValue(ct)
	}

	switch {
	case hasCT && strings.HasPrefix(mainType, "multipart/"):
		boundary, ok := Param(ct, "boundary")
		if !ok {
			return MimePart{}, ErrMissingBoundary
		}
		mp, err := splitMultipart(body, boundary, mainType == "multipart/digest")
		if err != nil {
			return MimePart{}, err
		}
		p.Kind = BodyMultipart
		p.Multipart = mp
	case mainType == "message/rfc822" || (!hasCT && parentIsDigest):
		embedded, err := Parse(body)
		if err != nil {
			return MimePart{}, err
		}
		p.Kind = BodyEmbedded
		p.Embedded = &embedded
	default:
		p.Kind = BodyRegular
		p.Regular = splitLines(body)
	}

	return p, nil
}

// splitMultipart implements spec.md §4.9 step 2: split body on
// "--boundary" lines; text before the first boundary is the preamble, text
// after the closing "--boundary--" is the epilogue, each middle segment is
// recursively parsed.
func splitMultipart(body []byte, boundary string, isDigest bool) (Multipart, error) {
	delim := []byte("--" + boundary)
	lines := bytes.Split(body, []byte("\r\n"))
	if len(lines) == 1 {
		lines = bytes.Split(body, []byte("\n"))
	}
	if n := len(lines); n > 0 && len(lines[n-1]) == 0 {
		lines = lines[:n-1]
	}

	var (
		preamble   [][]byte
		segments   [][][]byte
		epilogue   [][]byte
		cur        [][]byte
		inPreamble = true
		closed     = false
	)

	for _, line := range lines {
		trimmed := bytes.TrimRight(line, "\r")
		switch {
		case bytes.Equal(trimmed, append(append([]byte{}, delim...), []byte("--")...)):
			if !inPreamble {
				segments = append(segments, cur)
			}
			closed = true
			inPreamble = false
			cur = nil
			continue
		case bytes.Equal(trimmed, delim):
			if inPreamble {
				inPreamble = false
			} else {
				segments = append(segments, cur)
			}
			cur = nil
			continue
		}

		if inPreamble {
			preamble = append(preamble, line)
		} else if closed {
			epilogue = append(epilogue, line)
		} else {
			cur = append(cur, line)
		}
	}

	mp := Multipart{
		Preamble: string(bytes.Join(preamble, []byte("\r\n"))),
		Epilogue: string(bytes.Join(epilogue, []byte("\r\n"))),
	}

	for _, seg := range segments {
		raw := bytes.Join(seg, []byte("\r\n"))
		part, err := parsePart(raw, isDigest)
		if err != nil {
			return Multipart{}, err
		}
		mp.Parts = append(mp.Parts, part)
	}

	return mp, nil
}

func splitLines(body []byte) []string {
	if len(body) == 0 {
		return nil
	}
	text := string(body)
	text = strings.TrimSuffix(text, "\r\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return []string{}
	}
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
