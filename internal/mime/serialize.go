package mime

import "strings"

// Serialize renders m back to wire form. The round-trip law (spec.md §8.6)
// holds up to multipart argument ordering: Parse(Serialize(m)) yields a Mail
// deep-equal to m except that re-parsed Multipart.Parts order always matches
// the original body's on-disk order (Serialize does not reorder parts).
func (m Mail) Serialize() string {
	var b strings.Builder
	writeHeaders(&b, m.Headers)
	b.WriteString("\r\n")

	switch m.Kind {
	case BodyMultipart:
		boundary, _ := Param(mustGet(m.Headers, "content-type"), "boundary")
		writeMultipart(&b, m.Multipart, boundary)
	default:
		writeLines(&b, m.Regular)
	}

	return b.String()
}

func (p MimePart) serialize(b *strings.Builder) {
	writeHeaders(b, p.Headers)
	b.WriteString("\r\n")

	switch p.Kind {
	case BodyMultipart:
		boundary, _ := Param(mustGet(p.Headers, "content-type"), "boundary")
		writeMultipart(b, p.Multipart, boundary)
	case BodyEmbedded:
		if p.Embedded != nil {
			b.WriteString(p.Embedded.Serialize())
		}
	default:
		writeLines(b, p.Regular)
	}
}

func writeMultipart(b *strings.Builder, mp Multipart, boundary string) {
	if mp.Preamble != "" {
		b.WriteString(mp.Preamble)
		b.WriteString("\r\n")
	}
	for _, part := range mp.Parts {
		b.WriteString("--")
		b.WriteString(boundary)
		b.WriteString("\r\n")
		part.serialize(b)
	}
	b.WriteString("--")
	b.WriteString(boundary)
	b.WriteString("--\r\n")
	if mp.Epilogue != "" {
		b.WriteString(mp.Epilogue)
		b.WriteString("\r\n")
	}
}

func writeHeaders(b *strings.Builder, headers Headers) {
	for _, f := range headers {
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Value)
		b.WriteString("\r\n")
	}
}

func writeLines(b *strings.Builder, lines []string) {
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\r\n")
	}
}

func mustGet(h Headers, name string) string {
	v, _ := h.Get(name)
	return v
}
