package mime

import "testing"

func TestParseSimpleHeaders(t *testing.T) {
	raw := []byte("From: alice@example.com\r\nSubject: hello\r\n  world\r\n\r\nbody line one\r\nbody line two\r\n")
	m, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Kind != BodyRegular {
		t.Fatalf("Kind = %v, want BodyRegular", m.Kind)
	}
	subj, ok := m.Headers.Get("Subject")
	if !ok {
		t.Fatal("missing Subject header")
	}
	if subj != "hello world" {
		t.Errorf("Subject = %q, want folded %q", subj, "hello world")
	}
	if len(m.Regular) != 2 || m.Regular[0] != "body line one" {
		t.Errorf("Regular = %#v", m.Regular)
	}
}

func TestHeaderNameLowercased(t *testing.T) {
	m, err := Parse([]byte("FROM: a@b.c\r\n\r\nbody\r\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Headers[0].Name != "from" {
		t.Errorf("Name = %q, want lowercased", m.Headers[0].Name)
	}
}

func TestCommentStripping(t *testing.T) {
	m, err := Parse([]byte("X-Test: visible (a comment (nested) here) tail\r\n\r\nb\r\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	v, _ := m.Headers.Get("x-test")
	if v != "visible tail" {
		t.Errorf("value = %q", v)
	}
}

const multipartRaw = "From: a@b.c\r\n" +
	"Content-Type: multipart/mixed; boundary=XYZ\r\n\r\n" +
	"preamble text\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain\r\n\r\n" +
	"first part\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain\r\n\r\n" +
	"second part\r\n" +
	"--XYZ--\r\n" +
	"epilogue text\r\n"

func TestParseMultipart(t *testing.T) {
	m, err := Parse([]byte(multipartRaw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Kind != BodyMultipart {
		t.Fatalf("Kind = %v, want BodyMultipart", m.Kind)
	}
	if m.Multipart.Preamble != "preamble text" {
		t.Errorf("Preamble = %q", m.Multipart.Preamble)
	}
	if m.Multipart.Epilogue != "epilogue text" {
		t.Errorf("Epilogue = %q", m.Multipart.Epilogue)
	}
	if len(m.Multipart.Parts) != 2 {
		t.Fatalf("Parts = %d, want 2", len(m.Multipart.Parts))
	}
	if m.Multipart.Parts[0].Regular[0] != "first part" {
		t.Errorf("part 0 = %#v", m.Multipart.Parts[0].Regular)
	}
	if m.Multipart.Parts[1].Regular[0] != "second part" {
		t.Errorf("part 1 = %#v", m.Multipart.Parts[1].Regular)
	}
}

func TestRoundTripMultipart(t *testing.T) {
	m, err := Parse([]byte(multipartRaw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	reparsed, err := Parse([]byte(m.Serialize()))
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if len(reparsed.Multipart.Parts) != len(m.Multipart.Parts) {
		t.Fatalf("part count changed across round trip")
	}
	for i := range m.Multipart.Parts {
		if reparsed.Multipart.Parts[i].Regular[0] != m.Multipart.Parts[i].Regular[0] {
			t.Errorf("part %d content changed across round trip", i)
		}
	}
	if reparsed.Multipart.Preamble != m.Multipart.Preamble {
		t.Errorf("preamble changed across round trip")
	}
}

func TestEmbeddedRFC822(t *testing.T) {
	raw := "Content-Type: multipart/mixed; boundary=Q\r\n\r\n" +
		"--Q\r\n" +
		"Content-Type: message/rfc822\r\n\r\n" +
		"From: inner@example.com\r\n" +
		"Subject: inner\r\n\r\n" +
		"inner body\r\n" +
		"--Q--\r\n"
	m, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	part := m.Multipart.Parts[0]
	if part.Kind != BodyEmbedded {
		t.Fatalf("Kind = %v, want BodyEmbedded", part.Kind)
	}
	if part.Embedded == nil {
		t.Fatal("Embedded is nil")
	}
	from, _ := part.Embedded.Headers.Get("from")
	if from != "inner@example.com" {
		t.Errorf("inner From = %q", from)
	}
}

func TestMissingBoundary(t *testing.T) {
	_, err := Parse([]byte("Content-Type: multipart/mixed\r\n\r\nbody\r\n"))
	if err != ErrMissingBoundary {
		t.Fatalf("err = %v, want ErrMissingBoundary", err)
	}
}
