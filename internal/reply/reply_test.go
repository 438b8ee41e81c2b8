package reply

import (
	"bufio"
	"strings"
	"testing"
)

func TestFoldSingleLine(t *testing.T) {
	r := New(250, "Ok")
	got := r.Fold()
	if got != "250 Ok\r\n" {
		t.Fatalf("Fold() = %q", got)
	}
}

func TestFoldEnhanced(t *testing.T) {
	r := NewEnhanced(550, Enhanced{5, 6, 7}, "Unable to normalize the sender address")
	got := r.Fold()
	if !strings.HasPrefix(got, "550 5.6.7 ") {
		t.Fatalf("Fold() = %q", got)
	}
}

func TestFoldMultiLine(t *testing.T) {
	r := New(214, "line one\nline two\nline three")
	got := r.Fold()
	lines := strings.Split(strings.TrimRight(got, "\r\n"), "\r\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 physical lines, got %d: %q", len(lines), got)
	}
	if !strings.HasPrefix(lines[0], "214-") || !strings.HasPrefix(lines[1], "214-") {
		t.Errorf("expected continuation marker on non-final lines: %q", got)
	}
	if !strings.HasPrefix(lines[2], "214 ") {
		t.Errorf("expected space on final line: %q", got)
	}
}

func TestFoldEnhancedMultiLine(t *testing.T) {
	r := NewEnhanced(250, Enhanced{2, 1, 5}, "first line\nsecond line")
	got := r.Fold()
	lines := strings.Split(strings.TrimRight(got, "\r\n"), "\r\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 physical lines, got %d: %q", len(lines), got)
	}
	if !strings.HasPrefix(lines[0], "250-2.1.5 ") {
		t.Errorf("continuation marker must follow the 3-digit code, not the enhanced status: %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "250 2.1.5 ") {
		t.Errorf("final line wrong: %q", lines[1])
	}
}

func TestFoldHardWrap(t *testing.T) {
	long := strings.Repeat("a", 200)
	r := New(250, long)
	got := r.Fold()
	for _, line := range strings.Split(strings.TrimRight(got, "\r\n"), "\r\n") {
		if len(line) > maxLineWidth {
			t.Errorf("line exceeds %d chars: %d: %q", maxLineWidth, len(line), line)
		}
	}
}

func TestParseRoundTrip(t *testing.T) {
	cases := []Reply{
		New(250, "Ok"),
		NewEnhanced(535, Enhanced{5, 7, 8}, "Invalid credentials"),
		New(214, "line one\nline two"),
		NewEnhanced(250, Enhanced{2, 1, 5}, "first line\nsecond line"),
	}
	for _, r := range cases {
		folded := r.Fold()
		parsed, err := Parse(bufio.NewReader(strings.NewReader(folded)))
		if err != nil {
			t.Fatalf("Parse(%q): %v", folded, err)
		}
		if parsed.Code != r.Code || parsed.Enhanced != r.Enhanced || parsed.Text != r.Text {
			t.Errorf("round-trip mismatch: got %+v, want %+v (folded %q)", parsed, r, folded)
		}
	}
}

func TestParseBothForms(t *testing.T) {
	p1, err := Parse(bufio.NewReader(strings.NewReader("250 Ok\r\n")))
	if err != nil || p1.Code != 250 || !p1.Enhanced.Zero() {
		t.Fatalf("plain form: %+v %v", p1, err)
	}

	p2, err := Parse(bufio.NewReader(strings.NewReader("250 2.0.0 Ok\r\n")))
	if err != nil || p2.Code != 250 || p2.Enhanced != (Enhanced{2, 0, 0}) || p2.Text != "Ok" {
		t.Fatalf("enhanced form: %+v %v", p2, err)
	}
}

func TestIsError(t *testing.T) {
	if New(250, "").IsError() {
		t.Error("250 should not be an error")
	}
	if !New(550, "").IsError() {
		t.Error("550 should be an error")
	}
	if !New(421, "").IsError() {
		t.Error("421 should be an error")
	}
	if New(211, "").IsError() {
		t.Error("211 should not be an error")
	}
}
