// Package reply implements the SMTP reply codec (spec.md §4.2): encoding a
// numeric code, optional RFC 3463 enhanced status, and a (possibly
// multi-line) text body into wire-format lines, and parsing the wire format
// back.
//
// There is no direct teacher analogue for a hand-rolled reply folder (maddy
// delegates this to go-smtp); this is grounded on the wire shape described
// in vSMTP's original src/smtp/code.rs and vsmtp-common/src/type/reply.rs,
// reimplemented idiomatically with a fmt.Stringer-style API instead of the
// original's builder pattern.
package reply

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Enhanced is an RFC 3463 enhanced status code, e.g. {2, 0, 0} for "2.0.0".
type Enhanced struct {
	Class, Subject, Detail int
}

// Zero reports whether e is the unset value (no enhanced code present).
func (e Enhanced) Zero() bool { return e == Enhanced{} }

func (e Enhanced) String() string {
	return fmt.Sprintf("%d.%d.%d", e.Class, e.Subject, e.Detail)
}

// Reply is one SMTP server reply: a three-digit code, an optional enhanced
// status, and free text that may contain embedded newlines (each becomes a
// continuation line on the wire).
type Reply struct {
	Code     int
	Enhanced Enhanced
	Text     string
}

// maxLineWidth is the hard-wrap width from spec.md §4.2, counting the
// "<code>[-| ]" (or "<code>[-| ]<enhanced> ") prefix.
const maxLineWidth = 78

// IsError reports whether the reply's code is in the 4xx or 5xx family,
// i.e. its hundreds digit is >= 4 (spec.md §4.2).
func (r Reply) IsError() bool {
	return r.Code/100 >= 4
}

// New builds a plain Reply with no enhanced status.
func New(code int, text string) Reply {
	return Reply{Code: code, Text: text}
}

// NewEnhanced builds a Reply carrying an enhanced status code.
func NewEnhanced(code int, e Enhanced, text string) Reply {
	return Reply{Code: code, Enhanced: e, Text: text}
}

// Fold renders r into its CRLF-terminated wire form: a "<code> " or
// "<code> <enhanced> " prefix on every physical line, hard-wrapped at 78
// visible characters, with '-' replacing the space immediately after the
// three-digit code (spec.md §4.2) on every line but the very last.
func (r Reply) Fold() string {
	codeStr := strconv.Itoa(r.Code)
	var enhPrefix string
	if !r.Enhanced.Zero() {
		enhPrefix = r.Enhanced.String() + " "
	}
	prefixWidth := len(codeStr) + 1 + len(enhPrefix) // code + sep + "E.S.C "

	logicalLines := strings.Split(r.Text, "\n")
	var physical []string
	for _, line := range logicalLines {
		physical = append(physical, wrapLine(prefixWidth, line)...)
	}
	if len(physical) == 0 {
		physical = []string{""}
	}

	var b strings.Builder
	for i, line := range physical {
		sep := byte(' ')
		if i != len(physical)-1 {
			sep = '-'
		}
		b.WriteString(codeStr)
		b.WriteByte(sep)
		b.WriteString(enhPrefix)
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	return b.String()
}

// wrapLine splits line into chunks such that a physical line of
// prefixWidth plus chunk never exceeds maxLineWidth visible characters,
// breaking on space boundaries where possible.
func wrapLine(prefixWidth int, line string) []string {
	budget := maxLineWidth - prefixWidth
	if budget < 1 {
		budget = 1
	}
	if len(line) <= budget {
		return []string{line}
	}

	var out []string
	for len(line) > budget {
		cut := strings.LastIndexByte(line[:budget], ' ')
		if cut <= 0 {
			cut = budget
		}
		out = append(out, strings.TrimRight(line[:cut], " "))
		line = strings.TrimLeft(line[cut:], " ")
	}
	out = append(out, line)
	return out
}

var (
	// ErrMalformed is returned by Parse for a line not matching
	// "NNN[- ][E.S.C ]text" or "NNN[- ]text".
	ErrMalformed = errors.New("reply: malformed line")
)

// Parse reads a complete (possibly multi-line) reply from r, the inverse
// of Fold. It accepts both "NNN text" and "NNN E.S.C text" lines.
func Parse(r *bufio.Reader) (Reply, error) {
	var (
		code     int
		enhanced Enhanced
		haveEnh  bool
		lines    []string
	)

	for {
		line, err := r.ReadString('\n')
		if err != nil && line == "" {
			return Reply{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		if len(line) < 4 {
			return Reply{}, ErrMalformed
		}
		c, err := strconv.Atoi(line[:3])
		if err != nil {
			return Reply{}, ErrMalformed
		}
		sep := line[3]
		if sep != ' ' && sep != '-' {
			return Reply{}, ErrMalformed
		}
		rest := line[4:]

		if code == 0 {
			code = c
		} else if c != code {
			return Reply{}, ErrMalformed
		}

		if !haveEnh {
			if e, text, ok := splitEnhanced(rest); ok {
				enhanced = e
				rest = text
				haveEnh = true
			} else {
				haveEnh = true // no enhanced code present; don't try again
			}
		} else if e, text, ok := splitEnhanced(rest); ok && e.Class == code/100 {
			rest = text
		}

		lines = append(lines, rest)
		if sep == ' ' {
			break
		}
	}

	return Reply{Code: code, Enhanced: enhanced, Text: strings.Join(lines, "\n")}, nil
}

// splitEnhanced attempts to peel a leading "D.D.D " enhanced-status token
// off text, returning ok=false if the text does not start with one.
func splitEnhanced(text string) (Enhanced, string, bool) {
	sp := strings.IndexByte(text, ' ')
	token := text
	rest := ""
	if sp != -1 {
		token = text[:sp]
		rest = text[sp+1:]
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Enhanced{}, text, false
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Enhanced{}, text, false
		}
		nums[i] = n
	}
	if sp == -1 {
		rest = ""
	}
	return Enhanced{nums[0], nums[1], nums[2]}, rest, true
}
