package mailctx

import "github.com/mtaserv/mtaserv/internal/mime"

// BodyState tags which variant of Body is populated. Transitions are
// monotone: Empty -> Raw -> Parsed (spec.md §3). A message that arrives at
// the working stage already Parsed (e.g. re-queued after a policy restart)
// is left untouched by a repeat parse — Parse is idempotent.
type BodyState int

const (
	BodyEmpty BodyState = iota
	BodyRaw
	BodyParsed
)

// Body is the message content, in one of three states as it moves through
// the pipeline: not yet received, received but not yet parsed, or parsed
// into a mime.Mail for policy inspection (spec.md §3, §4.9).
type Body struct {
	state  BodyState
	raw    []byte
	parsed *mime.Mail
}

// Empty returns a Body with no content, the state a MailContext starts in
// before DATA.
func Empty() Body { return Body{state: BodyEmpty} }

// Raw returns a Body holding the unparsed bytes received during DATA.
func Raw(b []byte) Body { return Body{state: BodyRaw, raw: b} }

// State reports which variant is populated.
func (b Body) State() BodyState { return b.state }

// RawBytes returns the raw message bytes. Valid in BodyRaw and BodyParsed
// (the parsed mail retains its source bytes for re-serialization and
// delivery); empty in BodyEmpty.
func (b Body) RawBytes() []byte { return b.raw }

// Parsed returns the parsed mail, or nil if State() != BodyParsed.
func (b Body) Parsed() *mime.Mail { return b.parsed }

// Parse transitions a BodyRaw Body to BodyParsed by running the MIME
// parser over the stored raw bytes. Called on an already-BodyParsed Body,
// it is a no-op returning the same Body unchanged (idempotent re-parse,
// spec.md §3). Called on BodyEmpty, it returns an error.
func (b Body) Parse() (Body, error) {
	switch b.state {
	case BodyParsed:
		return b, nil
	case BodyRaw:
		m, err := mime.Parse(b.raw)
		if err != nil {
			return b, err
		}
		return Body{state: BodyParsed, raw: b.raw, parsed: &m}, nil
	default:
		return b, errEmptyBody
	}
}

var errEmptyBody = bodyError("mailctx: cannot parse an empty body")

type bodyError string

func (e bodyError) Error() string { return string(e) }
