package mailctx

import "github.com/mtaserv/mtaserv/internal/address"

// Envelope is the SMTP envelope accumulated across HELO/EHLO, MAIL FROM and
// RCPT TO (spec.md §3).
type Envelope struct {
	Helo     string
	MailFrom string
	Rcpts    []Recipient
}

// AddRcpt appends r, silently ignoring it if an equal recipient (by
// Address, per Recipient.Equal) is already present — the de-duplication
// spec.md §3 and §8.3 require.
//
// Reports whether r was newly added.
func (e *Envelope) AddRcpt(r Recipient) bool {
	for _, existing := range e.Rcpts {
		if existing.Equal(r) {
			return false
		}
	}
	e.Rcpts = append(e.Rcpts, r)
	return true
}

// Reset clears the sender and recipients on RSET (spec.md §4.3). Helo is
// left untouched: HELO/EHLO survives RSET.
func (e *Envelope) Reset() {
	e.MailFrom = ""
	e.Rcpts = nil
}

// NewAddress is a convenience wrapper used by callers building recipients
// from a raw "local@domain" string.
func NewAddress(raw string) (address.Address, error) {
	return address.Parse(raw)
}
