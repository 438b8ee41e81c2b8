package mailctx

import "time"

// MsgMetadata carries the pipeline bookkeeping for one message that is not
// part of the envelope or body proper (spec.md §3).
type MsgMetadata struct {
	ID        string
	CreatedAt time.Time

	// SkipReason, when non-empty, names the policy stage that returned
	// Faccept and the rest of the reason text it supplied.
	SkipReason string

	// SkipFurtherChecks is set by a Faccept policy verdict and, once set,
	// makes every later checkpoint in this session (and, per the Open
	// Question decision in SPEC_FULL.md §9, this message's remaining
	// pipeline stages) skip the policy engine and carry on with their
	// default action, as if it had returned Next.
	SkipFurtherChecks bool
}

// NewMsgMetadata builds the metadata for a newly generated message-id.
func NewMsgMetadata(id string, now time.Time) MsgMetadata {
	return MsgMetadata{ID: id, CreatedAt: now}
}

// Faccept records a Faccept verdict from stage, per spec.md §9's Open
// Question decision: scope is "rest of session", implemented as sticky
// SkipFurtherChecks checked by every subsequent policy checkpoint this
// message passes through, including post-queue and delivery stages.
func (m MsgMetadata) Faccept(stage, reason string) MsgMetadata {
	m.SkipFurtherChecks = true
	m.SkipReason = stage + ": " + reason
	return m
}
