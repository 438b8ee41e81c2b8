package reply

// Default returns the stage-specific fallback reply a policy Deny with no
// explicit reply resolves to (spec.md §4.8). stage is the policy stage
// name (e.g. "connect", "rcpt_to"); unrecognized names fall back to a
// generic 554 transaction-failed.
func Default(stage string) Reply {
	switch stage {
	case "connect":
		return NewEnhanced(554, Enhanced{5, 7, 1}, "Connection rejected")
	case "helo":
		return NewEnhanced(550, Enhanced{5, 7, 1}, "HELO rejected")
	case "mail_from":
		return NewEnhanced(550, Enhanced{5, 7, 1}, "Sender rejected")
	case "rcpt_to":
		return NewEnhanced(550, Enhanced{5, 7, 1}, "Recipient rejected")
	case "pre_queue", "post_queue":
		return NewEnhanced(554, Enhanced{5, 7, 1}, "Transaction failed")
	case "authenticate":
		return NewEnhanced(535, Enhanced{5, 7, 8}, "Authentication failed")
	default:
		return NewEnhanced(554, Enhanced{5, 7, 1}, "Transaction failed")
	}
}
