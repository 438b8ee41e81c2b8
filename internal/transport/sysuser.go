package transport

import "os/user"

// lookupSystemUser resolves localPart to a system account, mirroring
// vsmtp-delivery's users::get_user_by_name calls in mbox.rs/maildir.rs.
// A missing account is not an error here — callers translate "not found"
// into a HeldBack status per spec.md §4.12.
func lookupSystemUser(localPart string) (*user.User, bool) {
	u, err := user.Lookup(localPart)
	if err != nil {
		return nil, false
	}
	return u, true
}
