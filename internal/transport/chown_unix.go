//go:build !windows

package transport

import (
	"os/user"
	"strconv"
	"syscall"
)

// chownTo applies u's (and, if set, group's) ownership to path, mirroring
// vsmtp's libc_abstraction::chown call in mbox.rs/maildir.rs. A group
// override of "" keeps the user's primary group.
func chownTo(path string, u *user.User, group string) error {
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return err
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return err
	}
	if group != "" {
		g, err := user.LookupGroup(group)
		if err != nil {
			return err
		}
		gid, err = strconv.Atoi(g.Gid)
		if err != nil {
			return err
		}
	}
	return syscall.Chown(path, uid, gid)
}
