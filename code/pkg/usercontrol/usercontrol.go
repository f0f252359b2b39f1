// The usercontrol package allows a process to switch from running as root to
// running as another user.  A web server may need root privilege to read its
// TLS key file but can then run as an ordinary user, posing less of a
// security risk.
//
// Only root can switch to another user, and only on a UNIX-style system.
// Elsewhere Setuid returns ErrNotImplemented.
package usercontrol

import (
	"errors"
	"fmt"
	"os/user"
	"strconv"
)

// ErrNotImplemented is returned by Setuid on systems that can't switch users.
var ErrNotImplemented = errors.New("not implemented")

// SwitchTo looks up the named user and makes them the user that this
// process runs as.
func SwitchTo(name string) error {
	u, userError := user.Lookup(name)
	if userError != nil {
		return userError
	}

	userID, idError := strconv.Atoi(u.Uid)
	if idError != nil {
		return fmt.Errorf("user %s: uid %q: %w", name, u.Uid, idError)
	}

	if userID == Getuid() {
		// Already there.
		return nil
	}

	if err := Setuid(userID); err != nil {
		return fmt.Errorf("cannot switch to user %s: %w", name, err)
	}

	return nil
}
