package usercontrol

import (
	"os/user"
	"strconv"
	"testing"
)

// TestSwitchToCurrentUser checks that switching to the user we already are
// is allowed, whether or not we are root.
func TestSwitchToCurrentUser(t *testing.T) {
	current, err := user.Current()
	if err != nil {
		t.Skip(err)
	}
	uid, err := strconv.Atoi(current.Uid)
	if err != nil || uid != Getuid() {
		t.Skip("the uid is not numeric on this system")
	}

	if err := SwitchTo(current.Username); err != nil {
		t.Errorf("want no error got %v", err)
	}
}

// TestSwitchToUnknownUser checks that an unknown user is reported.
func TestSwitchToUnknownUser(t *testing.T) {
	if err := SwitchTo("no-such-user-kas"); err == nil {
		t.Error("want an error")
	}
}
