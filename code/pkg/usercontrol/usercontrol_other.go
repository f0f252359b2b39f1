//go:build !unix

package usercontrol

// Getuid gets the current user ID.  It always returns -1, which is not a
// valid user ID.
func Getuid() int {
	return -1
}

// Setuid returns ErrNotImplemented.
func Setuid(targetID int) error {
	return ErrNotImplemented
}
