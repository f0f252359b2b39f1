//go:build unix

package usercontrol

import "syscall"

// Getuid gets the current user ID.
func Getuid() int {
	return syscall.Getuid()
}

// Setuid switches the user of every thread of the process to the user with
// the given ID.
func Setuid(targetID int) error {
	return syscall.Setuid(targetID)
}
