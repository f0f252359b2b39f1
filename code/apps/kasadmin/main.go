/*
kasadmin does the chores that keep the kas tracker going: creating empty
tables, hashing a password, adding a user, changing a user's role and
dumping a table.  It uses the same config file and environment as the
server.

	kasadmin init
	kasadmin hash
	kasadmin add-user <username> --role admin
	kasadmin set-role <username> <role>
	kasadmin dump member|draft|auth|news
*/
package main

import (
	"fmt"
	"os"

	"github.com/goblimey/go-kas-tracker/code/apps/kasadmin/commands"
)

func main() {
	if err := commands.NewRoot(os.Stdin, os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
