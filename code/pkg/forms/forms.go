// forms contains the structures that hold the JSON request bodies, and the
// code that cleans and validates them.
package forms

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/goblimey/go-kas-tracker/code/pkg/repository"
)

// ErrValidation is returned (wrapped) when a request body is missing,
// malformed or lacks a required field.
var ErrValidation = errors.New("invalid request")

// maxBodySize is the largest request body that Decode will read.
const maxBodySize = 64 * 1024

// Amount is a cash amount.  In a request it can be a JSON number or a
// string holding a number, since the browser sends either.
type Amount float64

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = 0
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = Sanitise(s)
		if len(s) == 0 {
			*a = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("amount %q is not a number", s)
		}
		*a = Amount(f)
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("amount is not a number")
	}
	*a = Amount(f)
	return nil
}

// CashForm is the body of /draft, /approve and /update_data.
type CashForm struct {
	Name   string `json:"name"`
	Amount Amount `json:"amount"`
	Status string `json:"status"`

	// Set by Validate.
	ParsedStatus repository.Status `json:"-"`
}

// Validate cleans the form and checks it.  The status is only required
// when needStatus is true.
func (f *CashForm) Validate(needStatus bool) error {
	f.Name = Sanitise(f.Name)
	f.Status = Sanitise(f.Status)

	if len(f.Name) == 0 {
		return missing("name")
	}

	if !needStatus {
		return nil
	}

	if len(f.Status) == 0 {
		return missing("status")
	}

	s, err := repository.ParseStatus(f.Status)
	if err != nil {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status)
	}
	f.ParsedStatus = s

	return nil
}

// LoginForm is the body of /login.
type LoginForm struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (f *LoginForm) Validate() error {
	f.Username = Sanitise(f.Username)
	if len(f.Username) == 0 {
		return missing("username")
	}
	if len(f.Password) == 0 {
		return missing("password")
	}
	return nil
}

// RegisterForm is the body of /register.  The admin fields are only needed
// when registration is restricted to admins.
type RegisterForm struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	Role          string `json:"role"`
	AdminUsername string `json:"adminUsername"`
	AdminPassword string `json:"adminPassword"`
}

func (f *RegisterForm) Validate(needAdmin bool) error {
	f.Username = Sanitise(f.Username)
	f.Role = Sanitise(f.Role)
	f.AdminUsername = Sanitise(f.AdminUsername)

	if len(f.Username) == 0 {
		return missing("username")
	}
	if len(f.Password) == 0 {
		return missing("password")
	}
	if needAdmin {
		if len(f.AdminUsername) == 0 {
			return missing("adminUsername")
		}
		if len(f.AdminPassword) == 0 {
			return missing("adminPassword")
		}
	}
	return nil
}

// RoleForm is the body of /update-role.
type RoleForm struct {
	AdminUsername string `json:"adminUsername"`
	AdminPassword string `json:"adminPassword"`
	Username      string `json:"username"`
	NewRole       string `json:"newRole"`
}

func (f *RoleForm) Validate() error {
	f.AdminUsername = Sanitise(f.AdminUsername)
	f.Username = Sanitise(f.Username)
	f.NewRole = Sanitise(f.NewRole)

	switch {
	case len(f.AdminUsername) == 0:
		return missing("adminUsername")
	case len(f.AdminPassword) == 0:
		return missing("adminPassword")
	case len(f.Username) == 0:
		return missing("username")
	case len(f.NewRole) == 0:
		return missing("newRole")
	}
	return nil
}

// Decode reads a JSON request body into form.  Any failure is an
// ErrValidation.
func Decode(body io.Reader, form any) error {
	if body == nil {
		return fmt.Errorf("%w: no body", ErrValidation)
	}

	decoder := json.NewDecoder(io.LimitReader(body, maxBodySize))
	if err := decoder.Decode(form); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	return nil
}

// Sanitise trims the string and removes line breaks, so that values
// written to the spreadsheet stay on one line.
func Sanitise(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return strings.TrimSpace(s)
}

func missing(field string) error {
	return fmt.Errorf("%w: %s is required", ErrValidation, field)
}
