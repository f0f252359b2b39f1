package forms

import (
	"errors"
	"strings"
	"testing"

	"github.com/goblimey/go-kas-tracker/code/pkg/repository"
)

// TestSanitise checks the Sanitise function.
func TestSanitise(t *testing.T) {
	var testData = []struct {
		input string
		want  string
	}{
		{"", ""},
		{"Budi", "Budi"},
		{"  Budi  ", "Budi"},
		{"Bu\ndi", "Budi"},
		{"Budi\r\n", "Budi"},
		{"Budi Santoso", "Budi Santoso"},
	}

	for _, td := range testData {
		got := Sanitise(td.input)
		if td.want != got {
			t.Errorf("%q: want %q got %q", td.input, td.want, got)
		}
	}
}

// TestAmount checks that an amount can be a number or a numeric string.
func TestAmount(t *testing.T) {
	var testData = []struct {
		body      string
		want      float64
		wantError bool
	}{
		{`{"name": "Budi", "amount": 5}`, 5, false},
		{`{"name": "Budi", "amount": 2.5}`, 2.5, false},
		{`{"name": "Budi", "amount": "7"}`, 7, false},
		{`{"name": "Budi", "amount": " 7.25 "}`, 7.25, false},
		{`{"name": "Budi", "amount": ""}`, 0, false},
		{`{"name": "Budi", "amount": null}`, 0, false},
		{`{"name": "Budi"}`, 0, false},
		{`{"name": "Budi", "amount": "lots"}`, 0, true},
		{`{"name": "Budi", "amount": true}`, 0, true},
		{`{"name": "Budi", "amount": "NaN"}`, 0, true},
		{`{"name": "Budi", "amount": "Infinity"}`, 0, true},
		{`{"name": "Budi", "amount": "-Inf"}`, 0, true},
		{`{"name": "Budi", "amount": "1e400"}`, 0, true},
	}

	for _, td := range testData {
		var form CashForm
		err := Decode(strings.NewReader(td.body), &form)
		if td.wantError {
			if !errors.Is(err, ErrValidation) {
				t.Errorf("%s: want ErrValidation got %v", td.body, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", td.body, err)
			continue
		}
		if float64(form.Amount) != td.want {
			t.Errorf("%s: want %f got %f", td.body, td.want, float64(form.Amount))
		}
	}
}

// TestDecodeMalformed checks that a broken body is a validation error.
func TestDecodeMalformed(t *testing.T) {
	var form LoginForm
	for _, body := range []string{"", "{", "[]", "not json"} {
		if err := Decode(strings.NewReader(body), &form); !errors.Is(err, ErrValidation) {
			t.Errorf("%q: want ErrValidation got %v", body, err)
		}
	}

	if err := Decode(nil, &form); !errors.Is(err, ErrValidation) {
		t.Errorf("nil body: want ErrValidation got %v", err)
	}
}

// TestCashFormValidate checks CashForm.Validate.
func TestCashFormValidate(t *testing.T) {
	var testData = []struct {
		description string
		form        CashForm
		needStatus  bool
		wantError   bool
		wantStatus  repository.Status
	}{
		{"ok", CashForm{Name: " Budi ", Status: "Pending"}, true, false, repository.StatusPending},
		{"no name", CashForm{Name: "  ", Status: "pending"}, true, true, ""},
		{"no status", CashForm{Name: "Budi"}, true, true, ""},
		{"bad status", CashForm{Name: "Budi", Status: "paid"}, true, true, ""},
		{"status not needed", CashForm{Name: "Budi"}, false, false, ""},
	}

	for _, td := range testData {
		form := td.form
		err := form.Validate(td.needStatus)
		if td.wantError {
			if !errors.Is(err, ErrValidation) {
				t.Errorf("%s: want ErrValidation got %v", td.description, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", td.description, err)
			continue
		}
		if form.Name != "Budi" {
			t.Errorf("%s: want Budi got %q", td.description, form.Name)
		}
		if form.ParsedStatus != td.wantStatus {
			t.Errorf("%s: want %s got %s", td.description, td.wantStatus, form.ParsedStatus)
		}
	}
}

// TestRegisterFormValidate checks that the admin fields are only needed
// when asked for.
func TestRegisterFormValidate(t *testing.T) {
	form := RegisterForm{Username: "budi", Password: "pw"}
	if err := form.Validate(false); err != nil {
		t.Errorf("open registration: %v", err)
	}
	if err := form.Validate(true); !errors.Is(err, ErrValidation) {
		t.Errorf("admin registration: want ErrValidation got %v", err)
	}

	form.AdminUsername = "admin"
	form.AdminPassword = "secret"
	if err := form.Validate(true); err != nil {
		t.Errorf("admin registration: %v", err)
	}
}

// TestRoleFormValidate checks RoleForm.Validate.
func TestRoleFormValidate(t *testing.T) {
	full := RoleForm{AdminUsername: "admin", AdminPassword: "pw", Username: "budi", NewRole: "admin"}
	if err := full.Validate(); err != nil {
		t.Error(err)
	}

	for _, field := range []string{"adminUsername", "adminPassword", "username", "newRole"} {
		form := full
		switch field {
		case "adminUsername":
			form.AdminUsername = ""
		case "adminPassword":
			form.AdminPassword = ""
		case "username":
			form.Username = ""
		case "newRole":
			form.NewRole = ""
		}
		err := form.Validate()
		if !errors.Is(err, ErrValidation) || !strings.Contains(err.Error(), field) {
			t.Errorf("%s: want a validation error naming the field, got %v", field, err)
		}
	}
}
