package commands

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goblimey/go-tools/testsupport"

	"github.com/goblimey/go-kas-tracker/code/pkg/credential"
	"github.com/goblimey/go-kas-tracker/code/pkg/repository"
	"github.com/goblimey/go-kas-tracker/code/pkg/sheet"
)

// writeConfig creates a config file in dir that keeps the tables in xlsx
// workbooks in the same directory.  It returns the path of the file.
func writeConfig(t *testing.T, dir string) string {
	t.Setenv("DBType", "")

	contents := `{
		"log_dir": "` + dir + `",
		"store_type": "xlsx",
		"member_table": "` + filepath.Join(dir, "data.xlsx") + `",
		"news_table": "` + filepath.Join(dir, "berita.xlsx") + `",
		"draft_table": "` + filepath.Join(dir, "saved.xlsx") + `",
		"auth_table": "` + filepath.Join(dir, "auth.xlsx") + `",
		"pbkdf2_iterations": 1000
	}`

	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// run runs kasadmin with the given input and arguments and returns what it
// wrote.
func run(input string, args ...string) (string, error) {
	var out bytes.Buffer
	root := NewRoot(strings.NewReader(input), &out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// TestInit checks that init creates the four tables and then leaves them
// alone unless forced.
func TestInit(t *testing.T) {

	testDirName, createDirectoryError := testsupport.CreateWorkingDirectory()
	if createDirectoryError != nil {
		t.Error(createDirectoryError)
		return
	}
	defer testsupport.RemoveWorkingDirectory(testDirName)

	configFile := writeConfig(t, testDirName)

	out, err := run("", "--config", configFile, "init")
	if err != nil {
		t.Error(err)
		return
	}
	if strings.Count(out, "created") != 4 {
		t.Errorf("want 4 tables created got %s", out)
	}

	store := sheet.New(false, nil)
	records, readError := store.ReadTable(context.Background(), filepath.Join(testDirName, "auth.xlsx"))
	if readError != nil {
		t.Error(readError)
		return
	}
	if len(records) != 0 {
		t.Errorf("want 0 records got %d", len(records))
	}

	out, err = run("", "--config", configFile, "init")
	if err != nil {
		t.Error(err)
		return
	}
	if strings.Count(out, "skipped") != 4 {
		t.Errorf("want 4 tables skipped got %s", out)
	}

	out, err = run("", "--config", configFile, "init", "--force")
	if err != nil {
		t.Error(err)
		return
	}
	if strings.Count(out, "created") != 4 {
		t.Errorf("want 4 tables created got %s", out)
	}
}

// TestHash checks that hash prints a digest of the password read from the
// input.
func TestHash(t *testing.T) {

	testDirName, createDirectoryError := testsupport.CreateWorkingDirectory()
	if createDirectoryError != nil {
		t.Error(createDirectoryError)
		return
	}
	defer testsupport.RemoveWorkingDirectory(testDirName)

	configFile := writeConfig(t, testDirName)

	out, err := run("rahasia\n", "--config", configFile, "hash")
	if err != nil {
		t.Error(err)
		return
	}

	digest := strings.TrimSpace(strings.TrimPrefix(out, "Password: "))
	hasher := credential.NewHasher(1000, 0, 0)
	if !hasher.Verify("rahasia", digest) {
		t.Errorf("digest %s does not verify", digest)
	}
}

// TestAddUserAndSetRole checks that a user can be created, given a new role
// and dumped with the password masked.
func TestAddUserAndSetRole(t *testing.T) {

	testDirName, createDirectoryError := testsupport.CreateWorkingDirectory()
	if createDirectoryError != nil {
		t.Error(createDirectoryError)
		return
	}
	defer testsupport.RemoveWorkingDirectory(testDirName)

	configFile := writeConfig(t, testDirName)

	if _, err := run("", "--config", configFile, "init"); err != nil {
		t.Error(err)
		return
	}

	out, err := run("rahasia\nrahasia\n", "--config", configFile, "add-user", "ani", "--role", "admin")
	if err != nil {
		t.Error(err)
		return
	}
	if !strings.Contains(out, "ani created with role admin") {
		t.Errorf("want ani created got %s", out)
	}

	// A second login with the same name is refused.
	_, err = run("lagi\nlagi\n", "--config", configFile, "add-user", "ani")
	if !errors.Is(err, repository.ErrExists) {
		t.Errorf("want ErrExists got %v", err)
	}

	out, err = run("", "--config", configFile, "set-role", "ani", "bendahara")
	if err != nil {
		t.Error(err)
		return
	}
	if !strings.Contains(out, "ani now has role bendahara") {
		t.Errorf("want role changed got %s", out)
	}

	_, err = run("", "--config", configFile, "set-role", "budi", "admin")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("want ErrNotFound got %v", err)
	}

	out, err = run("", "--config", configFile, "dump", "auth")
	if err != nil {
		t.Error(err)
		return
	}
	if !strings.Contains(out, `"Password":"****"`) {
		t.Errorf("want the password masked got %s", out)
	}
	if strings.Contains(out, "pbkdf2") {
		t.Errorf("digest leaked: %s", out)
	}
	if !strings.Contains(out, `"Role":"bendahara"`) {
		t.Errorf("want the new role got %s", out)
	}
}

// TestAddUserErrors checks the input that add-user refuses.
func TestAddUserErrors(t *testing.T) {

	testDirName, createDirectoryError := testsupport.CreateWorkingDirectory()
	if createDirectoryError != nil {
		t.Error(createDirectoryError)
		return
	}
	defer testsupport.RemoveWorkingDirectory(testDirName)

	configFile := writeConfig(t, testDirName)

	var testData = []struct {
		description string
		input       string
		want        string
	}{
		{"mismatch", "satu\ndua\n", "passwords don't match"},
		{"empty", "\n\n", "password is empty"},
		{"no input", "", "cannot read password"},
	}

	for _, td := range testData {
		_, err := run(td.input, "--config", configFile, "add-user", "ani")
		if err == nil {
			t.Errorf("%s: want an error", td.description)
			continue
		}
		if !strings.Contains(err.Error(), td.want) {
			t.Errorf("%s: want %s got %s", td.description, td.want, err.Error())
		}
	}
}

// TestDumpErrors checks that dump refuses an unknown table and reports a
// missing one.
func TestDumpErrors(t *testing.T) {

	testDirName, createDirectoryError := testsupport.CreateWorkingDirectory()
	if createDirectoryError != nil {
		t.Error(createDirectoryError)
		return
	}
	defer testsupport.RemoveWorkingDirectory(testDirName)

	configFile := writeConfig(t, testDirName)

	_, err := run("", "--config", configFile, "dump", "payments")
	if err == nil {
		t.Error("want an error for an unknown table")
	}

	_, err = run("", "--config", configFile, "dump", "news")
	if err == nil {
		t.Error("want an error for a missing workbook")
	}
}

// TestMissingConfig checks that a missing config file is reported.
func TestMissingConfig(t *testing.T) {
	_, err := run("", "--config", "/no/such/config.json", "dump", "member")
	if err == nil {
		t.Error("want an error")
	}
}
