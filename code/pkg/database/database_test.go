package database

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/goblimey/go-kas-tracker/code/pkg/table"
)

// connectForTesting connects to a throwaway SQLite database.
func connectForTesting(t *testing.T) *Database {
	config := DBConfig{Type: "sqlite"}
	db := New(&config)
	if err := db.Connect(); err != nil {
		t.Fatal(err)
	}
	return db
}

// TestPostgresParamsToSQLiteParams checks postgresParamsToSQLiteParams.
func TestPostgresParamsToSQLiteParams(t *testing.T) {
	var testData = []struct {
		input string
		want  string
	}{
		{"", ""},
		{"SELECT 1;", "SELECT 1;"},
		{"WHERE a = $1 AND b = $22", "WHERE a = ? AND b = ?"},
		{"VALUES ($1, $2, $3)", "VALUES (?, ?, ?)"},
	}

	for _, td := range testData {
		got := postgresParamsToSQLiteParams(td.input)
		if td.want != got {
			t.Errorf("want %s got %s", td.want, got)
		}
	}
}

// TestString checks that the password is not shown in the log.
func TestString(t *testing.T) {
	config := DBConfig{Type: "postgres", User: "kas", Pass: "secret", Host: "localhost", Port: "5432", Name: "kas"}
	want := "Type: postgres,User: kas, Host: localhost, Port: 5432, Name: kas, Pass: ****"
	got := config.String()
	if want != got {
		t.Errorf("want %s got %s", want, got)
	}
}

// TestConnectWithNoType checks that Connect fails without a database type.
func TestConnectWithNoType(t *testing.T) {
	db := New(&DBConfig{})
	if err := db.Connect(); err == nil {
		t.Error("expected an error")
	}
}

// TestTables checks that Connect creates the tables.
func TestTables(t *testing.T) {
	db := connectForTesting(t)
	defer db.Close()

	got := db.ListSQLiteTables()
	want := []string{"kas_tables", "kas_rows"}
	if !reflect.DeepEqual(want, got) {
		t.Errorf("want %v got %v", want, got)
	}
}

// TestRoundTrip checks that written records read back in order with
// numbers as float64.
func TestRoundTrip(t *testing.T) {
	db := connectForTesting(t)
	defer db.Close()

	ctx := context.Background()

	records := []table.Record{
		{"Nama": "Budi", "Jumlah Bayar Kas": 5, "Kelas": "XI-A"},
		{"Nama": "Siti", "Jumlah Bayar Kas": 10.5, "No": "007"},
	}

	if err := db.WriteTable(ctx, "data", records); err != nil {
		t.Fatal(err)
	}

	got, readError := db.ReadTable(ctx, "data")
	if readError != nil {
		t.Fatal(readError)
	}

	want := []table.Record{
		{"Nama": "Budi", "Jumlah Bayar Kas": 5.0, "Kelas": "XI-A"},
		{"Nama": "Siti", "Jumlah Bayar Kas": 10.5, "No": "007"},
	}

	if !reflect.DeepEqual(want, got) {
		t.Errorf("want %v got %v", want, got)
	}
}

// TestWriteReplaces checks that a write replaces the whole table and
// leaves the other tables alone.
func TestWriteReplaces(t *testing.T) {
	db := connectForTesting(t)
	defer db.Close()

	ctx := context.Background()

	first := []table.Record{{"Nama": "Budi"}, {"Nama": "Siti"}, {"Nama": "Agus"}}
	if err := db.WriteTable(ctx, "data", first); err != nil {
		t.Fatal(err)
	}
	other := []table.Record{{"Nama": "Budi", "Status": "pending"}}
	if err := db.WriteTable(ctx, "draft", other); err != nil {
		t.Fatal(err)
	}

	second := []table.Record{{"Nama": "Dewi"}}
	if err := db.WriteTable(ctx, "data", second); err != nil {
		t.Fatal(err)
	}

	got, _ := db.ReadTable(ctx, "data")
	if !reflect.DeepEqual(second, got) {
		t.Errorf("want %v got %v", second, got)
	}

	gotOther, _ := db.ReadTable(ctx, "draft")
	if !reflect.DeepEqual(other, gotOther) {
		t.Errorf("want %v got %v", other, gotOther)
	}
}

// TestReadMissingTable checks that a table that was never created gives
// ErrStorageUnavailable.
func TestReadMissingTable(t *testing.T) {
	db := connectForTesting(t)
	defer db.Close()

	_, err := db.ReadTable(context.Background(), "junk")
	if !errors.Is(err, table.ErrStorageUnavailable) {
		t.Errorf("want ErrStorageUnavailable got %v", err)
	}
}

// TestCreateTable checks that a created table is empty and keeps its headings.
func TestCreateTable(t *testing.T) {
	db := connectForTesting(t)
	defer db.Close()

	ctx := context.Background()

	if err := db.WriteTable(ctx, "auth", []table.Record{{"Username": "x"}}); err != nil {
		t.Fatal(err)
	}

	header := []string{"Username", "Password", "Role"}
	if err := db.CreateTable(ctx, "auth", header); err != nil {
		t.Fatal(err)
	}

	got, readError := db.ReadTable(ctx, "auth")
	if readError != nil {
		t.Fatal(readError)
	}
	if len(got) != 0 {
		t.Errorf("want 0 records got %d", len(got))
	}

	tx, _ := db.Connection.BeginTx(ctx, nil)
	defer tx.Rollback()
	gotHeader, headerError := db.getHeader(ctx, tx, "auth")
	if headerError != nil {
		t.Fatal(headerError)
	}
	if !reflect.DeepEqual(header, gotHeader) {
		t.Errorf("want %v got %v", header, gotHeader)
	}
}
