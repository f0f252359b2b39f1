// database provides a table.Store backed by a SQL database, postgres, sqlite
// and potentially others.  Each table is stored as a list of JSON-encoded
// records plus its column headings, and a write replaces the whole table in
// one transaction, so the store behaves exactly like the spreadsheet store.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	// Database drivers.
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/goblimey/go-tools/testsupport"

	"github.com/goblimey/go-kas-tracker/code/pkg/table"
)

var regExpForPostgresParamsToSQLiteParams = regexp.MustCompile(`\$[0-9]+`)

type DBConfig struct {
	Type   string       // The type of database, for example "postgres" or "sqlite".
	User   string       // The user connecting to the database.
	Pass   string       // the password of the user connecting.
	Host   string       // The host machine running the database.
	Port   string       // The port on the host machine that the database uses.
	Name   string       // The name of the database, or the file name for sqlite.
	Logger *slog.Logger // The structured logger for trace and error messages.
}

// String describes the config for the log.  The password is not shown.
func (dbc *DBConfig) String() string {
	pass := ""
	if len(dbc.Pass) > 0 {
		pass = "****"
	}
	return fmt.Sprintf(
		"Type: %s,User: %s, Host: %s, Port: %s, Name: %s, Pass: %s",
		dbc.Type, dbc.User, dbc.Host, dbc.Port, dbc.Name, pass)
}

type Database struct {
	Config        *DBConfig // The database config.
	Connection    *sql.DB   // The database connection.
	SQLiteTempDir string    // The directory in /tmp used to store a temporary SQLite DB.
}

// New creates a database object using the given configuration.
func New(config *DBConfig) *Database {

	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	db := Database{
		Config: config,
	}
	return &db
}

// Connect connects to the given database, sets the connection in the object
// and creates the tables if they don't already exist.
func (db *Database) Connect() error {

	switch db.Config.Type {
	case "postgres":
		var err error
		db.Connection, err = ConnectToPostgres(db.Config)
		if err != nil {
			db.Config.Logger.Error("Connect: " + err.Error())
			return err
		}

	case "sqlite":
		fileName := db.Config.Name
		if len(fileName) == 0 {
			// No file given.  Use a throwaway database in a working
			// directory, which Close() removes.  (Used for testing.)
			var wdErr error
			db.SQLiteTempDir, wdErr = testsupport.CreateWorkingDirectory()
			if wdErr != nil {
				return wdErr
			}
			fileName = db.SQLiteTempDir + "/sqlite3.db"
		}

		var connErr error
		db.Connection, connErr = ConnectToSQLite("file:" + fileName)
		if connErr != nil {
			return connErr
		}

		// One writer at a time avoids "database is locked" errors.
		db.Connection.SetMaxOpenConns(1)

	default:
		return errors.New("no database config")
	}

	return db.CreateTables(context.Background())
}

// Close closes the database connection.
func (db *Database) Close() error {

	closeError := db.Connection.Close()

	if len(db.SQLiteTempDir) > 0 {
		// Whether the close worked or not, we must remove the DB file.
		testsupport.RemoveWorkingDirectory(db.SQLiteTempDir)
		db.SQLiteTempDir = ""
	}

	return closeError
}

// String describes the store for the log.
func (db *Database) String() string {
	return "database store (" + db.Config.String() + ")"
}

// CreateTables creates the two tables that hold the data.  kas_tables holds
// the column headings of each table and kas_rows holds the records.
func (db *Database) CreateTables(ctx context.Context) error {

	const createTables = `
		CREATE TABLE IF NOT EXISTS kas_tables (
			tbl_name   TEXT PRIMARY KEY,
			tbl_header TEXT NOT NULL
		);`

	const createRows = `
		CREATE TABLE IF NOT EXISTS kas_rows (
			row_table    TEXT    NOT NULL,
			row_position INTEGER NOT NULL,
			row_data     TEXT    NOT NULL,
			PRIMARY KEY (row_table, row_position)
		);`

	for _, q := range []string{createTables, createRows} {
		if _, err := db.Connection.ExecContext(ctx, q); err != nil {
			return err
		}
	}

	return nil
}

// ReadTable gets the records of the named table in the order they were
// written.  A table that has never been created gives ErrStorageUnavailable,
// as a missing spreadsheet does.
func (db *Database) ReadTable(ctx context.Context, name string) ([]table.Record, error) {

	tx, txError := db.Connection.BeginTx(ctx, &sql.TxOptions{ReadOnly: db.Config.Type == "postgres"})
	if txError != nil {
		return nil, table.Unavailable(name, txError)
	}
	defer tx.Rollback()

	if _, headerError := db.getHeader(ctx, tx, name); headerError != nil {
		return nil, table.Unavailable(name, headerError)
	}

	const q = `
		SELECT row_data FROM kas_rows
		WHERE row_table = $1
		ORDER BY row_position;`

	rows, queryError := tx.QueryContext(ctx, db.fixParams(q), name)
	if queryError != nil {
		return nil, table.Unavailable(name, queryError)
	}
	defer rows.Close()

	records := make([]table.Record, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, table.Unavailable(name, err)
		}

		var record table.Record
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			return nil, table.Unavailable(name, err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, table.Unavailable(name, err)
	}

	return records, nil
}

// WriteTable replaces the records of the named table.  The column headings
// are extended with any new fields, keeping the existing order.
func (db *Database) WriteTable(ctx context.Context, name string, records []table.Record) error {

	tx, txError := db.Connection.BeginTx(ctx, nil)
	if txError != nil {
		return table.Unavailable(name, txError)
	}

	// The transaction should be committed before this function exits.  If it
	// isn't, something went wrong and the rollback discards the changes.
	defer tx.Rollback()

	existing, headerError := db.getHeader(ctx, tx, name)
	if headerError != nil && !errors.Is(headerError, sql.ErrNoRows) {
		return table.Unavailable(name, headerError)
	}

	const deleteRows = `DELETE FROM kas_rows WHERE row_table = $1;`
	if _, err := tx.ExecContext(ctx, db.fixParams(deleteRows), name); err != nil {
		return table.Unavailable(name, err)
	}

	const insertRow = `
		INSERT INTO kas_rows (row_table, row_position, row_data)
		VALUES ($1, $2, $3);`

	for i, record := range records {
		data, marshalError := json.Marshal(table.Normalise(record))
		if marshalError != nil {
			return table.Unavailable(name, marshalError)
		}
		if _, err := tx.ExecContext(ctx, db.fixParams(insertRow), name, i, string(data)); err != nil {
			return table.Unavailable(name, err)
		}
	}

	if err := db.setHeader(ctx, tx, name, table.Header(existing, records)); err != nil {
		return table.Unavailable(name, err)
	}

	if err := tx.Commit(); err != nil {
		return table.Unavailable(name, err)
	}

	return nil
}

// CreateTable creates an empty table with the given headings, replacing any
// existing table of that name.
func (db *Database) CreateTable(ctx context.Context, name string, header []string) error {

	tx, txError := db.Connection.BeginTx(ctx, nil)
	if txError != nil {
		return table.Unavailable(name, txError)
	}
	defer tx.Rollback()

	const deleteRows = `DELETE FROM kas_rows WHERE row_table = $1;`
	if _, err := tx.ExecContext(ctx, db.fixParams(deleteRows), name); err != nil {
		return table.Unavailable(name, err)
	}

	if err := db.setHeader(ctx, tx, name, table.Header(header, nil)); err != nil {
		return table.Unavailable(name, err)
	}

	if err := tx.Commit(); err != nil {
		return table.Unavailable(name, err)
	}

	return nil
}

// getHeader gets the column headings of the named table.  If there is no
// such table it returns sql.ErrNoRows.
func (db *Database) getHeader(ctx context.Context, tx *sql.Tx, name string) ([]string, error) {

	const q = `SELECT tbl_header FROM kas_tables WHERE tbl_name = $1;`

	var data string
	if err := tx.QueryRowContext(ctx, db.fixParams(q), name).Scan(&data); err != nil {
		return nil, err
	}

	var header []string
	if err := json.Unmarshal([]byte(data), &header); err != nil {
		return nil, err
	}

	return header, nil
}

// setHeader creates or updates the column headings of the named table.
func (db *Database) setHeader(ctx context.Context, tx *sql.Tx, name string, header []string) error {

	data, marshalError := json.Marshal(header)
	if marshalError != nil {
		return marshalError
	}

	const q = `
		INSERT INTO kas_tables (tbl_name, tbl_header) VALUES ($1, $2)
		ON CONFLICT (tbl_name) DO UPDATE SET tbl_header = excluded.tbl_header;`

	_, err := tx.ExecContext(ctx, db.fixParams(q), name, string(data))
	return err
}

// fixParams massages the query parameter placeholders into the correct
// form for the database.
func (db *Database) fixParams(query string) string {
	if db.Config.Type == "sqlite" {
		return postgresParamsToSQLiteParams(query)
	}
	return query
}

// ListSQLiteTables returns a list of the SQLite tables.
// (Used for debugging.)
func (db *Database) ListSQLiteTables() []string {

	result := make([]string, 0)
	if db.Config.Type != "sqlite" {
		result := append(result, "not implemented for DB "+db.Config.Type)
		return result
	}

	const sql = `SELECT name FROM sqlite_master WHERE type='table'`

	rows, getNamesError := db.Connection.Query(sql)

	if getNamesError != nil {
		result = append(result, getNamesError.Error())
		return result
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		err := rows.Scan(&name)
		if err != nil {
			result = append(result, err.Error())
			return result
		}

		result = append(result, name)
	}

	return result
}

// ConnectToPostgres connects to the database specified in the config.
func ConnectToPostgres(dbConfig *DBConfig) (*sql.DB, error) {

	var connectionStr string
	if len(dbConfig.Pass) == 0 {
		// If the password is empty, don't supply "password=".
		connectionStr = fmt.Sprintf(
			"host=%s port=%s user=%s dbname=%s sslmode=disable",
			dbConfig.Host, dbConfig.Port, dbConfig.User, dbConfig.Name)
	} else {
		connectionStr = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			dbConfig.Host, dbConfig.Port, dbConfig.User, dbConfig.Pass, dbConfig.Name)
	}

	// This checks the connection details, but doesn't open a connection!
	const driverName = "postgres"
	conn, errConn := sql.Open(driverName, connectionStr)
	if errConn != nil {
		return nil, errConn
	}

	// Ping actually opens the database connection.
	errPing := conn.Ping()
	if errPing != nil {
		return nil, errPing
	}

	return conn, nil
}

// ConnectToSQLite connects to an SQLite database using the modernc driver.
func ConnectToSQLite(connectionDetails string) (*sql.DB, error) {

	slog.Debug("ConnectToSQLite: " + connectionDetails)

	conn, err := sql.Open("sqlite", connectionDetails)
	if err != nil {
		return nil, err
	}

	return conn, nil
}

// postgresParamsToSQLiteParams takes a query string and converts any
// Postgres-style parameter placeholders ('$1', '$2' etc) to sqlite-style
// placeholders ('?').  It uses a simple regular expression replacement
// so it can be defeated, for example by what looks like a placeholder
// within an SQL string - "select '$1' from foo where bar=$1".
func postgresParamsToSQLiteParams(query string) string {
	resultBytes := regExpForPostgresParamsToSQLiteParams.
		ReplaceAll([]byte(query), []byte("?"))
	result := string(resultBytes)
	return result
}
