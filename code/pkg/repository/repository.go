// repository provides the per-entity operations of the kas tracker - members,
// draft payments, credentials and news - on top of a table.Store.  Every
// update is a read-modify-write of a whole table: read it, scan for the key,
// patch or append a record, write it back.  The cycle runs under the lock
// for that table, so updates from concurrent requests in this process don't
// overwrite each other.  Writers in other processes can still race.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/goblimey/go-kas-tracker/code/pkg/table"
)

var (
	// ErrNotFound is returned when a record that must exist doesn't.
	ErrNotFound = errors.New("not found")

	// ErrExists is returned when creating a record whose key is already taken.
	ErrExists = errors.New("already exists")

	// ErrValidation is returned for a blank key or an unknown status.
	ErrValidation = errors.New("validation error")

	// ErrDraftNotCleared is returned by UpdateCashAmount when the member's
	// cash was updated but the draft could not be reset.
	ErrDraftNotCleared = errors.New("member updated but draft not cleared")
)

// DefaultRole is given to new credentials when no role is specified.
const DefaultRole = "user"

// AdminRole is the role that may approve payments and manage users.
const AdminRole = "admin"

// MergeRule says how a patch value is combined with the existing value.
type MergeRule int

const (
	// Replace overwrites the field.
	Replace MergeRule = iota
	// Add adds a number to the field.  A missing field counts as 0.
	Add
)

// Change is one field of a patch.
type Change struct {
	Value any
	Rule  MergeRule
}

// Patch maps field names to changes.
type Patch map[string]Change

// Set gives a Change that replaces a field.
func Set(value any) Change {
	return Change{Value: value, Rule: Replace}
}

// Increment gives a Change that adds n to a numeric field.
func Increment(n float64) Change {
	return Change{Value: n, Rule: Add}
}

// Tables holds the names of the tables, file paths for the spreadsheet store.
type Tables struct {
	Member string
	Draft  string
	Auth   string
	News   string
}

// Columns holds the column headings that the repository uses.
type Columns struct {
	MemberKey      string // The member's name.
	MemberClass    string
	MemberCash     string // The total cash paid.
	MemberPosition string
	MemberNumber   string // Display order.
	MemberPhoto    string
	MemberCheckins string

	DraftKey    string
	DraftCash   string // The amount waiting for approval.
	DraftStatus string

	AuthKey       string // The username or email address.
	AuthPassword  string // The password digest.
	AuthRole      string
	AuthCheckins  string
	AuthLastLogin string

	NewsKey string
}

// DefaultColumns gives the column headings of the workbooks that the
// club uses.
func DefaultColumns() Columns {
	return Columns{
		MemberKey:      "Nama",
		MemberClass:    "Kelas",
		MemberCash:     "Jumlah Bayar Kas",
		MemberPosition: "Jabatan",
		MemberNumber:   "No",
		MemberPhoto:    "Foto Orangnya",
		MemberCheckins: "Checkin Count",

		DraftKey:    "Nama",
		DraftCash:   "Jumlah Bayar Kas",
		DraftStatus: "Status",

		AuthKey:       "Username",
		AuthPassword:  "Password",
		AuthRole:      "Role",
		AuthCheckins:  "Checkin Count",
		AuthLastLogin: "Last Login",

		NewsKey: "id",
	}
}

// Repository holds the store and the table layout.
type Repository struct {
	Store   table.Store
	Tables  Tables
	Columns Columns
	Locks   *table.Locks
	Logger  *slog.Logger
}

// New creates a Repository.
func New(store table.Store, tables Tables, columns Columns, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		Store:   store,
		Tables:  tables,
		Columns: columns,
		Locks:   table.NewLocks(),
		Logger:  logger,
	}
}

// Headers gives the column headings of each table, keyed by table name,
// for a new installation.
func (r *Repository) Headers() map[string][]string {
	c := r.Columns
	return map[string][]string{
		r.Tables.Member: {c.MemberNumber, c.MemberKey, c.MemberClass, c.MemberPosition,
			c.MemberCash, c.MemberPhoto, c.MemberCheckins},
		r.Tables.Draft: {c.DraftKey, c.DraftCash, c.DraftStatus},
		r.Tables.Auth:  {c.AuthKey, c.AuthPassword, c.AuthRole, c.AuthCheckins, c.AuthLastLogin},
		r.Tables.News:  {c.NewsKey, "title", "body", "source", "image"},
	}
}

// FindByKey returns the first record in the table whose keyField matches
// keyValue, or ErrNotFound.
func (r *Repository) FindByKey(ctx context.Context, tableName, keyField, keyValue string) (table.Record, error) {
	records, err := r.Store.ReadTable(ctx, tableName)
	if err != nil {
		return nil, err
	}

	i := indexOf(records, keyField, keyValue)
	if i < 0 {
		return nil, fmt.Errorf("%s %q: %w", tableName, keyValue, ErrNotFound)
	}

	return records[i], nil
}

// Upsert applies the patch to the record whose keyField matches keyValue.
// If there is no such record, a new one made from the key and the patch is
// appended.  It returns the resulting record and true if it was inserted.
func (r *Repository) Upsert(ctx context.Context, tableName, keyField, keyValue string, patch Patch) (table.Record, bool, error) {
	if len(strings.TrimSpace(keyValue)) == 0 {
		return nil, false, fmt.Errorf("%s: blank %s: %w", tableName, keyField, ErrValidation)
	}

	unlock := r.Locks.Lock(tableName)
	defer unlock()

	records, readError := r.Store.ReadTable(ctx, tableName)
	if readError != nil {
		return nil, false, readError
	}

	var result table.Record
	inserted := false
	i := indexOf(records, keyField, keyValue)
	if i >= 0 {
		result = apply(records[i], patch)
		records[i] = result
	} else {
		result = apply(table.Record{keyField: keyValue}, patch)
		records = append(records, result)
		inserted = true
	}

	if err := r.Store.WriteTable(ctx, tableName, records); err != nil {
		return nil, false, err
	}

	return result, inserted, nil
}

// update applies the patch to an existing record.  If there is no matching
// record the table is not written and it returns ErrNotFound.
func (r *Repository) update(ctx context.Context, tableName, keyField, keyValue string, patch Patch) (table.Record, error) {
	unlock := r.Locks.Lock(tableName)
	defer unlock()

	records, readError := r.Store.ReadTable(ctx, tableName)
	if readError != nil {
		return nil, readError
	}

	i := indexOf(records, keyField, keyValue)
	if i < 0 {
		return nil, fmt.Errorf("%s %q: %w", tableName, keyValue, ErrNotFound)
	}

	records[i] = apply(records[i], patch)

	if err := r.Store.WriteTable(ctx, tableName, records); err != nil {
		return nil, err
	}

	return records[i], nil
}

// insert appends a record.  If the key is already in use it returns ErrExists.
func (r *Repository) insert(ctx context.Context, tableName, keyField string, record table.Record) error {
	unlock := r.Locks.Lock(tableName)
	defer unlock()

	records, readError := r.Store.ReadTable(ctx, tableName)
	if readError != nil {
		return readError
	}

	keyValue := record.String(keyField)
	if indexOf(records, keyField, keyValue) >= 0 {
		return fmt.Errorf("%s %q: %w", tableName, keyValue, ErrExists)
	}

	return r.Store.WriteTable(ctx, tableName, append(records, record))
}

// CashUpdate is the result of UpdateCashAmount.
type CashUpdate struct {
	Member       table.Record // The member record after the update.
	DraftCleared bool         // True if a draft record was found and reset.
}

// UpdateCashAmount adds delta to the member's cash and then resets their
// draft, if they have one, to 0 and status "none".  These are two separate
// table updates.  If the second fails the error wraps ErrDraftNotCleared
// and the member part of the result is still valid.
func (r *Repository) UpdateCashAmount(ctx context.Context, name string, delta float64) (CashUpdate, error) {
	c := r.Columns

	member, _, memberError := r.Upsert(ctx, r.Tables.Member, c.MemberKey, name,
		Patch{c.MemberCash: Increment(delta)})
	if memberError != nil {
		return CashUpdate{}, memberError
	}

	result := CashUpdate{Member: member}

	_, draftError := r.update(ctx, r.Tables.Draft, c.DraftKey, name,
		Patch{c.DraftCash: Set(0.0), c.DraftStatus: Set(string(StatusNone))})
	switch {
	case draftError == nil:
		result.DraftCleared = true
	case errors.Is(draftError, ErrNotFound):
		// No draft, nothing to clear.
	default:
		r.Logger.Warn("UpdateCashAmount: draft not cleared", "name", name, "error", draftError)
		return result, fmt.Errorf("%s: %w: %w", name, ErrDraftNotCleared, draftError)
	}

	return result, nil
}

// UpdateDraft adds delta to the pending amount of the named draft and sets
// its status, creating the draft if necessary.
func (r *Repository) UpdateDraft(ctx context.Context, name string, delta float64, status string) (table.Record, error) {
	s, statusError := ParseStatus(status)
	if statusError != nil {
		return nil, statusError
	}

	c := r.Columns
	record, _, err := r.Upsert(ctx, r.Tables.Draft, c.DraftKey, name,
		Patch{c.DraftCash: Increment(delta), c.DraftStatus: Set(string(s))})

	return record, err
}

// RegisterOrTouch stores the digest against the identity.  If the identity
// is already registered, its checkin count goes up by one and its role is
// reset to the default.  Otherwise a new record is added with a count of 1.
// It returns true if a new record was added.
func (r *Repository) RegisterOrTouch(ctx context.Context, identity, digest string) (bool, error) {
	c := r.Columns
	_, inserted, err := r.Upsert(ctx, r.Tables.Auth, c.AuthKey, identity, Patch{
		c.AuthPassword: Set(digest),
		c.AuthRole:     Set(DefaultRole),
		c.AuthCheckins: Increment(1),
	})

	return inserted, err
}

// CreateCredential adds a credential.  It returns ErrExists if the identity
// is already registered.
func (r *Repository) CreateCredential(ctx context.Context, identity, digest, role string) error {
	if len(strings.TrimSpace(identity)) == 0 {
		return fmt.Errorf("blank identity: %w", ErrValidation)
	}
	if len(role) == 0 {
		role = DefaultRole
	}

	c := r.Columns
	record := table.Record{
		c.AuthKey:      identity,
		c.AuthPassword: digest,
		c.AuthRole:     role,
		c.AuthCheckins: 0.0,
	}

	return r.insert(ctx, r.Tables.Auth, c.AuthKey, record)
}

// UpdateRole sets the role of an existing credential.
func (r *Repository) UpdateRole(ctx context.Context, identity, role string) error {
	if len(strings.TrimSpace(role)) == 0 {
		return fmt.Errorf("blank role: %w", ErrValidation)
	}

	c := r.Columns
	_, err := r.update(ctx, r.Tables.Auth, c.AuthKey, identity,
		Patch{c.AuthRole: Set(strings.TrimSpace(role))})

	return err
}

// FindCredential returns the password digest and role of the identity, or
// ErrNotFound.
func (r *Repository) FindCredential(ctx context.Context, identity string) (string, string, error) {
	c := r.Columns
	record, err := r.FindByKey(ctx, r.Tables.Auth, c.AuthKey, identity)
	if err != nil {
		return "", "", err
	}

	return record.String(c.AuthPassword), record.String(c.AuthRole), nil
}

// RecordLoginSuccess bumps the checkin count of the identity in the auth
// table and sets its last login time.  If a member has the same name, their
// checkin count goes up too.  The two tables are updated separately.
func (r *Repository) RecordLoginSuccess(ctx context.Context, identity string, now time.Time) error {
	c := r.Columns

	_, authError := r.update(ctx, r.Tables.Auth, c.AuthKey, identity, Patch{
		c.AuthCheckins:  Increment(1),
		c.AuthLastLogin: Set(now.Format(time.RFC3339)),
	})
	if authError != nil {
		return authError
	}

	_, memberError := r.update(ctx, r.Tables.Member, c.MemberKey, identity,
		Patch{c.MemberCheckins: Increment(1)})
	if memberError != nil && !errors.Is(memberError, ErrNotFound) {
		return memberError
	}

	return nil
}

// MemberView is the public view of a member record.
type MemberView struct {
	Nama    string  `json:"Nama"`
	Kelas   string  `json:"Kelas"`
	Kas     float64 `json:"Kas"`
	Jabatan string  `json:"Jabatan"`
	Nomor   any     `json:"Nomor"`
	Foto    string  `json:"Foto"`
}

// Members returns the member directory.
func (r *Repository) Members(ctx context.Context) ([]MemberView, error) {
	records, err := r.Store.ReadTable(ctx, r.Tables.Member)
	if err != nil {
		return nil, err
	}

	c := r.Columns
	members := make([]MemberView, 0, len(records))
	for _, record := range records {
		members = append(members, MemberView{
			Nama:    record.String(c.MemberKey),
			Kelas:   record.String(c.MemberClass),
			Kas:     record.Number(c.MemberCash),
			Jabatan: record.String(c.MemberPosition),
			Nomor:   record[c.MemberNumber],
			Foto:    record.String(c.MemberPhoto),
		})
	}

	return members, nil
}

// Drafts returns the draft table.  A status typed into the sheet by hand,
// such as "Pending ", is given in its canonical lower case form.  A status
// that isn't a known one is left as it is.
func (r *Repository) Drafts(ctx context.Context) ([]table.Record, error) {
	records, err := r.Store.ReadTable(ctx, r.Tables.Draft)
	if err != nil {
		return nil, err
	}

	drafts := make([]table.Record, 0, len(records))
	for _, record := range records {
		draft := record.Clone()
		if raw, ok := draft[r.Columns.DraftStatus].(string); ok {
			if status, statusError := ParseStatus(raw); statusError == nil {
				draft[r.Columns.DraftStatus] = string(status)
			}
		}
		drafts = append(drafts, draft)
	}

	return drafts, nil
}

// News returns the news table as stored.
func (r *Repository) News(ctx context.Context) ([]table.Record, error) {
	return r.Store.ReadTable(ctx, r.Tables.News)
}

// NewsByID returns the news item with the given id.
func (r *Repository) NewsByID(ctx context.Context, id int) (table.Record, error) {
	return r.FindByKey(ctx, r.Tables.News, r.Columns.NewsKey, strconv.Itoa(id))
}

// indexOf returns the index of the first record whose field matches value,
// ignoring surrounding spaces in the stored value, or -1.
func indexOf(records []table.Record, field, value string) int {
	value = strings.TrimSpace(value)
	for i, record := range records {
		if strings.TrimSpace(record.String(field)) == value {
			return i
		}
	}
	return -1
}

// apply returns a copy of the record with the patch applied.
func apply(record table.Record, patch Patch) table.Record {
	result := record.Clone()
	for field, change := range patch {
		switch change.Rule {
		case Add:
			n := table.Record{"v": change.Value}.Number("v")
			result[field] = result.Number(field) + n
		default:
			result[field] = change.Value
		}
	}
	return table.Normalise(result)
}
