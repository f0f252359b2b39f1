// table defines the record-oriented view of the persistent tables (members,
// drafts, credentials, news) and the Store interface that the spreadsheet and
// SQL backends implement.  A table is an ordered list of records.  Reads return
// the whole table and writes replace the whole table, so the repository above
// works the same way whichever backend is configured.
package table

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrStorageUnavailable is returned (wrapped) when a table can't be opened,
// parsed or written.  The cause is kept for the log but should not be shown
// to a client.
var ErrStorageUnavailable = errors.New("storage unavailable")

// Record holds one row of a table.  The keys are the column headings and the
// values are string or float64.  A missing key means the cell was blank.
type Record map[string]any

// Store is the persistence boundary.  Implementations must treat WriteTable
// as a full replacement of the named table.
type Store interface {
	// ReadTable returns every record of the named table in storage order.
	ReadTable(ctx context.Context, name string) ([]Record, error)

	// WriteTable replaces the contents of the named table.
	WriteTable(ctx context.Context, name string, records []Record) error

	// CreateTable creates an empty table with the given column headings.
	CreateTable(ctx context.Context, name string, header []string) error
}

// Unavailable wraps err as an ErrStorageUnavailable for the given table.
func Unavailable(name string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", name, ErrStorageUnavailable)
	}
	return fmt.Errorf("%s: %w - %v", name, ErrStorageUnavailable, err)
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	c := make(Record, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// String gets the field as a string.  Numbers are formatted without
// trailing zeros.  A missing field gives "".
func (r Record) String(field string) string {
	switch v := r[field].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Number gets the field as a float64.  Missing fields and strings that are
// not numbers give 0, which is what the cash columns want.
func (r Record) Number(field string) float64 {
	switch v := r[field].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// Normalise converts the values of the record to the two types that the
// backends store - float64 and string.  Integer types become float64, nil
// values are removed and anything else is formatted as a string.
func Normalise(r Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		switch val := v.(type) {
		case nil:
			continue
		case float64:
			out[k] = val
		case float32:
			out[k] = float64(val)
		case int:
			out[k] = float64(val)
		case int64:
			out[k] = float64(val)
		case string:
			out[k] = val
		case bool:
			out[k] = strconv.FormatBool(val)
		default:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}

// Header works out the column headings for writing the records.  Columns
// already in existing keep their position.  Any other field found in the
// records is added at the end in sorted order, which keeps the result the
// same from one write to the next.
func Header(existing []string, records []Record) []string {
	header := make([]string, 0, len(existing))
	seen := make(map[string]bool)
	for _, h := range existing {
		if len(h) == 0 || seen[h] {
			continue
		}
		seen[h] = true
		header = append(header, h)
	}

	extra := make([]string, 0)
	for _, r := range records {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				extra = append(extra, k)
			}
		}
	}
	sort.Strings(extra)

	return append(header, extra...)
}
