// sheet stores tables as xlsx workbooks, one workbook per table.  Only the
// first sheet of a workbook is used.  Its first row holds the column headings
// and each following row is one record.
package sheet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/tealeg/xlsx"

	"github.com/goblimey/go-kas-tracker/code/pkg/table"
)

// BackupSuffix is added to the name of a workbook to give the name of its
// backup copy.
const BackupSuffix = ".backup"

// defaultSheetName is used when a new workbook is created.
const defaultSheetName = "Sheet1"

// Store is a table.Store that reads and writes xlsx files.  The table name
// passed to each method is the path of the workbook.
type Store struct {
	Backup bool         // Copy the old workbook to <path>.backup before each write.
	Logger *slog.Logger // Logs backup failures.
}

// New creates a Store.
func New(backup bool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{Backup: backup, Logger: logger}
}

// ReadTable reads the first sheet of the workbook at path.  Numeric cells
// are returned as float64 and other cells as strings.  Blank cells are left
// out of the record and rows with no values at all are skipped.
func (s *Store) ReadTable(ctx context.Context, path string) ([]table.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, openError := xlsx.OpenFile(path)
	if openError != nil {
		return nil, table.Unavailable(path, openError)
	}

	if len(file.Sheets) == 0 {
		return nil, table.Unavailable(path, errors.New("workbook has no sheets"))
	}

	_, records := readSheet(file.Sheets[0])

	return records, nil
}

// WriteTable replaces the workbook at path with one containing the given
// records.  The column order of the existing workbook is kept and new
// columns are added to the right.  The workbook is written to a temporary
// file and renamed into place so a reader never sees a half-written file.
func (s *Store) WriteTable(ctx context.Context, path string, records []table.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sheetName := defaultSheetName
	var existingHeader []string
	if _, statError := os.Stat(path); statError == nil {
		// Pick up the layout of the current file.  If it's unreadable we
		// write a fresh one.
		old, openError := xlsx.OpenFile(path)
		if openError == nil && len(old.Sheets) > 0 {
			sheetName = old.Sheets[0].Name
			existingHeader, _ = readSheet(old.Sheets[0])
		}

		if s.Backup {
			s.backup(path)
		}
	}

	header := table.Header(existingHeader, records)

	return save(path, sheetName, header, records)
}

// CreateTable writes a workbook at path containing just the heading row.
// An existing workbook is replaced.
func (s *Store) CreateTable(ctx context.Context, path string, header []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return save(path, defaultSheetName, table.Header(header, nil), nil)
}

// backup copies the workbook to its backup file.  Failure is logged and
// otherwise ignored - the write goes ahead anyway.
func (s *Store) backup(path string) {
	contents, readError := os.ReadFile(path)
	if readError != nil {
		s.Logger.Warn("backup: cannot read "+path, "error", readError)
		return
	}

	writeError := os.WriteFile(path+BackupSuffix, contents, 0o644)
	if writeError != nil {
		s.Logger.Warn("backup: cannot write "+path+BackupSuffix, "error", writeError)
	}
}

// save builds a workbook with a single sheet and writes it to path.
func save(path, sheetName string, header []string, records []table.Record) error {
	file := xlsx.NewFile()
	sheet, sheetError := file.AddSheet(sheetName)
	if sheetError != nil {
		return table.Unavailable(path, sheetError)
	}

	headingRow := sheet.AddRow()
	for _, h := range header {
		headingRow.AddCell().SetString(h)
	}

	for _, record := range records {
		row := sheet.AddRow()
		for _, h := range header {
			cell := row.AddCell()
			switch v := table.Normalise(record)[h].(type) {
			case float64:
				cell.SetFloat(v)
			case string:
				cell.SetString(v)
			}
		}
	}

	tempPath := path + ".tmp"
	saveError := file.Save(tempPath)
	if saveError != nil {
		os.Remove(tempPath)
		return table.Unavailable(path, saveError)
	}

	renameError := os.Rename(tempPath, path)
	if renameError != nil {
		os.Remove(tempPath)
		return table.Unavailable(path, renameError)
	}

	return nil
}

// readSheet returns the column headings and the records of the sheet.
func readSheet(sheet *xlsx.Sheet) ([]string, []table.Record) {
	records := make([]table.Record, 0)
	if len(sheet.Rows) == 0 {
		return nil, records
	}

	header := make([]string, 0, len(sheet.Rows[0].Cells))
	for _, cell := range sheet.Rows[0].Cells {
		header = append(header, strings.TrimSpace(cell.Value))
	}

	for _, row := range sheet.Rows[1:] {
		if row == nil {
			continue
		}
		record := make(table.Record)
		for i, cell := range row.Cells {
			if i >= len(header) || len(header[i]) == 0 || cell == nil {
				continue
			}
			value, ok := cellValue(cell)
			if ok {
				record[header[i]] = value
			}
		}
		if len(record) > 0 {
			records = append(records, record)
		}
	}

	return header, records
}

// cellValue converts a cell to a float64 or a string.  It returns false for
// a blank cell.  Cells that the workbook marks as text stay as strings even
// if they look like numbers, so a value such as "007" survives.
func cellValue(cell *xlsx.Cell) (any, bool) {
	raw := cell.Value
	if len(strings.TrimSpace(raw)) == 0 {
		return nil, false
	}

	switch cell.Type() {
	case xlsx.CellTypeString, xlsx.CellTypeInline, xlsx.CellTypeBool, xlsx.CellTypeError:
		return raw, true
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return raw, true
	}

	return f, true
}

// String describes the store for the log.
func (s *Store) String() string {
	return fmt.Sprintf("xlsx store (backup %v)", s.Backup)
}
