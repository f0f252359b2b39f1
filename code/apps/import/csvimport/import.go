package csvimport

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/goblimey/go-kas-tracker/code/pkg/repository"
)

// CSVLine holds a member taken from a line of the CSV file.  Fields that
// were blank or missing are empty and are not copied to the member table.
type CSVLine struct {
	Name,
	Class,
	Position,
	Number,
	Photo string
	Cash    float64
	HasCash bool // The line gave a cash total, which replaces the stored one.
}

var compressSpaceRegex *regexp.Regexp

func init() {

	// A regex to capture a stream of white space.
	compressSpaceRegex = regexp.MustCompile("[ \t\n]+")
}

// Import reads a CSV file of members.  The first line is the heading,
// using the column names of the member table (Nama, Kelas and so on) in
// any order.  Only the name column is required.  Lines without a name are
// logged and skipped.
func Import(reader io.Reader, columns repository.Columns) ([]CSVLine, error) {

	// records is the returned object.
	records := make([]CSVLine, 0)

	csvReader := csv.NewReader(reader)
	// Lines may have fewer fields than the heading.
	csvReader.FieldsPerRecord = -1

	lines, readError := csvReader.ReadAll()
	if readError != nil {
		return nil, fmt.Errorf("error reading records: %w", readError)
	}

	if len(lines) == 0 {
		return nil, errors.New("the file is empty")
	}

	position := make(map[string]int)
	for i, heading := range lines[0] {
		position[strings.TrimSpace(strings.TrimPrefix(heading, "\ufeff"))] = i
	}
	if _, ok := position[columns.MemberKey]; !ok {
		return nil, fmt.Errorf("the heading has no %q column", columns.MemberKey)
	}

	for l, fields := range lines[1:] {

		record, getError := getLine(fields, position, columns)
		if getError != nil {
			// l starts at 0 and the heading is line 1.
			slog.Error(fmt.Sprintf("line %d: %v", l+2, getError))
			continue
		}

		records = append(records, *record)
	}

	return records, nil
}

func getLine(fields []string, position map[string]int, columns repository.Columns) (*CSVLine, error) {

	get := func(column string) string {
		i, ok := position[column]
		if !ok || i >= len(fields) {
			return ""
		}
		return strings.TrimSpace(compressSpaceRegex.ReplaceAllString(fields[i], " "))
	}

	record := CSVLine{
		Name:     get(columns.MemberKey),
		Class:    get(columns.MemberClass),
		Position: get(columns.MemberPosition),
		Number:   get(columns.MemberNumber),
		Photo:    get(columns.MemberPhoto),
	}

	if len(record.Name) == 0 {
		return nil, errors.New("no name")
	}

	if cash := get(columns.MemberCash); len(cash) > 0 {
		f, err := strconv.ParseFloat(cash, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%s: cash %q is not a number", record.Name, cash)
		}
		record.Cash = f
		record.HasCash = true
	}

	return &record, nil
}

// ProcessRecord adds the member to the member table or, if they are
// already there, updates the fields that the line gives.  It returns true
// if a new member was added.
func ProcessRecord(ctx context.Context, repo *repository.Repository, line *CSVLine) (bool, error) {

	c := repo.Columns
	patch := repository.Patch{}

	if len(line.Class) > 0 {
		patch[c.MemberClass] = repository.Set(line.Class)
	}
	if len(line.Position) > 0 {
		patch[c.MemberPosition] = repository.Set(line.Position)
	}
	if len(line.Number) > 0 {
		// Numbers are stored as numbers, as they are when typed into the
		// workbook.  Anything else, such as "007", stays as text.
		if n, err := strconv.Atoi(line.Number); err == nil && strconv.Itoa(n) == line.Number {
			patch[c.MemberNumber] = repository.Set(float64(n))
		} else {
			patch[c.MemberNumber] = repository.Set(line.Number)
		}
	}
	if len(line.Photo) > 0 {
		patch[c.MemberPhoto] = repository.Set(line.Photo)
	}
	if line.HasCash {
		patch[c.MemberCash] = repository.Set(line.Cash)
	}

	_, inserted, err := repo.Upsert(ctx, repo.Tables.Member, c.MemberKey, line.Name, patch)
	if err != nil {
		return false, fmt.Errorf("%s: %w", line.Name, err)
	}

	return inserted, nil
}
