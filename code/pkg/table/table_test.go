package table

import (
	"errors"
	"reflect"
	"sync"
	"testing"
)

// TestHeader checks that existing columns keep their place and new ones
// are appended in sorted order.
func TestHeader(t *testing.T) {
	var testData = []struct {
		description string
		existing    []string
		records     []Record
		want        []string
	}{
		{"empty", nil, nil, []string{}},
		{"existing only", []string{"Nama", "Kas"}, nil, []string{"Nama", "Kas"}},
		{"new fields sorted", nil,
			[]Record{{"b": 1.0, "a": "x"}, {"c": "y"}},
			[]string{"a", "b", "c"}},
		{"existing first", []string{"Nama", "Kas"},
			[]Record{{"Status": "none", "Nama": "Budi", "Kas": 5.0}},
			[]string{"Nama", "Kas", "Status"}},
		{"duplicate and blank headings dropped", []string{"Nama", "", "Nama"},
			[]Record{{"Nama": "Budi"}},
			[]string{"Nama"}},
	}

	for _, td := range testData {
		got := Header(td.existing, td.records)
		if !reflect.DeepEqual(td.want, got) {
			t.Errorf("%s: want %v got %v", td.description, td.want, got)
		}
	}
}

// TestNumber checks the numeric coercion of record fields.
func TestNumber(t *testing.T) {
	r := Record{"f": 1.5, "i": 2, "s": " 3.25 ", "junk": "abc"}

	var testData = []struct {
		field string
		want  float64
	}{
		{"f", 1.5},
		{"i", 2},
		{"s", 3.25},
		{"junk", 0},
		{"missing", 0},
	}

	for _, td := range testData {
		got := r.Number(td.field)
		if td.want != got {
			t.Errorf("%s: want %f got %f", td.field, td.want, got)
		}
	}
}

// TestString checks the string coercion of record fields.
func TestString(t *testing.T) {
	r := Record{"f": 8.0, "frac": 2.5, "s": "Budi"}

	if got := r.String("f"); got != "8" {
		t.Errorf("want 8 got %s", got)
	}
	if got := r.String("frac"); got != "2.5" {
		t.Errorf("want 2.5 got %s", got)
	}
	if got := r.String("s"); got != "Budi" {
		t.Errorf("want Budi got %s", got)
	}
	if got := r.String("missing"); got != "" {
		t.Errorf("want empty string got %s", got)
	}
}

// TestNormalise checks that values are reduced to float64 and string.
func TestNormalise(t *testing.T) {
	got := Normalise(Record{"a": 1, "b": int64(2), "c": "x", "d": nil, "e": true})
	want := Record{"a": 1.0, "b": 2.0, "c": "x", "e": "true"}
	if !reflect.DeepEqual(want, got) {
		t.Errorf("want %v got %v", want, got)
	}
}

// TestUnavailable checks that the wrapped error can be recognised.
func TestUnavailable(t *testing.T) {
	err := Unavailable("data.xlsx", errors.New("no such file"))
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("want ErrStorageUnavailable got %v", err)
	}
}

// TestLocks checks that the lock for a table serialises its holders.
func TestLocks(t *testing.T) {
	locks := NewLocks()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("data.xlsx")
			defer unlock()
			c := counter
			c++
			counter = c
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("want 50 got %d", counter)
	}
}
