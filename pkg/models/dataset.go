package models

import (
	"cmp"
	"fmt"
	"iter"
	"slices"
	"strconv"
	"strings"

	"github.com/gridstat/pfr-crawler/pkg/utils"
)

// Key addresses one record within a category: season year, entity identifier
// and an optional sub-unit discriminator (week, position, team). Year-less
// categories use Year 0.
type Key struct {
	Year int    `json:"year"`
	ID   string `json:"id"`
	Sub  string `json:"sub,omitempty"`
}

func (k Key) String() string {
	s := strconv.Itoa(k.Year) + "/" + k.ID
	if k.Sub != "" {
		s += "/" + k.Sub
	}
	return s
}

// Record is one schema-aligned row.
type Record struct {
	Key    Key     `json:"key"`
	Values []Value `json:"values"`
}

// Dataset accumulates the records of one category (or one merge plan) for a
// single run. It is not safe for concurrent use.
type Dataset struct {
	Name    string
	Columns []string

	rows     []Record
	index    map[Key]int
	colIndex map[string]int
}

// NewDataset creates an empty dataset with a fixed column header.
func NewDataset(name string, columns []string) *Dataset {
	colIndex := make(map[string]int, len(columns))
	for i, c := range columns {
		colIndex[c] = i
	}
	return &Dataset{
		Name:     name,
		Columns:  slices.Clone(columns),
		index:    make(map[Key]int),
		colIndex: colIndex,
	}
}

// Append adds a record. A record whose key already exists is rejected with
// ErrDuplicateKey and the stored record is left untouched.
func (d *Dataset) Append(r Record) error {
	if len(r.Values) != len(d.Columns) {
		return fmt.Errorf("%w: %s record %s has %d values, want %d",
			utils.ErrStructuralMismatch, d.Name, r.Key, len(r.Values), len(d.Columns))
	}
	if _, exists := d.index[r.Key]; exists {
		return fmt.Errorf("%w: %s %s", utils.ErrDuplicateKey, d.Name, r.Key)
	}
	d.index[r.Key] = len(d.rows)
	d.rows = append(d.rows, r)
	return nil
}

func (d *Dataset) Len() int { return len(d.rows) }

// Lookup returns the record stored under k.
func (d *Dataset) Lookup(k Key) (Record, bool) {
	i, ok := d.index[k]
	if !ok {
		return Record{}, false
	}
	return d.rows[i], true
}

// ColumnIndex returns the position of a named column.
func (d *Dataset) ColumnIndex(name string) (int, bool) {
	i, ok := d.colIndex[name]
	return i, ok
}

// Get returns the named column of r, or Absent when the column is unknown.
func (d *Dataset) Get(r Record, column string) Value {
	i, ok := d.colIndex[column]
	if !ok || i >= len(r.Values) {
		return Absent()
	}
	return r.Values[i]
}

// Records yields records in insertion order.
func (d *Dataset) Records() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for _, r := range d.rows {
			if !yield(r) {
				return
			}
		}
	}
}

// Years returns the distinct key years in ascending order.
func (d *Dataset) Years() []int {
	seen := make(map[int]struct{})
	var years []int
	for _, r := range d.rows {
		if _, ok := seen[r.Key.Year]; !ok {
			seen[r.Key.Year] = struct{}{}
			years = append(years, r.Key.Year)
		}
	}
	slices.Sort(years)
	return years
}

// ForYear returns a new dataset holding only the records of one year.
func (d *Dataset) ForYear(year int) *Dataset {
	out := NewDataset(d.Name, d.Columns)
	for _, r := range d.rows {
		if r.Key.Year == year {
			out.index[r.Key] = len(out.rows)
			out.rows = append(out.rows, r)
		}
	}
	return out
}

// SortByKey orders records by year, identifier and sub-unit. Used before
// writing so output files are stable across runs with different worker timing.
func (d *Dataset) SortByKey() {
	slices.SortStableFunc(d.rows, func(a, b Record) int {
		return cmp.Or(
			cmp.Compare(a.Key.Year, b.Key.Year),
			strings.Compare(a.Key.ID, b.Key.ID),
			strings.Compare(a.Key.Sub, b.Key.Sub),
		)
	})
	for i, r := range d.rows {
		d.index[r.Key] = i
	}
}
