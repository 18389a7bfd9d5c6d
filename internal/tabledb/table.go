package tabledb

import (
	"iter"
	"slices"
	"sort"
)

// Table is an in-memory header-having relation.
//
// Every row has exactly len(Columns) cells once the table went through the
// codec or one of the helpers below. Missing values are empty strings.
type Table struct {
	Columns []string
	Rows    [][]string
}

// NewTable returns an empty table with the given header.
func NewTable(columns ...string) *Table {
	return &Table{Columns: slices.Clone(columns)}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Empty reports whether the table has neither a header nor rows.
func (t *Table) Empty() bool {
	return t == nil || (len(t.Columns) == 0 && len(t.Rows) == 0)
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	if t == nil {
		return &Table{}
	}
	c := &Table{Columns: slices.Clone(t.Columns), Rows: make([][]string, len(t.Rows))}
	for i, r := range t.Rows {
		c.Rows[i] = slices.Clone(r)
	}
	return c
}

// Index returns the position of column name, or -1.
func (t *Table) Index(name string) int {
	return slices.Index(t.Columns, name)
}

// Get returns the cell of row i in column name, or "" when the column does not
// exist.
func (t *Table) Get(i int, name string) string {
	j := t.Index(name)
	if j < 0 || j >= len(t.Rows[i]) {
		return ""
	}
	return t.Rows[i][j]
}

// Records iterates over the rows as column name to value maps.
func (t *Table) Records() iter.Seq[map[string]string] {
	return func(yield func(map[string]string) bool) {
		for _, r := range t.Rows {
			m := make(map[string]string, len(t.Columns))
			for j, c := range t.Columns {
				if j < len(r) {
					m[c] = r[j]
				} else {
					m[c] = ""
				}
			}
			if !yield(m) {
				return
			}
		}
	}
}

// AddRecord appends a row from a map. Keys that are not columns yet are added
// to the header in sorted order and existing rows are padded.
func (t *Table) AddRecord(rec map[string]string) {
	var extra []string
	for k := range rec {
		if t.Index(k) < 0 {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	t.addColumns(extra)
	row := make([]string, len(t.Columns))
	for j, c := range t.Columns {
		row[j] = rec[c]
	}
	t.Rows = append(t.Rows, row)
}

// Concat returns a new table with the rows of t followed by the rows of
// other. The header is the union of both: t's columns first, then the columns
// only other has, in other's order.
func (t *Table) Concat(other *Table) *Table {
	out := t.Clone()
	if other == nil {
		return out
	}
	var extra []string
	for _, c := range other.Columns {
		if out.Index(c) < 0 {
			extra = append(extra, c)
		}
	}
	out.addColumns(extra)
	pos := make([]int, len(other.Columns))
	for j, c := range other.Columns {
		pos[j] = out.Index(c)
	}
	for _, r := range other.Rows {
		row := make([]string, len(out.Columns))
		for j, v := range r {
			if j < len(pos) {
				row[pos[j]] = v
			}
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}

// Project returns a table restricted to columns, in that order. Columns that
// t lacks are empty.
func (t *Table) Project(columns ...string) *Table {
	out := NewTable(columns...)
	pos := make([]int, len(columns))
	for j, c := range columns {
		pos[j] = t.Index(c)
	}
	for _, r := range t.Rows {
		row := make([]string, len(columns))
		for j, p := range pos {
			if p >= 0 && p < len(r) {
				row[j] = r[p]
			}
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}

func (t *Table) addColumns(names []string) {
	if len(names) == 0 {
		return
	}
	t.Columns = append(t.Columns, names...)
	t.pad()
}

// pad makes every row exactly as wide as the header.
func (t *Table) pad() {
	n := len(t.Columns)
	for i, r := range t.Rows {
		switch {
		case len(r) < n:
			t.Rows[i] = append(r, make([]string, n-len(r))...)
		case len(r) > n:
			t.Rows[i] = r[:n]
		}
	}
}
