// Package table holds the in-memory tabular value exchanged between drivers,
// buffers and transformations.
package table

import (
	"fmt"
	"sort"
	"time"
)

// Table is an ordered set of named columns with row-major values.
// Cell values are nil, int64, float64, bool, string or time.Time.
type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

type Kind string

const (
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindBool   Kind = "bool"
	KindTime   Kind = "time"
	KindString Kind = "string"
)

func New(columns ...string) *Table {
	return &Table{Columns: columns}
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Append adds one row; values are normalized to the cell types above.
func (t *Table) Append(values ...any) error {
	if len(values) != len(t.Columns) {
		return fmt.Errorf("table: row has %d values, want %d", len(values), len(t.Columns))
	}
	row := make([]any, len(values))
	for i, v := range values {
		row[i] = Normalize(v)
	}
	t.Rows = append(t.Rows, row)
	return nil
}

// Slice returns rows [offset, offset+n) sharing the column header.
func (t *Table) Slice(offset, n int) *Table {
	out := &Table{Columns: t.Columns}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(t.Rows) || n <= 0 {
		return out
	}
	end := offset + n
	if end > len(t.Rows) {
		end = len(t.Rows)
	}
	out.Rows = t.Rows[offset:end]
	return out
}

// Tail returns the last n rows.
func (t *Table) Tail(n int) *Table {
	if len(t.Rows) <= n {
		return t
	}
	return t.Slice(len(t.Rows)-n, n)
}

func (t *Table) Records() []map[string]any {
	out := make([]map[string]any, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make(map[string]any, len(t.Columns))
		for i, col := range t.Columns {
			rec[col] = row[i]
		}
		out = append(out, rec)
	}
	return out
}

// FromRecords builds a table from maps. The columns named in order come
// first, as given; keys found only in the records follow, sorted.
func FromRecords(records []map[string]any, order ...string) *Table {
	seen := map[string]bool{}
	var columns, extra []string
	for _, col := range order {
		if !seen[col] {
			seen[col] = true
			columns = append(columns, col)
		}
	}
	for _, rec := range records {
		for k := range rec {
			if !seen[k] {
				seen[k] = true
				extra = append(extra, k)
			}
		}
	}
	sort.Strings(extra)
	columns = append(columns, extra...)
	t := &Table{Columns: columns}
	for _, rec := range records {
		row := make([]any, len(columns))
		for i, col := range columns {
			row[i] = Normalize(rec[col])
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// ColumnKinds infers one kind per column from the non-nil cells.
func (t *Table) ColumnKinds() []Kind {
	kinds := make([]Kind, len(t.Columns))
	for i := range t.Columns {
		var kind Kind
		for _, row := range t.Rows {
			k := kindOf(row[i])
			if k == "" {
				continue
			}
			kind = widen(kind, k)
		}
		if kind == "" {
			kind = KindString
		}
		kinds[i] = kind
	}
	return kinds
}

func kindOf(v any) Kind {
	switch v.(type) {
	case nil:
		return ""
	case int64:
		return KindInt
	case float64:
		return KindFloat
	case bool:
		return KindBool
	case time.Time:
		return KindTime
	default:
		return KindString
	}
}

func widen(have, next Kind) Kind {
	switch {
	case have == "" || have == next:
		return next
	case (have == KindInt && next == KindFloat) || (have == KindFloat && next == KindInt):
		return KindFloat
	default:
		return KindString
	}
}

// Normalize maps driver scan results onto the table cell types.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case float64, bool, string, time.Time:
		return x
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
