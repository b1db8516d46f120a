package sandbox

import (
	"context"
	"fmt"
	"io"
	"strings"

	"dataflow/pkg/table"
)

func init() {
	Register("passthrough", Func{Arity: 1, Run: passthrough})
	Register("union", Func{Run: union})
	Register("dedupe", Func{Arity: 1, Run: dedupe})
}

func passthrough(_ context.Context, _ io.Writer, tables []*table.Table, _ any) (*table.Table, error) {
	return tables[0], nil
}

// union stacks every input by column name; missing cells stay empty.
// Columns keep the order in which the inputs first name them.
func union(_ context.Context, out io.Writer, tables []*table.Table, _ any) (*table.Table, error) {
	var (
		records []map[string]any
		columns []string
	)
	for i, t := range tables {
		fmt.Fprintf(out, "input %d: %d rows\n", i, t.Len())
		records = append(records, t.Records()...)
		columns = append(columns, t.Columns...)
	}
	return table.FromRecords(records, columns...), nil
}

// dedupe keeps the first occurrence of every distinct row.
func dedupe(_ context.Context, out io.Writer, tables []*table.Table, _ any) (*table.Table, error) {
	in := tables[0]
	res := table.New(in.Columns...)
	seen := make(map[string]bool, in.Len())
	for _, row := range in.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = table.FormatCell(v)
		}
		key := strings.Join(cells, "\x1f")
		if seen[key] {
			continue
		}
		seen[key] = true
		if err := res.Append(row...); err != nil {
			return nil, err
		}
	}
	fmt.Fprintf(out, "dropped %d duplicate rows\n", in.Len()-res.Len())
	return res, nil
}
