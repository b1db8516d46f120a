package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

const timeLayout = time.RFC3339Nano

// ReadCSV parses a header row plus records and infers a type per column.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return &Table{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("table: read header: %w", err)
	}
	header = trimBOM(header)

	var raw [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("table: read row %d: %w", len(raw)+1, err)
		}
		raw = append(raw, record)
	}

	kinds := make([]Kind, len(header))
	for i := range header {
		kinds[i] = inferKind(raw, i)
	}

	t := &Table{Columns: header, Rows: make([][]any, 0, len(raw))}
	for _, record := range raw {
		row := make([]any, len(header))
		for i := range header {
			if i >= len(record) {
				continue
			}
			row[i] = parseCell(record[i], kinds[i])
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// WriteCSV writes the header followed by every row.
func (t *Table) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.Columns); err != nil {
		return err
	}
	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i := range record {
			record[i] = FormatCell(row[i])
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func FormatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(timeLayout)
	default:
		return fmt.Sprint(Normalize(v))
	}
}

func inferKind(raw [][]string, col int) Kind {
	var kind Kind
	for _, record := range raw {
		if col >= len(record) || record[col] == "" {
			continue
		}
		kind = widen(kind, cellKind(record[col]))
		if kind == KindString {
			return kind
		}
	}
	if kind == "" {
		return KindString
	}
	return kind
}

func cellKind(s string) Kind {
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return KindInt
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil && strings.ContainsAny(s, "0123456789") {
		return KindFloat
	}
	if _, err := parseBool(s); err == nil {
		return KindBool
	}
	if _, err := time.Parse(timeLayout, s); err == nil {
		return KindTime
	}
	return KindString
}

func parseCell(s string, kind Kind) any {
	if s == "" {
		return nil
	}
	switch kind {
	case KindInt:
		v, _ := strconv.ParseInt(s, 10, 64)
		return v
	case KindFloat:
		v, _ := strconv.ParseFloat(s, 64)
		return v
	case KindBool:
		v, _ := parseBool(s)
		return v
	case KindTime:
		v, _ := time.Parse(timeLayout, s)
		return v
	default:
		return s
	}
}

// parseBool also accepts the capitalized form pandas writes.
func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("not a bool: %q", s)
}

func trimBOM(header []string) []string {
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	return header
}
