package table

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSVInfersColumnKinds(t *testing.T) {
	in := "id,score,name,active\n1,1.5,ann,True\n2,2,bob,false\n3,,\"c, d\",true\n"
	tbl, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "score", "name", "active"}, tbl.Columns)
	require.Equal(t, 3, tbl.Len())
	assert.Equal(t, []any{int64(1), 1.5, "ann", true}, tbl.Rows[0])
	assert.Equal(t, []any{int64(2), 2.0, "bob", false}, tbl.Rows[1])
	assert.Equal(t, []any{int64(3), nil, "c, d", true}, tbl.Rows[2])
	assert.Equal(t, []Kind{KindInt, KindFloat, KindString, KindBool}, tbl.ColumnKinds())
}

func TestCSVRoundTrip(t *testing.T) {
	tbl := New("id", "note")
	require.NoError(t, tbl.Append(1, "line one\nline two"))
	require.NoError(t, tbl.Append(int32(2), []byte("plain")))

	var buf bytes.Buffer
	require.NoError(t, tbl.WriteCSV(&buf))

	back, err := ReadCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, tbl, back)
}

func TestReadCSVEmpty(t *testing.T) {
	tbl, err := ReadCSV(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, 0, tbl.Len())

	tbl, err = ReadCSV(strings.NewReader("a,b\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tbl.Columns)
	assert.Equal(t, 0, tbl.Len())
}

func TestSliceAndTail(t *testing.T) {
	tbl := New("n")
	for i := 0; i < 10; i++ {
		require.NoError(t, tbl.Append(i))
	}
	assert.Equal(t, [][]any{{int64(3)}, {int64(4)}}, tbl.Slice(3, 2).Rows)
	assert.Equal(t, 0, tbl.Slice(20, 5).Len())
	assert.Equal(t, 1, tbl.Slice(9, 5).Len())
	assert.Equal(t, [][]any{{int64(8)}, {int64(9)}}, tbl.Tail(2).Rows)
	assert.Equal(t, 10, tbl.Tail(50).Len())
}

func TestRecords(t *testing.T) {
	tbl := FromRecords([]map[string]any{{"b": 1, "a": "x"}, {"a": "y"}})
	assert.Equal(t, []string{"a", "b"}, tbl.Columns)
	assert.Equal(t, []any{"y", nil}, tbl.Rows[1])
	assert.Equal(t, map[string]any{"a": "x", "b": int64(1)}, tbl.Records()[0])

	ordered := FromRecords([]map[string]any{{"b": 1, "a": "x", "c": true}}, "b", "a", "b")
	assert.Equal(t, []string{"b", "a", "c"}, ordered.Columns)
	assert.Equal(t, []any{int64(1), "x", true}, ordered.Rows[0])
}

func TestAppendWidthMismatch(t *testing.T) {
	tbl := New("a", "b")
	assert.Error(t, tbl.Append(1))
}
