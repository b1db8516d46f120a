package warehouse

import (
	"context"
	"testing"

	"dataflow/internal/common"
	"dataflow/internal/driver"
	"dataflow/internal/objectstore"
	"dataflow/pkg/table"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T, schema string) (*Driver, objectstore.Storage) {
	store, err := objectstore.NewLocal(t.TempDir())
	require.NoError(t, err)
	w, err := Open(context.Background(), ":memory:", schema, store)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w, store
}

func TestReadReturnsMostRecentWindow(t *testing.T) {
	ctx := context.Background()
	w, _ := openMemory(t, "")
	_, err := w.db.ExecContext(ctx, "CREATE TABLE events AS SELECT range AS id FROM range(50005)")
	require.NoError(t, err)

	got, err := w.Read(ctx, "events")
	require.NoError(t, err)
	require.Equal(t, driver.MaxWarehouseRows, got.Len())
	assert.Equal(t, int64(5), got.Rows[0][0])
	assert.Equal(t, int64(50004), got.Rows[got.Len()-1][0])

	got, err = w.Read(ctx, "select id from events where id < 60000;")
	require.NoError(t, err)
	assert.Equal(t, driver.MaxWarehouseRows, got.Len())
}

func TestWriteStagesAndLoads(t *testing.T) {
	ctx := context.Background()
	w, store := openMemory(t, "analytics")

	tbl := table.New("id", "name", "amount")
	require.NoError(t, tbl.Append(1, "ann", 10.5))
	require.NoError(t, tbl.Append(2, "multi\nline", 3.25))

	require.NoError(t, w.Write(ctx, tbl, "sales__orders", driver.WriteOptions{Replace: true, QuotedNewlines: true}))

	ok, err := store.Exists(ctx, "sales__orders.csv")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := w.Read(ctx, "sales__orders")
	require.NoError(t, err)
	assert.Equal(t, tbl.Columns, got.Columns)
	assert.Equal(t, tbl.Rows, got.Rows)

	require.NoError(t, w.Write(ctx, tbl, "sales__orders", driver.WriteOptions{}))
	got, err = w.Read(ctx, "sales__orders")
	require.NoError(t, err)
	assert.Equal(t, 4, got.Len())

	require.NoError(t, w.Write(ctx, tbl.Slice(0, 1), "sales__orders", driver.WriteOptions{Replace: true}))
	got, err = w.Read(ctx, "analytics.sales__orders")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())
}

func TestReadMissingTable(t *testing.T) {
	w, _ := openMemory(t, "")
	_, err := w.Read(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrTableNotFound)
}

func TestWriteWithoutStore(t *testing.T) {
	w, err := Open(context.Background(), "", "", nil)
	require.NoError(t, err)
	defer w.Close()
	err = w.Write(context.Background(), table.New("a"), "t", driver.WriteOptions{})
	assert.ErrorIs(t, err, common.ErrConfiguration)
}
