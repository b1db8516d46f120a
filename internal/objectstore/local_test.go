package objectstore

import (
	"context"
	"io"
	"strings"
	"testing"

	"dataflow/internal/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Upload(ctx, "backups/orders.csv", strings.NewReader("a,b\n1,2\n")))
	ok, err := store.Exists(ctx, "backups/orders.csv")
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := store.Download(ctx, "backups/orders.csv")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(body))

	require.NoError(t, store.Upload(ctx, "backups/orders.csv", strings.NewReader("x\n")))
	files, err := store.List(ctx, "backups/")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "backups/orders.csv", files[0].Path)
	assert.EqualValues(t, 2, files[0].Size)

	require.NoError(t, store.Delete(ctx, "backups/orders.csv"))
	require.NoError(t, store.Delete(ctx, "backups/orders.csv"))
	_, err = store.Download(ctx, "backups/orders.csv")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestLocalRejectsEscapingPaths(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Upload(context.Background(), "../../etc/x.csv", strings.NewReader("a")))
	ok, err := store.Exists(context.Background(), "etc/x.csv")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), common.Config{StorageProvider: "gcs"})
	assert.ErrorIs(t, err, common.ErrConfiguration)
}
