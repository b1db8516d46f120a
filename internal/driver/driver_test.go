package driver

import (
	"context"
	"errors"
	"testing"

	"dataflow/internal/common"

	"github.com/stretchr/testify/assert"
)

func TestIsSelect(t *testing.T) {
	for _, s := range []string{"SELECT 1", "select * from t", "  \n\tSeLeCt a FROM b"} {
		assert.True(t, IsSelect(s), s)
	}
	for _, s := range []string{"orders", "selected_orders", "WITH x AS (SELECT 1) SELECT * FROM x", ""} {
		assert.False(t, IsSelect(s), s)
	}
}

func TestOpenUnknownType(t *testing.T) {
	_, err := Open(context.Background(), Config{Type: "mainframe"}, Deps{})
	assert.ErrorIs(t, err, common.ErrConfiguration)
}

func TestTableNotFound(t *testing.T) {
	err := TableNotFound("orders", errors.New("relation does not exist"))
	assert.ErrorIs(t, err, common.ErrTableNotFound)
	assert.Contains(t, err.Error(), "orders")
}
