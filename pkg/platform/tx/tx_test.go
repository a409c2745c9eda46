package tx

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithTx(t *testing.T) {
	t.Run("nil transaction leaves context untouched", func(t *testing.T) {
		ctx := context.Background()
		assert.Equal(t, ctx, WithTx(ctx, nil))
		_, ok := From(ctx)
		assert.False(t, ok)
	})

	t.Run("stored transaction is returned", func(t *testing.T) {
		sqlTx := &sql.Tx{}
		got, ok := From(WithTx(context.Background(), sqlTx))
		assert.True(t, ok)
		assert.Same(t, sqlTx, got)
	})

	t.Run("exec falls back to db", func(t *testing.T) {
		db := &sql.DB{}
		assert.Same(t, db, Exec(context.Background(), db))
	})
}
