package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rhadityaaa/ewd-tools/pkg/database"
)

func openTestDB(t *testing.T, path string, busy time.Duration) *DB {
	t.Helper()
	raw, err := database.New(database.Config{Path: path, MaxOpenConns: 1, BusyTimeout: busy}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })

	db := NewDB(raw.DB, zap.NewNop())
	db.retryBase = time.Millisecond
	return db
}

func countRows(t *testing.T, db *DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n))
	return n
}

func TestWithTransaction(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, filepath.Join(t.TempDir(), "tx.db"), time.Second)
	_, err := db.Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`)
	require.NoError(t, err)

	insert := func(ctx context.Context, name string) error {
		_, err := Conn(ctx, db.DB).ExecContext(ctx, `INSERT INTO items (name) VALUES (?)`, name)
		return err
	}

	t.Run("commit", func(t *testing.T) {
		require.NoError(t, db.WithTransaction(ctx, func(ctx context.Context) error {
			assert.NotNil(t, TxFromContext(ctx))
			return insert(ctx, "a")
		}))
		assert.Equal(t, 1, countRows(t, db))
	})

	t.Run("rollback on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := db.WithTransaction(ctx, func(ctx context.Context) error {
			require.NoError(t, insert(ctx, "b"))
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, countRows(t, db))
	})

	t.Run("nested call joins outer transaction", func(t *testing.T) {
		err := db.WithTransaction(ctx, func(outer context.Context) error {
			require.NoError(t, db.WithTransaction(outer, func(inner context.Context) error {
				assert.Same(t, TxFromContext(outer), TxFromContext(inner))
				return insert(inner, "c")
			}))
			return errors.New("undo both")
		})
		require.Error(t, err)
		assert.Equal(t, 1, countRows(t, db))
	})

	t.Run("panic rolls back", func(t *testing.T) {
		assert.Panics(t, func() {
			_ = db.WithTransaction(ctx, func(ctx context.Context) error {
				require.NoError(t, insert(ctx, "d"))
				panic("handler bug")
			})
		})
		assert.Equal(t, 1, countRows(t, db))
	})
}

func TestWithReadTransaction(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, filepath.Join(t.TempDir(), "read.db"), time.Second)
	_, err := db.Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO items (name) VALUES ('a')`)
	require.NoError(t, err)

	t.Run("reads committed rows", func(t *testing.T) {
		var name string
		require.NoError(t, db.WithReadTransaction(ctx, func(ctx context.Context) error {
			require.NotNil(t, TxFromContext(ctx))
			return Conn(ctx, db.DB).QueryRowContext(ctx, `SELECT name FROM items WHERE id = 1`).Scan(&name)
		}))
		assert.Equal(t, "a", name)
	})

	t.Run("nested in a write joins it", func(t *testing.T) {
		require.NoError(t, db.WithTransaction(ctx, func(outer context.Context) error {
			_, err := Conn(outer, db.DB).ExecContext(outer, `INSERT INTO items (name) VALUES ('b')`)
			require.NoError(t, err)
			return db.WithReadTransaction(outer, func(inner context.Context) error {
				assert.Same(t, TxFromContext(outer), TxFromContext(inner))
				var n int
				require.NoError(t, Conn(inner, db.DB).QueryRowContext(inner, `SELECT COUNT(*) FROM items`).Scan(&n))
				assert.Equal(t, 2, n, "uncommitted insert of the outer transaction is visible")
				return nil
			})
		}))
	})
}

func TestWithTransaction_BusyBeginIsRetriedThenReported(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "busy.db")

	holder := openTestDB(t, path, time.Second)
	_, err := holder.Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`)
	require.NoError(t, err)

	tx, err := holder.BeginTx(ctx, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback() })

	contender := openTestDB(t, path, 10*time.Millisecond)
	called := false
	err = contender.WithTransaction(ctx, func(ctx context.Context) error {
		called = true
		return nil
	})

	require.Error(t, err)
	assert.True(t, IsBusy(err), "got %v", err)
	assert.False(t, called)
}

func TestIsBusy(t *testing.T) {
	assert.False(t, IsBusy(nil))
	assert.False(t, IsBusy(errors.New("busy")))
}
