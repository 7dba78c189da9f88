package database

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDSN(t *testing.T) {
	dsn := DSN(Config{Path: "/tmp/ewd.db", BusyTimeout: 2 * time.Second})
	assert.Contains(t, dsn, "file:/tmp/ewd.db?")
	assert.Contains(t, dsn, "_busy_timeout=2000")
	assert.Contains(t, dsn, "_txlock=immediate")
	assert.Contains(t, dsn, "_foreign_keys=on")

	assert.Contains(t, DSN(Config{Path: "x.db"}), "_busy_timeout=5000")
}

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"m/002_second.sql": {Data: []byte("CREATE TABLE b (id INTEGER);")},
		"m/001_first.sql":  {Data: []byte("CREATE TABLE a (id INTEGER);")},
		"m/README.md":      {Data: []byte("ignored")},
	}

	migrations, err := LoadMigrations(fsys, "m")
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "first", migrations[0].Name)
	assert.Equal(t, 2, migrations[1].Version)
}

func TestLoadMigrations_InvalidName(t *testing.T) {
	fsys := fstest.MapFS{"m/init.sql": {Data: []byte("SELECT 1;")}}
	_, err := LoadMigrations(fsys, "m")
	assert.Error(t, err)
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"m/001_a.sql": {Data: []byte("SELECT 1;")},
		"m/001_b.sql": {Data: []byte("SELECT 1;")},
	}
	_, err := LoadMigrations(fsys, "m")
	assert.Error(t, err)
}

func TestMigrator_RunIsIdempotent(t *testing.T) {
	logger := zap.NewNop()
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logger)
	require.NoError(t, err)
	defer db.Close()

	fsys := fstest.MapFS{
		"m/001_first.sql": {Data: []byte("CREATE TABLE a (id INTEGER PRIMARY KEY);")},
	}

	ctx := context.Background()
	m := NewMigrator(db.DB, logger)
	require.NoError(t, m.Run(ctx, fsys, "m"))
	require.NoError(t, m.Run(ctx, fsys, "m"))

	applied, err := m.AppliedVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{1: true}, applied)
}

func TestMigrator_FailedMigrationRollsBack(t *testing.T) {
	logger := zap.NewNop()
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logger)
	require.NoError(t, err)
	defer db.Close()

	fsys := fstest.MapFS{
		"m/001_bad.sql": {Data: []byte("CREATE TABLE a (id INTEGER); NOT SQL;")},
	}

	ctx := context.Background()
	m := NewMigrator(db.DB, logger)
	require.Error(t, m.Run(ctx, fsys, "m"))

	applied, err := m.AppliedVersions(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)
}
