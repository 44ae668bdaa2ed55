package migrations

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	createNotes = Migration{
		Version:     1,
		Description: "create notes",
		Up:          `CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT NOT NULL)`,
		Down:        `DROP TABLE notes`,
	}
	addNotesAuthor = Migration{
		Version:     2,
		Description: "add notes.author",
		Up:          `ALTER TABLE notes ADD COLUMN author TEXT NOT NULL DEFAULT ''`,
		Down:        `ALTER TABLE notes DROP COLUMN author`,
	}
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestApplyInVersionOrder(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	// Registered out of order on purpose.
	m := NewManager(addNotesAuthor, createNotes)
	assert.Equal(t, 2, m.Latest())
	require.NoError(t, m.Apply(ctx, db))

	v, err := Version(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	_, err = db.ExecContext(ctx, "INSERT INTO notes (body, author) VALUES ('x', 'me')")
	assert.NoError(t, err)
}

func TestApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	m := NewManager(createNotes)

	require.NoError(t, m.Apply(ctx, db))
	require.NoError(t, m.Apply(ctx, db))

	var n int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_version").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestApplyPicksUpNewMigrations(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	require.NoError(t, NewManager(createNotes).Apply(ctx, db))
	require.NoError(t, NewManager(createNotes, addNotesAuthor).Apply(ctx, db))

	v, err := Version(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestRollback(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	m := NewManager(createNotes)
	require.NoError(t, m.Apply(ctx, db))

	require.NoError(t, m.Rollback(ctx, db))
	v, err := Version(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	_, err = db.ExecContext(ctx, "INSERT INTO notes (body) VALUES ('x')")
	assert.Error(t, err, "table should be gone")

	err = m.Rollback(ctx, db)
	assert.ErrorContains(t, err, "no migrations to rollback")
}

func TestFailedMigrationLeavesVersionUnchanged(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	broken := Migration{Version: 2, Description: "broken", Up: "CREATE TABLE ("}

	err := NewManager(createNotes, broken).Apply(ctx, db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration 2 (broken)")

	v, err := Version(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}
