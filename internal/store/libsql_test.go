package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLibSQLStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return newTestStore(t) })
}

func TestLibSQLStore_MigrateIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestLibSQLStore_MigrateFreshDatabase(t *testing.T) {
	s, err := NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "fresh.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate(context.Background()))
	_, err = s.ListProcedures(context.Background(), ProcedureFilter{OrgID: "org-1"})
	require.NoError(t, err)
}

func TestSplitStatements(t *testing.T) {
	script := `-- header; with a semicolon
CREATE TABLE a (id TEXT);

  -- indented; comment
CREATE INDEX a_id ON a (id);
-- trailing comment only
`
	stmts := splitStatements(script)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (id TEXT)", stmts[0])
	assert.Equal(t, "CREATE INDEX a_id ON a (id)", stmts[1])
}

func TestSplitStatements_EmbeddedMigrations(t *testing.T) {
	for _, dir := range []string{"libsql", "postgres"} {
		migs, err := loadMigrations(dir)
		require.NoError(t, err, dir)
		for _, m := range migs {
			for _, stmt := range splitStatements(m.SQL) {
				assert.NotContains(t, stmt, "--", "%s/%s", dir, m.Name)
			}
		}
	}
}
