package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	for _, table := range []string{"kv", "time_ledger"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "test.db"))
	if err == nil {
		t.Fatal("Open() with invalid path should fail")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db = %v, want nil", err)
	}
}

func TestPragma_JournalMode(t *testing.T) {
	s := createTestStore(t)
	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
}

func TestPragma_BusyTimeout(t *testing.T) {
	s := createTestStore(t)
	if err := s.verifyPragma("busy_timeout", "5000"); err != nil {
		t.Error(err)
	}
}

func TestMigration_SchemaVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestMigration_UpgradeFromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// Simulate a database written before the ledger existed
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(schemaSQL)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO kv (key, value) VALUES ('signatureQuiz:m1:passed', 'true')`)
	require.NoError(t, err)
	_, err = db.Exec("PRAGMA user_version = 0")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)

	// Existing data survives the upgrade
	v, found, err := s.Get(context.Background(), "signatureQuiz:m1:passed")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "true", v)

	indexes := getTableIndexes(t, s.db, "kv")
	assert.Contains(t, indexes, "idx_kv_updated_at")
}

func TestKV_SetGetDelete(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, found, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Set(ctx, "a", "1"))
	require.NoError(t, s.Set(ctx, "a", "2"))

	v, found, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "2", v, "Set should overwrite")

	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "a"), "deleting an absent key is a no-op")

	_, found, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestKV_EmptyValueIsPresent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "empty", ""))
	v, found, err := s.Get(ctx, "empty")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "", v)
}

func TestKV_KeysByPrefix(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, k := range []string{"module-b-x", "module-a-x", "signatureQuiz:m1:passed", "module%literal"} {
		require.NoError(t, s.Set(ctx, k, "v"))
	}

	keys, err := s.Keys(ctx, "module-")
	require.NoError(t, err)
	assert.Equal(t, []string{"module-a-x", "module-b-x"}, keys, "prefix is literal, not a LIKE pattern")

	all, err := s.Keys(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to query indexes: %v", err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}
