package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestStore creates a store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	for name, want := range map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1",
		"busy_timeout": "5000",
		"foreign_keys": "1",
	} {
		got, err := s.pragma(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	v, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	for _, idx := range []string{"idx_steps_unit", "idx_sessions_started"} {
		var n int
		require.NoError(t, s2.DB().QueryRow(
			`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?`, idx,
		).Scan(&n))
		assert.Equal(t, 1, n, idx)
	}
}

func TestOpen_MigratesOldDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.DB().Exec(`DROP INDEX idx_sessions_started`)
	require.NoError(t, err)
	_, err = s.DB().Exec(`PRAGMA user_version = 1`)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestOpen_BadPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "trace.db"))
	require.Error(t, err)
}

func TestClose_NilSafe(t *testing.T) {
	s := &Store{}
	assert.NoError(t, s.Close())
}
