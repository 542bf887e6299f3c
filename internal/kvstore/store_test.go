package kvstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()

	_, err := s.Get(KeyToken)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(KeyToken, "abc"))
	require.NoError(t, s.Set(KeyToken, "def"))
	v, err := s.Get(KeyToken)
	require.NoError(t, err)
	assert.Equal(t, "def", v)

	require.NoError(t, s.Remove(KeyToken))
	require.NoError(t, s.Remove(KeyToken))
	v, err = GetString(s, KeyToken)
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "state.db"))
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
}

func TestSQLiteStoreUsesWAL(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer s.Close()

	var mode string
	require.NoError(t, s.db.QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, s.db.QueryRow(`PRAGMA busy_timeout`).Scan(&timeout))
	assert.Equal(t, 5000, timeout)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, SetJSON(s, KeyLatestMood, map[string]string{"mood": "Sad 😔"}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	var got map[string]string
	require.NoError(t, GetJSON(s, KeyLatestMood, &got))
	assert.Equal(t, "Sad 😔", got["mood"])
}

func TestRemoveAll(t *testing.T) {
	s := NewMemory()
	for _, key := range Keys {
		require.NoError(t, s.Set(key, "x"))
	}
	require.NoError(t, RemoveAll(s, Keys...))
	for _, key := range Keys {
		_, err := s.Get(key)
		assert.ErrorIs(t, err, ErrNotFound, key)
	}
}
