package prefs

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "nested", "prefs.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return map[string]Store{"memory": NewMemory(), "gorm": db}
}

func TestStore_Defaults(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			assert.False(t, s.Bool(KeyMirroringEnabled))
			assert.Empty(t, s.String(KeyActiveWorkspaceID))
		})
	}
}

func TestStore_SetAndOverwrite(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.SetBool(KeyMirroringEnabled, true))
			assert.True(t, s.Bool(KeyMirroringEnabled))
			require.NoError(t, s.SetBool(KeyMirroringEnabled, false))
			assert.False(t, s.Bool(KeyMirroringEnabled))

			require.NoError(t, s.SetString(KeyActiveWorkspaceID, "a"))
			require.NoError(t, s.SetString(KeyActiveWorkspaceID, "b"))
			assert.Equal(t, "b", s.String(KeyActiveWorkspaceID))
		})
	}
}

func TestDB_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.db")

	db, err := OpenDB(path, nil)
	require.NoError(t, err)
	require.NoError(t, db.SetBool(KeyIdentityMigrated, true))
	require.NoError(t, db.Close())

	db, err = OpenDB(path, nil)
	require.NoError(t, err)
	defer db.Close()
	assert.True(t, db.Bool(KeyIdentityMigrated))
}

func TestOpenDB_RejectsEmptyDSN(t *testing.T) {
	_, err := OpenDB("", nil)
	assert.Error(t, err)
}
