package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snapshot struct {
	Names map[int64]string
	Next  int64
}

func TestSaveAndLoadGob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "store.gob")

	in := snapshot{Names: map[int64]string{1: "tarkan dudu"}, Next: 2}
	require.NoError(t, SaveGob(path, in))

	var out snapshot
	require.NoError(t, LoadGob(path, &out))
	assert.Equal(t, in, out)

	in.Names[2] = "strobe"
	in.Next = 3
	require.NoError(t, SaveGob(path, in))
	require.NoError(t, LoadGob(path, &out))
	assert.Equal(t, int64(3), out.Next)
	assert.Len(t, out.Names, 2)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestLoadGob_Missing(t *testing.T) {
	var out snapshot
	err := LoadGob(filepath.Join(t.TempDir(), "absent.gob"), &out)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadGob_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.gob")
	require.NoError(t, os.WriteFile(path, []byte("not gob"), 0600))

	var out snapshot
	err := LoadGob(path, &out)
	require.Error(t, err)
	assert.NotErrorIs(t, err, os.ErrNotExist)
}
