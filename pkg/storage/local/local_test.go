package local

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetDelete(t *testing.T) {
	base := t.TempDir()
	d, err := New(base)
	require.NoError(t, err)

	key := "github/2024/03/backup-1.json.gz"
	data := []byte("compressed bytes")
	require.NoError(t, d.PutObject(key, data))

	got, err := d.GetObject(key)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// No temp files left behind next to the object.
	entries, err := os.ReadDir(filepath.Join(base, "github", "2024", "03"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, d.DeleteObject(key))
	_, err = d.GetObject(key)
	assert.True(t, os.IsNotExist(err))
}

func TestPutOverwrites(t *testing.T) {
	d, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, d.PutObject("k", []byte("one")))
	require.NoError(t, d.PutObject("k", []byte("two")))

	got, err := d.GetObject("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got)
}

func TestNewRejectsEmptyBase(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
