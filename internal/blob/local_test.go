package blob

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreSaveRoundTrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "/uploads")
	require.NoError(t, err)

	path, err := store.Save(strings.NewReader("file body"), "report.pdf")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "file body", string(data))

	// Storage name keeps the extension but not the original base name.
	assert.Equal(t, ".pdf", filepath.Ext(path))
	assert.NotContains(t, filepath.Base(path), "report")
}

func TestLocalStoreSaveGeneratesUniqueNames(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "/uploads")
	require.NoError(t, err)

	first, err := store.Save(strings.NewReader("one"), "report.pdf")
	require.NoError(t, err)
	second, err := store.Save(strings.NewReader("two"), "report.pdf")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestLocalStoreRemove(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "/uploads")
	require.NoError(t, err)

	path, err := store.Save(strings.NewReader("body"), "a.txt")
	require.NoError(t, err)

	require.NoError(t, store.Remove(path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Removing an already-gone blob is not an error.
	assert.NoError(t, store.Remove(path))
}

func TestLocalStoreRemoveRefusesOutsidePaths(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "/uploads")
	require.NoError(t, err)

	outside := filepath.Join(t.TempDir(), "victim.txt")
	require.NoError(t, os.WriteFile(outside, []byte("keep me"), 0o644))

	assert.Error(t, store.Remove(outside))
	assert.Error(t, store.Remove(filepath.Join(dir, "..", "victim.txt")))

	data, err := os.ReadFile(outside)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(data))
}

func TestLocalStorePublicPath(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "/uploads")
	require.NoError(t, err)

	assert.Equal(t, "/uploads/abc.pdf", store.PublicPath(filepath.Join(dir, "abc.pdf")))
	assert.Equal(t, dir, store.Dir())
}

func TestNewLocalStoreCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "uploads")
	_, err := NewLocalStore(dir, "/uploads")
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
