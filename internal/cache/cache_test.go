package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SetOffsetAndLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()

	c, err := New(dir)
	require.NoError(t, err)
	assert.False(t, c.Exists())

	c.SetOffset("src-a", 42)
	c.SetOffset("src-b", 7)
	require.NoError(t, c.Save())
	assert.True(t, c.Exists())

	reloaded, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, reloaded.Load())

	offset, ok := reloaded.Offset("src-a")
	require.True(t, ok)
	assert.EqualValues(t, 42, offset)

	offset, ok = reloaded.Offset("src-b")
	require.True(t, ok)
	assert.EqualValues(t, 7, offset)

	_, ok = reloaded.Offset("src-missing")
	assert.False(t, ok)
}

func TestCache_LoadWithNoSaveIsNotAnError(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, c.Load())
	assert.Empty(t, c.Entries())
}

func TestCache_ClearRemovesEntriesAndFiles(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)
	c.SetOffset("src-a", 1)
	require.NoError(t, c.Save())
	require.True(t, c.Exists())

	require.NoError(t, c.Clear())
	assert.False(t, c.Exists())
	assert.Empty(t, c.Entries())
}
