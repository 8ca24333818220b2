package replay

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "replay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCache_RecordLookup(t *testing.T) {
	c := openTestCache(t)

	require.NoError(t, c.Record("inv-1", "ip_reputation:203.0.113.5", []byte(`{"score":0.9}`)))

	payload, ok, err := c.Lookup("inv-1", "ip_reputation:203.0.113.5")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"score":0.9}`, string(payload))
}

func TestCache_MissingKey(t *testing.T) {
	c := openTestCache(t)

	_, ok, err := c.Lookup("inv-1", "never-recorded")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_RecordingsAreScopedPerInvestigation(t *testing.T) {
	c := openTestCache(t)

	require.NoError(t, c.Record("inv-1", "k", []byte("one")))
	require.NoError(t, c.Record("inv-2", "k", []byte("two")))

	payload, ok, err := c.Lookup("inv-1", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "one", string(payload))

	payload, ok, err = c.Lookup("inv-2", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "two", string(payload))
}

func TestCache_RecordOverwrites(t *testing.T) {
	c := openTestCache(t)

	require.NoError(t, c.Record("inv-1", "k", []byte("old")))
	require.NoError(t, c.Record("inv-1", "k", []byte("new")))

	payload, ok, err := c.Lookup("inv-1", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", string(payload))
}

func TestCache_Drop(t *testing.T) {
	c := openTestCache(t)

	require.NoError(t, c.Record("inv-1", "k", []byte("v")))
	require.NoError(t, c.Drop("inv-1"))

	_, ok, err := c.Lookup("inv-1", "k")
	require.NoError(t, err)
	assert.False(t, ok)

	// Dropping an unknown investigation is a no-op.
	require.NoError(t, c.Drop("inv-never-seen"))
}
