package vault

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutGetDelete(t *testing.T) {
	v, err := Open(t.TempDir())
	require.NoError(t, err)
	defer v.Close()

	_, ok, err := v.Get("node_id")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, v.Put("node_id", []byte("n1")))
	val, ok, err := v.Get("node_id")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("n1"), val)

	require.NoError(t, v.Delete("node_id"))
	_, ok, err = v.Get("node_id")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestForEachVisitsAllEntries(t *testing.T) {
	v, err := Open(t.TempDir())
	require.NoError(t, err)
	defer v.Close()

	require.NoError(t, v.Put("a", []byte("1")))
	require.NoError(t, v.Put("b", []byte("2")))

	seen := map[string]string{}
	require.NoError(t, v.ForEach(func(key string, value []byte) error {
		seen[key] = string(value)
		return nil
	}))
	require.Equal(t, map[string]string{"a": "1", "b": "2"}, seen)
}

func TestReopenPersistsData(t *testing.T) {
	dir := t.TempDir()
	v, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, v.Put("k", []byte("v")))
	require.NoError(t, v.Close())

	v2, err := Open(dir)
	require.NoError(t, err)
	defer v2.Close()
	val, ok, err := v2.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), val)
}
