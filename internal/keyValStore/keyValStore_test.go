package keyValStore

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(StoreConfig{
		Path: filepath.Join(t.TempDir(), "store"),
		Mode: Create,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSetGet(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Set([]byte("k1"), []byte("v1")))

	value, found, err := store.Get([]byte("k1"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v1"), value)

	_, found, err = store.Get([]byte("missing"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSetNoDup(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.SetNoDup([]byte("k"), []byte("v")))
	assert.Equal(t, ErrDuplicate, store.SetNoDup([]byte("k"), []byte("v")))
	require.NoError(t, store.SetNoDup([]byte("k"), []byte("v2")))
}

func TestAscendOrderAndPrefix(t *testing.T) {
	store := openTestStore(t)

	for _, k := range []string{"b2", "a1", "b1", "c1", "a2"} {
		require.NoError(t, store.Set([]byte(k), []byte("x")))
	}

	var all []string
	require.NoError(t, store.Ascend(nil, func(key, value []byte) (bool, error) {
		all = append(all, string(key))
		return true, nil
	}))
	assert.Equal(t, []string{"a1", "a2", "b1", "b2", "c1"}, all)

	var bs []string
	require.NoError(t, store.Ascend([]byte("b"), func(key, value []byte) (bool, error) {
		bs = append(bs, string(key))
		return true, nil
	}))
	assert.Equal(t, []string{"b1", "b2"}, bs)
}

func TestAscendStop(t *testing.T) {
	store := openTestStore(t)
	for i := 0; i < 10; i++ {
		require.NoError(t, store.Set([]byte(fmt.Sprintf("k%02d", i)), []byte("x")))
	}

	seen := 0
	require.NoError(t, store.Ascend(nil, func(key, value []byte) (bool, error) {
		seen++
		return seen < 3, nil
	}))
	assert.Equal(t, 3, seen)
}

func TestSize(t *testing.T) {
	store := openTestStore(t)

	n, err := store.Size(nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Set([]byte(fmt.Sprintf("k%d", i)), []byte("x")))
	}
	n, err = store.Size(nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), n)
}

func TestReopenPersists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")

	store, err := Open(StoreConfig{Path: dir, Mode: Create})
	require.NoError(t, err)
	require.NoError(t, store.Set([]byte("k"), []byte("v")))
	require.NoError(t, store.Close())

	store, err = Open(StoreConfig{Path: dir, Mode: ReadOnly})
	require.NoError(t, err)
	defer store.Close()

	value, found, err := store.Get([]byte("k"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), value)
}

func TestReadOnlyMissingStore(t *testing.T) {
	_, err := Open(StoreConfig{
		Path: filepath.Join(t.TempDir(), "missing"),
		Mode: ReadOnly,
	})
	assert.Error(t, err)
}
