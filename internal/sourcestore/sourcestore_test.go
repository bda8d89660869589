package sourcestore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forensicdb/hashdb/internal/keyValStore"
	"github.com/forensicdb/hashdb/pkg/hashtypes"
)

func fileHash(b byte) []byte {
	return bytes.Repeat([]byte{b}, 16)
}

func TestIDStoreBijection(t *testing.T) {
	store, err := OpenIDStore(t.TempDir(), keyValStore.Create, nil)
	require.NoError(t, err)
	defer store.Close()

	id1, isNew, err := store.Insert(fileHash(0x01))
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, hashtypes.SourceID(1), id1)

	id2, isNew, err := store.Insert(fileHash(0x02))
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, hashtypes.SourceID(2), id2)

	// re-inserting returns the existing id
	again, isNew, err := store.Insert(fileHash(0x01))
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, id1, again)

	// both directions resolve
	found, ok, err := store.FindID(fileHash(0x02))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id2, found)

	h, ok, err := store.FindHash(id1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, fileHash(0x01), h)

	_, ok, err = store.FindID(fileHash(0x99))
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := store.Size()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

func TestIDStoreIterateInAssignmentOrder(t *testing.T) {
	store, err := OpenIDStore(t.TempDir(), keyValStore.Create, nil)
	require.NoError(t, err)
	defer store.Close()

	for _, b := range []byte{0x05, 0x03, 0x04} {
		_, _, err := store.Insert(fileHash(b))
		require.NoError(t, err)
	}

	var ids []hashtypes.SourceID
	require.NoError(t, store.Iterate(func(id hashtypes.SourceID, h []byte) (bool, error) {
		ids = append(ids, id)
		return true, nil
	}))
	assert.Equal(t, []hashtypes.SourceID{1, 2, 3}, ids)
}

func TestNameStoreSetSemantics(t *testing.T) {
	store, err := OpenNameStore(t.TempDir(), keyValStore.Create, nil)
	require.NoError(t, err)
	defer store.Close()

	added, err := store.Insert(1, "repo1", "file1")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = store.Insert(1, "repo1", "file1")
	require.NoError(t, err)
	assert.False(t, added, "triple insert is idempotent")

	added, err = store.Insert(1, "repo2", "file1")
	require.NoError(t, err)
	assert.True(t, added)

	names, err := store.Find(1)
	require.NoError(t, err)
	assert.Equal(t, []hashtypes.SourceName{
		{RepositoryName: "repo1", Filename: "file1"},
		{RepositoryName: "repo2", Filename: "file1"},
	}, names)

	names, err = store.Find(2)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestDataStoreLastWriterWins(t *testing.T) {
	store, err := OpenDataStore(t.TempDir(), keyValStore.Create, nil)
	require.NoError(t, err)
	defer store.Close()

	_, found, err := store.Find(1)
	require.NoError(t, err)
	assert.False(t, found)

	first := hashtypes.SourceData{FileSize: 8000, FileType: "exe", NonprobativeCount: 4}
	require.NoError(t, store.Insert(1, first))

	d, found, err := store.Find(1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, first, d)

	second := hashtypes.SourceData{FileSize: 9000}
	require.NoError(t, store.Insert(1, second))
	d, _, err = store.Find(1)
	require.NoError(t, err)
	assert.Equal(t, second, d)
}
