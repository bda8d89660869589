package hashdb_test

import (
	"bytes"
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forensicdb/hashdb"
	"github.com/forensicdb/hashdb/internal/changes"
	"github.com/forensicdb/hashdb/internal/history"
	"github.com/forensicdb/hashdb/pkg/hashtypes"
)

// an entry is one (hash, source file hash, offset) triple; source ids
// are not comparable across databases, file hashes are
type entry struct {
	hash     string
	fileHash string
	offset   uint64
}

// dump flattens a database to sorted triples in the canonical
// iteration form, so two databases can be compared for equality.
func dump(t *testing.T, dir string) []entry {
	t.Helper()
	db, err := hashdb.Open(dir, hashdb.ReadOnly, nil)
	require.NoError(t, err)
	defer db.Close()

	entries := []entry{}
	err = db.Iterate(context.Background(), func(hash []byte, occ hashtypes.Occurrence) (bool, error) {
		fileHash, found, err := db.SourceHash(occ.SourceID)
		if err != nil {
			return false, err
		}
		require.True(t, found)
		entries = append(entries, entry{
			hash:     hashtypes.Hex(hash),
			fileHash: hashtypes.Hex(fileHash),
			offset:   occ.FileOffset,
		})
		return true, nil
	})
	require.NoError(t, err)
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].hash != entries[j].hash {
			return entries[i].hash < entries[j].hash
		}
		if entries[i].fileHash != entries[j].fileHash {
			return entries[i].fileHash < entries[j].fileHash
		}
		return entries[i].offset < entries[j].offset
	})
	return entries
}

// buildDB creates a database holding the given triples.
func buildDB(t *testing.T, dir string, entries []entry) {
	t.Helper()
	db, err := hashdb.Create(dir, testSettings(), nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, db.Close()) }()

	var c changes.ChangeRecord
	for _, e := range entries {
		h, err := hashtypes.ParseHex(e.hash)
		require.NoError(t, err)
		f, err := hashtypes.ParseHex(e.fileHash)
		require.NoError(t, err)
		require.NoError(t, db.InsertSourceName(f, "repo", "file"))
		require.NoError(t, db.InsertHash(h, f, e.offset, 0, "", &c))
	}
}

// expectDB asserts that the database under dir holds exactly the
// given triples, by building a reference database and comparing the
// canonical dumps.
func expectDB(t *testing.T, dir string, entries []entry) {
	t.Helper()
	ref := filepath.Join(t.TempDir(), "ref")
	buildDB(t, ref, entries)
	assert.Equal(t, dump(t, ref), dump(t, dir))
}

func hexHash(b byte) string {
	return hashtypes.Hex(bytes.Repeat([]byte{b}, 16))
}

// S4 fixtures: A={h1->s1, h2->s1}, B={h2->s2, h3->s2}
func buildS4(t *testing.T) (dirA, dirB string) {
	base := t.TempDir()
	dirA = filepath.Join(base, "a")
	dirB = filepath.Join(base, "b")
	buildDB(t, dirA, []entry{
		{hexHash(0x11), hexHash(0xa1), 0},
		{hexHash(0x22), hexHash(0xa1), 512},
	})
	buildDB(t, dirB, []entry{
		{hexHash(0x22), hexHash(0xb2), 0},
		{hexHash(0x33), hexHash(0xb2), 512},
	})
	return dirA, dirB
}

func TestIntersect(t *testing.T) {
	dirA, dirB := buildS4(t)
	dirC := filepath.Join(t.TempDir(), "c")

	var out bytes.Buffer
	require.NoError(t, hashdb.Intersect(dirA, dirB, dirC, nil, &out))
	assert.Contains(t, out.String(), "hashes_inserted=2")

	expectDB(t, dirC, []entry{
		{hexHash(0x22), hexHash(0xa1), 512},
		{hexHash(0x22), hexHash(0xb2), 0},
	})
}

func TestIntersectCommutes(t *testing.T) {
	dirA, dirB := buildS4(t)
	base := t.TempDir()
	dirAB := filepath.Join(base, "ab")
	dirBA := filepath.Join(base, "ba")

	var out bytes.Buffer
	require.NoError(t, hashdb.Intersect(dirA, dirB, dirAB, nil, &out))
	require.NoError(t, hashdb.Intersect(dirB, dirA, dirBA, nil, &out))
	assert.Equal(t, dump(t, dirAB), dump(t, dirBA))
}

func TestSubtract(t *testing.T) {
	dirA, dirB := buildS4(t)
	dirC := filepath.Join(t.TempDir(), "c")

	var out bytes.Buffer
	require.NoError(t, hashdb.Subtract(dirA, dirB, dirC, nil, &out))

	// h2 is present in B, so the whole key is dropped
	expectDB(t, dirC, []entry{
		{hexHash(0x11), hexHash(0xa1), 0},
	})
}

func TestAddMultiple(t *testing.T) {
	dirA, dirB := buildS4(t)
	dirC := filepath.Join(t.TempDir(), "c")

	var out bytes.Buffer
	require.NoError(t, hashdb.AddMultiple(dirA, dirB, dirC, nil, &out))

	expectDB(t, dirC, []entry{
		{hexHash(0x11), hexHash(0xa1), 0},
		{hexHash(0x22), hexHash(0xa1), 512},
		{hexHash(0x22), hexHash(0xb2), 0},
		{hexHash(0x33), hexHash(0xb2), 512},
	})
}

func TestAddIntoExisting(t *testing.T) {
	dirA, dirB := buildS4(t)

	var out bytes.Buffer
	require.NoError(t, hashdb.Add(dirA, dirB, nil, &out))

	expectDB(t, dirB, []entry{
		{hexHash(0x11), hexHash(0xa1), 0},
		{hexHash(0x22), hexHash(0xa1), 512},
		{hexHash(0x22), hexHash(0xb2), 0},
		{hexHash(0x33), hexHash(0xb2), 512},
	})
}

// add(A, A') where A' is a copy of A changes nothing: every insert is
// a duplicate element
func TestAddIsIdempotent(t *testing.T) {
	base := t.TempDir()
	dirA := filepath.Join(base, "a")
	dirB := filepath.Join(base, "b")
	entries := []entry{
		{hexHash(0x11), hexHash(0xa1), 0},
		{hexHash(0x22), hexHash(0xa1), 512},
	}
	buildDB(t, dirA, entries)

	var out bytes.Buffer
	require.NoError(t, hashdb.Add(dirA, dirB, nil, &out))
	before := dump(t, dirB)

	out.Reset()
	require.NoError(t, hashdb.Add(dirA, dirB, nil, &out))
	assert.Contains(t, out.String(), "hashes_not_inserted_duplicate_element=2")
	assert.Equal(t, before, dump(t, dirB))
}

// S5: deduplicate keeps exactly the count==1 keys
func TestDeduplicate(t *testing.T) {
	base := t.TempDir()
	dirA := filepath.Join(base, "a")
	dirB := filepath.Join(base, "b")
	buildDB(t, dirA, []entry{
		{hexHash(0x11), hexHash(0xa1), 0},
		{hexHash(0x22), hexHash(0xa1), 0},
		{hexHash(0x22), hexHash(0xa1), 512},
	})

	var out bytes.Buffer
	require.NoError(t, hashdb.Deduplicate(dirA, dirB, nil, &out))

	expectDB(t, dirB, []entry{
		{hexHash(0x11), hexHash(0xa1), 0},
	})
}

func TestOperatorsRejectSameDirectory(t *testing.T) {
	dirA, _ := buildS4(t)
	var out bytes.Buffer
	assert.Error(t, hashdb.Add(dirA, dirA, nil, &out))
	assert.Error(t, hashdb.Intersect(dirA, dirA, filepath.Join(t.TempDir(), "c"), nil, &out))
}

func TestOperatorsRejectIncompatibleSettings(t *testing.T) {
	base := t.TempDir()
	dirA := filepath.Join(base, "a")
	dirB := filepath.Join(base, "b")
	buildDB(t, dirA, []entry{{hexHash(0x11), hexHash(0xa1), 0}})

	other := testSettings()
	other.BlockSize = 8192
	db, err := hashdb.Create(dirB, other, nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	var out bytes.Buffer
	assert.Error(t, hashdb.Add(dirA, dirB, nil, &out))
}

func TestOperatorCreatesOutputWithHistory(t *testing.T) {
	dirA, dirB := buildS4(t)
	dirC := filepath.Join(t.TempDir(), "c")

	var out bytes.Buffer
	require.NoError(t, hashdb.Intersect(dirA, dirB, dirC, nil, &out))

	h, err := history.Read(dirC)
	require.NoError(t, err)
	var commands []string
	for _, op := range h.Operations {
		commands = append(commands, op.Command)
	}
	assert.Equal(t, []string{"create", "intersect"}, commands)

	last := h.Operations[len(h.Operations)-1]
	require.NotNil(t, last.Changes)
	assert.Len(t, last.Merged, 2, "both input histories are embedded")
}

// sources carried by an operator keep their names and data
func TestOperatorCarriesSourceMetadata(t *testing.T) {
	base := t.TempDir()
	dirA := filepath.Join(base, "a")
	dirB := filepath.Join(base, "b")

	db, err := hashdb.Create(dirA, testSettings(), nil)
	require.NoError(t, err)
	f, err := hashtypes.ParseHex(hexHash(0xa1))
	require.NoError(t, err)
	require.NoError(t, db.InsertSourceName(f, "repo1", "image1"))
	require.NoError(t, db.InsertSourceData(f, hashtypes.SourceData{FileSize: 8000}))
	var c changes.ChangeRecord
	h, err := hashtypes.ParseHex(hexHash(0x11))
	require.NoError(t, err)
	require.NoError(t, db.InsertHash(h, f, 0, 0, "", &c))
	require.NoError(t, db.Close())

	var out bytes.Buffer
	require.NoError(t, hashdb.Add(dirA, dirB, nil, &out))

	db, err = hashdb.Open(dirB, hashdb.ReadOnly, nil)
	require.NoError(t, err)
	defer db.Close()

	seen := false
	err = db.Sources(context.Background(), func(rec hashdb.SourceRecord) (bool, error) {
		seen = true
		assert.Equal(t, hexHash(0xa1), hashtypes.Hex(rec.FileHash))
		require.Len(t, rec.Names, 1)
		assert.Equal(t, "repo1", rec.Names[0].RepositoryName)
		assert.True(t, rec.HasData)
		assert.Equal(t, uint64(8000), rec.Data.FileSize)
		return true, nil
	})
	require.NoError(t, err)
	assert.True(t, seen)
}
