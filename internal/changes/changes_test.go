package changes

import (
	"encoding/xml"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringEmpty(t *testing.T) {
	var c ChangeRecord
	assert.Equal(t, "No hashdb changes.\n", c.String())
}

func TestStringSuppressesZeros(t *testing.T) {
	c := ChangeRecord{
		HashesInserted:                    3,
		HashesNotInsertedDuplicateElement: 1,
	}
	assert.Equal(t,
		"hashdb changes (insert):\n"+
			"    hashes_inserted=3\n"+
			"    hashes_not_inserted_duplicate_element=1\n",
		c.String())
}

func TestStringRemoveSection(t *testing.T) {
	c := ChangeRecord{HashesRemoved: 2}
	assert.Equal(t,
		"hashdb changes (remove):\n"+
			"    hashes_removed=2\n",
		c.String())
}

func TestMerge(t *testing.T) {
	a := ChangeRecord{HashesInserted: 1, HashesNotInsertedExceedsMaxDuplicates: 2}
	b := ChangeRecord{HashesInserted: 3}
	a.Merge(b)
	assert.Equal(t, uint32(4), a.HashesInserted)
	assert.Equal(t, uint32(2), a.HashesNotInsertedExceedsMaxDuplicates)
}

func TestXMLRoundTrip(t *testing.T) {
	c := ChangeRecord{
		HashesInserted:                        7,
		HashesNotInsertedExceedsMaxDuplicates: 2,
	}
	data, err := xml.Marshal(c)
	require.NoError(t, err)
	assert.Equal(t,
		"<hashdb_changes>"+
			"<hashes_inserted>7</hashes_inserted>"+
			"<hashes_not_inserted_exceeds_max_duplicates>2</hashes_not_inserted_exceeds_max_duplicates>"+
			"</hashdb_changes>",
		string(data))

	var back ChangeRecord
	require.NoError(t, xml.Unmarshal(data, &back))
	assert.Equal(t, c, back)
}
