package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forensicdb/hashdb/internal/changes"
)

func TestAppendAndRead(t *testing.T) {
	dir := t.TempDir()

	h, err := Read(dir)
	require.NoError(t, err)
	assert.Empty(t, h.Operations)

	op := NewOperation("create")
	op.AddParameter("hashdb_dir", dir)
	op.Finish(&changes.ChangeRecord{HashesInserted: 5})
	require.NoError(t, Append(dir, op))

	op = NewOperation("import")
	op.Finish(&changes.ChangeRecord{})
	require.NoError(t, Append(dir, op))

	h, err = Read(dir)
	require.NoError(t, err)
	require.Len(t, h.Operations, 2)
	assert.Equal(t, "create", h.Operations[0].Command)
	assert.Equal(t, "import", h.Operations[1].Command)
	assert.NotEmpty(t, h.Operations[0].Begin)
	assert.NotEmpty(t, h.Operations[0].End)
	require.NotNil(t, h.Operations[0].Changes)
	assert.Equal(t, uint32(5), h.Operations[0].Changes.HashesInserted)
}

func TestMergeFrom(t *testing.T) {
	source := t.TempDir()
	dest := t.TempDir()

	op := NewOperation("import")
	op.Finish(&changes.ChangeRecord{HashesInserted: 1})
	require.NoError(t, Append(source, op))

	merged := NewOperation("add")
	require.NoError(t, merged.MergeFrom(source))
	merged.Finish(&changes.ChangeRecord{})
	require.NoError(t, Append(dest, merged))

	h, err := Read(dest)
	require.NoError(t, err)
	require.Len(t, h.Operations, 1)
	require.Len(t, h.Operations[0].Merged, 1)
	assert.Equal(t, "import", h.Operations[0].Merged[0].Operations[0].Command)
}

func TestMergeFromEmptyHistory(t *testing.T) {
	op := NewOperation("add")
	require.NoError(t, op.MergeFrom(t.TempDir()))
	assert.Empty(t, op.Merged)
}
