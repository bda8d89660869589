package settings

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	s := Default()
	assert.NoError(t, s.Validate())
}

func TestValidateRejects(t *testing.T) {
	s := Default()
	s.HashAlgorithm = "crc32"
	assert.Error(t, s.Validate())

	s = Default()
	s.SectorSize = 500 // does not divide 4096
	assert.Error(t, s.Validate())

	s = Default()
	s.HashPrefixBits = 0
	assert.Error(t, s.Validate())

	s = Default()
	s.HashSuffixBytes = 16 // prefix + suffix exceed the digest
	assert.Error(t, s.Validate())

	s = Default()
	s.MaxDuplicates = 0
	assert.Error(t, s.Validate())

	s = Default()
	s.BloomKHashFunctions = 10 // 280 bits of a 128-bit digest
	assert.Error(t, s.Validate())
}

func TestPrefixGeometry(t *testing.T) {
	s := Default() // 28 prefix bits
	assert.Equal(t, 4, s.PrefixBytes())
	assert.Equal(t, byte(0xf0), s.PrefixMask())

	s.HashPrefixBits = 32
	assert.Equal(t, 4, s.PrefixBytes())
	assert.Equal(t, byte(0xff), s.PrefixMask())
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := Default()
	s.BlockSize = 8192
	s.MaxDuplicates = 3
	require.NoError(t, Write(dir, s))

	back, err := Read(dir)
	require.NoError(t, err)
	s.Version = SchemaVersion
	back.XMLName = s.XMLName
	assert.Equal(t, s, back)
}

func TestReadMissing(t *testing.T) {
	_, err := Read(t.TempDir())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "not a hash database"))
}

func TestVersionGate(t *testing.T) {
	dir := t.TempDir()
	s := Default()
	require.NoError(t, Write(dir, s))

	data, err := os.ReadFile(filepath.Join(dir, Filename))
	require.NoError(t, err)
	newer := strings.Replace(string(data), `version="1"`, `version="99"`, 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, Filename), []byte(newer), 0644))

	_, err = Read(dir)
	assert.Error(t, err)
}

func TestCreateDirectory(t *testing.T) {
	base := t.TempDir()

	dir := filepath.Join(base, "db")
	require.NoError(t, CreateDirectory(dir))
	require.NoError(t, Write(dir, Default()))
	assert.True(t, IsDatabaseDir(dir))

	// already a database
	assert.Error(t, CreateDirectory(dir))

	// existing but nonempty directory
	full := filepath.Join(base, "full")
	require.NoError(t, os.MkdirAll(full, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(full, "junk"), []byte("x"), 0644))
	assert.Error(t, CreateDirectory(full))

	// existing empty directory is fine
	empty := filepath.Join(base, "empty")
	require.NoError(t, os.MkdirAll(empty, 0755))
	assert.NoError(t, CreateDirectory(empty))
}
