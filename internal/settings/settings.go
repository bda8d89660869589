// Package settings owns the database directory layout and the
// settings document. Settings are fixed at creation; only the bloom
// block may be rewritten later (rebuild_bloom).
package settings

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"

	"github.com/forensicdb/hashdb/internal/bloom"
	"github.com/forensicdb/hashdb/pkg/hashtypes"
)

// SchemaVersion is the newest settings document version this engine
// reads. Opening a newer database is a precondition failure.
const SchemaVersion = 1

const Filename = "settings.xml"

// Store directory names inside a database directory.
const (
	HashStoreDir  = "hash_store"
	SourceIDDir   = "source_id_store"
	SourceNameDir = "source_name_store"
	SourceDataDir = "source_data_store"
)

// Settings are the binary-format parameters of one database.
type Settings struct {
	XMLName xml.Name `xml:"settings"`
	Version int      `xml:"version,attr"`

	BlockSize       uint32 `xml:"block_size"`
	SectorSize      uint32 `xml:"sector_size"`
	HashAlgorithm   string `xml:"hash_algorithm"`
	HashPrefixBits  uint32 `xml:"hash_prefix_bits"`
	HashSuffixBytes uint32 `xml:"hash_suffix_bytes"`
	MaxDuplicates   uint32 `xml:"max_duplicates"`

	BloomIsUsed         bool   `xml:"bloom_is_used"`
	BloomMHashSize      uint32 `xml:"bloom_M_hash_size"`
	BloomKHashFunctions uint32 `xml:"bloom_k_hash_functions"`
}

// Default returns the settings a database is created with when the
// caller does not override them.
func Default() Settings {
	return Settings{
		Version:             SchemaVersion,
		BlockSize:           4096,
		SectorSize:          512,
		HashAlgorithm:       "md5",
		HashPrefixBits:      28,
		HashSuffixBytes:     3,
		MaxDuplicates:       20,
		BloomIsUsed:         true,
		BloomMHashSize:      28,
		BloomKHashFunctions: 3,
	}
}

// Digest resolves the configured hash algorithm.
func (s *Settings) Digest() (hashtypes.Digest, error) {
	return hashtypes.DigestByName(s.HashAlgorithm)
}

// PrefixBytes is the masked key width of the hash store.
func (s *Settings) PrefixBytes() int {
	return int((s.HashPrefixBits + 7) / 8)
}

// prefix masks, indexed by HashPrefixBits mod 8
var masks = [8]byte{0xff, 0x80, 0xc0, 0xe0, 0xf0, 0xf8, 0xfc, 0xfe}

// PrefixMask masks the trailing byte of a hash-store key.
func (s *Settings) PrefixMask() byte {
	return masks[s.HashPrefixBits%8]
}

// Validate rejects parameter combinations the engine cannot serve.
func (s *Settings) Validate() error {
	d, err := s.Digest()
	if err != nil {
		return err
	}
	if s.BlockSize == 0 || s.SectorSize == 0 {
		return fmt.Errorf("block size and sector size must be nonzero")
	}
	if s.BlockSize%s.SectorSize != 0 {
		return fmt.Errorf("sector size %d does not divide block size %d",
			s.SectorSize, s.BlockSize)
	}
	if s.HashPrefixBits == 0 || s.PrefixBytes() > d.Length {
		return fmt.Errorf("invalid hash prefix bits %d for %d-byte digest",
			s.HashPrefixBits, d.Length)
	}
	if s.HashSuffixBytes == 0 || s.PrefixBytes()+int(s.HashSuffixBytes) > d.Length {
		return fmt.Errorf("invalid hash suffix bytes %d for %d-byte digest",
			s.HashSuffixBytes, d.Length)
	}
	if s.MaxDuplicates == 0 {
		return fmt.Errorf("max duplicates must be nonzero")
	}
	if s.BloomIsUsed {
		if err := bloom.ValidateAgainstDigest(
			s.BloomMHashSize, s.BloomKHashFunctions, d.Length); err != nil {
			return err
		}
	}
	return nil
}

// Compatible reports whether two databases may take part in one
// set-algebra operation.
func (s *Settings) Compatible(other *Settings) error {
	if s.HashAlgorithm != other.HashAlgorithm {
		return fmt.Errorf("hash algorithms differ: %s vs %s",
			s.HashAlgorithm, other.HashAlgorithm)
	}
	if s.BlockSize != other.BlockSize {
		return fmt.Errorf("block sizes differ: %d vs %d",
			s.BlockSize, other.BlockSize)
	}
	return nil
}

// IsDatabaseDir reports whether dir looks like a database directory.
func IsDatabaseDir(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, Filename))
	return err == nil && !info.IsDir()
}

// CreateDirectory makes a fresh database directory. The path must not
// already hold a database; an existing directory must be empty.
func CreateDirectory(dir string) error {
	if IsDatabaseDir(dir) {
		return fmt.Errorf("%s is already a hash database", dir)
	}
	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%s exists and is not a directory", dir)
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			return fmt.Errorf("directory %s is not empty", dir)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// Write stores the settings document into dir.
func Write(dir string, s Settings) error {
	s.Version = SchemaVersion
	data, err := xml.MarshalIndent(&s, "", "  ")
	if err != nil {
		return err
	}
	data = append([]byte(xml.Header), data...)
	data = append(data, '\n')
	return os.WriteFile(filepath.Join(dir, Filename), data, 0644)
}

// Read loads and version-gates the settings document of dir.
func Read(dir string) (Settings, error) {
	data, err := os.ReadFile(filepath.Join(dir, Filename))
	if err != nil {
		if os.IsNotExist(err) {
			return Settings{}, fmt.Errorf("%s is not a hash database", dir)
		}
		return Settings{}, err
	}
	var s Settings
	if err := xml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("corrupt settings document in %s: %w", dir, err)
	}
	if s.Version > SchemaVersion {
		return Settings{}, fmt.Errorf(
			"database %s has settings version %d, this build reads up to %d",
			dir, s.Version, SchemaVersion)
	}
	return s, nil
}
