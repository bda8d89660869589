package hashtypes

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// SourceID names a source file within one database. IDs are dense,
// nonzero, assigned on first sight of a file hash and never reused.
type SourceID uint64

// Digest describes the block hash algorithm a database was created
// with. Every BinaryHash in that database has Length bytes.
type Digest struct {
	Name   string
	Length int
}

var digests = []Digest{
	{Name: "md5", Length: 16},
	{Name: "sha1", Length: 20},
	{Name: "sha224", Length: 28},
	{Name: "sha256", Length: 32},
}

// DigestByName resolves a hash algorithm name to its descriptor.
func DigestByName(name string) (Digest, error) {
	for _, d := range digests {
		if d.Name == strings.ToLower(name) {
			return d, nil
		}
	}
	return Digest{}, fmt.Errorf("unknown hash algorithm %q", name)
}

// Occurrence records one sighting of a block hash inside a source
// file. FileOffset is a multiple of the database sector size.
type Occurrence struct {
	SourceID   SourceID
	FileOffset uint64
	Entropy    uint64
	BlockLabel string
}

// SourceName is one (repository, filename) naming of a source. A
// source owns a set of these.
type SourceName struct {
	RepositoryName string
	Filename       string
}

// SourceData is the descriptive metadata of a source file. Last
// writer wins per SourceID.
type SourceData struct {
	FileSize          uint64
	FileType          string
	NonprobativeCount uint64
}

// ParseHex decodes a hex digest string into its binary form.
func ParseHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex digest %q: %w", s, err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("empty hex digest")
	}
	return b, nil
}

// Hex renders a binary hash in the form used by all textual output.
func Hex(b []byte) string {
	return hex.EncodeToString(b)
}
