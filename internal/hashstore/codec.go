package hashstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/forensicdb/hashdb/pkg/hashtypes"
)

// A bucket is the decoded value of one hash-store key: every suffix
// that collided into the prefix, each with its ordered occurrence
// list. Suffixes are kept sorted; occurrence order is insertion order.
type bucket struct {
	entries []suffixEntry
}

type suffixEntry struct {
	suffix      []byte
	occurrences []hashtypes.Occurrence
}

// find returns the entry for suffix, or nil.
func (b *bucket) find(suffix []byte) *suffixEntry {
	for i := range b.entries {
		if bytes.Equal(b.entries[i].suffix, suffix) {
			return &b.entries[i]
		}
	}
	return nil
}

// add inserts a new suffix entry, keeping the set sorted.
func (b *bucket) add(suffix []byte, occ hashtypes.Occurrence) {
	e := suffixEntry{suffix: append([]byte(nil), suffix...),
		occurrences: []hashtypes.Occurrence{occ}}
	i := sort.Search(len(b.entries), func(i int) bool {
		return bytes.Compare(b.entries[i].suffix, suffix) >= 0
	})
	b.entries = append(b.entries, suffixEntry{})
	copy(b.entries[i+1:], b.entries[i:])
	b.entries[i] = e
}

// Encoding layout, per suffix entry:
//
//	suffix[suffixBytes] | count uvarint | count * occurrence
//	occurrence = source_id uvarint | offset_index uvarint |
//	             entropy uvarint | label_len uvarint | label
//
// offset_index is file_offset divided by the sector size, so small
// offsets stay one byte.
func encodeBucket(b *bucket, sectorSize uint32) []byte {
	var out []byte
	var tmp [binary.MaxVarintLen64]byte
	put := func(v uint64) {
		n := binary.PutUvarint(tmp[:], v)
		out = append(out, tmp[:n]...)
	}
	for _, e := range b.entries {
		out = append(out, e.suffix...)
		put(uint64(len(e.occurrences)))
		for _, occ := range e.occurrences {
			put(uint64(occ.SourceID))
			put(occ.FileOffset / uint64(sectorSize))
			put(occ.Entropy)
			put(uint64(len(occ.BlockLabel)))
			out = append(out, occ.BlockLabel...)
		}
	}
	return out
}

func decodeBucket(data []byte, suffixBytes int, sectorSize uint32) (*bucket, error) {
	b := &bucket{}
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		if r.Len() < suffixBytes {
			return nil, fmt.Errorf("truncated suffix in hash record")
		}
		suffix := make([]byte, suffixBytes)
		if _, err := r.Read(suffix); err != nil {
			return nil, err
		}
		count, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("corrupt occurrence count: %w", err)
		}
		occurrences := make([]hashtypes.Occurrence, 0, count)
		for i := uint64(0); i < count; i++ {
			occ, err := decodeOccurrence(r, sectorSize)
			if err != nil {
				return nil, err
			}
			occurrences = append(occurrences, occ)
		}
		b.entries = append(b.entries, suffixEntry{suffix: suffix, occurrences: occurrences})
	}
	return b, nil
}

func decodeOccurrence(r *bytes.Reader, sectorSize uint32) (hashtypes.Occurrence, error) {
	var occ hashtypes.Occurrence
	sourceID, err := binary.ReadUvarint(r)
	if err != nil {
		return occ, fmt.Errorf("corrupt source id: %w", err)
	}
	offsetIndex, err := binary.ReadUvarint(r)
	if err != nil {
		return occ, fmt.Errorf("corrupt offset index: %w", err)
	}
	entropy, err := binary.ReadUvarint(r)
	if err != nil {
		return occ, fmt.Errorf("corrupt entropy: %w", err)
	}
	labelLen, err := binary.ReadUvarint(r)
	if err != nil {
		return occ, fmt.Errorf("corrupt label length: %w", err)
	}
	if labelLen > uint64(r.Len()) {
		return occ, fmt.Errorf("truncated block label")
	}
	label := make([]byte, labelLen)
	if labelLen > 0 {
		if _, err := r.Read(label); err != nil {
			return occ, err
		}
	}
	occ.SourceID = hashtypes.SourceID(sourceID)
	occ.FileOffset = offsetIndex * uint64(sectorSize)
	occ.Entropy = entropy
	occ.BlockLabel = string(label)
	return occ, nil
}
