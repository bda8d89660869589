// Package hashstore is the block-hash table: keys are masked hash
// prefixes, values carry the suffix set and the per-occurrence
// metadata. A short prefix keeps the tree shallow and cache-hot; the
// suffix preserves enough bits that in-bucket collisions are
// astronomically rare for the target workload.
package hashstore

import (
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/forensicdb/hashdb/internal/bloom"
	"github.com/forensicdb/hashdb/internal/changes"
	"github.com/forensicdb/hashdb/internal/keyValStore"
	"github.com/forensicdb/hashdb/internal/settings"
	"github.com/forensicdb/hashdb/pkg/hashtypes"
)

type Store struct {
	kv          *keyValStore.Store
	bloom       *bloom.Filter
	digestLen   int
	prefixBytes int
	prefixMask  byte
	suffixBytes int
	sectorSize  uint32
	maxDup      uint32
}

func Open(dir string, mode keyValStore.Mode, s *settings.Settings,
	bf *bloom.Filter, logger *logrus.Logger) (*Store, error) {

	d, err := s.Digest()
	if err != nil {
		return nil, err
	}
	kv, err := keyValStore.Open(keyValStore.StoreConfig{
		Path:   filepath.Join(dir, settings.HashStoreDir),
		Mode:   mode,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return &Store{
		kv:          kv,
		bloom:       bf,
		digestLen:   d.Length,
		prefixBytes: s.PrefixBytes(),
		prefixMask:  s.PrefixMask(),
		suffixBytes: int(s.HashSuffixBytes),
		sectorSize:  s.SectorSize,
		maxDup:      s.MaxDuplicates,
	}, nil
}

// hashPair splits a binary hash into the masked prefix key and the
// trailing suffix.
func (s *Store) hashPair(binaryHash []byte) (prefix, suffix []byte) {
	prefix = append([]byte(nil), binaryHash[:s.prefixBytes]...)
	prefix[s.prefixBytes-1] &= s.prefixMask
	suffix = binaryHash[len(binaryHash)-s.suffixBytes:]
	return prefix, suffix
}

// reconstruct rebuilds the canonical iteration form of a stored hash:
// prefix and suffix in place, unstored middle bits zero.
func (s *Store) reconstruct(prefix, suffix []byte) []byte {
	h := make([]byte, s.digestLen)
	copy(h, prefix)
	copy(h[s.digestLen-s.suffixBytes:], suffix)
	return h
}

// bloomKey is the masked prefix zero-extended to digest length. The
// filter is probed with this form only: a miss then proves the whole
// prefix key is absent, which makes skipping the read probe on insert
// safe, and a rebuild from the store sets the same bits as the
// original inserts.
func (s *Store) bloomKey(prefix []byte) []byte {
	h := make([]byte, s.digestLen)
	copy(h, prefix)
	return h
}

// Insert records one occurrence of binaryHash. Soft rejections are
// accounted in c; only storage faults surface as errors. The caller
// holds the writer lock and has validated digest length, sector
// alignment, and the source id.
func (s *Store) Insert(binaryHash []byte, occ hashtypes.Occurrence,
	c *changes.ChangeRecord) error {

	prefix, suffix := s.hashPair(binaryHash)

	var b *bucket
	if s.bloom.Test(s.bloomKey(prefix)) {
		value, found, err := s.kv.Get(prefix)
		if err != nil {
			return err
		}
		if found {
			b, err = decodeBucket(value, s.suffixBytes, s.sectorSize)
			if err != nil {
				return err
			}
		}
	}

	if b == nil {
		b = &bucket{}
	}

	entry := b.find(suffix)
	switch {
	case entry == nil:
		b.add(suffix, occ)
		c.HashesInserted++
	case entry.hasPair(occ.SourceID, occ.FileOffset):
		c.HashesNotInsertedDuplicateElement++
		return nil
	case uint32(len(entry.occurrences)) >= s.maxDup:
		c.HashesNotInsertedExceedsMaxDuplicates++
		return nil
	default:
		entry.occurrences = append(entry.occurrences, occ)
		c.HashesInserted++
	}

	if err := s.kv.Set(prefix, encodeBucket(b, s.sectorSize)); err != nil {
		return err
	}
	s.bloom.Add(s.bloomKey(prefix))
	return nil
}

func (e *suffixEntry) hasPair(id hashtypes.SourceID, offset uint64) bool {
	for _, occ := range e.occurrences {
		if occ.SourceID == id && occ.FileOffset == offset {
			return true
		}
	}
	return false
}

// Find returns the ordered occurrence list for binaryHash, empty when
// absent. The bloom filter short-circuits definite misses.
func (s *Store) Find(binaryHash []byte) ([]hashtypes.Occurrence, error) {
	prefix, suffix := s.hashPair(binaryHash)
	if !s.bloom.Test(s.bloomKey(prefix)) {
		return nil, nil
	}
	value, found, err := s.kv.Get(prefix)
	if err != nil || !found {
		return nil, err
	}
	b, err := decodeBucket(value, s.suffixBytes, s.sectorSize)
	if err != nil {
		return nil, err
	}
	entry := b.find(suffix)
	if entry == nil {
		return nil, nil
	}
	return entry.occurrences, nil
}

// FindCount returns the occurrence count for binaryHash, 0 on miss.
func (s *Store) FindCount(binaryHash []byte) (uint32, error) {
	occurrences, err := s.Find(binaryHash)
	return uint32(len(occurrences)), err
}

// Iterate walks every stored (hash, occurrence) pair in ascending
// canonical-hash order. fn returns false to stop. The hash passed to
// fn is the canonical reconstruction (middle bits zero).
func (s *Store) Iterate(fn func(hash []byte, occ hashtypes.Occurrence) (bool, error)) error {
	return s.kv.Ascend(nil, func(key, value []byte) (bool, error) {
		b, err := decodeBucket(value, s.suffixBytes, s.sectorSize)
		if err != nil {
			return false, err
		}
		for _, entry := range b.entries {
			h := s.reconstruct(key, entry.suffix)
			for _, occ := range entry.occurrences {
				cont, err := fn(h, occ)
				if err != nil || !cont {
					return cont, err
				}
			}
		}
		return true, nil
	})
}

// IterateKeys walks distinct stored hashes with their occurrence
// counts, in ascending canonical-hash order.
func (s *Store) IterateKeys(fn func(hash []byte, count uint32) (bool, error)) error {
	return s.kv.Ascend(nil, func(key, value []byte) (bool, error) {
		b, err := decodeBucket(value, s.suffixBytes, s.sectorSize)
		if err != nil {
			return false, err
		}
		for _, entry := range b.entries {
			cont, err := fn(s.reconstruct(key, entry.suffix), uint32(len(entry.occurrences)))
			if err != nil || !cont {
				return cont, err
			}
		}
		return true, nil
	})
}

// RebuildBloomInto walks every stored prefix key into the given
// filter.
func (s *Store) RebuildBloomInto(bf *bloom.Filter) error {
	err := s.kv.Ascend(nil, func(key, value []byte) (bool, error) {
		bf.Add(s.bloomKey(key))
		return true, nil
	})
	if err == nil {
		s.bloom = bf
	}
	return err
}

// Size is the number of prefix keys in the store.
func (s *Store) Size() (uint64, error) {
	return s.kv.Size(nil)
}

func (s *Store) Close() error {
	return s.kv.Close()
}
