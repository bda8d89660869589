package hashdb

import (
	"context"

	"github.com/forensicdb/hashdb/pkg/hashtypes"
)

// Sizes reports the entry counts of the four stores.
type Sizes struct {
	HashStore       uint64
	SourceIDStore   uint64
	SourceNameStore uint64
	SourceDataStore uint64
}

func (s Sizes) Empty() bool {
	return s.HashStore == 0 && s.SourceIDStore == 0 &&
		s.SourceNameStore == 0 && s.SourceDataStore == 0
}

func (db *Database) Sizes() (Sizes, error) {
	var s Sizes
	var err error
	if s.HashStore, err = db.hashes.Size(); err != nil {
		return s, err
	}
	if s.SourceIDStore, err = db.sourceIDs.Size(); err != nil {
		return s, err
	}
	if s.SourceNameStore, err = db.names.Size(); err != nil {
		return s, err
	}
	s.SourceDataStore, err = db.data.Size()
	return s, err
}

// HistogramResult is the per-key occurrence-count distribution of the
// hash store: for each count, how many distinct hashes carry it.
type HistogramResult struct {
	TotalHashes    uint64
	DistinctHashes uint64
	Bins           map[uint32]uint64
}

// Histogram walks the store once, one step per distinct hash.
func (db *Database) Histogram(ctx context.Context) (HistogramResult, error) {
	result := HistogramResult{Bins: make(map[uint32]uint64)}
	err := db.IterateKeys(ctx, func(hash []byte, count uint32) (bool, error) {
		result.TotalHashes += uint64(count)
		if count == 1 {
			result.DistinctHashes++
		}
		result.Bins[count]++
		return true, nil
	})
	return result, err
}

// Duplicates streams the hashes whose occurrence count equals count.
func (db *Database) Duplicates(ctx context.Context, count uint32,
	fn func(hash []byte) (bool, error)) error {

	return db.IterateKeys(ctx, func(hash []byte, c uint32) (bool, error) {
		if c != count {
			return true, nil
		}
		return fn(hash)
	})
}

// SourceRecord is one row of the sources listing.
type SourceRecord struct {
	ID       hashtypes.SourceID
	FileHash []byte
	Names    []hashtypes.SourceName
	Data     hashtypes.SourceData
	HasData  bool
}

// Sources streams all sources joined with their names and data.
func (db *Database) Sources(ctx context.Context,
	fn func(rec SourceRecord) (bool, error)) error {

	return db.IterateSources(ctx, func(id hashtypes.SourceID, fileHash []byte) (bool, error) {
		rec := SourceRecord{ID: id, FileHash: fileHash}
		var err error
		if rec.Names, err = db.names.Find(id); err != nil {
			return false, err
		}
		if rec.Data, rec.HasData, err = db.data.Find(id); err != nil {
			return false, err
		}
		return fn(rec)
	})
}
