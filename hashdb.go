// Package hashdb is a content-addressed block-hash database for
// digital forensics: for each block hash the sources it came from
// with per-occurrence metadata, for each source its descriptive
// metadata. The database is a directory of mapped key-value stores
// with a bloom filter in front of the hash table.
package hashdb

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/forensicdb/hashdb/internal/bloom"
	"github.com/forensicdb/hashdb/internal/changes"
	"github.com/forensicdb/hashdb/internal/hashstore"
	"github.com/forensicdb/hashdb/internal/history"
	"github.com/forensicdb/hashdb/internal/keyValStore"
	"github.com/forensicdb/hashdb/internal/settings"
	"github.com/forensicdb/hashdb/internal/sourcestore"
	"github.com/forensicdb/hashdb/pkg/hashtypes"
)

// Mode selects how a database is opened.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

// Database is the manager façade over the four stores and the bloom
// filter. All writes go through one internal mutex so the filter
// update and the map writes of one logical mutation stay atomic with
// respect to other writers.
type Database struct {
	Dir      string
	Settings settings.Settings

	mode      Mode
	log       *logrus.Logger
	mu        sync.Mutex
	filter    *bloom.Filter
	hashes    *hashstore.Store
	sourceIDs *sourcestore.IDStore
	names     *sourcestore.NameStore
	data      *sourcestore.DataStore
}

// Create makes a new database directory with the given settings and
// opens it read-write. The settings are fixed for the database's
// lifetime.
func Create(dir string, s settings.Settings, logger *logrus.Logger) (*Database, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	if err := settings.CreateDirectory(dir); err != nil {
		return nil, err
	}
	if err := settings.Write(dir, s); err != nil {
		return nil, err
	}

	db, err := open(dir, s, keyValStore.Create, ReadWrite, logger)
	if err != nil {
		return nil, err
	}

	op := history.NewOperation("create")
	op.AddParameter("hashdb_dir", dir)
	op.Settings = &db.Settings
	if err := history.Append(dir, op); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Open opens an existing database directory.
func Open(dir string, mode Mode, logger *logrus.Logger) (*Database, error) {
	s, err := settings.Read(dir)
	if err != nil {
		return nil, err
	}
	kvMode := keyValStore.ReadWrite
	if mode == ReadOnly {
		kvMode = keyValStore.ReadOnly
	}
	return open(dir, s, kvMode, mode, logger)
}

func open(dir string, s settings.Settings, kvMode keyValStore.Mode,
	mode Mode, logger *logrus.Logger) (*Database, error) {

	if logger == nil {
		logger = logrus.New()
	}

	filter, err := bloom.Open(dir, kvMode == keyValStore.ReadOnly,
		s.BloomIsUsed, s.BloomMHashSize, s.BloomKHashFunctions)
	if err != nil {
		return nil, err
	}

	hashes, err := hashstore.Open(dir, kvMode, &s, filter, logger)
	if err != nil {
		filter.Close()
		return nil, err
	}
	sourceIDs, err := sourcestore.OpenIDStore(dir, kvMode, logger)
	if err != nil {
		hashes.Close()
		filter.Close()
		return nil, err
	}
	names, err := sourcestore.OpenNameStore(dir, kvMode, logger)
	if err != nil {
		sourceIDs.Close()
		hashes.Close()
		filter.Close()
		return nil, err
	}
	data, err := sourcestore.OpenDataStore(dir, kvMode, logger)
	if err != nil {
		names.Close()
		sourceIDs.Close()
		hashes.Close()
		filter.Close()
		return nil, err
	}

	return &Database{
		Dir:       dir,
		Settings:  s,
		mode:      mode,
		log:       logger,
		filter:    filter,
		hashes:    hashes,
		sourceIDs: sourceIDs,
		names:     names,
		data:      data,
	}, nil
}

func (db *Database) writable() error {
	if db.mode != ReadWrite {
		return fmt.Errorf("database %s is opened read-only", db.Dir)
	}
	return nil
}

func (db *Database) digestLength() int {
	d, _ := db.Settings.Digest()
	return d.Length
}

// InsertHash records one occurrence of blockHash inside the source
// file named by fileHash. The source id is interned on first sight.
// Soft rejections are accounted in c.
func (db *Database) InsertHash(blockHash, fileHash []byte,
	fileOffset, entropy uint64, blockLabel string, c *changes.ChangeRecord) error {

	if err := db.writable(); err != nil {
		return err
	}
	if len(blockHash) != db.digestLength() || len(fileHash) != db.digestLength() {
		c.HashesNotInsertedMismatchedHashLength++
		return nil
	}
	if fileOffset%uint64(db.Settings.SectorSize) != 0 {
		c.HashesNotInsertedInvalidSectorAlignment++
		return nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	id, _, err := db.sourceIDs.Insert(fileHash)
	if err != nil {
		return err
	}
	return db.hashes.Insert(blockHash, hashtypes.Occurrence{
		SourceID:   id,
		FileOffset: fileOffset,
		Entropy:    entropy,
		BlockLabel: blockLabel,
	}, c)
}

// InsertSourceName adds one (repository, filename) naming of the
// source file. Idempotent on the triple.
func (db *Database) InsertSourceName(fileHash []byte, repositoryName, filename string) error {
	if err := db.writable(); err != nil {
		return err
	}
	if len(fileHash) != db.digestLength() {
		return fmt.Errorf("file hash length %d does not match the %d-byte digest",
			len(fileHash), db.digestLength())
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	id, _, err := db.sourceIDs.Insert(fileHash)
	if err != nil {
		return err
	}
	_, err = db.names.Insert(id, repositoryName, filename)
	return err
}

// InsertSourceData sets the descriptive data of the source file.
// Last writer wins.
func (db *Database) InsertSourceData(fileHash []byte, d hashtypes.SourceData) error {
	if err := db.writable(); err != nil {
		return err
	}
	if len(fileHash) != db.digestLength() {
		return fmt.Errorf("file hash length %d does not match the %d-byte digest",
			len(fileHash), db.digestLength())
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	id, _, err := db.sourceIDs.Insert(fileHash)
	if err != nil {
		return err
	}
	return db.data.Insert(id, d)
}

// Find returns the ordered occurrence list of blockHash.
func (db *Database) Find(blockHash []byte) ([]hashtypes.Occurrence, error) {
	if len(blockHash) != db.digestLength() {
		return nil, fmt.Errorf("hash length %d does not match the %d-byte digest",
			len(blockHash), db.digestLength())
	}
	return db.hashes.Find(blockHash)
}

// FindCount returns the occurrence count of blockHash, 0 on miss.
func (db *Database) FindCount(blockHash []byte) (uint32, error) {
	occurrences, err := db.Find(blockHash)
	return uint32(len(occurrences)), err
}

// SourceHash resolves a source id to its file hash.
func (db *Database) SourceHash(id hashtypes.SourceID) ([]byte, bool, error) {
	return db.sourceIDs.FindHash(id)
}

// SourceNames returns the name set of a source id.
func (db *Database) SourceNames(id hashtypes.SourceID) ([]hashtypes.SourceName, error) {
	return db.names.Find(id)
}

// SourceData returns the data record of a source id.
func (db *Database) SourceData(id hashtypes.SourceID) (hashtypes.SourceData, bool, error) {
	return db.data.Find(id)
}

// Scan looks blockHash up and renders the full record, joined with
// the source tables, as a stable one-line JSON document. Returns ""
// when the hash is not present.
func (db *Database) Scan(blockHash []byte) (string, error) {
	occurrences, err := db.Find(blockHash)
	if err != nil {
		return "", err
	}
	if len(occurrences) == 0 {
		return "", nil
	}

	result := hashtypes.ScanResult{
		BlockHash: hashtypes.Hex(blockHash),
		Count:     uint32(len(occurrences)),
	}
	for _, occ := range occurrences {
		source := hashtypes.ScanSource{
			SourceID:   uint64(occ.SourceID),
			FileOffset: occ.FileOffset,
			Entropy:    occ.Entropy,
			BlockLabel: occ.BlockLabel,
		}
		if fileHash, found, err := db.sourceIDs.FindHash(occ.SourceID); err != nil {
			return "", err
		} else if found {
			source.FileHash = hashtypes.Hex(fileHash)
		}
		if d, found, err := db.data.Find(occ.SourceID); err != nil {
			return "", err
		} else if found {
			source.Filesize = d.FileSize
			source.FileType = d.FileType
		}
		names, err := db.names.Find(occ.SourceID)
		if err != nil {
			return "", err
		}
		for _, name := range names {
			source.Names = append(source.Names, hashtypes.ScanName{
				RepositoryName: name.RepositoryName,
				Filename:       name.Filename,
			})
		}
		result.Sources = append(result.Sources, source)
	}
	return result.JSON()
}

// Iterate walks every (hash, occurrence) pair in ascending canonical
// hash order. Cancellation is checked between items.
func (db *Database) Iterate(ctx context.Context,
	fn func(hash []byte, occ hashtypes.Occurrence) (bool, error)) error {

	return db.hashes.Iterate(func(hash []byte, occ hashtypes.Occurrence) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		return fn(hash, occ)
	})
}

// IterateKeys walks distinct hashes with their occurrence counts.
func (db *Database) IterateKeys(ctx context.Context,
	fn func(hash []byte, count uint32) (bool, error)) error {

	return db.hashes.IterateKeys(func(hash []byte, count uint32) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		return fn(hash, count)
	})
}

// IterateSources walks sources in id order.
func (db *Database) IterateSources(ctx context.Context,
	fn func(id hashtypes.SourceID, fileHash []byte) (bool, error)) error {

	return db.sourceIDs.Iterate(func(id hashtypes.SourceID, fileHash []byte) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		return fn(id, fileHash)
	})
}

// RebuildBloom deletes the filter file and repopulates it from the
// hash store using the (possibly changed) bloom settings in s.
func (db *Database) RebuildBloom(s settings.Settings) error {
	if err := db.writable(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	db.Settings.BloomIsUsed = s.BloomIsUsed
	db.Settings.BloomMHashSize = s.BloomMHashSize
	db.Settings.BloomKHashFunctions = s.BloomKHashFunctions
	if err := db.Settings.Validate(); err != nil {
		return err
	}
	if err := settings.Write(db.Dir, db.Settings); err != nil {
		return err
	}

	if err := db.filter.Close(); err != nil {
		return err
	}
	if err := bloom.Remove(db.Dir); err != nil {
		return err
	}
	filter, err := bloom.Open(db.Dir, false, db.Settings.BloomIsUsed,
		db.Settings.BloomMHashSize, db.Settings.BloomKHashFunctions)
	if err != nil {
		return err
	}
	db.filter = filter
	return db.hashes.RebuildBloomInto(filter)
}

// Close tears the database down by closing all mapped handles.
func (db *Database) Close() error {
	var firstErr error
	for _, c := range []func() error{
		db.hashes.Close,
		db.sourceIDs.Close,
		db.names.Close,
		db.data.Close,
		db.filter.Close,
	} {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
